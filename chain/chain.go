// Package chain is a thin abstraction over an EVM JSON-RPC endpoint: read
// an ERC-20 balance, simulate a contract call, broadcast a raw transaction
// and await its receipt, and read basic chain info. It is the only package
// in this repository that talks to the chain.
package chain

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// balanceOfSelector is the 4-byte selector for balanceOf(address).
var balanceOfSelector = crypto.Keccak256([]byte("balanceOf(address)"))[:4]

// errorStringSelector is the 4-byte selector Solidity prepends to a revert
// reason encoded as Error(string).
var errorStringSelector = crypto.Keccak256([]byte("Error(string)"))[:4]

// Client wraps ethclient.Client with the operations the facilitator needs,
// plus the relayer's signing key used by SendTx.
type Client struct {
	rpc        *ethclient.Client
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int

	// nonceMu serializes "fetch pending nonce, sign, broadcast, await
	// receipt" across concurrent settle calls sharing one relayer account
	// (spec §5: the relayer's nonce sequencing is a shared resource). SendTx
	// holds it until the receipt arrives or ctx is done.
	nonceMu sync.Mutex
}

// Dial connects to rpcURL and derives the relayer's address from
// privateKeyHex (with or without a leading 0x).
func Dial(ctx context.Context, rpcURL, privateKeyHex string, chainID *big.Int) (*Client, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid relayer private key: %w", err)
	}
	rpc, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return &Client{
		rpc:        rpc,
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
		chainID:    chainID,
	}, nil
}

// Address returns the relayer's address.
func (c *Client) Address() common.Address { return c.address }

// Close releases the underlying RPC connection.
func (c *Client) Close() { c.rpc.Close() }

// ChainID returns the chain ID reported by the configured relayer, i.e. the
// value this client was constructed with (spec §4.4 getNetwork).
func (c *Client) ChainID() *big.Int { return c.chainID }

func pad32Address(a common.Address) []byte {
	padded := make([]byte, 32)
	copy(padded[12:], a.Bytes())
	return padded
}

// BalanceOf calls asset.balanceOf(account) via eth_call and returns the
// result as a big.Int.
func (c *Client) BalanceOf(ctx context.Context, asset, account common.Address) (*big.Int, error) {
	data := make([]byte, 4+32)
	copy(data[:4], balanceOfSelector)
	copy(data[4:], pad32Address(account))

	out, err := c.rpc.CallContract(ctx, ethereum.CallMsg{To: &asset, Data: data}, nil)
	if err != nil {
		return nil, decodeRevert(err)
	}
	if len(out) < 32 {
		return nil, fmt.Errorf("balanceOf: short return data (%d bytes)", len(out))
	}
	return new(big.Int).SetBytes(out[len(out)-32:]), nil
}

// StaticCall performs a simulated call (eth_call) of data against to, as if
// sent from `from`. It never broadcasts a transaction. On revert, the
// Solidity Error(string) reason is decoded and surfaced in the returned
// error.
func (c *Client) StaticCall(ctx context.Context, to, from common.Address, data []byte) ([]byte, error) {
	out, err := c.rpc.CallContract(ctx, ethereum.CallMsg{
		From: from,
		To:   &to,
		Data: data,
	}, nil)
	if err != nil {
		return nil, decodeRevert(err)
	}
	return out, nil
}

// decodeRevert tries to extract a human-readable Error(string) revert
// reason from an eth_call error. Falls back to the raw error if the
// payload isn't a standard revert string.
func decodeRevert(err error) error {
	type dataError interface {
		ErrorData() interface{}
	}
	var de dataError
	if !errors.As(err, &de) {
		return err
	}
	raw, ok := de.ErrorData().(string)
	if !ok || len(raw) < 2 {
		return err
	}
	raw = strings.TrimPrefix(raw, "0x")
	data, decodeErr := hex.DecodeString(raw)
	if decodeErr != nil || len(data) < 4+32+32 {
		return err
	}
	if string(data[:4]) != string(errorStringSelector) {
		return err
	}
	// Skip selector (4) + offset word (32) + length word (32, read below).
	strLen := new(big.Int).SetBytes(data[36:68]).Uint64()
	start := 68
	end := start + int(strLen)
	if end > len(data) {
		return err
	}
	return fmt.Errorf("revert: %s", string(data[start:end]))
}

// SendTx builds an EIP-1559 transaction calling data against to with
// gasLimit, signs it with the relayer key, broadcasts it, and awaits one
// confirmation before returning the receipt.
func (c *Client) SendTx(ctx context.Context, to common.Address, data []byte, gasLimit uint64) (*types.Receipt, error) {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	nonce, err := c.rpc.PendingNonceAt(ctx, c.address)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}

	header, err := c.rpc.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("latest header: %w", err)
	}
	tip := big.NewInt(1e9) // 1 gwei priority fee
	feeCap := new(big.Int).Add(header.BaseFee, tip)

	if gasLimit == 0 {
		if est, estErr := c.rpc.EstimateGas(ctx, ethereum.CallMsg{
			From: c.address,
			To:   &to,
			Data: data,
		}); estErr == nil {
			gasLimit = est * 12 / 10 // 20% buffer
		} else {
			return nil, fmt.Errorf("estimate gas: %w", estErr)
		}
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     new(big.Int),
		Data:      data,
	})

	signed, err := types.SignTx(tx, types.NewLondonSigner(c.chainID), c.privateKey)
	if err != nil {
		return nil, fmt.Errorf("signing transaction: %w", err)
	}

	if err := c.rpc.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("transaction_failed: %w", err)
	}

	return c.waitMined(ctx, signed.Hash())
}

// waitMined polls for the transaction receipt until it appears or ctx is
// done, giving at least one confirmation before SendTx returns (spec §4.4).
func (c *Client) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		receipt, err := c.rpc.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("polling receipt: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// NativeBalance returns the native-token (CFX) balance of addr, used by the
// health endpoint to warn the operator when the relayer is low on gas.
func (c *Client) NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return c.rpc.BalanceAt(ctx, addr, nil)
}

// RemoteChainID queries the node's reported chain ID, useful as a sanity
// check against the configured chainID at boot.
func (c *Client) RemoteChainID(ctx context.Context) (*big.Int, error) {
	return c.rpc.ChainID(ctx)
}

