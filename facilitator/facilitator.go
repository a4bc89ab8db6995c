// Package facilitator implements the x402 facilitator: off-chain
// verification of EIP-3009 signed authorizations and their on-chain
// settlement, in both direct-transfer and escrow-adapter modes
// (spec.md §4.2).
package facilitator

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/conflux-arena/x402-gateway/eip712"
	"github.com/conflux-arena/x402-gateway/x402"
)

// chainClient is the subset of *chain.Client the facilitator depends on,
// seamed as an interface so tests can substitute a fake chain without
// spinning up a real JSON-RPC endpoint (grounded on the teacher's
// FacilitatorClient interface in x402/facilitator.go).
type chainClient interface {
	Address() common.Address
	BalanceOf(ctx context.Context, asset, account common.Address) (*big.Int, error)
	StaticCall(ctx context.Context, to, from common.Address, data []byte) ([]byte, error)
	SendTx(ctx context.Context, to common.Address, data []byte, gasLimit uint64) (*types.Receipt, error)
	NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error)
}

// Config is the Facilitator's immutable, boot-time configuration.
type Config struct {
	// Network is the CAIP-2 network tag this facilitator serves, e.g. "eip155:1030".
	Network string
	// ChainID is the numeric chain ID backing Network, used for the EIP-712 domain.
	ChainID *big.Int
	// Treasury is the direct-transfer-mode payment recipient.
	Treasury common.Address
	// EscrowAdapter is the escrow-mode settlement contract. Nil disables escrow mode.
	EscrowAdapter *common.Address
	// Assets is the boot-time-immutable supported-asset table.
	Assets *x402.AssetRegistry
	// LowBalanceWei is the native-balance threshold below which health logs a warning.
	LowBalanceWei *big.Int
}

// Facilitator verifies and settles x402 payments for one network.
type Facilitator struct {
	cfg   Config
	chain chainClient
}

// New constructs a Facilitator from cfg and a connected chain client.
func New(cfg Config, client chainClient) *Facilitator {
	return &Facilitator{cfg: cfg, chain: client}
}

// VerifyResult is the outcome of a verify call. Verify has no error return:
// every failure, including malformed authorization fields, is reported as
// Valid=false with a Reason. Only an unreadable request body is rejected
// (with 400) by the HTTP handler before Verify is called (spec.md §4.2).
type VerifyResult struct {
	Valid  bool
	Reason string
	Payer  string
}

func invalid(reason string) VerifyResult { return VerifyResult{Valid: false, Reason: reason} }

// Verify runs the eleven ordered checks of spec.md §4.2 against payload and
// reqs under mode, stopping at the first failure.
func (f *Facilitator) Verify(ctx context.Context, mode x402.SettlementMode, payload x402.PaymentPayload, reqs x402.Requirements) VerifyResult {
	// 1. x402Version == 2
	if payload.X402Version != x402.Version {
		return invalid(fmt.Sprintf("unsupported x402Version: %d", payload.X402Version))
	}
	// 2. scheme == "exact"
	if payload.Scheme != x402.SchemeExact {
		return invalid(fmt.Sprintf("unsupported scheme: %s", payload.Scheme))
	}
	// 3. network == configured network tag
	if payload.Network != f.cfg.Network {
		return invalid(fmt.Sprintf("wrong network: %s", payload.Network))
	}
	// 4. asset supported and eip3009-capable
	asset, ok := f.cfg.Assets.Lookup(reqs.Asset)
	if !ok || !asset.EIP3009 {
		return invalid(fmt.Sprintf("unsupported asset: %s", reqs.Asset))
	}
	// 5. mode discriminator
	switch mode {
	case x402.ModeTransfer:
		if reqs.Extra.SettlementMode != x402.ModeTransfer {
			return invalid("requirements do not advertise transfer settlement mode")
		}
	case x402.ModeEscrow:
		if reqs.Extra.AssetTransferMethod != "eip3009" {
			return invalid("requirements do not advertise eip3009 escrow settlement")
		}
		if f.cfg.EscrowAdapter == nil {
			return invalid("escrow adapter not configured")
		}
	default:
		return invalid("unknown settlement mode")
	}

	auth := payload.Payload.Authorization

	// 6. EIP-712 recovery: recovered signer (case-insensitive) == authorization.from
	domain := eip712.Domain{
		Name:              asset.DomainName,
		Version:           asset.DomainVersion,
		ChainID:           f.cfg.ChainID,
		VerifyingContract: common.HexToAddress(reqs.Asset),
	}
	typedAuth, err := f.typedAuthorization(auth)
	if err != nil {
		return invalid(fmt.Sprintf("malformed authorization: %v", err))
	}
	sig, err := hexDecode(payload.Payload.Signature)
	if err != nil || len(sig) != 65 {
		return invalid("Invalid signature")
	}
	from := common.HexToAddress(auth.From)
	if err := eip712.RecoverAndCompare(domain, typedAuth, sig, from); err != nil {
		return invalid("Invalid signature")
	}

	// 7. destination check
	to := common.HexToAddress(auth.To)
	switch mode {
	case x402.ModeTransfer:
		if !strings.EqualFold(to.Hex(), f.cfg.Treasury.Hex()) {
			return invalid("Wrong payment destination")
		}
	case x402.ModeEscrow:
		if !strings.EqualFold(to.Hex(), f.cfg.EscrowAdapter.Hex()) {
			return invalid("Wrong payment destination")
		}
	}

	// 8. balance check
	balance, err := f.chain.BalanceOf(ctx, common.HexToAddress(reqs.Asset), from)
	if err != nil {
		return invalid(fmt.Sprintf("balance check failed: %v", err))
	}
	if balance.Cmp(typedAuth.Value) < 0 {
		return invalid("Insufficient balance")
	}

	// 9. time window
	now := big.NewInt(time.Now().Unix())
	if typedAuth.ValidAfter.Cmp(now) > 0 || typedAuth.ValidBefore.Cmp(now) < 0 {
		return invalid("Authorization expired or not yet valid")
	}

	// 10. amount
	required, err := parseBigInt(reqs.Amount)
	if err != nil {
		return invalid(fmt.Sprintf("malformed requirements amount: %v", err))
	}
	if typedAuth.Value.Cmp(required) < 0 {
		return invalid("Insufficient amount")
	}

	// 11. escrow only: simulated settlePayment from the relayer must not revert
	if mode == x402.ModeEscrow {
		orderID := orderIDToBytes32(reqs.Extra.OrderID)
		data := packSettlePayment(common.HexToAddress(reqs.Asset), orderID, from,
			typedAuth.Value, typedAuth.ValidAfter, typedAuth.ValidBefore, typedAuth.Nonce, sig)
		if _, err := f.chain.StaticCall(ctx, *f.cfg.EscrowAdapter, f.chain.Address(), data); err != nil {
			return invalid(err.Error())
		}
	}

	return VerifyResult{Valid: true, Payer: from.Hex()}
}

// SettleResult is the outcome of a settle call.
type SettleResult struct {
	Success     bool
	Transaction string
	Payer       string
	Error       string
}

// Settle broadcasts the on-chain settlement transaction for payload under
// mode and reqs. It does not re-run Verify (spec.md §4.2: "Settle does not
// re-run off-chain checks; it trusts that verify was just run").
func (f *Facilitator) Settle(ctx context.Context, mode x402.SettlementMode, payload x402.PaymentPayload, reqs x402.Requirements) SettleResult {
	auth := payload.Payload.Authorization
	typedAuth, err := f.typedAuthorization(auth)
	if err != nil {
		return SettleResult{Success: false, Error: err.Error()}
	}
	sig, err := hexDecode(payload.Payload.Signature)
	if err != nil || len(sig) != 65 {
		return SettleResult{Success: false, Error: "invalid signature for settlement"}
	}
	from := common.HexToAddress(auth.From)
	assetAddr := common.HexToAddress(reqs.Asset)

	var (
		to       common.Address
		data     []byte
		gasLimit uint64
	)
	switch mode {
	case x402.ModeTransfer:
		to = assetAddr
		data = packTransferWithAuthorization(from, common.HexToAddress(auth.To),
			typedAuth.Value, typedAuth.ValidAfter, typedAuth.ValidBefore, typedAuth.Nonce, sig)
		gasLimit = 200_000
	case x402.ModeEscrow:
		if f.cfg.EscrowAdapter == nil {
			return SettleResult{Success: false, Error: "escrow adapter not configured"}
		}
		to = *f.cfg.EscrowAdapter
		orderID := orderIDToBytes32(reqs.Extra.OrderID)
		data = packSettlePayment(assetAddr, orderID, from,
			typedAuth.Value, typedAuth.ValidAfter, typedAuth.ValidBefore, typedAuth.Nonce, sig)
		gasLimit = 500_000
	default:
		return SettleResult{Success: false, Error: "unknown settlement mode"}
	}

	receipt, err := f.chain.SendTx(ctx, to, data, gasLimit)
	if err != nil {
		return SettleResult{Success: false, Payer: from.Hex(), Error: err.Error()}
	}
	if receipt.Status != 1 {
		return SettleResult{Success: false, Payer: from.Hex(), Transaction: receipt.TxHash.Hex(), Error: "transaction reverted"}
	}

	return SettleResult{Success: true, Transaction: receipt.TxHash.Hex(), Payer: from.Hex()}
}

// typedAuthorization converts the wire Authorization (decimal/hex strings)
// into eip712's typed form, used for both hashing and ABI packing.
func (f *Facilitator) typedAuthorization(a x402.Authorization) (eip712.Authorization, error) {
	value, err := parseBigInt(a.Value)
	if err != nil {
		return eip712.Authorization{}, fmt.Errorf("value: %w", err)
	}
	validAfter, err := parseBigInt(a.ValidAfter)
	if err != nil {
		return eip712.Authorization{}, fmt.Errorf("validAfter: %w", err)
	}
	validBefore, err := parseBigInt(a.ValidBefore)
	if err != nil {
		return eip712.Authorization{}, fmt.Errorf("validBefore: %w", err)
	}
	nonce, err := nonceToBytes32(a.Nonce)
	if err != nil {
		return eip712.Authorization{}, fmt.Errorf("nonce: %w", err)
	}
	return eip712.Authorization{
		From:        common.HexToAddress(a.From),
		To:          common.HexToAddress(a.To),
		Value:       value,
		ValidAfter:  validAfter,
		ValidBefore: validBefore,
		Nonce:       nonce,
	}, nil
}
