package facilitator

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Function selectors, computed once at package init like the teacher does
// for transferWithAuthorization in x402/local_facilitator.go.
var (
	transferWithAuthSelector = crypto.Keccak256([]byte(
		"transferWithAuthorization(address,address,uint256,uint256,uint256,bytes32,uint8,bytes32,bytes32)",
	))[:4]
	settlePaymentSelector = crypto.Keccak256([]byte(
		"settlePayment(address,bytes32,address,uint256,uint256,uint256,bytes32,uint8,bytes32,bytes32)",
	))[:4]
)

func pad32(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

func addrPad(a common.Address) []byte {
	padded := make([]byte, 32)
	copy(padded[12:], a.Bytes())
	return padded
}

// sigVRS splits a 65-byte [R || S || V] signature into its ABI components,
// normalizing V to the 27/28 convention EIP-3009 contracts expect on-chain.
func sigVRS(sig []byte) (v uint8, r, s [32]byte) {
	copy(r[:], sig[:32])
	copy(s[:], sig[32:64])
	v = sig[64]
	if v < 27 {
		v += 27
	}
	return v, r, s
}

// packTransferWithAuthorization ABI-encodes a call to the asset's
// transferWithAuthorization(address,address,uint256,uint256,uint256,bytes32,uint8,bytes32,bytes32).
func packTransferWithAuthorization(
	from, to common.Address,
	value, validAfter, validBefore *big.Int,
	nonce [32]byte,
	sig []byte,
) []byte {
	v, r, s := sigVRS(sig)
	data := make([]byte, 4+9*32)
	copy(data[:4], transferWithAuthSelector)
	off := 4
	copy(data[off+12:off+32], from.Bytes())
	off += 32
	copy(data[off+12:off+32], to.Bytes())
	off += 32
	copy(data[off:off+32], pad32(value))
	off += 32
	copy(data[off:off+32], pad32(validAfter))
	off += 32
	copy(data[off:off+32], pad32(validBefore))
	off += 32
	copy(data[off:off+32], nonce[:])
	off += 32
	data[off+31] = v
	off += 32
	copy(data[off:off+32], r[:])
	off += 32
	copy(data[off:off+32], s[:])
	return data
}

// packSettlePayment ABI-encodes a call to the escrow adapter's
// settlePayment(address,bytes32,address,uint256,uint256,uint256,bytes32,uint8,bytes32,bytes32).
func packSettlePayment(
	asset common.Address,
	orderID [32]byte,
	from common.Address,
	value, validAfter, validBefore *big.Int,
	nonce [32]byte,
	sig []byte,
) []byte {
	v, r, s := sigVRS(sig)
	data := make([]byte, 4+10*32)
	copy(data[:4], settlePaymentSelector)
	off := 4
	copy(data[off+12:off+32], asset.Bytes())
	off += 32
	copy(data[off:off+32], orderID[:])
	off += 32
	copy(data[off+12:off+32], from.Bytes())
	off += 32
	copy(data[off:off+32], pad32(value))
	off += 32
	copy(data[off:off+32], pad32(validAfter))
	off += 32
	copy(data[off:off+32], pad32(validBefore))
	off += 32
	copy(data[off:off+32], nonce[:])
	off += 32
	data[off+31] = v
	off += 32
	copy(data[off:off+32], r[:])
	off += 32
	copy(data[off:off+32], s[:])
	return data
}

func orderIDToBytes32(orderID string) [32]byte {
	var out [32]byte
	b := []byte(orderID)
	if len(b) > 32 {
		b = b[:32]
	}
	copy(out[:], b)
	return out
}

func nonceToBytes32(nonceHex string) ([32]byte, error) {
	var out [32]byte
	b, err := hexDecode(nonceHex)
	if err != nil {
		return out, err
	}
	copy(out[32-len(b):], b)
	return out, nil
}
