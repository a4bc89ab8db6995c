// Package eip712 computes EIP-712 typed-data digests for the
// TransferWithAuthorization (EIP-3009) struct and recovers the ECDSA
// signer of a 65-byte signature over that digest. It performs no I/O and
// holds no state beyond the pre-computed type hashes below.
package eip712

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidSignature is returned when a signature does not decode to 65
// bytes or does not recover to the claimed signer.
var ErrInvalidSignature = errors.New("invalid signature")

// domainTypeHash and authTypeHash are the canonical EIP-712 type hashes,
// constant for the lifetime of the process.
var (
	domainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
	))
	authTypeHash = crypto.Keccak256Hash([]byte(
		"TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)",
	))
)

// Domain is the EIP-712 domain separator tuple for a TransferWithAuthorization
// message: the asset contract's name, version, chain ID, and own address.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// Authorization is the EIP-3009 TransferWithAuthorization message fields in
// their typed form (as opposed to x402.Authorization's wire strings).
type Authorization struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       [32]byte
}

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

// domainSeparator computes keccak256(EIP712Domain(...)) per EIP-712 §domainSeparator.
func domainSeparator(d Domain) common.Hash {
	enc := make([]byte, 5*32)
	copy(enc[0:32], domainTypeHash.Bytes())
	copy(enc[32:64], crypto.Keccak256([]byte(d.Name)))
	copy(enc[64:96], crypto.Keccak256([]byte(d.Version)))
	copy(enc[96:128], pad32(d.ChainID))
	copy(enc[128:160], addrPad(d.VerifyingContract))
	return crypto.Keccak256Hash(enc)
}

// structHash computes keccak256 of the TransferWithAuthorization struct
// encoding: the type hash followed by each field in canonical order.
func structHash(a Authorization) common.Hash {
	enc := make([]byte, 7*32)
	copy(enc[0:32], authTypeHash.Bytes())
	copy(enc[32:64], addrPad(a.From))
	copy(enc[64:96], addrPad(a.To))
	copy(enc[96:128], pad32(a.Value))
	copy(enc[128:160], pad32(a.ValidAfter))
	copy(enc[160:192], pad32(a.ValidBefore))
	copy(enc[192:224], a.Nonce[:])
	return crypto.Keccak256Hash(enc)
}

// Digest computes the canonical EIP-712 digest:
//
//	keccak256(0x1901 || domainSeparator || structHash)
func Digest(d Domain, a Authorization) common.Hash {
	ds := domainSeparator(d)
	sh := structHash(a)
	buf := make([]byte, 0, 2+32+32)
	buf = append(buf, 0x19, 0x01)
	buf = append(buf, ds.Bytes()...)
	buf = append(buf, sh.Bytes()...)
	return crypto.Keccak256Hash(buf)
}

// Recover recovers the secp256k1 signer of digest given a 65-byte
// [R || S || V] signature, accepting either 0/1 or 27/28 recovery IDs.
func Recover(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("%w: signature must be 65 bytes, got %d", ErrInvalidSignature, len(sig))
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	if normalized[64] > 1 {
		return common.Address{}, fmt.Errorf("%w: invalid recovery id", ErrInvalidSignature)
	}

	pubBytes, err := crypto.Ecrecover(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	pub, err := crypto.UnmarshalPubkey(pubBytes)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// RecoverAndCompare recovers the signer of (domain, auth) under sig and
// confirms it equals claimedFrom (case-insensitive hex comparison, since
// EVM addresses are not checksum-sensitive for equality).
func RecoverAndCompare(d Domain, a Authorization, sig []byte, claimedFrom common.Address) error {
	digest := Digest(d, a)
	recovered, err := Recover(digest, sig)
	if err != nil {
		return err
	}
	if !strings.EqualFold(recovered.Hex(), claimedFrom.Hex()) {
		return fmt.Errorf("%w: recovered %s, claimed %s", ErrInvalidSignature, recovered.Hex(), claimedFrom.Hex())
	}
	return nil
}
