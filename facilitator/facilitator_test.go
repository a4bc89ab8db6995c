package facilitator

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/conflux-arena/x402-gateway/eip712"
	"github.com/conflux-arena/x402-gateway/x402"
)

// fakeChain is a test double satisfying chainClient without any network I/O.
type fakeChain struct {
	address      common.Address
	balance      *big.Int
	nativeWei    *big.Int
	staticErr    error
	sendReceipt  *types.Receipt
	sendErr      error
	usedNonces   map[string]bool // keyed by hex nonce, simulates the chain's EIP-3009 bitmap
}

func newFakeChain() *fakeChain {
	key, _ := crypto.GenerateKey()
	return &fakeChain{
		address:    crypto.PubkeyToAddress(key.PublicKey),
		balance:    big.NewInt(1_000_000),
		nativeWei:  big.NewInt(1e18),
		usedNonces: make(map[string]bool),
	}
}

func (f *fakeChain) Address() common.Address { return f.address }

func (f *fakeChain) BalanceOf(ctx context.Context, asset, account common.Address) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeChain) StaticCall(ctx context.Context, to, from common.Address, data []byte) ([]byte, error) {
	return nil, f.staticErr
}

func (f *fakeChain) SendTx(ctx context.Context, to common.Address, data []byte, gasLimit uint64) (*types.Receipt, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	// data's nonce lives at a fixed offset for both packed calls (the 6th
	// 32-byte word after the selector in transferWithAuthorization, and the
	// 7th in settlePayment); tests only use transfer mode, so hard-code that.
	nonceHex := hex.EncodeToString(data[4+5*32 : 4+6*32])
	if f.usedNonces[nonceHex] {
		return nil, errors.New("transaction_failed: execution reverted: authorization already used")
	}
	f.usedNonces[nonceHex] = true
	if f.sendReceipt != nil {
		return f.sendReceipt, nil
	}
	return &types.Receipt{Status: 1, TxHash: common.HexToHash("0x" + strings.Repeat("ab", 32))}, nil
}

func (f *fakeChain) NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return f.nativeWei, nil
}

// testFixture builds a signed transfer-mode payload against a fresh key pair.
type testFixture struct {
	key       *ecdsa.PrivateKey
	from      common.Address
	asset     common.Address
	treasury  common.Address
	network   string
	chainID   *big.Int
	registry  *x402.AssetRegistry
	payload   x402.PaymentPayload
	reqs      x402.Requirements
}

func newFixture(t *testing.T, amount int64) *testFixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	asset := common.HexToAddress("0x00000000000000000000000000000000000abc")
	treasury := common.HexToAddress("0x00000000000000000000000000000000000def")
	chainID := big.NewInt(1030)
	network := "eip155:1030"

	desc := x402.AssetDescriptor{Address: asset.Hex(), Symbol: "USDT0", Decimals: 6, DomainName: "USDT0", DomainVersion: "1", EIP3009: true}
	registry := x402.NewAssetRegistry([]x402.AssetDescriptor{desc})

	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		t.Fatalf("rand: %v", err)
	}
	now := time.Now().Unix()
	value := big.NewInt(amount)
	validAfter := big.NewInt(0)
	validBefore := big.NewInt(now + 3600)

	domain := eip712.Domain{Name: "USDT0", Version: "1", ChainID: chainID, VerifyingContract: asset}
	typedAuth := eip712.Authorization{From: from, To: treasury, Value: value, ValidAfter: validAfter, ValidBefore: validBefore, Nonce: nonce}
	digest := eip712.Digest(domain, typedAuth)
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}

	reqs := x402.Requirements{
		Scheme:  x402.SchemeExact,
		Network: network,
		Asset:   asset.Hex(),
		PayTo:   treasury.Hex(),
		Amount:  "10000",
		Extra:   x402.RequirementsExtra{SettlementMode: x402.ModeTransfer, Name: "USDT0", Version: "1"},
	}
	payload := x402.PaymentPayload{
		X402Version: x402.Version,
		Scheme:      x402.SchemeExact,
		Network:     network,
		Payload: x402.Payload{
			Signature: "0x" + hex.EncodeToString(sig),
			Authorization: x402.Authorization{
				From:        from.Hex(),
				To:          treasury.Hex(),
				Value:       value.String(),
				ValidAfter:  strconv.FormatInt(validAfter.Int64(), 10),
				ValidBefore: strconv.FormatInt(validBefore.Int64(), 10),
				Nonce:       "0x" + hex.EncodeToString(nonce[:]),
			},
		},
	}

	return &testFixture{
		key: key, from: from, asset: asset, treasury: treasury, network: network,
		chainID: chainID, registry: registry, payload: payload, reqs: reqs,
	}
}

// Scenario B: bad signature.
func TestVerify_BadSignature(t *testing.T) {
	fx := newFixture(t, 10000)
	fx.payload.Payload.Signature = "0x" + strings.Repeat("00", 65)

	chain := newFakeChain()
	f := New(Config{Network: fx.network, ChainID: fx.chainID, Treasury: fx.treasury, Assets: fx.registry}, chain)

	result := f.Verify(context.Background(), x402.ModeTransfer, fx.payload, fx.reqs)
	if result.Valid {
		t.Fatalf("expected invalid result for corrupted signature")
	}
}

// Scenario C: insufficient balance.
func TestVerify_InsufficientBalance(t *testing.T) {
	fx := newFixture(t, 10000)
	chain := newFakeChain()
	chain.balance = big.NewInt(1) // far less than the 10000 required

	f := New(Config{Network: fx.network, ChainID: fx.chainID, Treasury: fx.treasury, Assets: fx.registry}, chain)
	result := f.Verify(context.Background(), x402.ModeTransfer, fx.payload, fx.reqs)
	if result.Valid {
		t.Fatalf("expected invalid result for insufficient balance")
	}
	if result.Reason != "Insufficient balance" {
		t.Fatalf("unexpected reason: %q", result.Reason)
	}
}

// Scenario D: expired authorization.
func TestVerify_ExpiredAuthorization(t *testing.T) {
	fx := newFixture(t, 10000)
	validBefore := time.Now().Add(-time.Hour).Unix()
	fx.payload.Payload.Authorization.ValidBefore = strconv.FormatInt(validBefore, 10)

	// Re-sign over the expired window so the signature check passes and the
	// time-window check is the one that rejects the payload.
	nonce, err := nonceToBytes32(fx.payload.Payload.Authorization.Nonce)
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	domain := eip712.Domain{Name: "USDT0", Version: "1", ChainID: fx.chainID, VerifyingContract: fx.asset}
	typedAuth := eip712.Authorization{From: fx.from, To: fx.treasury, Value: big.NewInt(10000), ValidAfter: big.NewInt(0), ValidBefore: big.NewInt(validBefore), Nonce: nonce}
	sig, err := crypto.Sign(eip712.Digest(domain, typedAuth).Bytes(), fx.key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	fx.payload.Payload.Signature = "0x" + hex.EncodeToString(sig)

	chain := newFakeChain()
	f := New(Config{Network: fx.network, ChainID: fx.chainID, Treasury: fx.treasury, Assets: fx.registry}, chain)
	result := f.Verify(context.Background(), x402.ModeTransfer, fx.payload, fx.reqs)
	if result.Valid {
		t.Fatalf("expected invalid result for expired authorization")
	}
	if result.Reason != "Authorization expired or not yet valid" {
		t.Fatalf("unexpected reason: %q", result.Reason)
	}
}

// Scenario A (partial, facilitator-only slice): a well-formed payload
// verifies and settles successfully.
func TestVerifyAndSettle_HappyPath(t *testing.T) {
	fx := newFixture(t, 10000)
	chain := newFakeChain()
	f := New(Config{Network: fx.network, ChainID: fx.chainID, Treasury: fx.treasury, Assets: fx.registry}, chain)

	verifyResult := f.Verify(context.Background(), x402.ModeTransfer, fx.payload, fx.reqs)
	if !verifyResult.Valid {
		t.Fatalf("expected valid result, got reason: %s", verifyResult.Reason)
	}
	if !strings.EqualFold(verifyResult.Payer, fx.from.Hex()) {
		t.Fatalf("payer mismatch: got %s want %s", verifyResult.Payer, fx.from.Hex())
	}

	settleResult := f.Settle(context.Background(), x402.ModeTransfer, fx.payload, fx.reqs)
	if !settleResult.Success {
		t.Fatalf("expected settle success, got error: %s", settleResult.Error)
	}
	if settleResult.Transaction == "" {
		t.Fatalf("expected a transaction hash")
	}
}

// Scenario E: nonce reuse. Verify may still pass; the second settle call
// must fail because the fake chain's EIP-3009 bitmap rejects the replay.
func TestSettle_NonceReuseReverts(t *testing.T) {
	fx := newFixture(t, 10000)
	chain := newFakeChain()
	f := New(Config{Network: fx.network, ChainID: fx.chainID, Treasury: fx.treasury, Assets: fx.registry}, chain)

	first := f.Settle(context.Background(), x402.ModeTransfer, fx.payload, fx.reqs)
	if !first.Success {
		t.Fatalf("expected first settle to succeed, got: %s", first.Error)
	}

	second := f.Settle(context.Background(), x402.ModeTransfer, fx.payload, fx.reqs)
	if second.Success {
		t.Fatalf("expected second settle (nonce reuse) to fail")
	}
}

// Scenario F: unsupported asset.
func TestVerify_UnsupportedAsset(t *testing.T) {
	fx := newFixture(t, 10000)
	fx.reqs.Asset = common.HexToAddress("0x00000000000000000000000000000000000999").Hex()

	chain := newFakeChain()
	f := New(Config{Network: fx.network, ChainID: fx.chainID, Treasury: fx.treasury, Assets: fx.registry}, chain)
	result := f.Verify(context.Background(), x402.ModeTransfer, fx.payload, fx.reqs)
	if result.Valid {
		t.Fatalf("expected invalid result for unsupported asset")
	}
}

// Health endpoint smoke test over httptest: /x402/health answers 200 without
// an API key even though the server has one configured.
func TestServer_Health(t *testing.T) {
	chain := newFakeChain()
	fx := newFixture(t, 10000)
	f := New(Config{Network: fx.network, ChainID: fx.chainID, Treasury: fx.treasury, Assets: fx.registry}, chain)
	server := NewServer(f, ServerConfig{APIKey: "secret"})

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/x402/health")
	if err != nil {
		t.Fatalf("GET /x402/health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
