package gate

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/conflux-arena/x402-gateway/ledger"
	"github.com/conflux-arena/x402-gateway/x402"
)

const testNetwork = "eip155:1030"

func testRequirements() x402.Requirements {
	return x402.Requirements{
		Scheme:  x402.SchemeExact,
		Network: testNetwork,
		Asset:   "0x00000000000000000000000000000000000abc",
		PayTo:   "0x00000000000000000000000000000000000def",
		Amount:  "10000",
		Extra:   x402.RequirementsExtra{SettlementMode: x402.ModeTransfer, Name: "USDT0", Version: "1"},
	}
}

// newStubFacilitator returns an httptest server answering verify-transfer
// with valid=true and settle-transfer with a canned success, so the gate
// can be exercised end-to-end without a real chain.
func newStubFacilitator(t *testing.T, payer, tx string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/x402/verify-transfer", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(x402.VerifyResponse{Valid: true})
	})
	mux.HandleFunc("/x402/settle-transfer", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success":     true,
			"transaction": tx,
			"payer":       payer,
		})
	})
	return httptest.NewServer(mux)
}

func samplePayload() x402.PaymentPayload {
	return x402.PaymentPayload{
		X402Version: x402.Version,
		Scheme:      x402.SchemeExact,
		Network:     testNetwork,
		Payload: x402.Payload{
			Signature: "0x" + string(make([]byte, 130, 130)),
			Authorization: x402.Authorization{
				From:        "0x0000000000000000000000000000000000beef",
				To:          "0x00000000000000000000000000000000000def",
				Value:       "10000",
				ValidAfter:  "0",
				ValidBefore: "99999999999",
				Nonce:       "0x" + string(make([]byte, 64, 64)),
			},
		},
	}
}

// Scenario A happy path: no Payment-Signature header -> 402 with
// Payment-Required; with a header the stub facilitator accepts -> 200 with
// Payment-Response carrying the payer.
func TestGate_HappyPath(t *testing.T) {
	payer := "0x0000000000000000000000000000000000beef"
	tx := "0x" + "ab"[:2] + string(make([]byte, 62, 62))

	fac := newStubFacilitator(t, payer, tx)
	defer fac.Close()

	resourceCalled := false
	resource := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resourceCalled = true
		result, ok := SettlementFromContext(r.Context())
		if !ok || !result.Success {
			t.Fatalf("expected settlement in context")
		}
		w.WriteHeader(http.StatusOK)
	})

	g := New(Config{
		Requirements:   testRequirements(),
		FacilitatorURL: fac.URL,
		FacilitatorKey: "secret",
		Ledger:         ledger.NewMemoryStore(),
	}, resource)

	ts := httptest.NewServer(g)
	defer ts.Close()

	// No payment header: expect 402 with Payment-Required.
	resp, err := http.Get(ts.URL + "/resource")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", resp.StatusCode)
	}
	if resp.Header.Get(PaymentRequiredHeader) == "" {
		t.Fatalf("expected Payment-Required header")
	}
	resp.Body.Close()
	if resourceCalled {
		t.Fatalf("resource must not be called without payment")
	}

	// With payment header: expect 200 and Payment-Response.
	encodedPayload, err := x402.EncodePayload(samplePayload())
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/resource", nil)
	req.Header.Set(PaymentSignatureHeader, encodedPayload)
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET with payment: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp2.StatusCode)
	}
	encodedResult := resp2.Header.Get(PaymentResponseHeader)
	if encodedResult == "" {
		t.Fatalf("expected Payment-Response header")
	}
	result, err := x402.DecodeResult(encodedResult)
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	// Invariant 6: the payer named in Payment-Response matches the
	// authorization's `from`.
	if result.Payer != payer {
		t.Fatalf("payer mismatch: got %s want %s", result.Payer, payer)
	}
	if !resourceCalled {
		t.Fatalf("expected resource to be called after successful settlement")
	}
}

func TestGate_InvalidPayloadIs400(t *testing.T) {
	fac := newStubFacilitator(t, "0xbeef", "0xdead")
	defer fac.Close()

	resource := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("resource must not be called for a malformed payload")
	})
	g := New(Config{Requirements: testRequirements(), FacilitatorURL: fac.URL, FacilitatorKey: "secret"}, resource)

	ts := httptest.NewServer(g)
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/resource", nil)
	req.Header.Set(PaymentSignatureHeader, "not-valid-base64!!!")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestGate_VerifyRejectedIs402(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/x402/verify-transfer", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(x402.VerifyResponse{Valid: false, Reason: "Insufficient balance"})
	})
	fac := httptest.NewServer(mux)
	defer fac.Close()

	resource := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("resource must not be called when verify rejects")
	})
	g := New(Config{Requirements: testRequirements(), FacilitatorURL: fac.URL, FacilitatorKey: "secret"}, resource)

	ts := httptest.NewServer(g)
	defer ts.Close()

	encodedPayload, _ := x402.EncodePayload(samplePayload())
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/resource", nil)
	req.Header.Set(PaymentSignatureHeader, encodedPayload)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", resp.StatusCode)
	}
}
