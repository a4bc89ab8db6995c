package x402

import "testing"

// TestEncodeRequirements_IsAlwaysAnArray guards invariant 4: the
// Payment-Required header value decodes to a JSON array, never a bare
// object, even for a single offer.
func TestEncodeRequirements_IsAlwaysAnArray(t *testing.T) {
	reqs := []Requirements{
		{
			Scheme:  SchemeExact,
			Network: "eip155:1030",
			Asset:   "0x00000000000000000000000000000000000abc",
			PayTo:   "0x00000000000000000000000000000000000def",
			Amount:  "10000",
			Extra:   RequirementsExtra{SettlementMode: ModeTransfer, Name: "USDT0", Version: "1"},
		},
	}
	encoded, err := EncodeRequirements(reqs)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeRequirements(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != 1 {
		t.Fatalf("expected 1 requirement, got %d", len(decoded))
	}
	if decoded[0] != reqs[0] {
		t.Fatalf("round-trip mismatch: got %+v want %+v", decoded[0], reqs[0])
	}
}

func TestEncodeRequirements_EmptySliceStillEncodesArray(t *testing.T) {
	encoded, err := EncodeRequirements([]Requirements{})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeRequirements(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded == nil || len(decoded) != 0 {
		t.Fatalf("expected an empty (non-nil) array, got %+v", decoded)
	}
}

func TestPaymentPayload_RoundTrip(t *testing.T) {
	p := PaymentPayload{
		X402Version: Version,
		Scheme:      SchemeExact,
		Network:     "eip155:1030",
		Payload: Payload{
			Signature: "0xdeadbeef",
			Authorization: Authorization{
				From:        "0x0000000000000000000000000000000000beef",
				To:          "0x00000000000000000000000000000000000def",
				Value:       "10000",
				ValidAfter:  "0",
				ValidBefore: "99999999999",
				Nonce:       "0xabc123",
			},
		},
	}
	encoded, err := EncodePayload(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodePayload(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *decoded != p {
		t.Fatalf("round-trip mismatch: got %+v want %+v", *decoded, p)
	}
}

func TestSettlementResult_RoundTrip(t *testing.T) {
	r := SettlementResult{
		Success:     true,
		Transaction: "0x" + "ab1234",
		Payer:       "0x0000000000000000000000000000000000beef",
		Scheme:      SchemeExact,
		Network:     "eip155:1030",
		X402Version: Version,
	}
	encoded, err := EncodeResult(r)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeResult(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *decoded != r {
		t.Fatalf("round-trip mismatch: got %+v want %+v", *decoded, r)
	}
}

func TestDecodeRequirements_RejectsBareObject(t *testing.T) {
	// A bare JSON object, base64-encoded, must fail to decode as an array:
	// invariant 4 forbids it on the wire, and this should never silently
	// succeed as a one-element slice.
	const bareObject = "eyJzY2hlbWUiOiJleGFjdCJ9" // base64("{"scheme":"exact"}")
	if _, err := DecodeRequirements(bareObject); err == nil {
		t.Fatalf("expected an error decoding a bare object as a requirements array")
	}
}
