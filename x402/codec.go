package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// EncodeRequirements renders the Payment-Required header value: base64 of a
// JSON array of Requirements, never a bare object (invariant 4, spec §8).
func EncodeRequirements(reqs []Requirements) (string, error) {
	b, err := json.Marshal(reqs)
	if err != nil {
		return "", fmt.Errorf("marshal requirements: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// DecodeRequirements parses a Payment-Required header value back into the
// requirements array the server offered.
func DecodeRequirements(encoded string) ([]Requirements, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("base64 decode requirements: %w", err)
	}
	var reqs []Requirements
	if err := json.Unmarshal(raw, &reqs); err != nil {
		return nil, fmt.Errorf("json decode requirements: %w", err)
	}
	return reqs, nil
}

// EncodePayload renders the Payment-Signature header value: base64 of the
// JSON payment payload.
func EncodePayload(p PaymentPayload) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// DecodePayload parses a Payment-Signature header value into a PaymentPayload.
func DecodePayload(encoded string) (*PaymentPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("base64 decode payload: %w", err)
	}
	var p PaymentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("json decode payload: %w", err)
	}
	return &p, nil
}

// EncodeResult renders the Payment-Response header value: base64 of the JSON
// settlement result.
func EncodeResult(r SettlementResult) (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal settlement result: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// DecodeResult parses a Payment-Response header value into a SettlementResult.
func DecodeResult(encoded string) (*SettlementResult, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("base64 decode result: %w", err)
	}
	var r SettlementResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("json decode result: %w", err)
	}
	return &r, nil
}
