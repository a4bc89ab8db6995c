// Package gate implements the x402 payment gate middleware of spec.md
// §4.3: it decides 402-vs-200 for a protected resource handler by calling
// out to a facilitator's verify and settle endpoints.
package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/conflux-arena/x402-gateway/ledger"
	"github.com/conflux-arena/x402-gateway/reqid"
	"github.com/conflux-arena/x402-gateway/x402"
)

// Header names from spec.md §6.
const (
	PaymentRequiredHeader  = "Payment-Required"
	PaymentSignatureHeader = "Payment-Signature"
	PaymentResponseHeader  = "Payment-Response"
)

// ExposedHeaders is the list an edge CORS layer (outside this package's
// scope, per spec.md §1) must expose for browser clients to read the x402
// headers on cross-origin responses.
func ExposedHeaders() []string {
	return []string{
		PaymentRequiredHeader,
		PaymentSignatureHeader,
		PaymentResponseHeader,
		"X-Payment-Required",
		"X-Payment-Signature",
		"X-Payment-Response",
	}
}

// Config groups the gate's dependencies.
type Config struct {
	// Requirements is what the gate offers for this resource. One entry is
	// typical; the wire format is always a JSON array (spec.md invariant 4)
	// to leave room for future multi-option offers.
	Requirements x402.Requirements
	// FacilitatorURL is the base URL of the local facilitator, e.g.
	// "http://127.0.0.1:3849".
	FacilitatorURL string
	// FacilitatorKey is the shared secret sent as X-Api-Key to the facilitator.
	FacilitatorKey string
	// HTTPClient is used for facilitator calls; if nil, a 30s-timeout
	// client is constructed (spec.md §5).
	HTTPClient *http.Client
	// Ledger, if set, records every successful settlement. A nil Ledger
	// disables logging entirely rather than requiring a no-op stub.
	Ledger ledger.Store
}

type settlementContextKey struct{}

// SettlementFromContext returns the settlement record attached by a
// successful Gate call, for the resource handler (and any payment-log
// writer wrapping it) to read.
func SettlementFromContext(ctx context.Context) (x402.SettlementResult, bool) {
	v, ok := ctx.Value(settlementContextKey{}).(x402.SettlementResult)
	return v, ok
}

// Gate wraps a protected resource handler with the x402 payment flow.
type Gate struct {
	cfg          Config
	client       *http.Client
	requirements []x402.Requirements // always length 1 today; array for future multi-offer
	next         http.Handler
}

// New builds a Gate from cfg, wrapping next.
func New(cfg Config, next http.Handler) *Gate {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Gate{
		cfg:          cfg,
		client:       client,
		requirements: []x402.Requirements{cfg.Requirements},
		next:         next,
	}
}

// ServeHTTP implements spec.md §4.3's six-step algorithm.
func (g *Gate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	encoded := r.Header.Get(PaymentSignatureHeader)
	if encoded == "" {
		g.send402(w, r, "")
		return
	}

	payload, err := x402.DecodePayload(encoded)
	if err != nil {
		x402.WriteError(w, http.StatusBadRequest, x402.ErrInvalidPayload, err.Error())
		return
	}

	ctx := r.Context()
	reqID := reqid.FromContext(ctx)

	verifyResp, err := g.verify(ctx, *payload)
	if err != nil {
		slog.Warn("facilitator verify call failed", "request_id", reqID, "err", err)
		x402.WriteError(w, http.StatusPaymentRequired, x402.ErrVerifyFailed, err.Error())
		return
	}
	if !verifyResp.Valid {
		slog.Info("payment verify rejected", "request_id", reqID, "reason", verifyResp.Reason)
		x402.WriteError(w, http.StatusPaymentRequired, x402.ErrVerifyFailed, verifyResp.Reason)
		return
	}

	settleResp, err := g.settle(ctx, *payload)
	if err != nil {
		// A single attempt only: duplicate settlement of the same
		// authorization reverts on-chain but wastes gas (spec.md §5).
		slog.Error("facilitator settle call failed", "request_id", reqID, "err", err)
		x402.WriteError(w, http.StatusInternalServerError, x402.ErrSettleFailed, err.Error())
		return
	}
	if !settleResp.Success {
		slog.Warn("settlement failed", "request_id", reqID, "error", settleResp.Error)
		x402.WriteError(w, http.StatusInternalServerError, x402.ErrSettleFailed, settleResp.Error)
		return
	}

	result := x402.SettlementResult{
		Success:     true,
		Transaction: settleResp.Transaction,
		Payer:       settleResp.Payer,
		Scheme:      g.cfg.Requirements.Scheme,
		Network:     g.cfg.Requirements.Network,
		X402Version: x402.Version,
	}
	encodedResult, err := x402.EncodeResult(result)
	if err != nil {
		slog.Error("encoding settlement result failed", "request_id", reqID, "err", err)
		x402.WriteError(w, http.StatusInternalServerError, x402.ErrSettleFailed, "internal error")
		return
	}

	w.Header().Set(PaymentResponseHeader, encodedResult)
	slog.Info("payment settled, serving resource", "request_id", reqID, "payer", result.Payer, "tx", result.Transaction)

	if g.cfg.Ledger != nil {
		entry := ledger.Entry{
			Nonce:       payload.Payload.Authorization.Nonce,
			Payer:       result.Payer,
			PayTo:       g.cfg.Requirements.PayTo,
			Asset:       g.cfg.Requirements.Asset,
			Amount:      payload.Payload.Authorization.Value,
			Network:     result.Network,
			Mode:        string(g.cfg.Requirements.Extra.SettlementMode),
			OrderID:     g.cfg.Requirements.Extra.OrderID,
			Transaction: result.Transaction,
			RequestID:   reqID,
		}
		if err := g.cfg.Ledger.Record(ctx, entry); err != nil {
			// The chain already settled; a ledger write failure is an
			// observability gap, not a reason to fail the response.
			slog.Error("ledger record failed", "request_id", reqID, "err", err)
		}
	}

	ctx = context.WithValue(ctx, settlementContextKey{}, result)
	g.next.ServeHTTP(w, r.WithContext(ctx))
}

// send402 emits the 402 response carrying the Payment-Required header and a
// machine-readable body.
func (g *Gate) send402(w http.ResponseWriter, r *http.Request, reason string) {
	encoded, err := x402.EncodeRequirements(g.requirements)
	if err != nil {
		slog.Error("encoding payment requirements failed", "err", err)
		x402.WriteError(w, http.StatusInternalServerError, x402.ErrServiceUnavailable, "internal error")
		return
	}
	w.Header().Set(PaymentRequiredHeader, encoded)
	msg := "payment required"
	if reason != "" {
		msg = reason
	}
	x402.WriteError(w, http.StatusPaymentRequired, x402.ErrPaymentRequired, msg)
}

// verifyEndpoint and settleEndpoint select the facilitator path matching
// the gate's configured settlement mode (spec.md §4.2 mode discriminator).
func (g *Gate) verifyEndpoint() string {
	if g.cfg.Requirements.Extra.SettlementMode == x402.ModeTransfer {
		return "/x402/verify-transfer"
	}
	return "/x402/verify"
}

func (g *Gate) settleEndpoint() string {
	if g.cfg.Requirements.Extra.SettlementMode == x402.ModeTransfer {
		return "/x402/settle-transfer"
	}
	return "/x402/settle"
}

type facilitatorRequest struct {
	Payload      x402.PaymentPayload `json:"payload"`
	Requirements x402.Requirements   `json:"requirements"`
}

func (g *Gate) verify(ctx context.Context, payload x402.PaymentPayload) (*x402.VerifyResponse, error) {
	var resp x402.VerifyResponse
	if err := g.post(ctx, g.verifyEndpoint(), payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type settleResponseBody struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction,omitempty"`
	Payer       string `json:"payer,omitempty"`
	Error       string `json:"error,omitempty"`
}

func (g *Gate) settle(ctx context.Context, payload x402.PaymentPayload) (*settleResponseBody, error) {
	var resp settleResponseBody
	if err := g.postAllowError(ctx, g.settleEndpoint(), payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// post sends a request the facilitator is expected to answer 200 on,
// surfacing any non-2xx as a transport error.
func (g *Gate) post(ctx context.Context, path string, payload x402.PaymentPayload, dst interface{}) error {
	body, err := json.Marshal(facilitatorRequest{Payload: payload, Requirements: g.cfg.Requirements})
	if err != nil {
		return fmt.Errorf("marshal facilitator request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.FacilitatorURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", g.cfg.FacilitatorKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading facilitator response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("facilitator returned %d: %s", resp.StatusCode, respBody)
	}
	return json.Unmarshal(respBody, dst)
}

// postAllowError is like post but also decodes a 500 response body instead
// of treating it as a transport failure, since /settle legitimately returns
// 500 with {success:false, error} on a chain revert (spec.md §4.2).
func (g *Gate) postAllowError(ctx context.Context, path string, payload x402.PaymentPayload, dst interface{}) error {
	body, err := json.Marshal(facilitatorRequest{Payload: payload, Requirements: g.cfg.Requirements})
	if err != nil {
		return fmt.Errorf("marshal facilitator request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.FacilitatorURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", g.cfg.FacilitatorKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading facilitator response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusInternalServerError {
		return fmt.Errorf("facilitator returned %d: %s", resp.StatusCode, respBody)
	}
	return json.Unmarshal(respBody, dst)
}
