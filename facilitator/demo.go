package facilitator

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/conflux-arena/x402-gateway/buyer"
	"github.com/conflux-arena/x402-gateway/x402"
)

// demoAIRequest lets a caller override the seller URL per-call; if absent,
// the server's configured default (API_URL) is used.
type demoAIRequest struct {
	URL string `json:"url,omitempty"`
}

type demoAIResponse struct {
	Paid       bool                   `json:"paid"`
	StatusCode int                    `json:"statusCode"`
	Result     *x402.SettlementResult `json:"result,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// handleDemoAI runs the full client flow (spec.md §4.2 Demo-AI) against a
// configured seller URL using the server's configured buyer key, so that a
// browser demo never needs a private key client-side.
func (s *Server) handleDemoAI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		x402.WriteError(w, http.StatusMethodNotAllowed, x402.ErrMethodNotAllowed, "POST required")
		return
	}
	if s.buyerKey == "" {
		x402.WriteError(w, http.StatusServiceUnavailable, x402.ErrServiceUnavailable, "demo-ai not configured: DEMO_BUYER_KEY unset")
		return
	}

	var req demoAIRequest
	_ = decodeJSONOptional(r, &req)
	url := req.URL
	if url == "" {
		url = s.sellerURL
	}
	if url == "" {
		x402.WriteError(w, http.StatusServiceUnavailable, x402.ErrServiceUnavailable, "demo-ai not configured: API_URL unset")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 45*time.Second)
	defer cancel()

	c, err := buyer.New(s.buyerKey)
	if err != nil {
		x402.WriteError(w, http.StatusInternalServerError, x402.ErrServiceUnavailable, err.Error())
		return
	}

	resp, result, err := c.Pay(ctx, url, s.f.cfg.Network)
	if err != nil {
		writeJSON(w, http.StatusOK, demoAIResponse{Paid: false, Error: err.Error()})
		return
	}
	defer buyer.DrainAndClose(resp)

	writeJSON(w, http.StatusOK, demoAIResponse{
		Paid:       result != nil && result.Success,
		StatusCode: resp.StatusCode,
		Result:     result,
	})
}

func decodeJSONOptional(r *http.Request, dst interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(dst)
}
