package facilitator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"time"

	"github.com/conflux-arena/x402-gateway/reqid"
	"github.com/conflux-arena/x402-gateway/x402"
)

// maxBodyBytes enforces the 1 MiB request body cap of spec.md §5.
const maxBodyBytes = 1 << 20

// Server is the loopback-bound HTTP facade over a Facilitator.
type Server struct {
	f          *Facilitator
	apiKey     string
	sellerURL  string // default seller URL for demo-ai; a request may supply its own
	buyerKey   string // used by demo-ai; empty disables it
	mux        *http.ServeMux
}

// ServerConfig groups Server's dependencies beyond the Facilitator itself.
type ServerConfig struct {
	APIKey    string // shared secret required on every endpoint but /health
	SellerURL string // API_URL: seller endpoint demo-ai drives
	BuyerKey  string // DEMO_BUYER_KEY: private key demo-ai signs with
}

// NewServer builds the HTTP facade. Call ListenAndServe (not
// http.ListenAndServe) to enforce the loopback-bind requirement.
func NewServer(f *Facilitator, cfg ServerConfig) *Server {
	s := &Server{
		f:         f,
		apiKey:    cfg.APIKey,
		sellerURL: cfg.SellerURL,
		buyerKey:  cfg.BuyerKey,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/x402/health", s.handleHealth)
	mux.Handle("/x402/verify", s.authed(http.HandlerFunc(s.handleVerify(x402.ModeEscrow))))
	mux.Handle("/x402/settle", s.authed(http.HandlerFunc(s.handleSettle(x402.ModeEscrow))))
	mux.Handle("/x402/verify-transfer", s.authed(http.HandlerFunc(s.handleVerify(x402.ModeTransfer))))
	mux.Handle("/x402/settle-transfer", s.authed(http.HandlerFunc(s.handleSettle(x402.ModeTransfer))))
	mux.Handle("/x402/demo-ai", s.authed(http.HandlerFunc(s.handleDemoAI)))
	s.mux = mux
	return s
}

// Handler returns the wrapped http.Handler (request-ID middleware + routes).
func (s *Server) Handler() http.Handler {
	return reqid.Middleware(s.mux)
}

// ListenAndServe binds addr and serves the facilitator API. It refuses to
// bind anything but loopback, per spec.md §4.2 ("MUST bind only to
// loopback").
func (s *Server) ListenAndServe(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	if host != "127.0.0.1" && host != "localhost" && host != "::1" {
		return fmt.Errorf("refusing to bind non-loopback address %q: facilitator must not be internet-facing", host)
	}
	server := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 45 * time.Second,
	}
	return server.ListenAndServe()
}

// authed requires X-Api-Key or X-Facilitator-Key to equal the configured
// shared secret (spec.md §4.2).
func (s *Server) authed(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Api-Key")
		if key == "" {
			key = r.Header.Get("X-Facilitator-Key")
		}
		if key == "" || key != s.apiKey {
			x402.WriteError(w, http.StatusUnauthorized, x402.ErrRequiredField, "missing or invalid facilitator key")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

type verifyRequest struct {
	Payload      x402.PaymentPayload `json:"payload"`
	Requirements x402.Requirements   `json:"requirements"`
}

// settleResponseBody is the facilitator's own settle wire shape (spec.md
// §4.2): {success:true, transaction, payer} or {success:false, error}. It
// is distinct from x402.SettlementResult, which is the gate's richer,
// protocol-level receipt assembled after this call returns.
type settleResponseBody struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction,omitempty"`
	Payer       string `json:"payer,omitempty"`
	Error       string `json:"error,omitempty"`
}

func decodeVerifyRequest(r *http.Request) (*verifyRequest, error) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *Server) handleVerify(mode x402.SettlementMode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			x402.WriteError(w, http.StatusMethodNotAllowed, x402.ErrMethodNotAllowed, "POST required")
			return
		}
		req, err := decodeVerifyRequest(r)
		if err != nil {
			x402.WriteError(w, http.StatusBadRequest, x402.ErrInvalidFormat, "malformed request body")
			return
		}
		result := s.f.Verify(r.Context(), mode, req.Payload, req.Requirements)
		writeJSON(w, http.StatusOK, x402.VerifyResponse{Valid: result.Valid, Reason: result.Reason})
	}
}

func (s *Server) handleSettle(mode x402.SettlementMode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			x402.WriteError(w, http.StatusMethodNotAllowed, x402.ErrMethodNotAllowed, "POST required")
			return
		}
		req, err := decodeVerifyRequest(r)
		if err != nil {
			x402.WriteError(w, http.StatusBadRequest, x402.ErrInvalidFormat, "malformed request body")
			return
		}
		result := s.f.Settle(r.Context(), mode, req.Payload, req.Requirements)
		if !result.Success {
			slog.Warn("settlement failed", "reason", result.Error, "payer", result.Payer)
			writeJSON(w, http.StatusInternalServerError, settleResponseBody{Success: false, Error: result.Error})
			return
		}
		slog.Info("settlement succeeded", "tx", result.Transaction, "payer", result.Payer)
		writeJSON(w, http.StatusOK, settleResponseBody{Success: true, Transaction: result.Transaction, Payer: result.Payer})
	}
}

type assetHealth struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
	EIP3009 bool   `json:"eip3009"`
}

type healthResponse struct {
	Relayer       string        `json:"relayer"`
	RelayerWei    string        `json:"relayerNativeBalance"`
	Network       string        `json:"network"`
	X402Version   int           `json:"x402Version"`
	Assets        []assetHealth `json:"assets"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		x402.WriteError(w, http.StatusMethodNotAllowed, x402.ErrMethodNotAllowed, "GET required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	balance, err := s.f.chain.NativeBalance(ctx, s.f.chain.Address())
	if err != nil {
		slog.Error("health: native balance read failed", "err", err)
		balance = big.NewInt(0)
	}
	if s.f.cfg.LowBalanceWei != nil && balance.Cmp(s.f.cfg.LowBalanceWei) < 0 {
		slog.Warn("relayer native balance low", "relayer", s.f.chain.Address().Hex(), "balance", balance.String())
	}

	assets := make([]assetHealth, 0, len(s.f.cfg.Assets.List()))
	for _, a := range s.f.cfg.Assets.List() {
		assets = append(assets, assetHealth{Address: a.Address, Symbol: a.Symbol, EIP3009: a.EIP3009})
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Relayer:     s.f.chain.Address().Hex(),
		RelayerWei:  balance.String(),
		Network:     s.f.cfg.Network,
		X402Version: x402.Version,
		Assets:      assets,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
