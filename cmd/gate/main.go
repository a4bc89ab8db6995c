// Command gate runs the x402 payment gate in front of a protected upstream
// resource: it answers unpaid requests with 402 and forwards paid,
// settled requests on to the upstream.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/conflux-arena/x402-gateway/config"
	"github.com/conflux-arena/x402-gateway/gate"
	"github.com/conflux-arena/x402-gateway/ledger"
	"github.com/conflux-arena/x402-gateway/reqid"
	"github.com/conflux-arena/x402-gateway/x402"
)

func main() {
	cfg, err := config.LoadGate()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: config.SlogLevel(cfg.LogLevel)})))

	store, err := openLedger(cfg)
	if err != nil {
		slog.Error("ledger init failed", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	resource, err := newResourceProxy(cfg.UpstreamURL)
	if err != nil {
		slog.Error("invalid X402_UPSTREAM_URL", "err", err)
		os.Exit(1)
	}

	requirements := buildRequirements(cfg)

	g := gate.New(gate.Config{
		Requirements:   requirements,
		FacilitatorURL: cfg.FacilitatorURL,
		FacilitatorKey: cfg.FacilitatorKey,
		Ledger:         store,
	}, resource)

	mux := http.NewServeMux()
	mux.Handle("/", g)
	handler := reqid.Middleware(mux)

	addr := fmt.Sprintf(":%d", cfg.Port)
	slog.Info("gate starting",
		"addr", addr,
		"network", cfg.Network,
		"price", cfg.Price,
		"mode", requirements.Extra.SettlementMode,
		"upstream", cfg.UpstreamURL,
	)

	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}

// buildRequirements assembles the single payment offer this gate
// advertises, choosing escrow mode when an adapter is configured and
// falling back to direct transfer otherwise.
func buildRequirements(cfg *config.GateConfig) x402.Requirements {
	extra := x402.RequirementsExtra{
		Name:    "USDT0",
		Version: "1",
	}
	payTo := cfg.Treasury
	if cfg.AdapterAddress != "" {
		extra.SettlementMode = x402.ModeEscrow
		extra.AssetTransferMethod = "eip3009"
		payTo = cfg.AdapterAddress
	} else {
		extra.SettlementMode = x402.ModeTransfer
	}

	return x402.Requirements{
		Scheme:  x402.SchemeExact,
		Network: cfg.Network,
		Asset:   cfg.AssetAddress,
		PayTo:   payTo,
		Amount:  cfg.Price,
		Extra:   extra,
	}
}

// openLedger returns a Postgres-backed Store if DATABASE_URL is set,
// otherwise an in-memory Store (fine for a single-instance deployment, lost
// on restart).
func openLedger(cfg *config.GateConfig) (ledger.Store, error) {
	if cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL unset: payment ledger is in-memory and will not survive a restart")
		return ledger.NewMemoryStore(), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return ledger.DialPostgres(ctx, cfg.DatabaseURL)
}
