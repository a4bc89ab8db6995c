// Command facilitator runs the loopback-only x402 facilitator: it verifies
// EIP-712/EIP-3009 signed authorizations and settles them on-chain.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/conflux-arena/x402-gateway/chain"
	"github.com/conflux-arena/x402-gateway/config"
	"github.com/conflux-arena/x402-gateway/facilitator"
	"github.com/conflux-arena/x402-gateway/x402"
)

func main() {
	cfg, err := config.LoadFacilitator()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: config.SlogLevel(cfg.LogLevel)})))

	chainID, err := x402.ChainIDFromNetwork(cfg.Network)
	if err != nil {
		slog.Error("invalid X402_NETWORK", "err", err)
		os.Exit(1)
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	chainClient, err := chain.Dial(dialCtx, cfg.RPCURL, cfg.SignerPrivateKey, chainID)
	if err != nil {
		slog.Error("chain dial failed", "err", err)
		os.Exit(1)
	}
	defer chainClient.Close()

	var assets []x402.AssetDescriptor
	if cfg.AssetAddress != "" {
		assets = append(assets, x402.DefaultUSDT0(cfg.AssetAddress))
	}
	if cfg.AssetsFile != "" {
		extra, err := x402.LoadAssetsFile(cfg.AssetsFile)
		if err != nil {
			slog.Error("loading X402_ASSETS_FILE failed", "err", err)
			os.Exit(1)
		}
		assets = append(assets, extra...)
	}
	registry := x402.NewAssetRegistry(assets)

	facCfg := facilitator.Config{
		Network:       cfg.Network,
		ChainID:       chainID,
		Assets:        registry,
		LowBalanceWei: cfg.LowBalanceWei,
	}
	if cfg.Treasury != "" {
		facCfg.Treasury = common.HexToAddress(cfg.Treasury)
	}
	if cfg.AdapterAddress != "" {
		adapter := common.HexToAddress(cfg.AdapterAddress)
		facCfg.EscrowAdapter = &adapter
	}

	f := facilitator.New(facCfg, chainClient)
	server := facilitator.NewServer(f, facilitator.ServerConfig{
		APIKey:    cfg.FacilitatorKey,
		SellerURL: cfg.APIURL,
		BuyerKey:  cfg.DemoBuyerKey,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.FacilitatorPort)
	slog.Info("facilitator starting",
		"addr", addr,
		"network", cfg.Network,
		"relayer", chainClient.Address().Hex(),
		"escrow_enabled", cfg.AdapterAddress != "",
		"demo_ai_enabled", cfg.DemoBuyerKey != "",
	)

	if err := server.ListenAndServe(addr); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
