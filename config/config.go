// Package config loads gateway and facilitator configuration from
// environment variables, extending the teacher's godotenv-based loader
// with the env vars this gateway's two processes need.
package config

import (
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// FacilitatorConfig holds everything cmd/facilitator needs to boot.
type FacilitatorConfig struct {
	// SignerPrivateKey is the hex-encoded relayer key that pays gas and
	// submits transferWithAuthorization/settlePayment transactions.
	SignerPrivateKey string

	// FacilitatorKey is the shared secret the gate must present as
	// X-Api-Key on every authenticated facilitator endpoint.
	FacilitatorKey string

	// FacilitatorPort is the loopback port the facilitator listens on.
	FacilitatorPort int

	// AdapterAddress is the escrow adapter contract address. Empty
	// disables escrow-mode settlement; transfer mode still works.
	AdapterAddress string

	// Treasury is the direct-transfer recipient address.
	Treasury string

	// AssetAddress is the built-in USDT0 token contract address this
	// facilitator accepts in addition to whatever AssetsFile adds.
	AssetAddress string

	// Network is the CAIP-2 network tag, e.g. "eip155:1030".
	Network string

	// RPCURL is the settlement chain's JSON-RPC endpoint.
	RPCURL string

	// AssetsFile optionally points to a JSON file of additional
	// AssetDescriptor entries beyond the built-in USDT0 default.
	AssetsFile string

	// LowBalanceWei is the native-token balance threshold below which
	// /x402/health logs a warning.
	LowBalanceWei *big.Int

	// DemoBuyerKey, if set, enables the /x402/demo-ai endpoint.
	DemoBuyerKey string

	// APIURL is the seller endpoint demo-ai pays against by default.
	APIURL string

	// LogLevel controls slog's minimum level ("debug", "info", "warn", "error").
	LogLevel string
}

// GateConfig holds everything cmd/gate needs to boot.
type GateConfig struct {
	// Price is the exact amount required per request, in the asset's
	// smallest unit, as a decimal string.
	Price string

	// Treasury is the direct-transfer recipient address advertised in
	// the 402 offer (mirrors FacilitatorConfig.Treasury; the gate and
	// facilitator are configured independently so they can run as
	// separate processes).
	Treasury string

	// AdapterAddress, when set, switches the gate's offer to escrow mode.
	AdapterAddress string

	// Network is the CAIP-2 network tag advertised in the 402 offer.
	Network string

	// FacilitatorURL is the facilitator's loopback base URL, e.g.
	// "http://127.0.0.1:3849".
	FacilitatorURL string

	// FacilitatorKey authenticates the gate to the facilitator.
	FacilitatorKey string

	// AssetAddress is the ERC-20/EIP-3009 token contract address offered.
	AssetAddress string

	// Port is the gate's own HTTP listen port.
	Port int

	// LogLevel controls slog's minimum level.
	LogLevel string

	// DatabaseURL, if set, switches the ledger from in-memory to Postgres.
	DatabaseURL string

	// UpstreamURL is the protected resource the gate forwards paid-for
	// requests to.
	UpstreamURL string
}

// LoadFacilitator reads FacilitatorConfig from the environment. A .env file
// in the working directory is loaded first if present (dev convenience).
func LoadFacilitator() (*FacilitatorConfig, error) {
	_ = godotenv.Load()

	cfg := &FacilitatorConfig{
		SignerPrivateKey: getEnv("ARENA_SIGNER_PRIVATE_KEY", ""),
		FacilitatorKey:   getEnv("X402_FACILITATOR_KEY", ""),
		FacilitatorPort:  getEnvInt("X402_FACILITATOR_PORT", 3849),
		AdapterAddress:   getEnv("X402_ADAPTER_ADDRESS", ""),
		Treasury:         getEnv("X402_API_TREASURY", ""),
		AssetAddress:     getEnv("X402_ASSET_ADDRESS", ""),
		Network:          getEnv("X402_NETWORK", "eip155:1030"),
		RPCURL:           getEnv("X402_RPC_URL", ""),
		AssetsFile:       getEnv("X402_ASSETS_FILE", ""),
		DemoBuyerKey:     getEnv("DEMO_BUYER_KEY", ""),
		APIURL:           getEnv("API_URL", ""),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
	}

	if wei := getEnv("X402_LOW_BALANCE_WEI", ""); wei != "" {
		n, ok := new(big.Int).SetString(wei, 10)
		if !ok {
			return nil, fmt.Errorf("X402_LOW_BALANCE_WEI must be a decimal integer, got %q", wei)
		}
		cfg.LowBalanceWei = n
	}

	if cfg.SignerPrivateKey == "" {
		return nil, fmt.Errorf("ARENA_SIGNER_PRIVATE_KEY is required")
	}
	if cfg.FacilitatorKey == "" {
		return nil, fmt.Errorf("X402_FACILITATOR_KEY is required")
	}
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("X402_RPC_URL is required")
	}
	if cfg.Treasury == "" && cfg.AdapterAddress == "" {
		return nil, fmt.Errorf("at least one of X402_API_TREASURY or X402_ADAPTER_ADDRESS must be set")
	}
	if cfg.AssetAddress == "" && cfg.AssetsFile == "" {
		return nil, fmt.Errorf("at least one of X402_ASSET_ADDRESS or X402_ASSETS_FILE must be set")
	}

	return cfg, nil
}

// LoadGate reads GateConfig from the environment.
func LoadGate() (*GateConfig, error) {
	_ = godotenv.Load()

	cfg := &GateConfig{
		Price:          getEnv("X402_API_PRICE", ""),
		Treasury:       getEnv("X402_API_TREASURY", ""),
		AdapterAddress: getEnv("X402_ADAPTER_ADDRESS", ""),
		Network:        getEnv("X402_NETWORK", "eip155:1030"),
		FacilitatorURL: getEnv("X402_FACILITATOR_URL", fmt.Sprintf("http://127.0.0.1:%d", getEnvInt("X402_FACILITATOR_PORT", 3849))),
		FacilitatorKey: getEnv("X402_FACILITATOR_KEY", ""),
		AssetAddress:   getEnv("X402_ASSET_ADDRESS", ""),
		Port:           getEnvInt("PORT", 8080),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		UpstreamURL:    getEnv("X402_UPSTREAM_URL", ""),
	}

	if cfg.Price == "" {
		return nil, fmt.Errorf("X402_API_PRICE is required")
	}
	if cfg.FacilitatorKey == "" {
		return nil, fmt.Errorf("X402_FACILITATOR_KEY is required")
	}
	if cfg.Treasury == "" && cfg.AdapterAddress == "" {
		return nil, fmt.Errorf("at least one of X402_API_TREASURY or X402_ADAPTER_ADDRESS must be set")
	}
	if cfg.AssetAddress == "" {
		return nil, fmt.Errorf("X402_ASSET_ADDRESS is required")
	}
	if cfg.UpstreamURL == "" {
		return nil, fmt.Errorf("X402_UPSTREAM_URL is required")
	}

	return cfg, nil
}

// SlogLevel parses level ("debug"/"info"/"warn"/"error", case-insensitive)
// into a slog.Level, defaulting to Info on an unrecognized value.
func SlogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
