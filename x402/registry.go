package x402

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// AssetRegistry is the read-only-after-boot table of supported assets,
// keyed by lower-cased contract address. Per the Open Question resolution
// in SPEC_FULL.md §9, this registry — not the wire-carried extra.name /
// extra.version — is authoritative for the EIP-712 domain used to verify
// a signature.
type AssetRegistry struct {
	assets map[string]AssetDescriptor
}

// NewAssetRegistry builds a registry from a fixed list of descriptors.
func NewAssetRegistry(assets []AssetDescriptor) *AssetRegistry {
	m := make(map[string]AssetDescriptor, len(assets))
	for _, a := range assets {
		m[strings.ToLower(a.Address)] = a
	}
	return &AssetRegistry{assets: m}
}

// DefaultUSDT0 is the built-in descriptor for USDT0 on Conflux eSpace,
// matching spec.md Scenario A's asset and domain literals.
func DefaultUSDT0(address string) AssetDescriptor {
	return AssetDescriptor{
		Address:       address,
		Symbol:        "USDT0",
		Decimals:      6,
		DomainName:    "USDT0",
		DomainVersion: "1",
		EIP3009:       true,
	}
}

// Lookup returns the descriptor for address, and whether it was found.
func (r *AssetRegistry) Lookup(address string) (AssetDescriptor, bool) {
	a, ok := r.assets[strings.ToLower(address)]
	return a, ok
}

// List returns all descriptors, stable order not guaranteed.
func (r *AssetRegistry) List() []AssetDescriptor {
	out := make([]AssetDescriptor, 0, len(r.assets))
	for _, a := range r.assets {
		out = append(out, a)
	}
	return out
}

// LoadAssetsFile reads additional asset descriptors from a JSON file
// (X402_ASSETS_FILE), extending the built-in defaults.
func LoadAssetsFile(path string) ([]AssetDescriptor, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading assets file: %w", err)
	}
	var assets []AssetDescriptor
	if err := json.Unmarshal(b, &assets); err != nil {
		return nil, fmt.Errorf("parsing assets file: %w", err)
	}
	return assets, nil
}
