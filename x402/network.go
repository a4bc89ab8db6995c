package x402

import (
	"fmt"
	"math/big"
	"strings"
)

// ChainIDFromNetwork parses the numeric chain ID out of a CAIP-2 network
// tag of the form "eip155:<chainId>", e.g. "eip155:1030" -> 1030.
func ChainIDFromNetwork(network string) (*big.Int, error) {
	parts := strings.SplitN(network, ":", 2)
	if len(parts) != 2 || parts[0] != "eip155" {
		return nil, fmt.Errorf("unsupported network tag: %q (expected eip155:<chainId>)", network)
	}
	chainID, ok := new(big.Int).SetString(parts[1], 10)
	if !ok {
		return nil, fmt.Errorf("invalid chain id in network tag: %q", network)
	}
	return chainID, nil
}
