// Package ledger is the seller-side payment log of spec.md §6
// ("Persistence"): a record of every settled x402 payment, keyed by the
// EIP-3009 authorization nonce so a replayed nonce is caught even if the
// chain's own replay protection were ever bypassed.
package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicateNonce is returned by Store.Record when an entry for the same
// (payer, nonce) pair already exists.
var ErrDuplicateNonce = errors.New("ledger: nonce already recorded")

// Entry is one settled payment.
type Entry struct {
	Nonce       string    // hex-encoded bytes32, the EIP-3009 authorization nonce
	Payer       string    // 0x-checksummed payer address
	PayTo       string    // 0x-checksummed recipient (treasury or escrow adapter)
	Asset       string    // 0x-checksummed ERC-20 contract address
	Amount      string    // decimal string, smallest unit
	Network     string    // CAIP-2 tag, e.g. "eip155:1030"
	Mode        string    // "transfer" or "escrow"
	OrderID     string    // present only for escrow settlements
	Transaction string    // on-chain transaction hash
	RequestID   string    // correlates back to the gate's request-id log line
	SettledAt   time.Time
}

// Store persists Entry records and answers idempotency questions. The gate
// package depends only on this interface; see
// MemoryStore for tests and PostgresStore for production.
type Store interface {
	// Record inserts e. It returns ErrDuplicateNonce if (Payer, Nonce)
	// already exists rather than silently overwriting it.
	Record(ctx context.Context, e Entry) error
	// Lookup returns the entry for (payer, nonce), or ok=false if none.
	Lookup(ctx context.Context, payer, nonce string) (Entry, bool, error)
	// Recent returns up to limit entries ordered newest-first, for an
	// operator-facing activity view.
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}
