package ledger

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStore_DuplicateNonceRejected(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	entry := Entry{Payer: "0xabc", Nonce: "0x01", Transaction: "0xdead", SettledAt: time.Now()}

	if err := store.Record(ctx, entry); err != nil {
		t.Fatalf("first record: %v", err)
	}
	err := store.Record(ctx, entry)
	if !errors.Is(err, ErrDuplicateNonce) {
		t.Fatalf("expected ErrDuplicateNonce, got %v", err)
	}
}

func TestMemoryStore_LookupAndRecent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	older := Entry{Payer: "0xabc", Nonce: "0x01", Transaction: "0x1", SettledAt: time.Now().Add(-time.Hour)}
	newer := Entry{Payer: "0xabc", Nonce: "0x02", Transaction: "0x2", SettledAt: time.Now()}
	if err := store.Record(ctx, older); err != nil {
		t.Fatalf("record older: %v", err)
	}
	if err := store.Record(ctx, newer); err != nil {
		t.Fatalf("record newer: %v", err)
	}

	got, ok, err := store.Lookup(ctx, "0xabc", "0x02")
	if err != nil || !ok {
		t.Fatalf("lookup: ok=%v err=%v", ok, err)
	}
	if got.Transaction != "0x2" {
		t.Fatalf("lookup returned wrong entry: %+v", got)
	}

	recent, err := store.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 1 || recent[0].Transaction != "0x2" {
		t.Fatalf("recent should return newest first, got %+v", recent)
	}
}
