package ledger

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store for tests and for single-instance
// deployments that accept losing the log on restart.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry // keyed by payer+"|"+nonce
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func memKey(payer, nonce string) string { return payer + "|" + nonce }

func (m *MemoryStore) Record(ctx context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey(e.Payer, e.Nonce)
	if _, exists := m.entries[key]; exists {
		return ErrDuplicateNonce
	}
	m.entries[key] = e
	return nil
}

func (m *MemoryStore) Lookup(ctx context.Context, payer, nonce string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[memKey(payer, nonce)]
	return e, ok, nil
}

func (m *MemoryStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].SettledAt.After(all[j].SettledAt) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *MemoryStore) Close() error { return nil }
