package reputation

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory reputation store for demo/development mode.
type MemoryStore struct {
	records map[string]*Record
	deltas  map[string][]*Delta // by seller ID, newest first
	mu      sync.RWMutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory reputation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		deltas:  make(map[string][]*Delta),
	}
}

func (m *MemoryStore) GetRecord(ctx context.Context, sellerID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[sellerID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) Save(ctx context.Context, rec *Record, delta *Delta) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rcp := *rec
	m.records[rec.SellerID] = &rcp
	dcp := *delta
	m.deltas[rec.SellerID] = append([]*Delta{&dcp}, m.deltas[rec.SellerID]...)
	return nil
}

func (m *MemoryStore) ListDeltas(ctx context.Context, sellerID string, limit int) ([]*Delta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.deltas[sellerID]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	result := make([]*Delta, len(all))
	for i, d := range all {
		cp := *d
		result[i] = &cp
	}
	return result, nil
}
