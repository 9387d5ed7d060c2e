package disbursement

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory disbursement store for demo/development mode.
type MemoryStore struct {
	requests  map[string]*Request // by ID
	byDispute map[string]string   // dispute ID -> request ID
	mu        sync.RWMutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory disbursement store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:  make(map[string]*Request),
		byDispute: make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, req *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests[req.ID] = copyRequest(req)
	m.byDispute[req.DisputeID] = req.ID
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	req, ok := m.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	return copyRequest(req), nil
}

func (m *MemoryStore) GetByDispute(ctx context.Context, disputeID string) (*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byDispute[disputeID]
	if !ok {
		return nil, ErrRequestNotFound
	}
	return copyRequest(m.requests[id]), nil
}

func (m *MemoryStore) Update(ctx context.Context, req *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.requests[req.ID]; !ok {
		return ErrRequestNotFound
	}
	m.requests[req.ID] = copyRequest(req)
	return nil
}

func (m *MemoryStore) ListPending(ctx context.Context, limit int) ([]*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Request
	for _, req := range m.requests {
		if req.Status == StatusPending && req.DispatchedAt == nil {
			result = append(result, copyRequest(req))
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func copyRequest(r *Request) *Request {
	cp := *r
	cp.DispatchedAt = copyTime(r.DispatchedAt)
	cp.SettledAt = copyTime(r.SettledAt)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
