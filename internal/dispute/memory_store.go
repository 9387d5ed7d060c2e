package dispute

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dukasoko/resolution/internal/pagination"
)

// MemoryStore is an in-memory dispute store for demo/development mode.
type MemoryStore struct {
	disputes map[string]*Dispute
	timeline map[string][]*TimelineEntry // by dispute ID, in append order
	mu       sync.RWMutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory dispute store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		disputes: make(map[string]*Dispute),
		timeline: make(map[string][]*TimelineEntry),
	}
}

func (m *MemoryStore) CreateWithTimeline(ctx context.Context, d *Dispute, entries ...*TimelineEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.disputes[d.ID] = copyDispute(d)
	for _, e := range entries {
		cp := *e
		m.timeline[d.ID] = append(m.timeline[d.ID], &cp)
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.disputes[id]
	if !ok {
		return nil, ErrDisputeNotFound
	}
	return copyDispute(d), nil
}

func (m *MemoryStore) UpdateWithTimeline(ctx context.Context, d *Dispute, entries ...*TimelineEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.disputes[d.ID]; !ok {
		return ErrDisputeNotFound
	}
	m.disputes[d.ID] = copyDispute(d)
	for _, e := range entries {
		cp := *e
		m.timeline[d.ID] = append(m.timeline[d.ID], &cp)
	}
	return nil
}

func (m *MemoryStore) AppendTimeline(ctx context.Context, entry *TimelineEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.disputes[entry.DisputeID]; !ok {
		return ErrDisputeNotFound
	}
	cp := *entry
	m.timeline[entry.DisputeID] = append(m.timeline[entry.DisputeID], &cp)
	return nil
}

func (m *MemoryStore) ListTimeline(ctx context.Context, disputeID string) ([]*TimelineEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.disputes[disputeID]; !ok {
		return nil, ErrDisputeNotFound
	}
	entries := m.timeline[disputeID]
	result := make([]*TimelineEntry, len(entries))
	for i, e := range entries {
		cp := *e
		result[i] = &cp
	}
	return result, nil
}

func (m *MemoryStore) ListByBuyer(ctx context.Context, buyerID string, limit int, cursor *pagination.Cursor) ([]*Dispute, error) {
	return m.listByParty(func(d *Dispute) bool { return d.BuyerID == buyerID }, limit, cursor)
}

func (m *MemoryStore) ListBySeller(ctx context.Context, sellerID string, limit int, cursor *pagination.Cursor) ([]*Dispute, error) {
	return m.listByParty(func(d *Dispute) bool { return d.SellerID == sellerID }, limit, cursor)
}

// listByParty returns matching disputes newest-first, applying the cursor.
func (m *MemoryStore) listByParty(match func(*Dispute) bool, limit int, cursor *pagination.Cursor) ([]*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []*Dispute
	for _, d := range m.disputes {
		if match(d) {
			all = append(all, copyDispute(d))
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	var result []*Dispute
	for _, d := range all {
		if cursor != nil {
			// Skip until strictly past the cursor position.
			if d.CreatedAt.After(cursor.CreatedAt) {
				continue
			}
			if d.CreatedAt.Equal(cursor.CreatedAt) && d.ID >= cursor.ID {
				continue
			}
		}
		result = append(result, d)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Dispute
	for _, d := range m.disputes {
		if d.Status == status {
			result = append(result, copyDispute(d))
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) ListStale(ctx context.Context, status Status, cutoff time.Time) ([]*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Dispute
	for _, d := range m.disputes {
		if d.Status != status {
			continue
		}
		if !staleRef(d).After(cutoff) {
			result = append(result, copyDispute(d))
		}
	}
	return result, nil
}

func (m *MemoryStore) CountOpenBySeller(ctx context.Context, sellerID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, d := range m.disputes {
		if d.SellerID == sellerID && d.Status.IsOpen() {
			n++
		}
	}
	return n, nil
}

// staleRef is the timestamp a deadline window is measured from.
func staleRef(d *Dispute) time.Time {
	switch d.Status {
	case StatusInNegotiation:
		if d.RespondedAt != nil {
			return *d.RespondedAt
		}
	case StatusResolved:
		if d.ResolvedAt != nil {
			return *d.ResolvedAt
		}
	}
	return d.CreatedAt
}

// copyDispute returns a deep copy so callers never share slice backing
// arrays or pointer fields with the stored aggregate.
func copyDispute(d *Dispute) *Dispute {
	cp := *d
	if d.Evidence != nil {
		cp.Evidence = make([]EvidenceRef, len(d.Evidence))
		copy(cp.Evidence, d.Evidence)
	}
	if d.Proposal != nil {
		p := *d.Proposal
		cp.Proposal = &p
	}
	cp.RespondedAt = copyTime(d.RespondedAt)
	cp.EscalatedAt = copyTime(d.EscalatedAt)
	cp.ResolvedAt = copyTime(d.ResolvedAt)
	cp.ClosedAt = copyTime(d.ClosedAt)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
