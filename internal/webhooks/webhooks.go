// Package webhooks notifies external services about dispute lifecycle
// events. Buyers and sellers register URLs for events on their own
// disputes; ops subscriptions with no owner receive everything.
package webhooks

import (
	"context"
	"errors"
	"sync"
	"time"
)

// EventType identifies a webhook event.
type EventType string

const (
	EventDisputeOpened   EventType = "dispute.opened"
	EventSellerResponded EventType = "dispute.seller_responded"
	EventEscalated       EventType = "dispute.escalated"
	EventDisputeResolved EventType = "dispute.resolved"
	EventDisputeClosed   EventType = "dispute.closed"
	EventRefundSettled   EventType = "refund.settled"
	EventRefundFailed    EventType = "refund.failed"
)

// ValidEventType reports whether t names a deliverable event.
func ValidEventType(t EventType) bool {
	switch t {
	case EventDisputeOpened, EventSellerResponded, EventEscalated,
		EventDisputeResolved, EventDisputeClosed, EventRefundSettled, EventRefundFailed:
		return true
	}
	return false
}

// ErrSubscriptionNotFound is returned for unknown subscription IDs.
var ErrSubscriptionNotFound = errors.New("webhook subscription not found")

// Event is the delivered payload.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Subscription is one registered webhook endpoint. OwnerID scopes
// delivery to the owner's disputes; an empty owner receives all events.
type Subscription struct {
	ID        string      `json:"id"`
	OwnerID   string      `json:"ownerId,omitempty"`
	URL       string      `json:"url"`
	Secret    string      `json:"-"` // HMAC signing key, shown once at creation
	Events    []EventType `json:"events"`
	Active    bool        `json:"active"`
	CreatedAt time.Time   `json:"createdAt"`

	LastSuccess         *time.Time `json:"lastSuccess,omitempty"`
	LastError           string     `json:"lastError,omitempty"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
}

// WantsEvent reports whether the subscription covers the event type.
func (s *Subscription) WantsEvent(t EventType) bool {
	for _, et := range s.Events {
		if et == t {
			return true
		}
	}
	return false
}

// Store persists webhook subscriptions.
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	GetByOwner(ctx context.Context, ownerID string) ([]*Subscription, error)
	GetByEvent(ctx context.Context, eventType EventType) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id string) error
}

// MemoryStore is an in-memory subscription store for demo/development mode.
type MemoryStore struct {
	subs map[string]*Subscription
	mu   sync.RWMutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory subscription store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[string]*Subscription)}
}

func (m *MemoryStore) Create(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = copySubscription(sub)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return copySubscription(sub), nil
}

func (m *MemoryStore) GetByOwner(ctx context.Context, ownerID string) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Subscription
	for _, sub := range m.subs {
		if sub.OwnerID == ownerID {
			result = append(result, copySubscription(sub))
		}
	}
	return result, nil
}

func (m *MemoryStore) GetByEvent(ctx context.Context, eventType EventType) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Subscription
	for _, sub := range m.subs {
		if sub.Active && sub.WantsEvent(eventType) {
			result = append(result, copySubscription(sub))
		}
	}
	return result, nil
}

func (m *MemoryStore) Update(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[sub.ID]; !ok {
		return ErrSubscriptionNotFound
	}
	m.subs[sub.ID] = copySubscription(sub)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[id]; !ok {
		return ErrSubscriptionNotFound
	}
	delete(m.subs, id)
	return nil
}

func copySubscription(s *Subscription) *Subscription {
	cp := *s
	cp.Events = append([]EventType(nil), s.Events...)
	if s.LastSuccess != nil {
		t := *s.LastSuccess
		cp.LastSuccess = &t
	}
	return &cp
}
