// Package disbursement moves refund money back to buyers through an
// external gateway. The dispute engine only creates durable requests;
// a background worker dispatches them and settlement arrives later via
// a signed callback. Idempotency key = disputeID:attempt, so a retried
// request can never double-pay.
package disbursement

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status of a disbursement request.
type Status string

const (
	StatusPending Status = "pending"
	StatusSettled Status = "settled"
	StatusFailed  Status = "failed"
)

// Errors
var (
	ErrRequestNotFound = errors.New("disbursement request not found")
	ErrAlreadySettled  = errors.New("disbursement already settled")
	ErrNotDispatchable = errors.New("disbursement request not dispatchable")
)

// Request is one tracked attempt series to refund a buyer. There is at
// most one request per dispute; retries bump the attempt counter and
// with it the idempotency key.
type Request struct {
	ID          string `json:"id"`
	DisputeID   string `json:"disputeId"`
	RecipientID string `json:"recipientId"` // buyer's registered payout identifier
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`

	Status      Status `json:"status"`
	Attempt     int    `json:"attempt"`
	ExternalRef string `json:"externalRef,omitempty"`
	LastError   string `json:"lastError,omitempty"`

	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	DispatchedAt *time.Time `json:"dispatchedAt,omitempty"`
	SettledAt    *time.Time `json:"settledAt,omitempty"`
}

// IdempotencyKey identifies one real-world transfer attempt.
func (r *Request) IdempotencyKey() string {
	return fmt.Sprintf("%s:%d", r.DisputeID, r.Attempt)
}

// Outcome is the gateway's answer to a dispatch.
type Outcome struct {
	ExternalRef string
	// Settled is true when the gateway settles synchronously; otherwise
	// the terminal outcome arrives later through the callback endpoint.
	Settled bool
}

// Gateway submits transfers to the outside world. Implementations must be
// idempotent on the request's idempotency key: resubmitting the same key
// either no-ops or returns the previously recorded result.
type Gateway interface {
	RequestDisbursement(ctx context.Context, req *Request) (Outcome, error)
}

// Resolver feeds settlement outcomes back into the dispute workflow.
// Implemented by the dispute service.
type Resolver interface {
	RecordSettlement(ctx context.Context, disputeID, externalRef string) error
	RecordFailure(ctx context.Context, disputeID, reason string, terminal bool) error
}

// EventEmitter publishes refund events for external notifiers.
type EventEmitter interface {
	RefundSettled(r *Request)
	RefundFailed(r *Request, terminal bool)
}

// NopEmitter discards all events.
type NopEmitter struct{}

func (NopEmitter) RefundSettled(*Request)      {}
func (NopEmitter) RefundFailed(*Request, bool) {}

// Store persists disbursement requests.
type Store interface {
	Create(ctx context.Context, req *Request) error
	Get(ctx context.Context, id string) (*Request, error)
	GetByDispute(ctx context.Context, disputeID string) (*Request, error)
	Update(ctx context.Context, req *Request) error
	ListPending(ctx context.Context, limit int) ([]*Request, error)
}
