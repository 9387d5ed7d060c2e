// Package dispute implements the dispute resolution workflow for the marketplace.
//
// A dispute is opened by a buyer against a completed order and moves through
// a fixed state machine: awaiting_seller_response → in_negotiation →
// admin_review → resolved → closed. Deadlines escalate stalled disputes to
// admin review; a resolution that implies a refund creates a disbursement
// request which is settled out of band.
package dispute

import (
	"context"
	"errors"
	"time"

	"github.com/dukasoko/resolution/internal/pagination"
)

// Status is the dispute lifecycle state.
type Status string

const (
	// StatusAwaitingSellerResponse is the initial state after a buyer opens
	// a dispute. The seller has a response window before auto-escalation.
	StatusAwaitingSellerResponse Status = "awaiting_seller_response"
	// StatusInNegotiation means the seller responded and the parties can
	// exchange messages and resolution proposals.
	StatusInNegotiation Status = "in_negotiation"
	// StatusAdminReview means the dispute escalated to human arbitration.
	StatusAdminReview Status = "admin_review"
	// StatusResolved means an outcome has been decided. Refund-bearing
	// resolutions stay here until the disbursement settles.
	StatusResolved Status = "resolved"
	// StatusClosed is terminal. Nothing mutates a closed dispute, not even
	// its timeline.
	StatusClosed Status = "closed"
)

// IsOpen reports whether the dispute still awaits an outcome.
func (s Status) IsOpen() bool {
	switch s {
	case StatusAwaitingSellerResponse, StatusInNegotiation, StatusAdminReview:
		return true
	}
	return false
}

// IsTerminal reports whether no further mutation is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusClosed
}

// Resolution is the decided or proposed outcome of a dispute.
type Resolution string

const (
	ResolutionUndecided       Resolution = "undecided"
	ResolutionFullRefund      Resolution = "full_refund"
	ResolutionPartialRefund   Resolution = "partial_refund"
	ResolutionReplacement     Resolution = "replacement"
	ResolutionRejected        Resolution = "rejected"
	ResolutionMutualAgreement Resolution = "mutual_agreement"
)

// ValidResolution reports whether r names a decidable outcome.
// Undecided is the zero value and cannot be proposed or decided.
func ValidResolution(r Resolution) bool {
	switch r {
	case ResolutionFullRefund, ResolutionPartialRefund, ResolutionReplacement,
		ResolutionRejected, ResolutionMutualAgreement:
		return true
	}
	return false
}

// ImpliesRefund reports whether resolving with (kind, amount) moves money
// back to the buyer. A mutual agreement carries a refund only when the
// agreed amount is positive.
func ImpliesRefund(kind Resolution, amount int64) bool {
	switch kind {
	case ResolutionFullRefund, ResolutionPartialRefund:
		return true
	case ResolutionMutualAgreement:
		return amount > 0
	}
	return false
}

// Category classifies what went wrong with the order.
type Category string

const (
	CategoryProductNotReceived Category = "product_not_received"
	CategoryNotAsDescribed     Category = "not_as_described"
	CategoryDamagedItem        Category = "damaged_item"
	CategoryWrongItem          Category = "wrong_item"
	CategoryQualityIssue       Category = "quality_issue"
	CategoryOther              Category = "other"
)

// ValidCategory reports whether c is a recognized issue category.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryProductNotReceived, CategoryNotAsDescribed, CategoryDamagedItem,
		CategoryWrongItem, CategoryQualityIssue, CategoryOther:
		return true
	}
	return false
}

// RefundStatus tracks the disbursement leg of a refund-bearing resolution.
type RefundStatus string

const (
	RefundNone    RefundStatus = ""
	RefundPending RefundStatus = "pending"
	RefundSettled RefundStatus = "settled"
	RefundFailed  RefundStatus = "failed"
)

// Role identifies who authored a timeline entry.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
	RoleSystem Role = "system"
)

// Errors
var (
	ErrDisputeNotFound   = errors.New("dispute not found")
	ErrInvalidTransition = errors.New("operation not allowed in current dispute state")
	ErrUnauthorized      = errors.New("caller not authorized for this dispute operation")
	ErrNoProposal        = errors.New("no standing proposal to accept")
	ErrOwnProposal       = errors.New("cannot accept your own proposal")
	ErrTooManyOpen       = errors.New("seller has too many open disputes")
	ErrTimelineClosed    = errors.New("dispute is closed, timeline is read-only")
)

// EvidenceRef is an opaque pointer to proof material uploaded elsewhere.
// The engine never reads the file; it records locator and declared metadata.
type EvidenceRef struct {
	Locator    string    `json:"locator"`
	MediaType  string    `json:"mediaType"`
	SizeBytes  int64     `json:"sizeBytes"`
	UploadedBy string    `json:"uploadedBy"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Proposal is a standing resolution offer from one party, awaiting the
// counterpart's acceptance. A conflicting counter-offer replaces it; the
// dispute only resolves when both parties converge on the same terms.
type Proposal struct {
	Kind       Resolution `json:"kind"`
	Amount     int64      `json:"amount"`
	ProposedBy string     `json:"proposedBy"`
	Role       Role       `json:"role"`
	ProposedAt time.Time  `json:"proposedAt"`
}

// Dispute is the aggregate root. All mutation goes through Service; the
// fields are exported for stores and JSON rendering only.
type Dispute struct {
	ID          string   `json:"id"`
	OrderID     string   `json:"orderId"`
	BuyerID     string   `json:"buyerId"`
	SellerID    string   `json:"sellerId"`
	Category    Category `json:"category"`
	Title       string   `json:"title"`
	Description string   `json:"description"`

	// Amount is in minor units of Currency and immutable once set.
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`

	Status           Status       `json:"status"`
	Resolution       Resolution   `json:"resolution"`
	ResolutionAmount int64        `json:"resolutionAmount"`
	RefundStatus     RefundStatus `json:"refundStatus,omitempty"`

	Evidence []EvidenceRef `json:"evidence"`
	Proposal *Proposal     `json:"proposal,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	RespondedAt *time.Time `json:"respondedAt,omitempty"`
	EscalatedAt *time.Time `json:"escalatedAt,omitempty"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty"`
	ClosedAt    *time.Time `json:"closedAt,omitempty"`
}

// Age returns how long the dispute has existed as of now.
func (d *Dispute) Age(now time.Time) time.Duration {
	return now.Sub(d.CreatedAt)
}

// Party reports the role of userID on this dispute, or "" if a stranger.
func (d *Dispute) Party(userID string) Role {
	switch userID {
	case d.BuyerID:
		return RoleBuyer
	case d.SellerID:
		return RoleSeller
	}
	return ""
}

// TimelineEntry is one append-only message in the dispute's audit log.
// Entries are never edited or deleted.
type TimelineEntry struct {
	ID        string       `json:"id"`
	DisputeID string       `json:"disputeId"`
	SenderID  string       `json:"senderId"`
	Role      Role         `json:"role"`
	Message   string       `json:"message"`
	Evidence  *EvidenceRef `json:"evidence,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}

// Store persists disputes and their timelines.
//
// CreateWithTimeline and UpdateWithTimeline must commit the dispute and the
// entries atomically: a transition is never visible without its log entry.
type Store interface {
	CreateWithTimeline(ctx context.Context, d *Dispute, entries ...*TimelineEntry) error
	Get(ctx context.Context, id string) (*Dispute, error)
	UpdateWithTimeline(ctx context.Context, d *Dispute, entries ...*TimelineEntry) error

	AppendTimeline(ctx context.Context, entry *TimelineEntry) error
	ListTimeline(ctx context.Context, disputeID string) ([]*TimelineEntry, error)

	ListByBuyer(ctx context.Context, buyerID string, limit int, cursor *pagination.Cursor) ([]*Dispute, error)
	ListBySeller(ctx context.Context, sellerID string, limit int, cursor *pagination.Cursor) ([]*Dispute, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Dispute, error)

	// ListStale returns disputes in the given status whose reference
	// timestamp (CreatedAt for awaiting, RespondedAt for negotiation,
	// ResolvedAt for resolved) is before cutoff.
	ListStale(ctx context.Context, status Status, cutoff time.Time) ([]*Dispute, error)

	CountOpenBySeller(ctx context.Context, sellerID string) (int, error)
}
