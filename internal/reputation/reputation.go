// Package reputation maintains a bounded trust score per seller.
//
// The score lives in [0,100], starts at 100, and moves only through
// ApplyDelta. Every delta is recorded with its reason and dispute
// reference so the running total is auditable.
package reputation

import (
	"context"
	"errors"
	"time"

	"github.com/dukasoko/resolution/internal/idgen"
	"github.com/dukasoko/resolution/internal/logging"
	"github.com/dukasoko/resolution/internal/syncutil"
)

// Score bounds.
const (
	MinScore     = 0
	MaxScore     = 100
	InitialScore = 100
)

// ErrRecordNotFound is returned for sellers with no reputation record yet.
var ErrRecordNotFound = errors.New("reputation record not found")

// Tier buckets a score for display. Derived only, never stored.
func Tier(score int) string {
	switch {
	case score >= 90:
		return "excellent"
	case score >= 70:
		return "good"
	case score >= 40:
		return "at_risk"
	default:
		return "poor"
	}
}

// Record is a seller's current standing.
type Record struct {
	SellerID  string    `json:"sellerId"`
	Score     int       `json:"score"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Delta is one audited score adjustment.
type Delta struct {
	ID        string    `json:"id"`
	SellerID  string    `json:"sellerId"`
	Amount    int       `json:"amount"` // signed; the applied (clamped) effect may be smaller
	Reason    string    `json:"reason"`
	DisputeID string    `json:"disputeId,omitempty"`
	Score     int       `json:"score"` // score after applying
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists records and their delta history.
// Save must write the record and the delta atomically.
type Store interface {
	GetRecord(ctx context.Context, sellerID string) (*Record, error)
	Save(ctx context.Context, rec *Record, delta *Delta) error
	ListDeltas(ctx context.Context, sellerID string, limit int) ([]*Delta, error)
}

// Ledger is the only mutator of seller scores.
type Ledger struct {
	store Store
	locks syncutil.ShardedMutex
}

// NewLedger creates a reputation ledger.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// ApplyDelta adjusts a seller's score by amount (signed), clamping the
// result to [0,100], and records the delta for audit. Returns the new score.
func (l *Ledger) ApplyDelta(ctx context.Context, sellerID string, amount int, reason, disputeID string) (int, error) {
	unlock := l.locks.Lock(sellerID)
	defer unlock()

	now := time.Now()
	rec, err := l.store.GetRecord(ctx, sellerID)
	if errors.Is(err, ErrRecordNotFound) {
		rec = &Record{SellerID: sellerID, Score: InitialScore, CreatedAt: now}
	} else if err != nil {
		return 0, err
	}

	score := rec.Score + amount
	if score < MinScore {
		score = MinScore
	}
	if score > MaxScore {
		score = MaxScore
	}
	rec.Score = score
	rec.UpdatedAt = now

	delta := &Delta{
		ID:        idgen.WithPrefix("rdl_"),
		SellerID:  sellerID,
		Amount:    amount,
		Reason:    reason,
		DisputeID: disputeID,
		Score:     score,
		CreatedAt: now,
	}

	if err := l.store.Save(ctx, rec, delta); err != nil {
		return 0, err
	}

	logging.L(ctx).Info("reputation delta applied",
		"seller_id", sellerID, "amount", amount, "score", score, "reason", reason, "dispute_id", disputeID)
	return score, nil
}

// Score returns the seller's current score. Sellers without a record are
// reported at the initial score; reads never create state.
func (l *Ledger) Score(ctx context.Context, sellerID string) (int, error) {
	rec, err := l.store.GetRecord(ctx, sellerID)
	if errors.Is(err, ErrRecordNotFound) {
		return InitialScore, nil
	}
	if err != nil {
		return 0, err
	}
	return rec.Score, nil
}

// History returns the seller's most recent deltas, newest first.
func (l *Ledger) History(ctx context.Context, sellerID string, limit int) ([]*Delta, error) {
	return l.store.ListDeltas(ctx, sellerID, limit)
}
