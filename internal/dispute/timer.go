package dispute

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dukasoko/resolution/internal/logging"
	"github.com/dukasoko/resolution/internal/metrics"
)

// Timer periodically sweeps disputes whose deadlines have elapsed:
// unanswered disputes and stalled negotiations escalate to admin review,
// and resolved non-refund disputes close after the grace period.
//
// The sweep locks one dispute at a time and re-checks state under the
// lock, so it is safe to run alongside user-triggered transitions and
// safe to re-run without double-escalating.
type Timer struct {
	service  *Service
	interval time.Duration
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a deadline sweeper for the service.
func NewTimer(service *Service, interval time.Duration) *Timer {
	return &Timer{
		service:  service,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start begins the periodic sweep. No-op if already running.
func (t *Timer) Start(ctx context.Context) {
	if !t.running.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer t.running.Store(false)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stop:
				return
			case <-ticker.C:
				t.safeSweep(ctx)
			}
		}
	}()
}

// Stop halts the sweep goroutine.
func (t *Timer) Stop() {
	if t.running.Load() {
		close(t.stop)
	}
}

// safeSweep runs one sweep, recovering from panics so a bad dispute
// record cannot kill the scheduler.
func (t *Timer) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logging.L(ctx).Error("deadline sweep panicked", "panic", r)
		}
	}()
	t.service.SweepDeadlines(ctx)
}

// SweepDeadlines runs one pass of all deadline-driven transitions.
func (s *Service) SweepDeadlines(ctx context.Context) {
	now := s.nowFn()
	s.escalateUnanswered(ctx, now)
	s.escalateStalledNegotiations(ctx, now)
	s.closeAfterGrace(ctx, now)
}

// escalateUnanswered moves disputes the seller never answered to admin review.
func (s *Service) escalateUnanswered(ctx context.Context, now time.Time) {
	cutoff := now.Add(-s.policy.ResponseWindow)
	stale, err := s.store.ListStale(ctx, StatusAwaitingSellerResponse, cutoff)
	if err != nil {
		logging.L(ctx).Error("list unanswered disputes failed", "error", err)
		return
	}

	for _, d := range stale {
		s.escalateExpired(ctx, d.ID, StatusAwaitingSellerResponse,
			"Seller did not respond within the response window. Escalated to admin review.", "response_deadline", now)
	}
}

// escalateStalledNegotiations escalates negotiations past the negotiation window.
func (s *Service) escalateStalledNegotiations(ctx context.Context, now time.Time) {
	cutoff := now.Add(-s.policy.NegotiationWindow)
	stale, err := s.store.ListStale(ctx, StatusInNegotiation, cutoff)
	if err != nil {
		logging.L(ctx).Error("list stalled negotiations failed", "error", err)
		return
	}

	for _, d := range stale {
		s.escalateExpired(ctx, d.ID, StatusInNegotiation,
			"Negotiation window elapsed without agreement. Escalated to admin review.", "negotiation_deadline", now)
	}
}

// escalateExpired escalates one dispute, re-checking state and age under
// the dispute lock so concurrent transitions and repeat sweeps are safe.
func (s *Service) escalateExpired(ctx context.Context, disputeID string, expected Status, message, trigger string, now time.Time) {
	unlock := s.locks.Lock(disputeID)
	defer unlock()

	d, err := s.store.Get(ctx, disputeID)
	if err != nil {
		logging.L(ctx).Error("sweep re-read failed", "dispute_id", disputeID, "error", err)
		return
	}
	if d.Status != expected {
		return // A user transition won the race.
	}
	if !s.deadlineElapsed(d, now) {
		return
	}

	if _, err := s.escalateLocked(ctx, d, "", RoleSystem, message, trigger, now); err != nil {
		logging.L(ctx).Error("auto-escalation failed", "dispute_id", disputeID, "error", err)
		return
	}
	metrics.DeadlineSweepsTotal.WithLabelValues(trigger).Inc()
}

// deadlineElapsed checks the relevant window for the dispute's current state.
func (s *Service) deadlineElapsed(d *Dispute, now time.Time) bool {
	switch d.Status {
	case StatusAwaitingSellerResponse:
		return now.Sub(d.CreatedAt) >= s.policy.ResponseWindow
	case StatusInNegotiation:
		since := d.CreatedAt
		if d.RespondedAt != nil {
			since = *d.RespondedAt
		}
		return now.Sub(since) >= s.policy.NegotiationWindow
	default:
		return false
	}
}

// closeAfterGrace closes resolved disputes with no refund leg in flight
// once the grace period has passed.
func (s *Service) closeAfterGrace(ctx context.Context, now time.Time) {
	cutoff := now.Add(-s.policy.CloseGracePeriod)
	stale, err := s.store.ListStale(ctx, StatusResolved, cutoff)
	if err != nil {
		logging.L(ctx).Error("list resolved disputes failed", "error", err)
		return
	}

	for _, candidate := range stale {
		func(disputeID string) {
			unlock := s.locks.Lock(disputeID)
			defer unlock()

			d, err := s.store.Get(ctx, disputeID)
			if err != nil {
				logging.L(ctx).Error("sweep re-read failed", "dispute_id", disputeID, "error", err)
				return
			}
			// Refunds in flight keep the dispute open until settlement;
			// a failed refund needs an admin, not an auto-close.
			if d.Status != StatusResolved || d.RefundStatus == RefundPending || d.RefundStatus == RefundFailed {
				return
			}
			if d.ResolvedAt == nil || now.Sub(*d.ResolvedAt) < s.policy.CloseGracePeriod {
				return
			}

			d.Status = StatusClosed
			d.ClosedAt = &now
			d.UpdatedAt = now

			entry := s.entry(d.ID, "", RoleSystem, "Dispute closed.", nil, now)
			if err := s.store.UpdateWithTimeline(ctx, d, entry); err != nil {
				logging.L(ctx).Error("auto-close failed", "dispute_id", disputeID, "error", err)
				return
			}
			metrics.DeadlineSweepsTotal.WithLabelValues("close_grace").Inc()
			s.events.DisputeClosed(d)
		}(candidate.ID)
	}
}
