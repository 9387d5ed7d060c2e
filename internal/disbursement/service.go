package disbursement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukasoko/resolution/internal/idgen"
	"github.com/dukasoko/resolution/internal/logging"
	"github.com/dukasoko/resolution/internal/metrics"
	"github.com/dukasoko/resolution/internal/syncutil"
	"github.com/dukasoko/resolution/internal/traces"
)

// Service owns the refund request lifecycle. It satisfies the dispute
// engine's Disburser interface and feeds outcomes back through Resolver.
type Service struct {
	store    Store
	resolver Resolver
	events   EventEmitter
	retryCap int

	locks syncutil.ShardedMutex
}

// NewService creates a disbursement service. The resolver is set later via
// SetResolver because the dispute service and this service reference each
// other through interfaces.
func NewService(store Store, events EventEmitter, retryCap int) *Service {
	if events == nil {
		events = NopEmitter{}
	}
	if retryCap < 1 {
		retryCap = 1
	}
	return &Service{store: store, events: events, retryCap: retryCap}
}

// SetResolver wires the dispute-side settlement recorder.
func (s *Service) SetResolver(r Resolver) {
	s.resolver = r
}

// CreateRequest durably records a pending refund for a dispute. It is
// idempotent per dispute: if a request already exists, it is returned
// untouched rather than duplicated.
func (s *Service) CreateRequest(ctx context.Context, disputeID, recipientID string, amount int64, currency string) error {
	ctx, span := traces.StartSpan(ctx, "disbursement.CreateRequest", traces.DisputeID(disputeID))
	defer span.End()

	unlock := s.locks.Lock(disputeID)
	defer unlock()

	if existing, err := s.store.GetByDispute(ctx, disputeID); err == nil {
		logging.L(ctx).Info("disbursement request already exists",
			"dispute_id", disputeID, "request_id", existing.ID, "status", existing.Status)
		return nil
	} else if !errors.Is(err, ErrRequestNotFound) {
		return fmt.Errorf("check existing request: %w", err)
	}

	now := time.Now()
	req := &Request{
		ID:          idgen.WithPrefix("pay_"),
		DisputeID:   disputeID,
		RecipientID: recipientID,
		Amount:      amount,
		Currency:    currency,
		Status:      StatusPending,
		Attempt:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.Create(ctx, req); err != nil {
		return fmt.Errorf("create disbursement request: %w", err)
	}

	logging.L(ctx).Info("disbursement request created",
		"request_id", req.ID, "dispute_id", disputeID, "amount", amount, "currency", currency)
	return nil
}

// MarkDispatched stamps the dispute's request as in flight and returns a
// fresh copy for the gateway call. A request that settled, failed, or was
// stamped by a concurrent pass since it was listed comes back as
// ErrNotDispatchable.
func (s *Service) MarkDispatched(ctx context.Context, disputeID string) (*Request, error) {
	unlock := s.locks.Lock(disputeID)
	defer unlock()

	req, err := s.store.GetByDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending || req.DispatchedAt != nil {
		return nil, ErrNotDispatchable
	}

	now := time.Now()
	req.DispatchedAt = &now
	req.UpdatedAt = now
	if err := s.store.Update(ctx, req); err != nil {
		return nil, fmt.Errorf("update request: %w", err)
	}
	return req, nil
}

// RecordAccepted stores the gateway reference for an in-flight request
// awaiting its callback. If a settlement or failure was recorded while
// the dispatch was on the wire, that outcome stands and the reference
// is dropped.
func (s *Service) RecordAccepted(ctx context.Context, disputeID, externalRef string) error {
	unlock := s.locks.Lock(disputeID)
	defer unlock()

	req, err := s.store.GetByDispute(ctx, disputeID)
	if err != nil {
		return err
	}
	if req.Status != StatusPending || req.DispatchedAt == nil {
		logging.L(ctx).Info("gateway reference superseded by recorded outcome",
			"request_id", req.ID, "dispute_id", disputeID, "status", req.Status)
		return nil
	}

	req.ExternalRef = externalRef
	req.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, req); err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	return nil
}

// Get returns a request by ID.
func (s *Service) Get(ctx context.Context, id string) (*Request, error) {
	return s.store.Get(ctx, id)
}

// GetByDispute returns the dispute's request, if any.
func (s *Service) GetByDispute(ctx context.Context, disputeID string) (*Request, error) {
	return s.store.GetByDispute(ctx, disputeID)
}

// Settle records a settled outcome for the given idempotency key.
// Duplicate deliveries are answered with the recorded outcome, never an
// error and never a second state change.
func (s *Service) Settle(ctx context.Context, disputeID, externalRef string) (*Request, error) {
	unlock := s.locks.Lock(disputeID)
	defer unlock()

	req, err := s.store.GetByDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if req.Status == StatusSettled {
		return req, nil // Duplicate delivery.
	}

	now := time.Now()
	req.Status = StatusSettled
	req.ExternalRef = externalRef
	req.SettledAt = &now
	req.UpdatedAt = now
	req.LastError = ""

	if err := s.store.Update(ctx, req); err != nil {
		return nil, fmt.Errorf("update request: %w", err)
	}

	if s.resolver != nil {
		if err := s.resolver.RecordSettlement(ctx, disputeID, externalRef); err != nil {
			logging.L(ctx).Error("record settlement on dispute failed",
				"dispute_id", disputeID, "error", err)
		}
	}

	metrics.DisbursementsTotal.WithLabelValues("settled").Inc()
	s.events.RefundSettled(req)
	logging.L(ctx).Info("disbursement settled",
		"request_id", req.ID, "dispute_id", disputeID, "external_ref", externalRef)
	return req, nil
}

// Fail records a failed outcome. Below the retry cap the request returns
// to pending with a bumped attempt counter (and therefore a fresh
// idempotency key); at the cap it goes terminal and raises an alert.
func (s *Service) Fail(ctx context.Context, disputeID, reason string) (*Request, error) {
	unlock := s.locks.Lock(disputeID)
	defer unlock()

	req, err := s.store.GetByDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if req.Status == StatusSettled {
		return req, nil // Late failure report after settlement; keep the settled outcome.
	}

	now := time.Now()
	req.LastError = reason
	req.UpdatedAt = now
	req.DispatchedAt = nil

	terminal := req.Attempt >= s.retryCap
	if terminal {
		req.Status = StatusFailed
	} else {
		req.Status = StatusPending
		req.Attempt++
	}

	if err := s.store.Update(ctx, req); err != nil {
		return nil, fmt.Errorf("update request: %w", err)
	}

	if s.resolver != nil {
		if err := s.resolver.RecordFailure(ctx, disputeID, reason, terminal); err != nil {
			logging.L(ctx).Error("record failure on dispute failed",
				"dispute_id", disputeID, "error", err)
		}
	}

	metrics.DisbursementsTotal.WithLabelValues("failed").Inc()
	s.events.RefundFailed(req, terminal)
	if terminal {
		logging.L(ctx).Error("disbursement failed terminally",
			"request_id", req.ID, "dispute_id", disputeID, "reason", reason, "attempts", req.Attempt)
	} else {
		logging.L(ctx).Warn("disbursement attempt failed, will retry",
			"request_id", req.ID, "dispute_id", disputeID, "reason", reason, "next_attempt", req.Attempt)
	}
	return req, nil
}

// Retry re-opens a terminally failed request at an admin's request.
func (s *Service) Retry(ctx context.Context, requestID string) (*Request, error) {
	req, err := s.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(req.DisputeID)
	defer unlock()

	req, err = s.store.GetByDispute(ctx, req.DisputeID)
	if err != nil {
		return nil, err
	}
	if req.Status == StatusSettled {
		return nil, ErrAlreadySettled
	}
	if req.Status != StatusFailed {
		return req, nil // Already pending.
	}

	now := time.Now()
	req.Status = StatusPending
	req.Attempt++
	req.DispatchedAt = nil
	req.UpdatedAt = now

	if err := s.store.Update(ctx, req); err != nil {
		return nil, fmt.Errorf("update request: %w", err)
	}

	logging.L(ctx).Info("disbursement retry requested",
		"request_id", req.ID, "dispute_id", req.DisputeID, "attempt", req.Attempt)
	return req, nil
}
