package disbursement

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/dukasoko/resolution/internal/circuitbreaker"
	"github.com/dukasoko/resolution/internal/logging"
	"github.com/dukasoko/resolution/internal/retry"
)

const gatewayKey = "disbursement_gateway"

// Worker dispatches pending disbursement requests to the gateway in the
// background. AdminDecide and negotiation resolutions only create the
// durable request; this worker does the actual money movement.
type Worker struct {
	service  *Service
	gateway  Gateway
	breaker  *circuitbreaker.Breaker
	interval time.Duration
	backoff  time.Duration
	stop     chan struct{}
	running  atomic.Bool
}

// NewWorker creates a dispatch worker. interval is the sweep tick; backoff
// seeds the in-dispatch transport retry.
func NewWorker(service *Service, gateway Gateway, interval, backoff time.Duration) *Worker {
	return &Worker{
		service:  service,
		gateway:  gateway,
		breaker:  circuitbreaker.New(5, 30*time.Second),
		interval: interval,
		backoff:  backoff,
		stop:     make(chan struct{}),
	}
}

// Start begins the dispatch loop. No-op if already running.
func (w *Worker) Start(ctx context.Context) {
	if !w.running.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer w.running.Store(false)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stop:
				return
			case <-ticker.C:
				w.safeDispatchPending(ctx)
			}
		}
	}()
}

// Stop halts the dispatch loop.
func (w *Worker) Stop() {
	if w.running.Load() {
		close(w.stop)
	}
}

func (w *Worker) safeDispatchPending(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logging.L(ctx).Error("disbursement dispatch panicked", "panic", r)
		}
	}()
	w.DispatchPending(ctx)
}

// DispatchPending runs one dispatch pass over undispatched pending requests.
func (w *Worker) DispatchPending(ctx context.Context) {
	pending, err := w.service.store.ListPending(ctx, 100)
	if err != nil {
		logging.L(ctx).Error("list pending disbursements failed", "error", err)
		return
	}

	for _, req := range pending {
		if !w.breaker.Allow(gatewayKey) {
			logging.L(ctx).Warn("gateway circuit open, deferring dispatch", "request_id", req.ID)
			return
		}
		w.dispatch(ctx, req)
	}
}

// dispatch submits one request. Transport-level retries reuse the same
// idempotency key, which the gateway contract makes safe; attempt-level
// failures go through Service.Fail and bump the key. All request state
// goes through Service methods so every write re-reads under the
// per-dispute lock and never regresses an outcome recorded mid-flight.
func (w *Worker) dispatch(ctx context.Context, req *Request) {
	fresh, err := w.service.MarkDispatched(ctx, req.DisputeID)
	if errors.Is(err, ErrNotDispatchable) {
		return // A callback or concurrent pass got there first.
	}
	if err != nil {
		logging.L(ctx).Error("mark dispatched failed", "dispute_id", req.DisputeID, "error", err)
		return
	}
	req = fresh

	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var outcome Outcome
	err = retry.Do(callCtx, 3, w.backoff, func() error {
		var callErr error
		outcome, callErr = w.gateway.RequestDisbursement(callCtx, req)
		return callErr
	})
	if err != nil {
		w.breaker.RecordFailure(gatewayKey)
		if _, failErr := w.service.Fail(ctx, req.DisputeID, err.Error()); failErr != nil {
			logging.L(ctx).Error("record dispatch failure failed",
				"request_id", req.ID, "error", failErr)
		}
		return
	}

	w.breaker.RecordSuccess(gatewayKey)

	if outcome.Settled {
		if _, err := w.service.Settle(ctx, req.DisputeID, outcome.ExternalRef); err != nil {
			logging.L(ctx).Error("record inline settlement failed",
				"request_id", req.ID, "error", err)
		}
		return
	}

	// Accepted but not yet settled: remember the gateway reference and
	// wait for the signed callback.
	if err := w.service.RecordAccepted(ctx, req.DisputeID, outcome.ExternalRef); err != nil {
		logging.L(ctx).Error("record gateway reference failed", "request_id", req.ID, "error", err)
		return
	}
	logging.L(ctx).Info("disbursement dispatched",
		"request_id", req.ID, "dispute_id", req.DisputeID, "external_ref", outcome.ExternalRef)
}
