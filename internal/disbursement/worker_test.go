package disbursement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukasoko/resolution/internal/retry"
)

type fakeGateway struct {
	outcome Outcome
	err     error
	calls   []string // idempotency keys seen
}

func (f *fakeGateway) RequestDisbursement(_ context.Context, req *Request) (Outcome, error) {
	f.calls = append(f.calls, req.IdempotencyKey())
	return f.outcome, f.err
}

func TestDispatchSettlesInline(t *testing.T) {
	svc, resolver := newTestService(t, 3)
	gw := &fakeGateway{outcome: Outcome{ExternalRef: "ref_inline", Settled: true}}
	w := NewWorker(svc, gw, time.Minute, time.Millisecond)
	ctx := context.Background()

	require.NoError(t, svc.CreateRequest(ctx, "dsp_w1", "pi_w1", 2000, "USD"))
	w.DispatchPending(ctx)

	req, err := svc.GetByDispute(ctx, "dsp_w1")
	require.NoError(t, err)
	assert.Equal(t, StatusSettled, req.Status)
	assert.Equal(t, "ref_inline", req.ExternalRef)
	assert.Equal(t, []string{"dsp_w1:1"}, gw.calls)
	assert.Equal(t, []string{"dsp_w1"}, resolver.settlements)
}

func TestDispatchAsyncAwaitsCallback(t *testing.T) {
	svc, resolver := newTestService(t, 3)
	gw := &fakeGateway{outcome: Outcome{ExternalRef: "ref_async", Settled: false}}
	w := NewWorker(svc, gw, time.Minute, time.Millisecond)
	ctx := context.Background()

	require.NoError(t, svc.CreateRequest(ctx, "dsp_w2", "pi_w2", 2000, "USD"))
	w.DispatchPending(ctx)

	req, err := svc.GetByDispute(ctx, "dsp_w2")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, req.Status)
	assert.Equal(t, "ref_async", req.ExternalRef)
	require.NotNil(t, req.DispatchedAt)
	assert.Empty(t, resolver.settlements)

	// Dispatched requests are not picked up again next tick.
	w.DispatchPending(ctx)
	assert.Len(t, gw.calls, 1)
}

func TestDispatchPermanentErrorBumpsAttempt(t *testing.T) {
	svc, resolver := newTestService(t, 3)
	gw := &fakeGateway{err: retry.Permanent(errors.New("recipient closed account"))}
	w := NewWorker(svc, gw, time.Minute, time.Millisecond)
	ctx := context.Background()

	require.NoError(t, svc.CreateRequest(ctx, "dsp_w3", "pi_w3", 2000, "USD"))
	w.DispatchPending(ctx)

	req, err := svc.GetByDispute(ctx, "dsp_w3")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, req.Status)
	assert.Equal(t, 2, req.Attempt)
	assert.Nil(t, req.DispatchedAt)
	assert.Len(t, gw.calls, 1) // permanent errors skip transport retries
	assert.Len(t, resolver.failures, 1)
}

// settleDuringDispatchGateway records a settlement callback while the
// dispatch is still on the wire, then answers accepted-but-unsettled.
type settleDuringDispatchGateway struct {
	svc *Service
}

func (g *settleDuringDispatchGateway) RequestDisbursement(ctx context.Context, req *Request) (Outcome, error) {
	if _, err := g.svc.Settle(ctx, req.DisputeID, "ext_settled"); err != nil {
		return Outcome{}, err
	}
	return Outcome{ExternalRef: "ext_accepted", Settled: false}, nil
}

func TestDispatchKeepsSettlementRecordedMidFlight(t *testing.T) {
	svc, resolver := newTestService(t, 3)
	gw := &settleDuringDispatchGateway{svc: svc}
	w := NewWorker(svc, gw, time.Minute, time.Millisecond)
	ctx := context.Background()

	require.NoError(t, svc.CreateRequest(ctx, "dsp_w5", "pi_w5", 2000, "USD"))
	w.DispatchPending(ctx)

	req, err := svc.GetByDispute(ctx, "dsp_w5")
	require.NoError(t, err)
	assert.Equal(t, StatusSettled, req.Status)
	assert.Equal(t, "ext_settled", req.ExternalRef)
	assert.Equal(t, []string{"dsp_w5"}, resolver.settlements)

	// The settled request must not be picked up by the next sweep.
	w.DispatchPending(ctx)
	req, err = svc.GetByDispute(ctx, "dsp_w5")
	require.NoError(t, err)
	assert.Equal(t, StatusSettled, req.Status)
	assert.Equal(t, "ext_settled", req.ExternalRef)
}

func TestDispatchRetriedAttemptUsesFreshKey(t *testing.T) {
	svc, _ := newTestService(t, 3)
	gw := &fakeGateway{err: retry.Permanent(errors.New("declined"))}
	w := NewWorker(svc, gw, time.Minute, time.Millisecond)
	ctx := context.Background()

	require.NoError(t, svc.CreateRequest(ctx, "dsp_w4", "pi_w4", 2000, "USD"))
	w.DispatchPending(ctx)
	w.DispatchPending(ctx)

	assert.Equal(t, []string{"dsp_w4:1", "dsp_w4:2"}, gw.calls)
}
