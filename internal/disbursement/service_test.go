package disbursement

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	settlements []string
	failures    []string
	terminal    bool
}

func (f *fakeResolver) RecordSettlement(_ context.Context, disputeID, _ string) error {
	f.settlements = append(f.settlements, disputeID)
	return nil
}

func (f *fakeResolver) RecordFailure(_ context.Context, disputeID, _ string, terminal bool) error {
	f.failures = append(f.failures, disputeID)
	f.terminal = terminal
	return nil
}

func newTestService(t *testing.T, retryCap int) (*Service, *fakeResolver) {
	t.Helper()
	svc := NewService(NewMemoryStore(), nil, retryCap)
	resolver := &fakeResolver{}
	svc.SetResolver(resolver)
	return svc, resolver
}

func TestCreateRequestIdempotentPerDispute(t *testing.T) {
	svc, _ := newTestService(t, 3)
	ctx := context.Background()

	require.NoError(t, svc.CreateRequest(ctx, "dsp_a1", "pi_buyer1", 2500, "USD"))
	require.NoError(t, svc.CreateRequest(ctx, "dsp_a1", "pi_buyer1", 2500, "USD"))

	req, err := svc.GetByDispute(ctx, "dsp_a1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, req.Status)
	assert.Equal(t, 1, req.Attempt)
	assert.Equal(t, "dsp_a1:1", req.IdempotencyKey())
}

func TestSettleIsIdempotent(t *testing.T) {
	svc, resolver := newTestService(t, 3)
	ctx := context.Background()

	require.NoError(t, svc.CreateRequest(ctx, "dsp_b2", "pi_buyer2", 1000, "EUR"))

	first, err := svc.Settle(ctx, "dsp_b2", "ref_123")
	require.NoError(t, err)
	assert.Equal(t, StatusSettled, first.Status)
	assert.Equal(t, "ref_123", first.ExternalRef)
	require.NotNil(t, first.SettledAt)

	// Duplicate callback delivery returns the recorded outcome.
	second, err := svc.Settle(ctx, "dsp_b2", "ref_123")
	require.NoError(t, err)
	assert.Equal(t, StatusSettled, second.Status)
	assert.Len(t, resolver.settlements, 1)
}

func TestFailBelowCapRequeuesWithFreshKey(t *testing.T) {
	svc, resolver := newTestService(t, 3)
	ctx := context.Background()

	require.NoError(t, svc.CreateRequest(ctx, "dsp_c3", "pi_buyer3", 500, "USD"))

	req, err := svc.Fail(ctx, "dsp_c3", "gateway timeout")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, req.Status)
	assert.Equal(t, 2, req.Attempt)
	assert.Equal(t, "dsp_c3:2", req.IdempotencyKey())
	assert.Nil(t, req.DispatchedAt)
	assert.False(t, resolver.terminal)
}

func TestFailAtCapGoesTerminal(t *testing.T) {
	svc, resolver := newTestService(t, 2)
	ctx := context.Background()

	require.NoError(t, svc.CreateRequest(ctx, "dsp_d4", "pi_buyer4", 500, "USD"))

	_, err := svc.Fail(ctx, "dsp_d4", "declined")
	require.NoError(t, err)

	req, err := svc.Fail(ctx, "dsp_d4", "declined again")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, req.Status)
	assert.Equal(t, 2, req.Attempt)
	assert.Equal(t, "declined again", req.LastError)
	assert.True(t, resolver.terminal)
}

func TestFailAfterSettlementKeepsSettledOutcome(t *testing.T) {
	svc, _ := newTestService(t, 3)
	ctx := context.Background()

	require.NoError(t, svc.CreateRequest(ctx, "dsp_e5", "pi_buyer5", 750, "GBP"))
	_, err := svc.Settle(ctx, "dsp_e5", "ref_456")
	require.NoError(t, err)

	req, err := svc.Fail(ctx, "dsp_e5", "late failure report")
	require.NoError(t, err)
	assert.Equal(t, StatusSettled, req.Status)
	assert.Empty(t, req.LastError)
}

func TestRetryReopensFailedRequest(t *testing.T) {
	svc, _ := newTestService(t, 1)
	ctx := context.Background()

	require.NoError(t, svc.CreateRequest(ctx, "dsp_f6", "pi_buyer6", 300, "USD"))
	failed, err := svc.Fail(ctx, "dsp_f6", "declined")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, failed.Status)

	req, err := svc.Retry(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, req.Status)
	assert.Equal(t, 2, req.Attempt)
	assert.Nil(t, req.DispatchedAt)
}

func TestRetryRejectsSettledRequest(t *testing.T) {
	svc, _ := newTestService(t, 3)
	ctx := context.Background()

	require.NoError(t, svc.CreateRequest(ctx, "dsp_g7", "pi_buyer7", 300, "USD"))
	settled, err := svc.Settle(ctx, "dsp_g7", "ref_789")
	require.NoError(t, err)

	_, err = svc.Retry(ctx, settled.ID)
	assert.ErrorIs(t, err, ErrAlreadySettled)
}
