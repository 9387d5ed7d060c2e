package dispute

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepLeavesDisputeAloneBeforeDeadline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := openTestDispute(t, env)

	env.advance(testPolicy().ResponseWindow - time.Second)
	env.svc.SweepDeadlines(ctx)

	got, err := env.svc.Get(ctx, d.ID, "", RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingSellerResponse, got.Status)
}

func TestSweepEscalatesUnansweredDispute(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := openTestDispute(t, env)

	env.advance(testPolicy().ResponseWindow + time.Second)
	env.svc.SweepDeadlines(ctx)

	got, err := env.svc.Get(ctx, d.ID, "", RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, StatusAdminReview, got.Status)
	require.NotNil(t, got.EscalatedAt)

	entries, err := env.svc.GetTimeline(ctx, d.ID, "", RoleAdmin)
	require.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, RoleSystem, last.Role)
	assert.Contains(t, last.Message, "did not respond")
}

func TestSweepEscalatesExactlyAtDeadline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := openTestDispute(t, env)

	// The window closing and the sweep firing at the same instant must
	// escalate, not wait for the next tick.
	env.advance(testPolicy().ResponseWindow)
	env.svc.SweepDeadlines(ctx)

	got, err := env.svc.Get(ctx, d.ID, "", RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, StatusAdminReview, got.Status)
}

func TestSweepEscalatesStalledNegotiation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := respondAndNegotiate(t, env)

	// The negotiation clock starts at the seller's response, not at open.
	env.advance(testPolicy().NegotiationWindow - time.Second)
	env.svc.SweepDeadlines(ctx)
	got, err := env.svc.Get(ctx, d.ID, "", RoleAdmin)
	require.NoError(t, err)
	require.Equal(t, StatusInNegotiation, got.Status)

	env.advance(2 * time.Second)
	env.svc.SweepDeadlines(ctx)
	got, err = env.svc.Get(ctx, d.ID, "", RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, StatusAdminReview, got.Status)
}

func TestSweepIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := openTestDispute(t, env)

	env.advance(testPolicy().ResponseWindow + time.Second)
	env.svc.SweepDeadlines(ctx)
	env.svc.SweepDeadlines(ctx)

	entries, err := env.svc.GetTimeline(ctx, d.ID, "", RoleAdmin)
	require.NoError(t, err)

	escalations := 0
	for _, e := range entries {
		if e.Role == RoleSystem {
			escalations++
		}
	}
	assert.Equal(t, 1, escalations)
}

func TestSweepClosesResolvedAfterGrace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := escalateForReview(t, env)

	_, err := env.svc.AdminDecide(ctx, d.ID, "usr_admin0000000000000000001",
		ResolutionRejected, 0, "Tracking and signature confirm delivery in good condition.")
	require.NoError(t, err)

	env.advance(testPolicy().CloseGracePeriod - time.Minute)
	env.svc.SweepDeadlines(ctx)
	got, err := env.svc.Get(ctx, d.ID, "", RoleAdmin)
	require.NoError(t, err)
	require.Equal(t, StatusResolved, got.Status)

	env.advance(2 * time.Minute)
	env.svc.SweepDeadlines(ctx)
	got, err = env.svc.Get(ctx, d.ID, "", RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, got.Status)
	require.NotNil(t, got.ClosedAt)
}

func TestSweepDoesNotClosePendingRefund(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := escalateForReview(t, env)

	_, err := env.svc.AdminDecide(ctx, d.ID, "usr_admin0000000000000000001",
		ResolutionFullRefund, 4500, "Photos clearly show the item arrived destroyed in transit.")
	require.NoError(t, err)

	// The refund leg is still in flight; closing must wait for settlement.
	env.advance(testPolicy().CloseGracePeriod * 2)
	env.svc.SweepDeadlines(ctx)

	got, err := env.svc.Get(ctx, d.ID, "", RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, got.Status)
	assert.Equal(t, RefundPending, got.RefundStatus)
}

func TestSweepDoesNotCloseFailedRefund(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := escalateForReview(t, env)

	_, err := env.svc.AdminDecide(ctx, d.ID, "usr_admin0000000000000000001",
		ResolutionFullRefund, 4500, "Photos clearly show the item arrived destroyed in transit.")
	require.NoError(t, err)
	require.NoError(t, env.svc.RecordFailure(ctx, d.ID, "gateway declined", true))

	env.advance(testPolicy().CloseGracePeriod * 2)
	env.svc.SweepDeadlines(ctx)

	got, err := env.svc.Get(ctx, d.ID, "", RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, got.Status)
	assert.Equal(t, RefundFailed, got.RefundStatus)
}

func TestTimerStartStop(t *testing.T) {
	env := newTestEnv(t)
	timer := NewTimer(env.svc, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	timer.Start(ctx)
	timer.Start(ctx) // second start is a no-op
	time.Sleep(30 * time.Millisecond)
	timer.Stop()
}
