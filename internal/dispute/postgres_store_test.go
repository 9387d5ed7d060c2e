//go:build integration

package dispute

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukasoko/resolution/internal/pagination"
	"github.com/dukasoko/resolution/internal/testutil"
)

func newPGDispute(n int) *Dispute {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &Dispute{
		ID:          fmt.Sprintf("dsp_pg%026d", n),
		OrderID:     fmt.Sprintf("ord_pg%d", n),
		BuyerID:     "usr_pgbuyer",
		SellerID:    "usr_pgseller",
		Category:    CategoryDamagedItem,
		Title:       "Arrived cracked",
		Description: "The ceramic pot arrived with a long crack down one side.",
		Amount:      4500,
		Currency:    "USD",
		Status:      StatusAwaitingSellerResponse,
		Resolution:  ResolutionUndecided,
		Evidence: []EvidenceRef{{
			Locator:    "s3://evidence/pot.jpg",
			MediaType:  "image/jpeg",
			SizeBytes:  52341,
			UploadedBy: "usr_pgbuyer",
			UploadedAt: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func openedEntry(d *Dispute) *TimelineEntry {
	return &TimelineEntry{
		ID:        "tle_" + d.ID,
		DisputeID: d.ID,
		SenderID:  d.BuyerID,
		Role:      RoleBuyer,
		Message:   d.Description,
		Evidence:  &d.Evidence[0],
		CreatedAt: d.CreatedAt,
	}
}

func TestPostgresStore_CreateAndGet(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	d := newPGDispute(1)
	require.NoError(t, store.CreateWithTimeline(ctx, d, openedEntry(d)))

	got, err := store.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)
	assert.Equal(t, d.OrderID, got.OrderID)
	assert.Equal(t, StatusAwaitingSellerResponse, got.Status)
	assert.Equal(t, ResolutionUndecided, got.Resolution)
	assert.Equal(t, RefundNone, got.RefundStatus)
	require.Len(t, got.Evidence, 1)
	assert.Equal(t, "s3://evidence/pot.jpg", got.Evidence[0].Locator)
	assert.Nil(t, got.Proposal)

	entries, err := store.ListTimeline(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, RoleBuyer, entries[0].Role)
	require.NotNil(t, entries[0].Evidence)
}

func TestPostgresStore_GetMissing(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)

	_, err := store.Get(context.Background(), "dsp_pgmissing")
	assert.ErrorIs(t, err, ErrDisputeNotFound)
}

func TestPostgresStore_UpdateWithTimeline(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	d := newPGDispute(2)
	require.NoError(t, store.CreateWithTimeline(ctx, d, openedEntry(d)))

	now := time.Now().UTC().Truncate(time.Microsecond)
	d.Status = StatusInNegotiation
	d.RespondedAt = &now
	d.UpdatedAt = now
	d.Proposal = &Proposal{
		Kind:       ResolutionPartialRefund,
		Amount:     2000,
		ProposedBy: d.SellerID,
		Role:       RoleSeller,
		ProposedAt: now,
	}
	require.NoError(t, store.UpdateWithTimeline(ctx, d, &TimelineEntry{
		ID:        "tle_resp_" + d.ID,
		DisputeID: d.ID,
		SenderID:  d.SellerID,
		Role:      RoleSeller,
		Message:   "Sorry about that, we can refund part of the order.",
		CreatedAt: now,
	}))

	got, err := store.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInNegotiation, got.Status)
	require.NotNil(t, got.RespondedAt)
	require.NotNil(t, got.Proposal)
	assert.Equal(t, ResolutionPartialRefund, got.Proposal.Kind)
	assert.Equal(t, int64(2000), got.Proposal.Amount)

	entries, err := store.ListTimeline(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestPostgresStore_UpdateMissing(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)

	d := newPGDispute(3)
	err := store.UpdateWithTimeline(context.Background(), d)
	assert.ErrorIs(t, err, ErrDisputeNotFound)
}

func TestPostgresStore_AppendTimelineMissingDispute(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)

	err := store.AppendTimeline(context.Background(), &TimelineEntry{
		ID:        "tle_orphan",
		DisputeID: "dsp_pgnothere",
		Role:      RoleSystem,
		Message:   "orphan",
		CreatedAt: time.Now(),
	})
	assert.ErrorIs(t, err, ErrDisputeNotFound)
}

func TestPostgresStore_ListByBuyerPagination(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Microsecond).Add(-time.Hour)
	for i := 0; i < 5; i++ {
		d := newPGDispute(10 + i)
		d.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		d.UpdatedAt = d.CreatedAt
		require.NoError(t, store.CreateWithTimeline(ctx, d, openedEntry(d)))
	}

	first, err := store.ListByBuyer(ctx, "usr_pgbuyer", 3, nil)
	require.NoError(t, err)
	require.Len(t, first, 3)
	// Newest first.
	assert.True(t, first[0].CreatedAt.After(first[2].CreatedAt))

	cursor := &pagination.Cursor{CreatedAt: first[2].CreatedAt, ID: first[2].ID}
	second, err := store.ListByBuyer(ctx, "usr_pgbuyer", 3, cursor)
	require.NoError(t, err)
	require.Len(t, second, 2)
	for _, d := range second {
		assert.True(t, d.CreatedAt.Before(first[2].CreatedAt))
	}
}

func TestPostgresStore_ListStaleUsesRespondedAt(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	// Old dispute that got a recent seller response: not stale.
	fresh := newPGDispute(20)
	fresh.CreatedAt = time.Now().UTC().Add(-30 * 24 * time.Hour)
	fresh.UpdatedAt = fresh.CreatedAt
	require.NoError(t, store.CreateWithTimeline(ctx, fresh, openedEntry(fresh)))
	respondedAt := time.Now().UTC().Truncate(time.Microsecond)
	fresh.Status = StatusInNegotiation
	fresh.RespondedAt = &respondedAt
	fresh.UpdatedAt = respondedAt
	require.NoError(t, store.UpdateWithTimeline(ctx, fresh))

	// Negotiation that stalled long ago: stale.
	stalled := newPGDispute(21)
	stalled.CreatedAt = time.Now().UTC().Add(-30 * 24 * time.Hour)
	stalled.UpdatedAt = stalled.CreatedAt
	require.NoError(t, store.CreateWithTimeline(ctx, stalled, openedEntry(stalled)))
	oldResponse := time.Now().UTC().Add(-20 * 24 * time.Hour).Truncate(time.Microsecond)
	stalled.Status = StatusInNegotiation
	stalled.RespondedAt = &oldResponse
	stalled.UpdatedAt = oldResponse
	require.NoError(t, store.UpdateWithTimeline(ctx, stalled))

	cutoff := time.Now().UTC().Add(-7 * 24 * time.Hour)
	stale, err := store.ListStale(ctx, StatusInNegotiation, cutoff)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, stalled.ID, stale[0].ID)
}

func TestPostgresStore_CountOpenBySeller(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	open := newPGDispute(30)
	require.NoError(t, store.CreateWithTimeline(ctx, open, openedEntry(open)))

	closed := newPGDispute(31)
	require.NoError(t, store.CreateWithTimeline(ctx, closed, openedEntry(closed)))
	now := time.Now().UTC().Truncate(time.Microsecond)
	closed.Status = StatusClosed
	closed.Resolution = ResolutionRejected
	closed.ClosedAt = &now
	closed.UpdatedAt = now
	require.NoError(t, store.UpdateWithTimeline(ctx, closed))

	n, err := store.CountOpenBySeller(ctx, "usr_pgseller")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
