package reputation

import (
	"context"
	"sync"
	"testing"
)

func TestApplyDeltaFromFreshRecord(t *testing.T) {
	l := NewLedger(NewMemoryStore())
	ctx := context.Background()

	score, err := l.ApplyDelta(ctx, "usr_seller", -5, "dispute_opened", "dsp_1")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if score != 95 {
		t.Fatalf("expected 95, got %d", score)
	}
}

func TestApplyDeltaClampsLow(t *testing.T) {
	l := NewLedger(NewMemoryStore())
	ctx := context.Background()

	if _, err := l.ApplyDelta(ctx, "usr_seller", -90, "dispute_at_fault", "dsp_1"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	score, err := l.ApplyDelta(ctx, "usr_seller", -50, "dispute_at_fault", "dsp_2")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if score != MinScore {
		t.Fatalf("expected clamp to %d, got %d", MinScore, score)
	}
}

func TestApplyDeltaClampsHigh(t *testing.T) {
	l := NewLedger(NewMemoryStore())
	ctx := context.Background()

	score, err := l.ApplyDelta(ctx, "usr_seller", 20, "dispute_vindicated", "dsp_1")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if score != MaxScore {
		t.Fatalf("expected clamp to %d, got %d", MaxScore, score)
	}
}

func TestScoreDefaultsWithoutMutating(t *testing.T) {
	store := NewMemoryStore()
	l := NewLedger(store)
	ctx := context.Background()

	score, err := l.Score(ctx, "usr_unknown")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score != InitialScore {
		t.Fatalf("expected %d, got %d", InitialScore, score)
	}

	// The read must not have created a record.
	if _, err := store.GetRecord(ctx, "usr_unknown"); err != ErrRecordNotFound {
		t.Fatalf("read created a record: %v", err)
	}
}

func TestHistoryRecordsEveryDelta(t *testing.T) {
	l := NewLedger(NewMemoryStore())
	ctx := context.Background()

	l.ApplyDelta(ctx, "usr_seller", -5, "dispute_opened", "dsp_1")
	l.ApplyDelta(ctx, "usr_seller", -15, "dispute_at_fault", "dsp_1")
	l.ApplyDelta(ctx, "usr_seller", 5, "dispute_vindicated", "dsp_2")

	deltas, err := l.History(ctx, "usr_seller", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(deltas) != 3 {
		t.Fatalf("expected 3 deltas, got %d", len(deltas))
	}
	// Newest first.
	if deltas[0].Amount != 5 || deltas[0].Reason != "dispute_vindicated" {
		t.Fatalf("unexpected newest delta: %+v", deltas[0])
	}
	if deltas[0].Score != 85 {
		t.Fatalf("expected running score 85, got %d", deltas[0].Score)
	}
}

func TestConcurrentDeltasSerialize(t *testing.T) {
	l := NewLedger(NewMemoryStore())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.ApplyDelta(ctx, "usr_seller", -1, "dispute_opened", "")
		}()
	}
	wg.Wait()

	score, err := l.Score(ctx, "usr_seller")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score != 80 {
		t.Fatalf("expected 80 after 20 serialized -1 deltas, got %d", score)
	}
}

func TestTierBuckets(t *testing.T) {
	cases := []struct {
		score int
		want  string
	}{
		{100, "excellent"},
		{90, "excellent"},
		{89, "good"},
		{70, "good"},
		{69, "at_risk"},
		{40, "at_risk"},
		{39, "poor"},
		{0, "poor"},
	}
	for _, tc := range cases {
		if got := Tier(tc.score); got != tc.want {
			t.Fatalf("Tier(%d) = %q, want %q", tc.score, got, tc.want)
		}
	}
}
