package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dukasoko/resolution/internal/dispute"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: EventDisputeOpened, Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventEscalated, EventRefundFailed},
	}}

	escalated := &Event{Type: EventEscalated}
	refundFailed := &Event{Type: EventRefundFailed}
	opened := &Event{Type: EventDisputeOpened}

	if !h.shouldSend(client, escalated) {
		t.Error("Should receive escalation events")
	}
	if !h.shouldSend(client, refundFailed) {
		t.Error("Should receive refund failure events")
	}
	if h.shouldSend(client, opened) {
		t.Error("Should NOT receive dispute_opened events")
	}
}

func TestShouldSend_DisputeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		DisputeIDs: []string{"dsp_watched"},
	}}

	matching := &Event{
		Type: EventDisputeResolved,
		Data: map[string]any{"disputeId": "dsp_watched"},
	}
	notMatching := &Event{
		Type: EventDisputeResolved,
		Data: map[string]any{"disputeId": "dsp_other"},
	}

	if !h.shouldSend(client, matching) {
		t.Error("Should match on watched dispute ID")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match unrelated disputes")
	}
}

func TestShouldSend_CategoryFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		Categories: []string{"damaged_item"},
	}}

	matching := &Event{
		Type: EventDisputeOpened,
		Data: map[string]any{"category": "damaged_item"},
	}
	notMatching := &Event{
		Type: EventDisputeOpened,
		Data: map[string]any{"category": "wrong_item"},
	}

	if !h.shouldSend(client, matching) {
		t.Error("Should match on category")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match other categories")
	}
}

func TestShouldSend_MinAmountFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		MinAmount: 10_000,
	}}

	large := &Event{
		Type: EventDisputeOpened,
		Data: map[string]any{"amount": int64(50_000)},
	}
	small := &Event{
		Type: EventDisputeOpened,
		Data: map[string]any{"amount": int64(500)},
	}

	if !h.shouldSend(client, large) {
		t.Error("Should receive high-value dispute")
	}
	if h.shouldSend(client, small) {
		t.Error("Should NOT receive low-value dispute")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()

	// No filters, not AllEvents
	client := &Client{sub: Subscription{}}

	event := &Event{Type: EventDisputeOpened}
	if !h.shouldSend(client, event) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_BroadcastAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(&Event{Type: EventDisputeOpened, Timestamp: time.Now()})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("Expected 1 total event, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak 1, got %v", stats["peakClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	// Peak should still be 1
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_BroadcastToClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(&Event{
		Type:      EventRefundSettled,
		Timestamp: time.Now(),
		Data:      map[string]any{"disputeId": "dsp_x", "amount": int64(4500)},
	})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for broadcast")
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Hub stopped
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Client only wants escalations
	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{EventTypes: []EventType{EventEscalated}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	// An opened event should be filtered out
	h.Broadcast(&Event{Type: EventDisputeOpened, Timestamp: time.Now()})
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive dispute_opened event")
	default:
		// Good - filtered out
	}

	// An escalation should arrive
	h.Broadcast(&Event{Type: EventEscalated, Timestamp: time.Now()})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive escalation event")
	}
}

func TestEmitterBroadcastsDisputeEvents(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}
	h.register <- client
	time.Sleep(50 * time.Millisecond)

	e := NewEmitter(h)
	e.DisputeOpened(&dispute.Dispute{
		ID: "dsp_feed1", OrderID: "ord_1", BuyerID: "usr_b", SellerID: "usr_s",
		Status: dispute.StatusAwaitingSellerResponse, Category: dispute.CategoryWrongItem,
		Amount: 1200, Currency: "USD",
	})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for emitted event")
	}
}

func TestNilEmitterBroadcastIsSafe(t *testing.T) {
	var e *Emitter
	e.DisputeOpened(&dispute.Dispute{ID: "dsp_nil"})
}
