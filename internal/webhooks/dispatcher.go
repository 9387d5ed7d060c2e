package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dukasoko/resolution/internal/logging"
	"github.com/dukasoko/resolution/internal/metrics"
	"github.com/dukasoko/resolution/internal/retry"
)

// maxConsecutiveFailures disables a subscription that never answers.
const maxConsecutiveFailures = 10

// Dispatcher delivers events to subscribed endpoints. Deliveries are
// asynchronous and signed with the subscription's secret.
type Dispatcher struct {
	store  Store
	client *http.Client
}

// NewDispatcher creates a webhook dispatcher.
func NewDispatcher(store Store) *Dispatcher {
	return &Dispatcher{
		store:  store,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Dispatch fans the event out to matching subscriptions. participants
// are the user IDs the event concerns; owner-scoped subscriptions only
// receive events for their own disputes.
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event, participants ...string) error {
	subs, err := d.store.GetByEvent(ctx, event.Type)
	if err != nil {
		return fmt.Errorf("list subscribers: %w", err)
	}

	for _, sub := range subs {
		if sub.OwnerID != "" && !contains(participants, sub.OwnerID) {
			continue
		}
		go d.send(context.WithoutCancel(ctx), sub, event)
	}
	return nil
}

func (d *Dispatcher) send(ctx context.Context, sub *Subscription, event *Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		d.recordFailure(ctx, sub, "marshal event failed")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	err = retry.Do(ctx, 3, time.Second, func() error {
		return d.deliver(ctx, sub, event, payload)
	})
	if err != nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
		d.recordFailure(ctx, sub, err.Error())
		return
	}

	metrics.WebhookDeliveriesTotal.WithLabelValues("delivered").Inc()
	d.recordSuccess(ctx, sub)
}

func (d *Dispatcher) deliver(ctx context.Context, sub *Subscription, event *Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(fmt.Errorf("build request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Resolution-Event", string(event.Type))
	req.Header.Set("X-Resolution-Timestamp", fmt.Sprintf("%d", event.Timestamp.Unix()))
	req.Header.Set("X-Resolution-Signature", Sign(payload, sub.Secret))

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return retry.Permanent(fmt.Errorf("endpoint rejected delivery: status %d", resp.StatusCode))
	}
	return fmt.Errorf("endpoint error: status %d", resp.StatusCode)
}

// Sign computes the hex HMAC-SHA256 signature receivers verify.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func (d *Dispatcher) recordSuccess(ctx context.Context, sub *Subscription) {
	now := time.Now()
	sub.LastSuccess = &now
	sub.LastError = ""
	sub.ConsecutiveFailures = 0
	if err := d.store.Update(ctx, sub); err != nil {
		logging.L(ctx).Warn("update subscription failed", "subscription_id", sub.ID, "error", err)
	}
}

func (d *Dispatcher) recordFailure(ctx context.Context, sub *Subscription, msg string) {
	sub.LastError = msg
	sub.ConsecutiveFailures++
	if sub.ConsecutiveFailures >= maxConsecutiveFailures {
		sub.Active = false
		logging.L(ctx).Warn("webhook subscription disabled after repeated failures",
			"subscription_id", sub.ID, "url", sub.URL)
	}
	if err := d.store.Update(ctx, sub); err != nil {
		logging.L(ctx).Warn("update subscription failed", "subscription_id", sub.ID, "error", err)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
