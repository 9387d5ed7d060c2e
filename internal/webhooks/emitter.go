package webhooks

import (
	"context"
	"time"

	"github.com/dukasoko/resolution/internal/disbursement"
	"github.com/dukasoko/resolution/internal/dispute"
	"github.com/dukasoko/resolution/internal/idgen"
	"github.com/dukasoko/resolution/internal/logging"
)

// Emitter adapts the dispute and disbursement event hooks onto the
// dispatcher. All methods are fire-and-forget: failures are logged and
// never propagate into the workflow that triggered them.
type Emitter struct {
	d *Dispatcher
}

var (
	_ dispute.EventEmitter      = (*Emitter)(nil)
	_ disbursement.EventEmitter = (*Emitter)(nil)
)

// NewEmitter creates a webhook emitter backed by the dispatcher.
func NewEmitter(d *Dispatcher) *Emitter {
	return &Emitter{d: d}
}

func (e *Emitter) emit(eventType EventType, data map[string]any, participants ...string) {
	if e == nil || e.d == nil {
		return
	}
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.d.Dispatch(ctx, event, participants...); err != nil {
		logging.L(ctx).Warn("webhook emit failed", "event", eventType, "error", err)
	}
}

func disputeData(d *dispute.Dispute) map[string]any {
	return map[string]any{
		"disputeId": d.ID,
		"orderId":   d.OrderID,
		"buyerId":   d.BuyerID,
		"sellerId":  d.SellerID,
		"status":    d.Status,
		"category":  d.Category,
		"amount":    d.Amount,
		"currency":  d.Currency,
	}
}

func (e *Emitter) DisputeOpened(d *dispute.Dispute) {
	e.emit(EventDisputeOpened, disputeData(d), d.BuyerID, d.SellerID)
}

func (e *Emitter) SellerResponded(d *dispute.Dispute) {
	e.emit(EventSellerResponded, disputeData(d), d.BuyerID, d.SellerID)
}

func (e *Emitter) EscalatedToAdmin(d *dispute.Dispute, trigger string) {
	data := disputeData(d)
	data["trigger"] = trigger
	e.emit(EventEscalated, data, d.BuyerID, d.SellerID)
}

func (e *Emitter) DisputeResolved(d *dispute.Dispute) {
	data := disputeData(d)
	data["resolution"] = d.Resolution
	data["resolutionAmount"] = d.ResolutionAmount
	e.emit(EventDisputeResolved, data, d.BuyerID, d.SellerID)
}

func (e *Emitter) DisputeClosed(d *dispute.Dispute) {
	data := disputeData(d)
	data["resolution"] = d.Resolution
	e.emit(EventDisputeClosed, data, d.BuyerID, d.SellerID)
}

func (e *Emitter) RefundSettled(r *disbursement.Request) {
	e.emit(EventRefundSettled, map[string]any{
		"disputeId":   r.DisputeID,
		"requestId":   r.ID,
		"amount":      r.Amount,
		"currency":    r.Currency,
		"externalRef": r.ExternalRef,
	}, r.RecipientID)
}

func (e *Emitter) RefundFailed(r *disbursement.Request, terminal bool) {
	e.emit(EventRefundFailed, map[string]any{
		"disputeId": r.DisputeID,
		"requestId": r.ID,
		"amount":    r.Amount,
		"currency":  r.Currency,
		"reason":    r.LastError,
		"terminal":  terminal,
	}, r.RecipientID)
}
