package realtime

import (
	"time"

	"github.com/dukasoko/resolution/internal/disbursement"
	"github.com/dukasoko/resolution/internal/dispute"
)

// Emitter feeds dispute and disbursement events into the hub.
type Emitter struct {
	hub *Hub
}

var (
	_ dispute.EventEmitter      = (*Emitter)(nil)
	_ disbursement.EventEmitter = (*Emitter)(nil)
)

// NewEmitter creates a feed emitter for the hub.
func NewEmitter(hub *Hub) *Emitter {
	return &Emitter{hub: hub}
}

func (e *Emitter) broadcast(eventType EventType, data map[string]any) {
	if e == nil || e.hub == nil {
		return
	}
	e.hub.Broadcast(&Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	})
}

func disputeData(d *dispute.Dispute) map[string]any {
	return map[string]any{
		"disputeId": d.ID,
		"orderId":   d.OrderID,
		"buyerId":   d.BuyerID,
		"sellerId":  d.SellerID,
		"status":    string(d.Status),
		"category":  string(d.Category),
		"amount":    d.Amount,
		"currency":  d.Currency,
	}
}

func (e *Emitter) DisputeOpened(d *dispute.Dispute) {
	e.broadcast(EventDisputeOpened, disputeData(d))
}

func (e *Emitter) SellerResponded(d *dispute.Dispute) {
	e.broadcast(EventSellerResponded, disputeData(d))
}

func (e *Emitter) EscalatedToAdmin(d *dispute.Dispute, trigger string) {
	data := disputeData(d)
	data["trigger"] = trigger
	e.broadcast(EventEscalated, data)
}

func (e *Emitter) DisputeResolved(d *dispute.Dispute) {
	data := disputeData(d)
	data["resolution"] = string(d.Resolution)
	data["resolutionAmount"] = d.ResolutionAmount
	e.broadcast(EventDisputeResolved, data)
}

func (e *Emitter) DisputeClosed(d *dispute.Dispute) {
	data := disputeData(d)
	data["resolution"] = string(d.Resolution)
	e.broadcast(EventDisputeClosed, data)
}

func (e *Emitter) RefundSettled(r *disbursement.Request) {
	e.broadcast(EventRefundSettled, map[string]any{
		"disputeId":   r.DisputeID,
		"requestId":   r.ID,
		"amount":      r.Amount,
		"currency":    r.Currency,
		"externalRef": r.ExternalRef,
	})
}

func (e *Emitter) RefundFailed(r *disbursement.Request, terminal bool) {
	e.broadcast(EventRefundFailed, map[string]any{
		"disputeId": r.DisputeID,
		"requestId": r.ID,
		"amount":    r.Amount,
		"currency":  r.Currency,
		"reason":    r.LastError,
		"terminal":  terminal,
	})
}
