package disbursement

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/refund"

	"github.com/dukasoko/resolution/internal/retry"
)

// StripeGateway issues refunds against the original payment intent
// recorded as the request's recipient identifier. Stripe refunds settle
// synchronously for card payments, so most requests complete inline.
type StripeGateway struct{}

var _ Gateway = (*StripeGateway)(nil)

// NewStripeGateway configures the Stripe SDK with the given secret key.
func NewStripeGateway(apiKey string) *StripeGateway {
	stripe.Key = apiKey
	return &StripeGateway{}
}

func (g *StripeGateway) RequestDisbursement(ctx context.Context, req *Request) (Outcome, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.RecipientID),
		Amount:        stripe.Int64(req.Amount),
		Metadata: map[string]string{
			"dispute_id": req.DisputeID,
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey())

	r, err := refund.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode < 500 {
			return Outcome{}, retry.Permanent(fmt.Errorf("stripe refund rejected: %w", err))
		}
		return Outcome{}, fmt.Errorf("stripe refund: %w", err)
	}

	return Outcome{
		ExternalRef: r.ID,
		Settled:     r.Status == stripe.RefundStatusSucceeded,
	}, nil
}
