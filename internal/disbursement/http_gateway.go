package disbursement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dukasoko/resolution/internal/retry"
)

// HTTPGateway talks to a generic payment-provider HTTP API. The provider
// is expected to honor the Idempotency-Key header and to deliver terminal
// outcomes through the signed callback endpoint when it does not settle
// synchronously.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ Gateway = (*HTTPGateway)(nil)

// NewHTTPGateway creates a gateway client for the given provider base URL.
func NewHTTPGateway(baseURL, apiKey string) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type gatewayRequest struct {
	IdempotencyKey string `json:"idempotencyKey"`
	DisputeID      string `json:"disputeId"`
	RecipientID    string `json:"recipientId"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
}

type gatewayResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// RequestDisbursement submits the transfer. 4xx responses are wrapped as
// permanent errors so the caller does not burn transport retries on them.
func (g *HTTPGateway) RequestDisbursement(ctx context.Context, req *Request) (Outcome, error) {
	body, err := json.Marshal(gatewayRequest{
		IdempotencyKey: req.IdempotencyKey(),
		DisputeID:      req.DisputeID,
		RecipientID:    req.RecipientID,
		Amount:         req.Amount,
		Currency:       req.Currency,
	})
	if err != nil {
		return Outcome{}, retry.Permanent(fmt.Errorf("marshal gateway request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.baseURL+"/disbursements", bytes.NewReader(body))
	if err != nil {
		return Outcome{}, retry.Permanent(fmt.Errorf("build gateway request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey())

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Outcome{}, fmt.Errorf("gateway request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Outcome{}, fmt.Errorf("read gateway response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var parsed gatewayResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return Outcome{}, fmt.Errorf("decode gateway response: %w", err)
		}
		return Outcome{
			ExternalRef: parsed.Reference,
			Settled:     parsed.Status == "settled",
		}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return Outcome{}, retry.Permanent(fmt.Errorf("gateway rejected disbursement: status %d: %s",
			resp.StatusCode, truncate(string(respBody), 200)))
	default:
		return Outcome{}, fmt.Errorf("gateway error: status %d", resp.StatusCode)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
