// Package mcpserver exposes the dispute platform as MCP tools so LLM
// assistants can look up disputes, timelines, and seller standing over
// the public HTTP API.
package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the connection settings for the dispute platform.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
	APIKey string // API key, e.g. "sk_..."
}

// Client is a pure HTTP client for the dispute platform API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new platform API client.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the platform.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the platform and returns the response body.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// GetDispute fetches one dispute by ID.
func (c *Client) GetDispute(ctx context.Context, disputeID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/disputes/"+disputeID, nil, nil)
}

// GetTimeline fetches a dispute's message timeline.
func (c *Client) GetTimeline(ctx context.Context, disputeID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/disputes/"+disputeID+"/timeline", nil, nil)
}

// ListMyDisputes lists the authenticated user's disputes.
func (c *Client) ListMyDisputes(ctx context.Context, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/disputes", q, nil)
}

// ListPendingReview lists the admin arbitration queue.
func (c *Client) ListPendingReview(ctx context.Context, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/admin/disputes/pending", q, nil)
}

// GetSellerReputation fetches a seller's reputation score.
func (c *Client) GetSellerReputation(ctx context.Context, sellerID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/sellers/"+sellerID+"/reputation", nil, nil)
}
