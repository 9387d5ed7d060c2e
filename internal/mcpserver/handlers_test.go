package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	cfg := Config{
		APIURL: ts.URL,
		APIKey: "sk_test_key",
	}
	client := NewClient(cfg)
	h := NewHandlers(client)
	return h, ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

// ============================================================
// Client tests
// ============================================================

func TestClient_DoRequest_AuthHeader(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, APIKey: "sk_secret123"})
	_, err := client.GetDispute(context.Background(), "dsp_1")
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk_secret123", gotAuth)
}

func TestClient_DoRequest_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "forbidden",
			"message": "You are not a party to this dispute",
		})
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, APIKey: "bad"})
	_, err := client.GetDispute(context.Background(), "dsp_1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "You are not a party to this dispute")
}

func TestClient_DoRequest_ConnectionRefused(t *testing.T) {
	client := NewClient(Config{APIURL: "http://127.0.0.1:1", APIKey: "k"})
	_, err := client.GetDispute(context.Background(), "dsp_1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

// ============================================================
// Handler tests
// ============================================================

func TestHandleGetDispute(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/disputes/dsp_abc", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":           "dsp_abc",
			"orderId":      "ord_1",
			"buyerId":      "usr_b",
			"sellerId":     "usr_s",
			"category":     "damaged_item",
			"title":        "Mug arrived shattered",
			"status":       "resolved",
			"resolution":   "full_refund",
			"refundStatus": "pending",
			"amount":       4500,
			"currency":     "USD",
			"createdAt":    "2026-03-10T12:00:00Z",
		})
	}))
	defer cleanup()

	result, err := h.HandleGetDispute(context.Background(), makeRequest(map[string]any{
		"dispute_id": "dsp_abc",
	}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "dsp_abc")
	assert.Contains(t, text, "resolved")
	assert.Contains(t, text, "full_refund")
	assert.Contains(t, text, "45.00 USD")
	assert.Contains(t, text, "Refund: pending")
}

func TestHandleGetDispute_MissingID(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("API should not be called without a dispute ID")
	}))
	defer cleanup()

	result, err := h.HandleGetDispute(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleGetDisputeTimeline(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"entries": []map[string]any{
				{"role": "buyer", "senderId": "usr_b", "message": "It arrived broken", "createdAt": "2026-03-10T12:00:00Z"},
				{"role": "system", "message": "Escalated to admin review.", "createdAt": "2026-03-13T12:00:00Z"},
			},
			"count": 2,
		})
	}))
	defer cleanup()

	result, err := h.HandleGetDisputeTimeline(context.Background(), makeRequest(map[string]any{
		"dispute_id": "dsp_abc",
	}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "It arrived broken")
	assert.Contains(t, text, "system")
	assert.Contains(t, text, "Escalated")
}

func TestHandleListPendingReview(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/admin/disputes/pending", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"disputes": []map[string]any{
				{"id": "dsp_1", "status": "admin_review", "title": "Wrong color", "amount": 900, "currency": "EUR", "createdAt": "2026-03-01T00:00:00Z"},
			},
			"count": 1,
		})
	}))
	defer cleanup()

	result, err := h.HandleListPendingReview(context.Background(), makeRequest(map[string]any{
		"limit": 5,
	}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "dsp_1")
	assert.Contains(t, text, "admin_review")
}

func TestHandleListPendingReview_Empty(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"disputes": []any{}, "count": 0})
	}))
	defer cleanup()

	result, err := h.HandleListPendingReview(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "No disputes")
}

func TestHandleGetSellerReputation(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/sellers/usr_s/reputation", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sellerId": "usr_s",
			"score":    65,
		})
	}))
	defer cleanup()

	result, err := h.HandleGetSellerReputation(context.Background(), makeRequest(map[string]any{
		"seller_id": "usr_s",
	}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "65/100")
	assert.Contains(t, text, "at risk")
}

func TestHandleGetSellerReputation_APIError(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "not_found",
			"message": "Seller not found",
		})
	}))
	defer cleanup()

	result, err := h.HandleGetSellerReputation(context.Background(), makeRequest(map[string]any{
		"seller_id": "usr_missing",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
