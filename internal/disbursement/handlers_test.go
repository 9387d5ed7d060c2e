package disbursement

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "callback-test-secret"

func setupCallbackRouter(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc, _ := newTestService(t, 3)
	h := NewHandler(svc, testSecret)

	r := gin.New()
	r.POST("/v1/disbursements/callback", h.Callback)
	r.GET("/v1/admin/disbursements/:id", h.Get)
	r.POST("/v1/admin/disbursements/:id/retry", h.Retry)
	return r, svc
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func postCallback(r *gin.Engine, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/disbursements/callback", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCallbackSettlesRequest(t *testing.T) {
	r, svc := setupCallbackRouter(t)
	ctx := context.Background()
	require.NoError(t, svc.CreateRequest(ctx, "dsp_cb1", "pi_cb1", 1200, "USD"))

	body := []byte(`{"disputeId":"dsp_cb1","status":"settled","externalRef":"ref_cb1"}`)
	w := postCallback(r, body, sign(body))
	assert.Equal(t, http.StatusOK, w.Code)

	req, err := svc.GetByDispute(ctx, "dsp_cb1")
	require.NoError(t, err)
	assert.Equal(t, StatusSettled, req.Status)
	assert.Equal(t, "ref_cb1", req.ExternalRef)
}

func TestCallbackRejectsBadSignature(t *testing.T) {
	r, svc := setupCallbackRouter(t)
	require.NoError(t, svc.CreateRequest(context.Background(), "dsp_cb2", "pi_cb2", 1200, "USD"))

	body := []byte(`{"disputeId":"dsp_cb2","status":"settled","externalRef":"ref_cb2"}`)

	w := postCallback(r, body, "deadbeef")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = postCallback(r, body, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req, err := svc.GetByDispute(context.Background(), "dsp_cb2")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, req.Status)
}

func TestCallbackDuplicateDeliveryReturnsRecordedOutcome(t *testing.T) {
	r, svc := setupCallbackRouter(t)
	require.NoError(t, svc.CreateRequest(context.Background(), "dsp_cb3", "pi_cb3", 1200, "USD"))

	body := []byte(`{"disputeId":"dsp_cb3","status":"settled","externalRef":"ref_cb3"}`)
	w := postCallback(r, body, sign(body))
	require.Equal(t, http.StatusOK, w.Code)

	// Redelivery of the same callback is answered 200 with the settled record.
	w = postCallback(r, body, sign(body))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"settled"`)
}

func TestCallbackFailureThenAdminRetry(t *testing.T) {
	r, svc := setupCallbackRouter(t)
	ctx := context.Background()
	require.NoError(t, svc.CreateRequest(ctx, "dsp_cb4", "pi_cb4", 1200, "USD"))

	// Drive the request to terminal failure through the callback.
	body := []byte(`{"disputeId":"dsp_cb4","status":"failed","reason":"declined"}`)
	for i := 0; i < 3; i++ {
		w := postCallback(r, body, sign(body))
		require.Equal(t, http.StatusOK, w.Code)
	}

	req, err := svc.GetByDispute(ctx, "dsp_cb4")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, req.Status)

	w := httptest.NewRecorder()
	httpReq := httptest.NewRequest(http.MethodPost, "/v1/admin/disbursements/"+req.ID+"/retry", nil)
	r.ServeHTTP(w, httpReq)
	assert.Equal(t, http.StatusOK, w.Code)

	req, err = svc.GetByDispute(ctx, "dsp_cb4")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, req.Status)
}

func TestCallbackUnknownDisputeReturns404(t *testing.T) {
	r, _ := setupCallbackRouter(t)

	body := []byte(`{"disputeId":"dsp_missing","status":"settled"}`)
	w := postCallback(r, body, sign(body))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
