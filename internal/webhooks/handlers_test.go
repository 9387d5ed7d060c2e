package webhooks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukasoko/resolution/internal/auth"
	"github.com/dukasoko/resolution/internal/idgen"
)

func setupRouter(store Store, userID, role string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(store)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(auth.ContextKeyUserID, userID)
		c.Set(auth.ContextKeyRole, role)
		c.Next()
	})
	r.POST("/v1/webhooks", h.Create)
	r.GET("/v1/webhooks", h.List)
	r.DELETE("/v1/webhooks/:id", h.Delete)
	return r
}

func TestCreateSubscription(t *testing.T) {
	store := NewMemoryStore()
	r := setupRouter(store, "usr_seller1", auth.RoleSeller)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks",
		strings.NewReader(`{"url": "https://example.com/hooks", "events": ["dispute.opened", "dispute.resolved"]}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"secret"`)

	subs, err := store.GetByOwner(context.Background(), "usr_seller1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "usr_seller1", subs[0].OwnerID)
	assert.True(t, subs[0].Active)
}

func TestCreateSubscriptionValidation(t *testing.T) {
	store := NewMemoryStore()
	r := setupRouter(store, "usr_seller1", auth.RoleSeller)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks",
		strings.NewReader(`{"url": "https://example.com/hooks", "events": ["dispute.imaginary"]}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_event")

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/webhooks",
		strings.NewReader(`{"url": "not-a-url", "events": ["dispute.opened"]}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_url")
}

func TestAdminSubscriptionIsUnscoped(t *testing.T) {
	store := NewMemoryStore()
	r := setupRouter(store, "usr_admin1", auth.RoleAdmin)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks",
		strings.NewReader(`{"url": "https://ops.example.com/feed", "events": ["refund.failed"]}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	subs, err := store.GetByEvent(context.Background(), EventRefundFailed)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Empty(t, subs[0].OwnerID)
}

func TestDeleteSubscriptionOwnership(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sub := &Subscription{
		ID: idgen.WithPrefix("whs_"), OwnerID: "usr_owner", URL: "https://example.com/h",
		Secret: idgen.Hex(32), Events: []EventType{EventDisputeOpened}, Active: true, CreatedAt: time.Now(),
	}
	require.NoError(t, store.Create(ctx, sub))

	// A different user cannot delete it.
	r := setupRouter(store, "usr_other", auth.RoleBuyer)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/v1/webhooks/"+sub.ID, nil))
	assert.Equal(t, http.StatusForbidden, w.Code)

	// The owner can.
	r = setupRouter(store, "usr_owner", auth.RoleBuyer)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/v1/webhooks/"+sub.ID, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	_, err := store.Get(ctx, sub.ID)
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}
