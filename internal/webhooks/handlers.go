package webhooks

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dukasoko/resolution/internal/auth"
	"github.com/dukasoko/resolution/internal/idgen"
)

// Handler manages webhook subscriptions over HTTP.
type Handler struct {
	store Store
}

// NewHandler creates a webhook subscription handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// CreateRequest is the body for POST /v1/webhooks.
type CreateRequest struct {
	URL    string   `json:"url" binding:"required"`
	Events []string `json:"events" binding:"required"`
}

// Create registers a webhook for the authenticated user. Admin-created
// subscriptions are unscoped and receive events for every dispute.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "url and events are required",
		})
		return
	}

	parsed, err := url.Parse(req.URL)
	if err != nil || (parsed.Scheme != "https" && parsed.Scheme != "http") || parsed.Host == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_url",
			"message": "url must be an absolute http(s) URL",
		})
		return
	}

	events := make([]EventType, 0, len(req.Events))
	for _, e := range req.Events {
		et := EventType(e)
		if !ValidEventType(et) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_event",
				"message": "Unknown event type: " + e,
			})
			return
		}
		events = append(events, et)
	}

	ownerID := auth.UserID(c)
	if auth.Role(c) == auth.RoleAdmin {
		ownerID = ""
	}

	sub := &Subscription{
		ID:        idgen.WithPrefix("whs_"),
		OwnerID:   ownerID,
		URL:       req.URL,
		Secret:    idgen.Hex(32),
		Events:    events,
		Active:    true,
		CreatedAt: time.Now(),
	}

	if err := h.store.Create(c.Request.Context(), sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "create_failed",
			"message": "Failed to create subscription",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"subscription": sub,
		"secret":       sub.Secret, // Only shown once.
		"usage": gin.H{
			"signature": "Verify with HMAC-SHA256(payload, secret)",
			"header":    "X-Resolution-Signature",
		},
	})
}

// List returns the authenticated user's subscriptions.
func (h *Handler) List(c *gin.Context) {
	subs, err := h.store.GetByOwner(c.Request.Context(), auth.UserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list subscriptions",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subscriptions": subs,
		"count":         len(subs),
	})
}

// Delete removes a subscription. Owners delete their own; admins any.
func (h *Handler) Delete(c *gin.Context) {
	sub, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	if sub.OwnerID != auth.UserID(c) && auth.Role(c) != auth.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "You do not own this subscription",
		})
		return
	}

	if err := h.store.Delete(c.Request.Context(), sub.ID); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *Handler) respondError(c *gin.Context, err error) {
	if errors.Is(err, ErrSubscriptionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Subscription not found",
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": "Something went wrong",
	})
}
