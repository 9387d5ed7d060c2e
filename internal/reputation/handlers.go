package reputation

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dukasoko/resolution/internal/logging"
)

// Handler exposes reputation reads over HTTP. There is no write endpoint;
// scores move only as a side effect of dispute transitions.
type Handler struct {
	ledger *Ledger
}

// NewHandler creates a reputation handler.
func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// GetScore handles GET /v1/sellers/:id/reputation.
func (h *Handler) GetScore(c *gin.Context) {
	sellerID := c.Param("id")

	score, err := h.ledger.Score(c.Request.Context(), sellerID)
	if err != nil {
		logging.L(c.Request.Context()).Error("get reputation score failed", "seller_id", sellerID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Something went wrong",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sellerId": sellerID,
		"score":    score,
		"tier":     Tier(score),
	})
}

// GetHistory handles GET /v1/sellers/:id/reputation/history (admin only).
func (h *Handler) GetHistory(c *gin.Context) {
	sellerID := c.Param("id")

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	deltas, err := h.ledger.History(c.Request.Context(), sellerID, limit)
	if err != nil {
		logging.L(c.Request.Context()).Error("get reputation history failed", "seller_id", sellerID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Something went wrong",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sellerId": sellerID,
		"deltas":   deltas,
		"count":    len(deltas),
	})
}
