package disbursement

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dukasoko/resolution/internal/logging"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw callback body.
const SignatureHeader = "X-Gateway-Signature"

// Handler exposes the gateway callback and admin endpoints.
type Handler struct {
	service *Service
	secret  string
}

// NewHandler creates a disbursement handler. secret verifies callback
// signatures; when empty (local development) verification is skipped.
func NewHandler(service *Service, secret string) *Handler {
	return &Handler{service: service, secret: secret}
}

type callbackRequest struct {
	DisputeID   string `json:"disputeId" binding:"required"`
	Status      string `json:"status" binding:"required"`
	ExternalRef string `json:"externalRef"`
	Reason      string `json:"reason"`
}

// Callback handles POST /v1/disbursements/callback. The gateway reports
// terminal outcomes here; duplicate deliveries get the recorded outcome.
func (h *Handler) Callback(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body", "message": "Failed to read request body"})
		return
	}

	if h.secret != "" && !h.verifySignature(body, c.GetHeader(SignatureHeader)) {
		logging.L(c.Request.Context()).Warn("gateway callback signature mismatch")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_signature", "message": "Callback signature verification failed"})
		return
	}

	var req callbackRequest
	if err := json.Unmarshal(body, &req); err != nil || req.DisputeID == "" || req.Status == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "disputeId and status are required"})
		return
	}

	var result *Request
	switch req.Status {
	case "settled":
		result, err = h.service.Settle(c.Request.Context(), req.DisputeID, req.ExternalRef)
	case "failed":
		reason := req.Reason
		if reason == "" {
			reason = "gateway reported failure"
		}
		result, err = h.service.Fail(c.Request.Context(), req.DisputeID, reason)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status", "message": "status must be settled or failed"})
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) verifySignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Get handles GET /v1/admin/disbursements/:id.
func (h *Handler) Get(c *gin.Context) {
	req, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// GetByDispute handles GET /v1/admin/disputes/:id/disbursement.
func (h *Handler) GetByDispute(c *gin.Context) {
	req, err := h.service.GetByDispute(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// Retry handles POST /v1/admin/disbursements/:id/retry. Re-queues a
// terminally failed request for the dispatch worker.
func (h *Handler) Retry(c *gin.Context) {
	req, err := h.service.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrRequestNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Disbursement request not found"})
	case errors.Is(err, ErrAlreadySettled):
		c.JSON(http.StatusConflict, gin.H{"error": "already_settled", "message": "Disbursement has already settled"})
	default:
		logging.L(c.Request.Context()).Error("disbursement handler error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "An internal error occurred"})
	}
}
