package dispute

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dukasoko/resolution/internal/auth"
	"github.com/dukasoko/resolution/internal/logging"
	"github.com/dukasoko/resolution/internal/pagination"
	"github.com/dukasoko/resolution/internal/validation"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Handler exposes the dispute workflow over HTTP.
type Handler struct {
	service *Service
}

// NewHandler creates a dispute handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// OpenRequest is the body for POST /v1/disputes.
type OpenRequest struct {
	OrderID     string          `json:"orderId"`
	SellerID    string          `json:"sellerId"`
	Category    string          `json:"category"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Amount      int64           `json:"amount"`
	Currency    string          `json:"currency"`
	Evidence    []EvidenceInput `json:"evidence"`
}

// Open handles POST /v1/disputes. The authenticated buyer is the claimant.
func (h *Handler) Open(c *gin.Context) {
	var req OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid JSON body",
		})
		return
	}

	d, err := h.service.Open(c.Request.Context(), OpenParams{
		BuyerID:     auth.UserID(c),
		SellerID:    req.SellerID,
		OrderID:     req.OrderID,
		Category:    Category(req.Category),
		Title:       req.Title,
		Description: req.Description,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Evidence:    req.Evidence,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, d)
}

// RespondRequest is the body for POST /v1/disputes/:id/response.
type RespondRequest struct {
	Response string          `json:"response"`
	Evidence []EvidenceInput `json:"evidence"`
}

// Respond handles the seller's first response.
func (h *Handler) Respond(c *gin.Context) {
	var req RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid JSON body",
		})
		return
	}

	d, err := h.service.SellerRespond(c.Request.Context(), c.Param("id"), auth.UserID(c), req.Response, req.Evidence)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, d)
}

// ProposeRequest is the body for POST /v1/disputes/:id/proposals.
type ProposeRequest struct {
	Kind   string `json:"kind"`
	Amount int64  `json:"amount"`
}

// Propose records a resolution offer from either party.
func (h *Handler) Propose(c *gin.Context) {
	var req ProposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid JSON body",
		})
		return
	}

	d, err := h.service.Propose(c.Request.Context(), c.Param("id"), auth.UserID(c), Resolution(req.Kind), req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, d)
}

// Accept accepts the counterpart's standing proposal.
func (h *Handler) Accept(c *gin.Context) {
	d, err := h.service.Accept(c.Request.Context(), c.Param("id"), auth.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, d)
}

// Escalate moves a negotiation to admin review at a party's request.
func (h *Handler) Escalate(c *gin.Context) {
	d, err := h.service.Escalate(c.Request.Context(), c.Param("id"), auth.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, d)
}

// DecideRequest is the body for POST /v1/disputes/:id/decision.
type DecideRequest struct {
	Kind      string `json:"kind"`
	Amount    int64  `json:"amount"`
	Reasoning string `json:"reasoning"`
}

// Decide records an admin decision. Route must be guarded by RequireRole(admin).
func (h *Handler) Decide(c *gin.Context) {
	var req DecideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid JSON body",
		})
		return
	}

	d, err := h.service.AdminDecide(c.Request.Context(), c.Param("id"), auth.UserID(c), Resolution(req.Kind), req.Amount, req.Reasoning)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, d)
}

// MessageRequest is the body for POST /v1/disputes/:id/messages.
type MessageRequest struct {
	Message  string         `json:"message"`
	Evidence *EvidenceInput `json:"evidence,omitempty"`
}

// AppendMessage posts a timeline message without changing state.
func (h *Handler) AppendMessage(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid JSON body",
		})
		return
	}

	entry, err := h.service.AppendMessage(c.Request.Context(), c.Param("id"), auth.UserID(c), Role(auth.Role(c)), req.Message, req.Evidence)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, entry)
}

// Get returns a single dispute.
func (h *Handler) Get(c *gin.Context) {
	d, err := h.service.Get(c.Request.Context(), c.Param("id"), auth.UserID(c), Role(auth.Role(c)))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, d)
}

// GetTimeline returns the dispute's timeline in creation order.
func (h *Handler) GetTimeline(c *gin.Context) {
	entries, err := h.service.GetTimeline(c.Request.Context(), c.Param("id"), auth.UserID(c), Role(auth.Role(c)))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// List returns the authenticated user's disputes, newest first.
// Buyers see disputes they opened; sellers see disputes against them.
func (h *Handler) List(c *gin.Context) {
	limit := pageSize(c)
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "Malformed pagination cursor",
		})
		return
	}

	var (
		items []*Dispute
		next  string
		more  bool
	)
	switch auth.Role(c) {
	case auth.RoleBuyer:
		items, next, more, err = h.service.ListForBuyer(c.Request.Context(), auth.UserID(c), limit, cursor)
	case auth.RoleSeller:
		items, next, more, err = h.service.ListForSeller(c.Request.Context(), auth.UserID(c), limit, cursor)
	default:
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Use the admin review queue endpoint",
		})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"disputes":   items,
		"count":      len(items),
		"nextCursor": next,
		"hasMore":    more,
	})
}

// ListPendingReview returns the admin arbitration queue.
func (h *Handler) ListPendingReview(c *gin.Context) {
	items, err := h.service.ListPendingReview(c.Request.Context(), pageSize(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"disputes": items,
		"count":    len(items),
	})
}

func pageSize(c *gin.Context) int {
	limit := defaultPageSize
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return limit
}

// respondError maps service errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	var verrs validation.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": verrs.Error(),
			"details": verrs,
		})
	case errors.Is(err, ErrDisputeNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "dispute_not_found",
			"message": "Dispute not found",
		})
	case errors.Is(err, ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_transition",
			"message": "Operation not allowed in the dispute's current state. Re-fetch and retry.",
		})
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "You are not a party to this dispute",
		})
	case errors.Is(err, ErrNoProposal):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "no_proposal",
			"message": "There is no standing proposal from the other party",
		})
	case errors.Is(err, ErrOwnProposal):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "own_proposal",
			"message": "You cannot accept your own proposal",
		})
	case errors.Is(err, ErrTooManyOpen):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "too_many_open_disputes",
			"message": "The seller has reached the open dispute limit",
		})
	case errors.Is(err, ErrTimelineClosed):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "dispute_closed",
			"message": "The dispute is closed and its timeline is read-only",
		})
	default:
		logging.L(c.Request.Context()).Error("dispute handler error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Something went wrong",
		})
	}
}
