package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dukasoko/resolution/internal/idgen"
)

// Handler provides HTTP endpoints for auth management
type Handler struct {
	manager     *Manager
	adminSecret string
}

// NewHandler creates a new auth handler. adminSecret gates admin key issuance;
// if empty, the bootstrap endpoint is disabled.
func NewHandler(m *Manager, adminSecret string) *Handler {
	return &Handler{manager: m, adminSecret: adminSecret}
}

// Info returns auth configuration info
func (h *Handler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"type":      "api_key",
		"header":    "Authorization: Bearer sk_...",
		"altHeader": "X-API-Key: sk_...",
		"roles":     []string{RoleBuyer, RoleSeller, RoleAdmin},
		"note":      "API keys are issued per user and shown once. Store them securely.",
	})
}

// RegisterRequest is the request body for registering a user key
type RegisterRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	Name   string `json:"name"`
}

// Register issues a key for a buyer or seller. Admin keys go through Bootstrap.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid JSON body",
		})
		return
	}

	if req.Role != RoleBuyer && req.Role != RoleSeller {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_role",
			"message": "role must be buyer or seller",
		})
		return
	}

	if req.UserID == "" {
		req.UserID = idgen.WithPrefix("usr_")
	}
	if req.Name == "" {
		req.Name = "Default key"
	}

	rawKey, key, err := h.manager.GenerateKey(c.Request.Context(), req.UserID, req.Role, req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "key_creation_failed",
			"message": "Failed to create API key",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"apiKey":  rawKey,
		"keyId":   key.ID,
		"userId":  key.UserID,
		"role":    key.Role,
		"warning": "Store this key securely. It will not be shown again.",
	})
}

// BootstrapRequest is the request body for issuing an admin key
type BootstrapRequest struct {
	Secret string `json:"secret"`
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// Bootstrap issues an admin key when the caller presents the admin secret.
func (h *Handler) Bootstrap(c *gin.Context) {
	if h.adminSecret == "" {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "bootstrap_disabled",
			"message": "Admin bootstrap is not configured",
		})
		return
	}

	var req BootstrapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid JSON body",
		})
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.Secret), []byte(h.adminSecret)) != 1 {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Invalid admin secret",
		})
		return
	}

	if req.UserID == "" {
		req.UserID = idgen.WithPrefix("usr_")
	}
	if req.Name == "" {
		req.Name = "Admin key"
	}

	rawKey, key, err := h.manager.GenerateKey(c.Request.Context(), req.UserID, RoleAdmin, req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "key_creation_failed",
			"message": "Failed to create API key",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"apiKey":  rawKey,
		"keyId":   key.ID,
		"userId":  key.UserID,
		"role":    key.Role,
		"warning": "Store this key securely. It will not be shown again.",
	})
}

// ListKeys returns API keys for the authenticated user
func (h *Handler) ListKeys(c *gin.Context) {
	key, ok := GetAPIKey(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	keys, err := h.manager.ListKeys(c.Request.Context(), key.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to list keys",
		})
		return
	}

	// Don't expose hashes
	safeKeys := make([]gin.H, len(keys))
	for i, k := range keys {
		safeKeys[i] = gin.H{
			"id":        k.ID,
			"name":      k.Name,
			"role":      k.Role,
			"createdAt": k.CreatedAt,
			"lastUsed":  k.LastUsed,
			"revoked":   k.Revoked,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"keys":  safeKeys,
		"count": len(safeKeys),
	})
}

// RevokeKey revokes an API key owned by the authenticated user
func (h *Handler) RevokeKey(c *gin.Context) {
	key, ok := GetAPIKey(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	keyID := c.Param("keyId")

	// Prevent revoking current key
	if keyID == key.ID {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "cannot_revoke_current",
			"message": "Cannot revoke the key you're using",
		})
		return
	}

	if err := h.manager.RevokeKey(c.Request.Context(), keyID, key.UserID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "key_not_found",
			"message": "Key not found or already revoked",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Key revoked",
		"keyId":   keyID,
	})
}

// Whoami returns info about the authenticated user
func (h *Handler) Whoami(c *gin.Context) {
	key, ok := GetAPIKey(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"userId":    key.UserID,
		"role":      key.Role,
		"keyId":     key.ID,
		"keyName":   key.Name,
		"createdAt": key.CreatedAt,
		"lastUsed":  key.LastUsed,
	})
}
