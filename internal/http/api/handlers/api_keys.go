package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/storm-saas/storm/internal/apikeys"
	"github.com/storm-saas/storm/internal/models"
	"github.com/storm-saas/storm/internal/security"
)

// APIKeyHandler manages API keys owned by the current user.
type APIKeyHandler struct {
	keys *apikeys.Registry
}

// NewAPIKeyHandler constructs an APIKeyHandler.
func NewAPIKeyHandler(keys *apikeys.Registry) *APIKeyHandler {
	return &APIKeyHandler{keys: keys}
}

func apiKeyJSON(key *models.APIKey) gin.H {
	return gin.H{
		"id":          key.ID,
		"name":        key.Name,
		"project_id":  key.ProjectID,
		"rate_limit":  key.RateLimit,
		"usage_count": key.UsageCount,
		"last_used":   key.LastUsed,
		"expires_at":  key.ExpiresAt,
		"created_at":  key.CreatedAt,
	}
}

// Create issues a new API key. The plaintext is returned once and never again.
func (h *APIKeyHandler) Create(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var body struct {
		Name      string     `json:"name"`
		ProjectID *uint64    `json:"project_id"`
		ExpiresAt *time.Time `json:"expires_at"`
		RateLimit int        `json:"rate_limit"`
	}
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing name"})
		return
	}
	if body.RateLimit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rate limit"})
		return
	}
	if body.ExpiresAt != nil && body.ExpiresAt.Before(time.Now()) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expiry in the past"})
		return
	}

	key, plaintext, errIssue := h.keys.Issue(c.Request.Context(), user.ID, apikeys.IssueOptions{
		Name:      strings.TrimSpace(body.Name),
		ProjectID: body.ProjectID,
		ExpiresAt: body.ExpiresAt,
		RateLimit: body.RateLimit,
	})
	if errIssue != nil {
		if errors.Is(errIssue, apikeys.ErrQuotaExceeded) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "api key limit reached for current plan"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create api key failed"})
		return
	}

	out := apiKeyJSON(key)
	out["key"] = plaintext
	out["key_preview"] = security.APIKeyPreview(plaintext)
	c.JSON(http.StatusCreated, out)
}

// List returns the current user's active API keys.
func (h *APIKeyHandler) List(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	keys, errList := h.keys.List(c.Request.Context(), user.ID)
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list api keys failed"})
		return
	}
	out := make([]gin.H, 0, len(keys))
	for i := range keys {
		out = append(out, apiKeyJSON(&keys[i]))
	}
	c.JSON(http.StatusOK, gin.H{"api_keys": out})
}

// Revoke deactivates an API key owned by the current user.
func (h *APIKeyHandler) Revoke(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if errRevoke := h.keys.Revoke(c.Request.Context(), user.ID, id); errRevoke != nil {
		if errors.Is(errRevoke, apikeys.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "api key not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "revoke api key failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
