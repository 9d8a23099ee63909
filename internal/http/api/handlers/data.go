package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/storm-saas/storm/internal/models"
	"github.com/storm-saas/storm/internal/subscription"
	"github.com/storm-saas/storm/internal/usage"
)

// DataHandler serves the API-key data plane.
type DataHandler struct {
	meter  *usage.Meter
	ledger *subscription.Ledger
}

// NewDataHandler constructs a DataHandler.
func NewDataHandler(meter *usage.Meter, ledger *subscription.Ledger) *DataHandler {
	return &DataHandler{meter: meter, ledger: ledger}
}

func planFromContext(c *gin.Context) models.SubscriptionPlan {
	if v, exists := c.Get("plan"); exists {
		if plan, ok := v.(models.SubscriptionPlan); ok {
			return plan
		}
	}
	return models.PlanFree
}

// Ping answers a metered liveness check.
func (h *DataHandler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pong": true, "time": time.Now().UTC()})
}

// Me describes the calling key and its plan.
func (h *DataHandler) Me(c *gin.Context) {
	key, ok := currentAPIKey(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"key_id":     key.ID,
		"key_name":   key.Name,
		"project_id": key.ProjectID,
		"plan":       planFromContext(c),
		"expires_at": key.ExpiresAt,
	})
}

// Usage reports the key owner's monthly quota consumption.
func (h *DataHandler) Usage(c *gin.Context) {
	key, ok := currentAPIKey(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	plan := planFromContext(c)
	used, left, errUsage := h.meter.Remaining(c.Request.Context(), key.UserID, plan)
	if errUsage != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load usage failed"})
		return
	}
	cfg := subscription.PlanFor(plan)
	c.JSON(http.StatusOK, gin.H{
		"plan":      plan,
		"limit":     cfg.CallsPerMonth,
		"used":      used,
		"remaining": left,
		"unlimited": cfg.Unlimited(),
	})
}
