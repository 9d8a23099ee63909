package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/storm-saas/storm/internal/models"
	"github.com/storm-saas/storm/internal/subscription"
	"github.com/storm-saas/storm/internal/usage"
)

// DashboardHandler aggregates the account overview in one response.
type DashboardHandler struct {
	db     *gorm.DB
	meter  *usage.Meter
	ledger *subscription.Ledger
}

// NewDashboardHandler constructs a DashboardHandler.
func NewDashboardHandler(conn *gorm.DB, meter *usage.Meter, ledger *subscription.Ledger) *DashboardHandler {
	return &DashboardHandler{db: conn, meter: meter, ledger: ledger}
}

// Stats returns counts, the current plan, monthly quota usage, a 30-day daily
// series and the most recent projects.
func (h *DashboardHandler) Stats(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	ctx := c.Request.Context()

	sub, errSub := h.ledger.GetOrCreate(ctx, user.ID)
	if errSub != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load subscription failed"})
		return
	}
	used, left, errUsage := h.meter.Remaining(ctx, user.ID, sub.Plan)
	if errUsage != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load usage failed"})
		return
	}

	var projectCount, keyCount int64
	if errCount := h.db.WithContext(ctx).Model(&models.Project{}).
		Where("owner_id = ? AND active = ?", user.ID, true).
		Count(&projectCount).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load stats failed"})
		return
	}
	if errCount := h.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("user_id = ? AND active = ?", user.ID, true).
		Count(&keyCount).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load stats failed"})
		return
	}

	now := time.Now().UTC()
	daily, errDaily := h.meter.AggregateByDay(ctx, user.ID, now.AddDate(0, 0, -30), now)
	if errDaily != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "aggregate usage failed"})
		return
	}

	var recent []models.Project
	if errFind := h.db.WithContext(ctx).
		Where("owner_id = ? AND active = ?", user.ID, true).
		Order("id DESC").Limit(5).
		Find(&recent).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load projects failed"})
		return
	}
	projects := make([]gin.H, 0, len(recent))
	for i := range recent {
		projects = append(projects, projectJSON(&recent[i], -1))
	}

	cfg := subscription.PlanFor(sub.Plan)
	c.JSON(http.StatusOK, gin.H{
		"plan":            sub.Plan,
		"status":          sub.Status,
		"projects":        projectCount,
		"api_keys":        keyCount,
		"monthly_calls":   used,
		"monthly_limit":   cfg.CallsPerMonth,
		"remaining":       left,
		"daily":           daily,
		"recent_projects": projects,
	})
}
