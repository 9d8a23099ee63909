package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/storm-saas/storm/internal/db"
	"github.com/storm-saas/storm/internal/models"
)

// AdminHandler serves the administrative user and statistics endpoints.
type AdminHandler struct {
	db *gorm.DB
}

// NewAdminHandler constructs an AdminHandler.
func NewAdminHandler(conn *gorm.DB) *AdminHandler {
	return &AdminHandler{db: conn}
}

func adminUserJSON(u *models.User, sub *models.Subscription) gin.H {
	out := gin.H{
		"id":         u.ID,
		"email":      u.Email,
		"username":   u.Username,
		"full_name":  u.FullName,
		"role":       u.Role,
		"active":     u.Active,
		"verified":   u.Verified,
		"last_login": u.LastLogin,
		"created_at": u.CreatedAt,
	}
	if sub != nil {
		out["plan"] = sub.Plan
		out["subscription_status"] = sub.Status
	}
	return out
}

// ListUsers pages through accounts, optionally filtered by a search term,
// role or active state.
func (h *AdminHandler) ListUsers(c *gin.Context) {
	page, errPage := strconv.Atoi(c.DefaultQuery("page", "1"))
	if errPage != nil || page < 1 {
		page = 1
	}
	size, errSize := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if errSize != nil || size < 1 || size > 100 {
		size = 20
	}

	query := h.db.WithContext(c.Request.Context()).Model(&models.User{})
	if search := c.Query("search"); search != "" {
		pattern := db.NormalizeLikePattern(h.db, "%"+search+"%")
		like := db.CaseInsensitiveLikeExpr(h.db, "email") + " OR " + db.CaseInsensitiveLikeExpr(h.db, "username")
		query = query.Where(like, pattern, pattern)
	}
	if role := c.Query("role"); role != "" {
		query = query.Where("role = ?", role)
	}
	switch c.Query("active") {
	case "true":
		query = query.Where("active = ?", true)
	case "false":
		query = query.Where("active = ?", false)
	}

	var total int64
	if errCount := query.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list users failed"})
		return
	}
	var users []models.User
	if errFind := query.Preload("Subscription").
		Order("id DESC").
		Offset((page - 1) * size).
		Limit(size).
		Find(&users).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list users failed"})
		return
	}

	out := make([]gin.H, 0, len(users))
	for i := range users {
		out = append(out, adminUserJSON(&users[i], users[i].Subscription))
	}
	c.JSON(http.StatusOK, gin.H{
		"users":     out,
		"total":     total,
		"page":      page,
		"page_size": size,
	})
}

// GetUser returns one account with its subscription and key count.
func (h *AdminHandler) GetUser(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).
		Preload("Subscription").
		First(&user, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "load user failed"})
		}
		return
	}

	var keys int64
	h.db.WithContext(c.Request.Context()).Model(&models.APIKey{}).
		Where("user_id = ? AND active = ?", user.ID, true).
		Count(&keys)

	out := adminUserJSON(&user, user.Subscription)
	out["api_key_count"] = keys
	c.JSON(http.StatusOK, out)
}

func (h *AdminHandler) setUserActive(c *gin.Context, active bool) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	admin, _ := currentUser(c)
	if admin != nil && admin.ID == id && !active {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot disable own account"})
		return
	}

	res := h.db.WithContext(c.Request.Context()).Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]any{"active": active, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update user failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// DisableUser blocks an account from signing in.
func (h *AdminHandler) DisableUser(c *gin.Context) { h.setUserActive(c, false) }

// EnableUser re-enables a disabled account.
func (h *AdminHandler) EnableUser(c *gin.Context) { h.setUserActive(c, true) }

// Stats returns platform-wide account and subscription counters.
func (h *AdminHandler) Stats(c *gin.Context) {
	ctx := c.Request.Context()

	var totalUsers, activeUsers int64
	if errCount := h.db.WithContext(ctx).Model(&models.User{}).Count(&totalUsers).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load stats failed"})
		return
	}
	h.db.WithContext(ctx).Model(&models.User{}).Where("active = ?", true).Count(&activeUsers)

	type planRow struct {
		Plan  models.SubscriptionPlan
		Total int64
	}
	var rows []planRow
	if errGroup := h.db.WithContext(ctx).Model(&models.Subscription{}).
		Select("plan, COUNT(*) AS total").
		Group("plan").
		Scan(&rows).Error; errGroup != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load stats failed"})
		return
	}
	plans := gin.H{}
	for _, row := range rows {
		plans[string(row.Plan)] = row.Total
	}

	var activeKeys int64
	h.db.WithContext(ctx).Model(&models.APIKey{}).Where("active = ?", true).Count(&activeKeys)

	since := time.Now().UTC().Add(-24 * time.Hour)
	var callsLastDay int64
	h.db.WithContext(ctx).Model(&models.UsageRecord{}).
		Where("timestamp >= ?", since).
		Count(&callsLastDay)

	c.JSON(http.StatusOK, gin.H{
		"total_users":     totalUsers,
		"active_users":    activeUsers,
		"plans":           plans,
		"active_api_keys": activeKeys,
		"calls_last_24h":  callsLastDay,
	})
}
