package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/storm-saas/storm/internal/models"
)

// NotificationHandler serves the per-user notification feed.
type NotificationHandler struct {
	db *gorm.DB
}

// NewNotificationHandler constructs a NotificationHandler.
func NewNotificationHandler(db *gorm.DB) *NotificationHandler {
	return &NotificationHandler{db: db}
}

// List returns the current user's notifications, newest first.
func (h *NotificationHandler) List(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	unreadOnly := c.Query("unread") == "true"
	limit, errParse := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if errParse != nil || limit <= 0 || limit > 200 {
		limit = 50
	}

	query := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", user.ID)
	if unreadOnly {
		query = query.Where("read = ?", false)
	}

	var items []models.Notification
	if errFind := query.Order("id DESC").Limit(limit).Find(&items).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list notifications failed"})
		return
	}
	var unread int64
	if errCount := h.db.WithContext(c.Request.Context()).Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", user.ID, false).
		Count(&unread).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list notifications failed"})
		return
	}

	out := make([]gin.H, 0, len(items))
	for _, n := range items {
		out = append(out, gin.H{
			"id":         n.ID,
			"title":      n.Title,
			"message":    n.Message,
			"kind":       n.Kind,
			"read":       n.Read,
			"created_at": n.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"notifications": out, "unread": unread})
}

// MarkRead marks a single notification as read.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	now := time.Now().UTC()
	res := h.db.WithContext(c.Request.Context()).Model(&models.Notification{}).
		Where("id = ? AND user_id = ? AND read = ?", id, user.ID, false).
		Updates(map[string]any{"read": true, "read_at": &now})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "mark read failed"})
		return
	}
	if res.RowsAffected == 0 {
		var count int64
		h.db.WithContext(c.Request.Context()).Model(&models.Notification{}).
			Where("id = ? AND user_id = ?", id, user.ID).
			Count(&count)
		if count == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// MarkAllRead marks every unread notification of the current user as read.
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	now := time.Now().UTC()
	res := h.db.WithContext(c.Request.Context()).Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", user.ID, false).
		Updates(map[string]any{"read": true, "read_at": &now})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "mark read failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "updated": res.RowsAffected})
}
