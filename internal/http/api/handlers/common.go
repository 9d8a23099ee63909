// Package handlers implements the HTTP endpoint handlers.
package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/storm-saas/storm/internal/models"
)

// currentUser returns the user loaded by the auth middleware.
func currentUser(c *gin.Context) (*models.User, bool) {
	v, exists := c.Get("user")
	if !exists {
		return nil, false
	}
	user, ok := v.(*models.User)
	return user, ok && user != nil
}

// currentAPIKey returns the key loaded by the data plane middleware.
func currentAPIKey(c *gin.Context) (*models.APIKey, bool) {
	v, exists := c.Get("apiKey")
	if !exists {
		return nil, false
	}
	key, ok := v.(*models.APIKey)
	return key, ok && key != nil
}

// parseIDParam parses a numeric path parameter, responding 400 on failure.
func parseIDParam(c *gin.Context, name string) (uint64, bool) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param(name)), 10, 64)
	if errParse != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// analyticsWindow parses optional from/to query parameters (YYYY-MM-DD,
// half-open) and defaults to the last 30 days.
func analyticsWindow(c *gin.Context) (time.Time, time.Time, bool) {
	now := time.Now().UTC()
	start := now.AddDate(0, 0, -30)
	end := now

	if raw := strings.TrimSpace(c.Query("from")); raw != "" {
		parsed, errParse := time.Parse("2006-01-02", raw)
		if errParse != nil {
			return time.Time{}, time.Time{}, false
		}
		start = parsed
	}
	if raw := strings.TrimSpace(c.Query("to")); raw != "" {
		parsed, errParse := time.Parse("2006-01-02", raw)
		if errParse != nil {
			return time.Time{}, time.Time{}, false
		}
		// An inclusive end date covers the whole day.
		end = parsed.AddDate(0, 0, 1)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}
