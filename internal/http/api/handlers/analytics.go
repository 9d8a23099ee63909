package handlers

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/storm-saas/storm/internal/subscription"
	"github.com/storm-saas/storm/internal/usage"
)

// AnalyticsHandler serves usage analytics for the authenticated user.
type AnalyticsHandler struct {
	meter  *usage.Meter
	ledger *subscription.Ledger
}

// NewAnalyticsHandler constructs an AnalyticsHandler.
func NewAnalyticsHandler(meter *usage.Meter, ledger *subscription.Ledger) *AnalyticsHandler {
	return &AnalyticsHandler{meter: meter, ledger: ledger}
}

// Summary returns totals, mean latency and error rate for the window.
func (h *AnalyticsHandler) Summary(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	start, end, ok := analyticsWindow(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date range"})
		return
	}
	summary, errSum := h.meter.Summarize(c.Request.Context(), user.ID, start, end)
	if errSum != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "summarize usage failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"from":        start.Format("2006-01-02"),
		"to":          end.AddDate(0, 0, -1).Format("2006-01-02"),
		"total_calls": summary.TotalCalls,
		"avg_latency": summary.AvgLatency,
		"error_rate":  summary.ErrorRate,
	})
}

// Daily returns per-day call counts and mean latency.
func (h *AnalyticsHandler) Daily(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	start, end, ok := analyticsWindow(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date range"})
		return
	}
	days, errAgg := h.meter.AggregateByDay(c.Request.Context(), user.ID, start, end)
	if errAgg != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "aggregate usage failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"daily": days})
}

// Endpoints returns the most-called endpoints in the window.
func (h *AnalyticsHandler) Endpoints(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	start, end, ok := analyticsWindow(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date range"})
		return
	}
	limit, errParse := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if errParse != nil || limit <= 0 || limit > 100 {
		limit = 10
	}
	endpoints, errTop := h.meter.TopEndpoints(c.Request.Context(), user.ID, start, end, limit)
	if errTop != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "aggregate usage failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"endpoints": endpoints})
}

// Statuses returns call counts grouped by response status code.
func (h *AnalyticsHandler) Statuses(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	start, end, ok := analyticsWindow(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date range"})
		return
	}
	statuses, errAgg := h.meter.StatusBreakdown(c.Request.Context(), user.ID, start, end)
	if errAgg != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "aggregate usage failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"statuses": statuses})
}

// Hours returns call counts grouped by hour of day.
func (h *AnalyticsHandler) Hours(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	start, end, ok := analyticsWindow(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date range"})
		return
	}
	hours, errAgg := h.meter.ByHour(c.Request.Context(), user.ID, start, end)
	if errAgg != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "aggregate usage failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"hours": hours})
}

// Recent returns the latest individual API calls.
func (h *AnalyticsHandler) Recent(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	limit, errParse := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if errParse != nil || limit <= 0 || limit > 500 {
		limit = 50
	}
	records, errList := h.meter.Recent(c.Request.Context(), user.ID, limit)
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list usage failed"})
		return
	}

	out := make([]gin.H, 0, len(records))
	for _, r := range records {
		out = append(out, gin.H{
			"endpoint":    r.Endpoint,
			"method":      r.Method,
			"status_code": r.StatusCode,
			"latency_ms":  r.LatencyMs,
			"timestamp":   r.Timestamp,
		})
	}
	c.JSON(http.StatusOK, gin.H{"calls": out})
}

// ExportCSV streams the window's raw usage records as a CSV attachment.
func (h *AnalyticsHandler) ExportCSV(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	start, end, ok := analyticsWindow(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date range"})
		return
	}
	records, errList := h.meter.ListInWindow(c.Request.Context(), user.ID, start, end)
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list usage failed"})
		return
	}

	filename := fmt.Sprintf("usage_%s_%s.csv",
		start.Format("20060102"), end.AddDate(0, 0, -1).Format("20060102"))
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{"timestamp", "endpoint", "method", "status_code", "latency_ms"})
	for _, r := range records {
		_ = w.Write([]string{
			r.Timestamp.UTC().Format(time.RFC3339),
			r.Endpoint,
			r.Method,
			strconv.Itoa(r.StatusCode),
			strconv.FormatFloat(r.LatencyMs, 'f', 3, 64),
		})
	}
	w.Flush()
}
