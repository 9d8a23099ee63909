// Package usage meters API calls: an append-only record per request plus the
// aggregate queries behind quotas, dashboards and analytics.
package usage

import (
	"context"
	"time"

	"github.com/storm-saas/storm/internal/db"
	"github.com/storm-saas/storm/internal/models"
	"github.com/storm-saas/storm/internal/subscription"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// recordTimeout bounds the detached write so a slow database cannot hold a
// request goroutine.
const recordTimeout = 5 * time.Second

// Meter records and aggregates API usage.
type Meter struct {
	db *gorm.DB
}

// NewMeter constructs a Meter backed by conn.
func NewMeter(conn *gorm.DB) *Meter { return &Meter{db: conn} }

// Event describes one served API call.
type Event struct {
	UserID     uint64
	APIKeyID   *uint64
	Endpoint   string
	Method     string
	StatusCode int
	LatencyMs  float64
	Timestamp  time.Time
	IPAddress  string
	UserAgent  string
}

// Record persists an event. It never fails the caller: metering runs after
// the response is written, so a failed insert is logged and dropped. The
// write uses a detached context because the request context is already done.
func (m *Meter) Record(event Event) {
	if m == nil || m.db == nil {
		return
	}

	dbCtx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	row := models.UsageRecord{
		UserID:     event.UserID,
		APIKeyID:   event.APIKeyID,
		Endpoint:   event.Endpoint,
		Method:     event.Method,
		StatusCode: event.StatusCode,
		LatencyMs:  event.LatencyMs,
		Timestamp:  normalizeTime(event.Timestamp),
		IPAddress:  event.IPAddress,
		UserAgent:  event.UserAgent,
	}
	if errCreate := m.db.WithContext(dbCtx).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).Warn("usage meter: failed to persist usage record")
	}
}

// CountInWindow counts a user's calls in the half-open window [start, end).
func (m *Meter) CountInWindow(ctx context.Context, userID uint64, start, end time.Time) (int64, error) {
	var count int64
	errCount := m.db.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Where("user_id = ? AND timestamp >= ? AND timestamp < ?", userID, start.UTC(), end.UTC()).
		Count(&count).Error
	if errCount != nil {
		return 0, errCount
	}
	return count, nil
}

// MonthWindow returns the calendar-month quota window containing now, UTC.
func MonthWindow(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// Remaining reports a user's calls used and left in the current month under
// the given plan. Unlimited plans report subscription.UnlimitedCalls left.
func (m *Meter) Remaining(ctx context.Context, userID uint64, plan models.SubscriptionPlan) (used, left int64, err error) {
	start, end := MonthWindow(time.Now())
	used, err = m.CountInWindow(ctx, userID, start, end)
	if err != nil {
		return 0, 0, err
	}

	quota := subscription.PlanFor(plan)
	if quota.Unlimited() {
		return used, subscription.UnlimitedCalls, nil
	}
	left = int64(quota.CallsPerMonth) - used
	if left < 0 {
		left = 0
	}
	return used, left, nil
}

// DailyUsage is one day's call count, error count and mean latency.
type DailyUsage struct {
	Day        string  `json:"date"`
	Calls      int64   `json:"calls"`
	Errors     int64   `json:"errors"`
	AvgLatency float64 `json:"avg_latency_ms"`
}

// AggregateByDay groups a user's calls per day over [start, end). Days with
// no traffic produce no row.
func (m *Meter) AggregateByDay(ctx context.Context, userID uint64, start, end time.Time) ([]DailyUsage, error) {
	dayExpr := db.DateExpr(m.db, "timestamp")
	var out []DailyUsage
	errScan := m.db.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Select(dayExpr + " AS day, COUNT(*) AS calls, " +
			"SUM(CASE WHEN status_code >= 400 THEN 1 ELSE 0 END) AS errors, " +
			"COALESCE(AVG(latency_ms), 0) AS avg_latency").
		Where("user_id = ? AND timestamp >= ? AND timestamp < ?", userID, start.UTC(), end.UTC()).
		Group("day").
		Order("day ASC").
		Scan(&out).Error
	if errScan != nil {
		return nil, errScan
	}
	return out, nil
}

// EndpointUsage is the aggregate for one endpoint.
type EndpointUsage struct {
	Endpoint   string  `json:"endpoint"`
	Calls      int64   `json:"calls"`
	AvgLatency float64 `json:"avg_latency_ms"`
}

// TopEndpoints returns the user's busiest endpoints in the window.
func (m *Meter) TopEndpoints(ctx context.Context, userID uint64, start, end time.Time, limit int) ([]EndpointUsage, error) {
	var out []EndpointUsage
	errScan := m.db.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Select("endpoint, COUNT(*) AS calls, COALESCE(AVG(latency_ms), 0) AS avg_latency").
		Where("user_id = ? AND timestamp >= ? AND timestamp < ?", userID, start.UTC(), end.UTC()).
		Group("endpoint").
		Order("calls DESC").
		Limit(limit).
		Scan(&out).Error
	if errScan != nil {
		return nil, errScan
	}
	return out, nil
}

// StatusCount is the call count for one response status code.
type StatusCount struct {
	StatusCode int   `json:"status_code"`
	Calls      int64 `json:"calls"`
}

// StatusBreakdown groups the user's calls by response status.
func (m *Meter) StatusBreakdown(ctx context.Context, userID uint64, start, end time.Time) ([]StatusCount, error) {
	var out []StatusCount
	errScan := m.db.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Select("status_code, COUNT(*) AS calls").
		Where("user_id = ? AND timestamp >= ? AND timestamp < ?", userID, start.UTC(), end.UTC()).
		Group("status_code").
		Order("status_code ASC").
		Scan(&out).Error
	if errScan != nil {
		return nil, errScan
	}
	return out, nil
}

// HourCount is the call count for one hour of day, 0 through 23.
type HourCount struct {
	Hour  int   `json:"hour"`
	Calls int64 `json:"calls"`
}

// ByHour groups the user's calls by UTC hour of day across the window.
func (m *Meter) ByHour(ctx context.Context, userID uint64, start, end time.Time) ([]HourCount, error) {
	hourExpr := db.HourExpr(m.db, "timestamp")
	var out []HourCount
	errScan := m.db.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Select(hourExpr+" AS hour, COUNT(*) AS calls").
		Where("user_id = ? AND timestamp >= ? AND timestamp < ?", userID, start.UTC(), end.UTC()).
		Group("hour").
		Order("hour ASC").
		Scan(&out).Error
	if errScan != nil {
		return nil, errScan
	}
	return out, nil
}

// Summary is the dashboard roll-up for one user and window.
type Summary struct {
	TotalCalls int64   `json:"total_calls"`
	AvgLatency float64 `json:"avg_latency_ms"`
	ErrorRate  float64 `json:"error_rate"`
}

// Summarize computes the user's total calls, mean latency and error rate
// (status >= 400) for the window.
func (m *Meter) Summarize(ctx context.Context, userID uint64, start, end time.Time) (*Summary, error) {
	var row struct {
		TotalCalls int64
		AvgLatency float64
		Errors     int64
	}
	errScan := m.db.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Select("COUNT(*) AS total_calls, COALESCE(AVG(latency_ms), 0) AS avg_latency, COALESCE(SUM(CASE WHEN status_code >= 400 THEN 1 ELSE 0 END), 0) AS errors").
		Where("user_id = ? AND timestamp >= ? AND timestamp < ?", userID, start.UTC(), end.UTC()).
		Scan(&row).Error
	if errScan != nil {
		return nil, errScan
	}

	out := &Summary{TotalCalls: row.TotalCalls, AvgLatency: row.AvgLatency}
	if row.TotalCalls > 0 {
		out.ErrorRate = float64(row.Errors) / float64(row.TotalCalls)
	}
	return out, nil
}

// ListInWindow returns the raw records for a user in [start, end), oldest
// first. Export uses this to stream CSV rows.
func (m *Meter) ListInWindow(ctx context.Context, userID uint64, start, end time.Time) ([]models.UsageRecord, error) {
	var rows []models.UsageRecord
	errFind := m.db.WithContext(ctx).
		Where("user_id = ? AND timestamp >= ? AND timestamp < ?", userID, start.UTC(), end.UTC()).
		Order("timestamp ASC, id ASC").
		Find(&rows).Error
	if errFind != nil {
		return nil, errFind
	}
	return rows, nil
}

// Recent returns the user's latest records, newest first.
func (m *Meter) Recent(ctx context.Context, userID uint64, limit int) ([]models.UsageRecord, error) {
	var rows []models.UsageRecord
	errFind := m.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if errFind != nil {
		return nil, errFind
	}
	return rows, nil
}

// normalizeTime returns a UTC timestamp, defaulting to now if zero.
func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
