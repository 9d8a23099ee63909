package usage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/storm-saas/storm/internal/db"
	"github.com/storm-saas/storm/internal/models"
	"github.com/storm-saas/storm/internal/subscription"
	"gorm.io/gorm"
)

func newTestMeter(t *testing.T) (*Meter, *gorm.DB) {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "storm-test.db")
	conn, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return NewMeter(conn), conn
}

func seedCall(t *testing.T, conn *gorm.DB, userID uint64, endpoint string, status int, latency float64, at time.Time) {
	t.Helper()
	row := models.UsageRecord{
		UserID:     userID,
		Endpoint:   endpoint,
		Method:     "GET",
		StatusCode: status,
		LatencyMs:  latency,
		Timestamp:  at.UTC(),
	}
	if errCreate := conn.Create(&row).Error; errCreate != nil {
		t.Fatalf("seed usage record: %v", errCreate)
	}
}

func TestRecord_PersistsEvent(t *testing.T) {
	meter, conn := newTestMeter(t)

	meter.Record(Event{
		UserID:     1,
		Endpoint:   "/api/v1/data",
		Method:     "GET",
		StatusCode: 200,
		LatencyMs:  12.5,
	})

	var count int64
	if errCount := conn.Model(&models.UsageRecord{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count: %v", errCount)
	}
	if count != 1 {
		t.Fatalf("expected one record, got %d", count)
	}

	var row models.UsageRecord
	if errFind := conn.First(&row).Error; errFind != nil {
		t.Fatalf("load record: %v", errFind)
	}
	if row.Timestamp.IsZero() {
		t.Fatalf("expected a default timestamp")
	}
}

func TestCountInWindow_HalfOpen(t *testing.T) {
	meter, conn := newTestMeter(t)
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	seedCall(t, conn, 1, "/a", 200, 10, start)                    // inclusive lower bound
	seedCall(t, conn, 1, "/a", 200, 10, end.Add(-time.Second))    // inside
	seedCall(t, conn, 1, "/a", 200, 10, end)                      // exclusive upper bound
	seedCall(t, conn, 1, "/a", 200, 10, start.Add(-time.Second))  // before
	seedCall(t, conn, 2, "/a", 200, 10, start.Add(time.Hour))     // other user

	count, err := meter.CountInWindow(context.Background(), 1, start, end)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 calls in window, got %d", count)
	}
}

func TestRemaining_FreePlan(t *testing.T) {
	meter, conn := newTestMeter(t)
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		seedCall(t, conn, 1, "/a", 200, 10, now)
	}

	used, left, err := meter.Remaining(context.Background(), 1, models.PlanFree)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if used != 3 {
		t.Fatalf("expected 3 used, got %d", used)
	}
	want := int64(subscription.PlanFor(models.PlanFree).CallsPerMonth) - 3
	if left != want {
		t.Fatalf("expected %d left, got %d", want, left)
	}
}

func TestRemaining_EnterpriseUnlimited(t *testing.T) {
	meter, conn := newTestMeter(t)
	seedCall(t, conn, 1, "/a", 200, 10, time.Now().UTC())

	_, left, err := meter.Remaining(context.Background(), 1, models.PlanEnterprise)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if left != subscription.UnlimitedCalls {
		t.Fatalf("expected unlimited sentinel, got %d", left)
	}
}

func TestRemaining_NeverNegative(t *testing.T) {
	meter, conn := newTestMeter(t)
	now := time.Now().UTC()
	quota := subscription.PlanFor(models.PlanFree).CallsPerMonth
	for i := 0; i < quota+5; i++ {
		seedCall(t, conn, 1, "/a", 200, 1, now)
	}

	used, left, err := meter.Remaining(context.Background(), 1, models.PlanFree)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if used != int64(quota+5) {
		t.Fatalf("expected %d used, got %d", quota+5, used)
	}
	if left != 0 {
		t.Fatalf("expected 0 left, got %d", left)
	}
}

func TestAggregateByDay_SkipsEmptyDays(t *testing.T) {
	meter, conn := newTestMeter(t)
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	seedCall(t, conn, 1, "/a", 200, 10, start.Add(2*time.Hour))
	seedCall(t, conn, 1, "/a", 200, 30, start.Add(3*time.Hour))
	// Day two has no traffic.
	seedCall(t, conn, 1, "/a", 200, 50, start.AddDate(0, 0, 2))

	days, err := meter.AggregateByDay(context.Background(), 1, start, start.AddDate(0, 0, 7))
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(days) != 2 {
		t.Fatalf("expected 2 days, got %d: %+v", len(days), days)
	}
	if days[0].Day != "2026-08-01" || days[0].Calls != 2 {
		t.Fatalf("unexpected first day: %+v", days[0])
	}
	if days[0].AvgLatency != 20 {
		t.Fatalf("expected mean latency 20, got %f", days[0].AvgLatency)
	}
	if days[1].Day != "2026-08-03" || days[1].Calls != 1 {
		t.Fatalf("unexpected second day: %+v", days[1])
	}
}

func TestTopEndpoints_OrderedByCalls(t *testing.T) {
	meter, conn := newTestMeter(t)
	now := time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		seedCall(t, conn, 1, "/busy", 200, 10, now)
	}
	seedCall(t, conn, 1, "/quiet", 200, 10, now)

	top, err := meter.TopEndpoints(context.Background(), 1, now.Add(-time.Hour), now.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("top endpoints: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(top))
	}
	if top[0].Endpoint != "/busy" || top[0].Calls != 3 {
		t.Fatalf("unexpected leader: %+v", top[0])
	}
}

func TestSummarize_ErrorRate(t *testing.T) {
	meter, conn := newTestMeter(t)
	now := time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)

	seedCall(t, conn, 1, "/a", 200, 10, now)
	seedCall(t, conn, 1, "/a", 200, 20, now)
	seedCall(t, conn, 1, "/a", 404, 30, now)
	seedCall(t, conn, 1, "/a", 500, 40, now)

	sum, err := meter.Summarize(context.Background(), 1, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if sum.TotalCalls != 4 {
		t.Fatalf("expected 4 calls, got %d", sum.TotalCalls)
	}
	if sum.AvgLatency != 25 {
		t.Fatalf("expected mean latency 25, got %f", sum.AvgLatency)
	}
	if sum.ErrorRate != 0.5 {
		t.Fatalf("expected error rate 0.5, got %f", sum.ErrorRate)
	}
}

func TestSummarize_EmptyWindow(t *testing.T) {
	meter, _ := newTestMeter(t)

	sum, err := meter.Summarize(context.Background(), 1, time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if sum.TotalCalls != 0 || sum.ErrorRate != 0 {
		t.Fatalf("expected empty summary, got %+v", sum)
	}
}

func TestStatusBreakdownAndByHour(t *testing.T) {
	meter, conn := newTestMeter(t)
	day := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)

	seedCall(t, conn, 1, "/a", 200, 10, day.Add(9*time.Hour))
	seedCall(t, conn, 1, "/a", 200, 10, day.Add(9*time.Hour+30*time.Minute))
	seedCall(t, conn, 1, "/a", 429, 10, day.Add(17*time.Hour))

	statuses, err := meter.StatusBreakdown(context.Background(), 1, day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("status breakdown: %v", err)
	}
	if len(statuses) != 2 || statuses[0].StatusCode != 200 || statuses[0].Calls != 2 {
		t.Fatalf("unexpected breakdown: %+v", statuses)
	}

	hours, err := meter.ByHour(context.Background(), 1, day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("by hour: %v", err)
	}
	if len(hours) != 2 {
		t.Fatalf("expected 2 hour buckets, got %+v", hours)
	}
	if hours[0].Hour != 9 || hours[0].Calls != 2 {
		t.Fatalf("unexpected first bucket: %+v", hours[0])
	}
	if hours[1].Hour != 17 || hours[1].Calls != 1 {
		t.Fatalf("unexpected second bucket: %+v", hours[1])
	}
}

func TestListInWindow_OldestFirst(t *testing.T) {
	meter, conn := newTestMeter(t)
	now := time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)

	seedCall(t, conn, 1, "/second", 200, 10, now.Add(time.Minute))
	seedCall(t, conn, 1, "/first", 200, 10, now)

	rows, err := meter.ListInWindow(context.Background(), 1, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 || rows[0].Endpoint != "/first" || rows[1].Endpoint != "/second" {
		t.Fatalf("unexpected order: %+v", rows)
	}
}
