package subscription

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/storm-saas/storm/internal/db"
	"github.com/storm-saas/storm/internal/models"
	"gorm.io/gorm"
)

// fakeRemote records SetCancelAtPeriodEnd calls.
type fakeRemote struct {
	calls []bool
	err   error
}

func (f *fakeRemote) SetCancelAtPeriodEnd(_ context.Context, _ string, cancel bool) error {
	f.calls = append(f.calls, cancel)
	return f.err
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "storm-test.db")
	conn, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func createTestUser(t *testing.T, conn *gorm.DB, email string) uint64 {
	t.Helper()
	user := models.User{Email: email, Username: email, Password: "x"}
	if errCreate := conn.Create(&user).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}
	return user.ID
}

func TestGetOrCreate_DefaultsToFreeActive(t *testing.T) {
	conn := openTestDB(t)
	ledger := NewLedger(conn, nil)
	userID := createTestUser(t, conn, "a@example.com")

	sub, err := ledger.GetOrCreate(context.Background(), userID)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if sub.Plan != models.PlanFree || sub.Status != models.StatusActive {
		t.Fatalf("expected free/active, got %s/%s", sub.Plan, sub.Status)
	}

	again, err := ledger.GetOrCreate(context.Background(), userID)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if again.ID != sub.ID {
		t.Fatalf("expected same row, got %d and %d", sub.ID, again.ID)
	}

	var count int64
	if errCount := conn.Model(&models.Subscription{}).Where("user_id = ?", userID).Count(&count).Error; errCount != nil {
		t.Fatalf("count: %v", errCount)
	}
	if count != 1 {
		t.Fatalf("expected exactly one subscription row, got %d", count)
	}
}

func TestCancel_FreePlanRejected(t *testing.T) {
	conn := openTestDB(t)
	ledger := NewLedger(conn, nil)
	userID := createTestUser(t, conn, "a@example.com")

	if _, err := ledger.Cancel(context.Background(), userID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestCancelReactivate_Cycle(t *testing.T) {
	conn := openTestDB(t)
	remote := &fakeRemote{}
	ledger := NewLedger(conn, remote)
	userID := createTestUser(t, conn, "a@example.com")

	seedPaidSubscription(t, conn, userID, "sub_ext_1")

	sub, err := ledger.Cancel(context.Background(), userID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if sub.Status != models.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", sub.Status)
	}
	if len(remote.calls) != 1 || remote.calls[0] != true {
		t.Fatalf("expected remote cancel-at-period-end call, got %v", remote.calls)
	}

	// Cancelling twice is an invalid transition.
	if _, errAgain := ledger.Cancel(context.Background(), userID); !errors.Is(errAgain, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", errAgain)
	}

	sub, err = ledger.Reactivate(context.Background(), userID)
	if err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if sub.Status != models.StatusActive {
		t.Fatalf("expected active, got %s", sub.Status)
	}
	if len(remote.calls) != 2 || remote.calls[1] != false {
		t.Fatalf("expected remote resume call, got %v", remote.calls)
	}

	// Reactivating an active subscription is invalid.
	if _, errAgain := ledger.Reactivate(context.Background(), userID); !errors.Is(errAgain, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", errAgain)
	}
}

func TestCancel_RemoteFailureSurfaces(t *testing.T) {
	conn := openTestDB(t)
	remote := &fakeRemote{err: errors.New("stripe down")}
	ledger := NewLedger(conn, remote)
	userID := createTestUser(t, conn, "a@example.com")

	seedPaidSubscription(t, conn, userID, "sub_ext_1")

	if _, err := ledger.Cancel(context.Background(), userID); !errors.Is(err, ErrExternalService) {
		t.Fatalf("expected ErrExternalService, got %v", err)
	}

	// The local state must be untouched after a remote failure.
	sub, err := ledger.GetOrCreate(context.Background(), userID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sub.Status != models.StatusActive {
		t.Fatalf("expected active after failed remote cancel, got %s", sub.Status)
	}
}

func TestApplyBillingEvent_CheckoutIdempotent(t *testing.T) {
	conn := openTestDB(t)
	ledger := NewLedger(conn, nil)
	userID := createTestUser(t, conn, "a@example.com")

	ev := BillingEvent{
		ID:             "evt_1",
		Kind:           EventCheckoutCompleted,
		Type:           "checkout.session.completed",
		UserID:         userID,
		Plan:           models.PlanPremium,
		SubscriptionID: "sub_ext_9",
	}
	if err := ledger.ApplyBillingEvent(context.Background(), ev); err != nil {
		t.Fatalf("apply: %v", err)
	}

	first, err := ledger.GetOrCreate(context.Background(), userID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if first.Plan != models.PlanPremium || first.Status != models.StatusActive {
		t.Fatalf("expected premium/active, got %s/%s", first.Plan, first.Status)
	}
	if first.CurrentPeriodEnd == nil {
		t.Fatalf("expected period end to be set")
	}

	// Redelivery must not double-extend the billing period.
	time.Sleep(10 * time.Millisecond)
	if err := ledger.ApplyBillingEvent(context.Background(), ev); err != nil {
		t.Fatalf("apply redelivery: %v", err)
	}
	second, err := ledger.GetOrCreate(context.Background(), userID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !second.CurrentPeriodEnd.Equal(*first.CurrentPeriodEnd) {
		t.Fatalf("expected unchanged period end, got %s then %s", first.CurrentPeriodEnd, second.CurrentPeriodEnd)
	}
}

func TestApplyBillingEvent_PaymentFailedThenSucceeded(t *testing.T) {
	conn := openTestDB(t)
	ledger := NewLedger(conn, nil)
	userID := createTestUser(t, conn, "a@example.com")
	seedPaidSubscription(t, conn, userID, "sub_ext_2")

	if err := ledger.ApplyBillingEvent(context.Background(), BillingEvent{
		ID:             "evt_fail",
		Kind:           EventPaymentFailed,
		Type:           "invoice.payment_failed",
		SubscriptionID: "sub_ext_2",
	}); err != nil {
		t.Fatalf("apply failed event: %v", err)
	}

	sub, err := ledger.FindByBillingSubscriptionID(context.Background(), "sub_ext_2")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if sub.Status != models.StatusPastDue {
		t.Fatalf("expected past_due, got %s", sub.Status)
	}

	var notes int64
	if errCount := conn.Model(&models.Notification{}).Where("user_id = ?", userID).Count(&notes).Error; errCount != nil {
		t.Fatalf("count notifications: %v", errCount)
	}
	if notes != 1 {
		t.Fatalf("expected one payment-failed notification, got %d", notes)
	}

	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	if err := ledger.ApplyBillingEvent(context.Background(), BillingEvent{
		ID:             "evt_ok",
		Kind:           EventPaymentSucceeded,
		Type:           "invoice.payment_succeeded",
		SubscriptionID: "sub_ext_2",
		PeriodStart:    start,
		PeriodEnd:      end,
	}); err != nil {
		t.Fatalf("apply succeeded event: %v", err)
	}

	sub, err = ledger.FindByBillingSubscriptionID(context.Background(), "sub_ext_2")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if sub.Status != models.StatusActive {
		t.Fatalf("expected active, got %s", sub.Status)
	}
	if sub.CurrentPeriodStart == nil || !sub.CurrentPeriodStart.Equal(start) {
		t.Fatalf("expected period start %s, got %v", start, sub.CurrentPeriodStart)
	}
	if sub.CurrentPeriodEnd == nil || !sub.CurrentPeriodEnd.Equal(end) {
		t.Fatalf("expected period end %s, got %v", end, sub.CurrentPeriodEnd)
	}
}

func TestApplyBillingEvent_UnknownSubscriptionAcknowledged(t *testing.T) {
	conn := openTestDB(t)
	ledger := NewLedger(conn, nil)

	if err := ledger.ApplyBillingEvent(context.Background(), BillingEvent{
		ID:             "evt_orphan",
		Kind:           EventPaymentFailed,
		Type:           "invoice.payment_failed",
		SubscriptionID: "sub_missing",
	}); err != nil {
		t.Fatalf("expected orphan event to be acknowledged, got %v", err)
	}
}

// seedPaidSubscription creates a basic/active subscription with a remote ID.
func seedPaidSubscription(t *testing.T, conn *gorm.DB, userID uint64, externalID string) {
	t.Helper()
	now := time.Now().UTC()
	end := now.AddDate(0, 1, 0)
	sub := models.Subscription{
		UserID:                userID,
		Plan:                  models.PlanBasic,
		Status:                models.StatusActive,
		BillingSubscriptionID: externalID,
		CurrentPeriodStart:    &now,
		CurrentPeriodEnd:      &end,
	}
	if errCreate := conn.Create(&sub).Error; errCreate != nil {
		t.Fatalf("seed subscription: %v", errCreate)
	}
}
