package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/storm-saas/storm/internal/db"
	"github.com/storm-saas/storm/internal/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Ledger errors.
var (
	// ErrInvalidTransition indicates a state change the machine does not allow.
	ErrInvalidTransition = errors.New("invalid subscription transition")
	// ErrExternalService indicates a payment processor call failed.
	ErrExternalService = errors.New("payment processor error")
	// ErrNotFound indicates no subscription matched the lookup.
	ErrNotFound = errors.New("subscription not found")
)

// BillingEventKind tags decoded payment-processor events.
type BillingEventKind string

// BillingEventKind values.
const (
	// EventCheckoutCompleted reports a finished checkout session.
	EventCheckoutCompleted BillingEventKind = "checkout_completed"
	// EventPaymentSucceeded reports a successful invoice payment.
	EventPaymentSucceeded BillingEventKind = "payment_succeeded"
	// EventPaymentFailed reports a failed invoice payment.
	EventPaymentFailed BillingEventKind = "payment_failed"
	// EventUnknown tags event types the system does not act on.
	EventUnknown BillingEventKind = "unknown"
)

// BillingEvent is the decoded form of a webhook event handed to the ledger.
type BillingEvent struct {
	ID   string           // External event ID, used for idempotency.
	Kind BillingEventKind // Dispatch tag.
	Type string           // Raw external event type for auditing.

	UserID uint64                  // Checkout events only.
	Plan   models.SubscriptionPlan // Checkout events only.

	SubscriptionID string // External subscription ID.

	PeriodStart time.Time // Payment-succeeded events only.
	PeriodEnd   time.Time // Payment-succeeded events only.

	Raw []byte // Raw event object for the audit trail.
}

// RemoteBilling is the outbound surface of the payment processor the ledger
// needs: toggling cancel-at-period-end on a remote subscription.
type RemoteBilling interface {
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) error
}

// remoteCallTimeout bounds outbound payment processor calls.
const remoteCallTimeout = 10 * time.Second

// paidPeriodDays is the period granted on checkout before the first invoice
// event delivers exact bounds.
const paidPeriodDays = 30

// Ledger owns subscription rows and applies all state transitions.
type Ledger struct {
	db     *gorm.DB
	remote RemoteBilling
}

// NewLedger constructs a Ledger. remote may be nil when no payment processor
// is configured.
func NewLedger(conn *gorm.DB, remote RemoteBilling) *Ledger {
	return &Ledger{db: conn, remote: remote}
}

// GetOrCreate returns the user's subscription, creating the implicit
// free/active row on first access. Concurrent callers converge on the single
// row through the unique index on user_id.
func (l *Ledger) GetOrCreate(ctx context.Context, userID uint64) (*models.Subscription, error) {
	var sub models.Subscription
	errFind := l.db.WithContext(ctx).Where("user_id = ?", userID).First(&sub).Error
	if errFind == nil {
		return &sub, nil
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load subscription: %w", errFind)
	}

	fresh := models.Subscription{
		UserID: userID,
		Plan:   models.PlanFree,
		Status: models.StatusActive,
	}
	errCreate := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&fresh).Error
	if errCreate != nil {
		return nil, fmt.Errorf("create subscription: %w", errCreate)
	}

	// Re-read: a concurrent creator may have won the insert.
	if errReload := l.db.WithContext(ctx).Where("user_id = ?", userID).First(&sub).Error; errReload != nil {
		return nil, fmt.Errorf("load subscription: %w", errReload)
	}
	return &sub, nil
}

// Cancel moves an active paid subscription to cancelled and schedules remote
// cancellation at period end when a remote subscription exists.
func (l *Ledger) Cancel(ctx context.Context, userID uint64) (*models.Subscription, error) {
	sub, err := l.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub.Plan == models.PlanFree {
		return nil, fmt.Errorf("%w: cannot cancel free plan", ErrInvalidTransition)
	}
	if sub.Status == models.StatusCancelled {
		return nil, fmt.Errorf("%w: subscription already cancelled", ErrInvalidTransition)
	}

	if sub.BillingSubscriptionID != "" && l.remote != nil {
		callCtx, cancel := context.WithTimeout(ctx, remoteCallTimeout)
		defer cancel()
		if errRemote := l.remote.SetCancelAtPeriodEnd(callCtx, sub.BillingSubscriptionID, true); errRemote != nil {
			return nil, fmt.Errorf("%w: %v", ErrExternalService, errRemote)
		}
	}

	return l.transition(ctx, userID, func(row *models.Subscription) error {
		if row.Plan == models.PlanFree || row.Status == models.StatusCancelled {
			return ErrInvalidTransition
		}
		row.Status = models.StatusCancelled
		return nil
	})
}

// Reactivate moves a cancelled subscription back to active.
func (l *Ledger) Reactivate(ctx context.Context, userID uint64) (*models.Subscription, error) {
	sub, err := l.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub.Status != models.StatusCancelled {
		return nil, fmt.Errorf("%w: subscription is not cancelled", ErrInvalidTransition)
	}

	if sub.BillingSubscriptionID != "" && l.remote != nil {
		callCtx, cancel := context.WithTimeout(ctx, remoteCallTimeout)
		defer cancel()
		if errRemote := l.remote.SetCancelAtPeriodEnd(callCtx, sub.BillingSubscriptionID, false); errRemote != nil {
			return nil, fmt.Errorf("%w: %v", ErrExternalService, errRemote)
		}
	}

	return l.transition(ctx, userID, func(row *models.Subscription) error {
		if row.Status != models.StatusCancelled {
			return ErrInvalidTransition
		}
		row.Status = models.StatusActive
		return nil
	})
}

// transition applies mutate to the locked subscription row of a user.
func (l *Ledger) transition(ctx context.Context, userID uint64, mutate func(*models.Subscription) error) (*models.Subscription, error) {
	var out models.Subscription
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.Subscription
		if errFind := db.LockForUpdate(tx).Where("user_id = ?", userID).First(&row).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return errFind
		}
		if errMutate := mutate(&row); errMutate != nil {
			return errMutate
		}
		row.UpdatedAt = time.Now().UTC()
		if errSave := tx.Save(&row).Error; errSave != nil {
			return errSave
		}
		out = row
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return &out, nil
}

// ApplyBillingEvent applies a decoded webhook event to the ledger. Events are
// idempotent by external event ID: a redelivered event is acknowledged without
// touching subscription state. Unknown kinds are accepted and ignored.
func (l *Ledger) ApplyBillingEvent(ctx context.Context, ev BillingEvent) error {
	if ev.Kind == EventUnknown {
		return nil
	}

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if ev.ID != "" {
			seen := models.WebhookEvent{
				EventID: ev.ID,
				Kind:    ev.Type,
				Payload: datatypes.JSON(ev.Raw),
			}
			res := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
				Create(&seen)
			if res.Error != nil {
				return fmt.Errorf("record webhook event: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				log.WithField("event_id", ev.ID).Info("billing event already applied, skipping")
				return nil
			}
		}

		switch ev.Kind {
		case EventCheckoutCompleted:
			return l.applyCheckoutCompleted(tx, ev)
		case EventPaymentSucceeded:
			return l.applyPaymentSucceeded(tx, ev)
		case EventPaymentFailed:
			return l.applyPaymentFailed(tx, ev)
		default:
			return nil
		}
	})
}

// applyCheckoutCompleted activates the plan purchased in a checkout session.
func (l *Ledger) applyCheckoutCompleted(tx *gorm.DB, ev BillingEvent) error {
	var row models.Subscription
	errFind := db.LockForUpdate(tx).Where("user_id = ?", ev.UserID).First(&row).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		row = models.Subscription{UserID: ev.UserID}
	} else if errFind != nil {
		return errFind
	}

	now := time.Now().UTC()
	periodEnd := now.AddDate(0, 0, paidPeriodDays)
	row.Plan = ev.Plan
	row.Status = models.StatusActive
	row.BillingSubscriptionID = ev.SubscriptionID
	row.CurrentPeriodStart = &now
	row.CurrentPeriodEnd = &periodEnd
	row.UpdatedAt = now
	return tx.Save(&row).Error
}

// applyPaymentSucceeded restores active status and advances period bounds.
// Invoice events carry the external subscription ID, not the user ID.
func (l *Ledger) applyPaymentSucceeded(tx *gorm.DB, ev BillingEvent) error {
	var row models.Subscription
	errFind := db.LockForUpdate(tx).
		Where("billing_subscription_id = ?", ev.SubscriptionID).
		First(&row).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		// The event may precede checkout completion for this subscription.
		// Acknowledge so the processor stops redelivering.
		log.WithField("subscription_id", ev.SubscriptionID).Warn("payment succeeded for unknown subscription")
		return nil
	}
	if errFind != nil {
		return errFind
	}

	start, end := ev.PeriodStart, ev.PeriodEnd
	row.Status = models.StatusActive
	row.CurrentPeriodStart = &start
	row.CurrentPeriodEnd = &end
	row.UpdatedAt = time.Now().UTC()
	return tx.Save(&row).Error
}

// applyPaymentFailed marks the subscription past due and notifies the owner.
func (l *Ledger) applyPaymentFailed(tx *gorm.DB, ev BillingEvent) error {
	var row models.Subscription
	errFind := db.LockForUpdate(tx).
		Where("billing_subscription_id = ?", ev.SubscriptionID).
		First(&row).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		log.WithField("subscription_id", ev.SubscriptionID).Warn("payment failed for unknown subscription")
		return nil
	}
	if errFind != nil {
		return errFind
	}

	row.Status = models.StatusPastDue
	row.UpdatedAt = time.Now().UTC()
	if errSave := tx.Save(&row).Error; errSave != nil {
		return errSave
	}

	note := models.Notification{
		UserID:  row.UserID,
		Title:   "Payment failed",
		Message: "Your latest subscription payment failed. Please update your payment method.",
		Kind:    "warning",
	}
	return tx.Create(&note).Error
}

// FindByBillingSubscriptionID looks up a subscription by its external ID.
func (l *Ledger) FindByBillingSubscriptionID(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	var row models.Subscription
	errFind := l.db.WithContext(ctx).
		Where("billing_subscription_id = ?", subscriptionID).
		First(&row).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if errFind != nil {
		return nil, errFind
	}
	return &row, nil
}

// SetBillingCustomerID stores the payment processor customer ID for a user.
func (l *Ledger) SetBillingCustomerID(ctx context.Context, userID uint64, customerID string) error {
	if _, err := l.GetOrCreate(ctx, userID); err != nil {
		return err
	}
	return l.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("user_id = ?", userID).
		Update("billing_customer_id", customerID).Error
}
