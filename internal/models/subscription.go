package models

import "time"

// SubscriptionPlan names a billing tier.
type SubscriptionPlan string

// SubscriptionPlan values.
const (
	// PlanFree is the default no-cost tier.
	PlanFree SubscriptionPlan = "free"
	// PlanBasic is the entry paid tier.
	PlanBasic SubscriptionPlan = "basic"
	// PlanPremium is the mid paid tier.
	PlanPremium SubscriptionPlan = "premium"
	// PlanEnterprise is the top tier with unlimited API calls.
	PlanEnterprise SubscriptionPlan = "enterprise"
)

// SubscriptionStatus represents the lifecycle state of a subscription.
type SubscriptionStatus string

// SubscriptionStatus values.
const (
	// StatusActive marks a subscription in good standing.
	StatusActive SubscriptionStatus = "active"
	// StatusInactive marks a subscription that is switched off.
	StatusInactive SubscriptionStatus = "inactive"
	// StatusCancelled marks a user-cancelled subscription.
	StatusCancelled SubscriptionStatus = "cancelled"
	// StatusPastDue marks a subscription with a failed payment.
	StatusPastDue SubscriptionStatus = "past_due"
)

// Subscription records a user's billing tier and its lifecycle state.
// A user has at most one row; absence means free/active.
type Subscription struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;uniqueIndex"` // Owning user ID, one row per user.

	Plan   SubscriptionPlan   `gorm:"type:text;not null;default:'free'"`   // Active plan tier.
	Status SubscriptionStatus `gorm:"type:text;not null;default:'active'"` // Lifecycle state.

	BillingCustomerID     string `gorm:"type:text;index"` // Payment processor customer ID.
	BillingSubscriptionID string `gorm:"type:text;index"` // Payment processor subscription ID.

	CurrentPeriodStart *time.Time // Start of the paid billing period.
	CurrentPeriodEnd   *time.Time // End of the paid billing period.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
