package subscription

import "github.com/storm-saas/storm/internal/models"

// UnlimitedCalls is the sentinel for plans without a monthly call quota.
const UnlimitedCalls = -1

// PlanConfig describes the entitlements and pricing of one plan tier.
type PlanConfig struct {
	Name          string   `json:"name"`
	MonthPrice    float64  `json:"price"`
	StripePriceID string   `json:"stripe_price_id,omitempty"`
	Features      []string `json:"features"`

	CallsPerMonth int `json:"api_calls_per_month"` // UnlimitedCalls disables the quota.
	MaxAPIKeys    int `json:"max_api_keys"`
}

// Unlimited reports whether the plan has no monthly call quota.
func (c PlanConfig) Unlimited() bool { return c.CallsPerMonth == UnlimitedCalls }

// planCatalog maps each tier to its entitlements.
var planCatalog = map[models.SubscriptionPlan]PlanConfig{
	models.PlanFree: {
		Name:          "Free",
		MonthPrice:    0,
		Features:      []string{"150 API calls per month", "Basic support"},
		CallsPerMonth: 150,
		MaxAPIKeys:    1,
	},
	models.PlanBasic: {
		Name:          "Basic",
		MonthPrice:    9.99,
		StripePriceID: "price_basic_monthly",
		Features:      []string{"1,000 API calls per month", "Email support", "Basic analytics"},
		CallsPerMonth: 1000,
		MaxAPIKeys:    3,
	},
	models.PlanPremium: {
		Name:          "Premium",
		MonthPrice:    29.99,
		StripePriceID: "price_premium_monthly",
		Features:      []string{"10,000 API calls per month", "Priority support", "Advanced analytics", "Custom integrations"},
		CallsPerMonth: 10000,
		MaxAPIKeys:    10,
	},
	models.PlanEnterprise: {
		Name:          "Enterprise",
		MonthPrice:    99.99,
		StripePriceID: "price_enterprise_monthly",
		Features:      []string{"Unlimited API calls", "24/7 support", "Custom features", "SLA guarantee"},
		CallsPerMonth: UnlimitedCalls,
		MaxAPIKeys:    50,
	},
}

// PlanFor returns the configuration of a plan tier, falling back to free for
// unrecognized values.
func PlanFor(plan models.SubscriptionPlan) PlanConfig {
	if cfg, ok := planCatalog[plan]; ok {
		return cfg
	}
	return planCatalog[models.PlanFree]
}

// ValidPlan reports whether the plan name is a known tier.
func ValidPlan(plan models.SubscriptionPlan) bool {
	_, ok := planCatalog[plan]
	return ok
}

// Plans returns the full catalog keyed by tier name.
func Plans() map[models.SubscriptionPlan]PlanConfig {
	out := make(map[models.SubscriptionPlan]PlanConfig, len(planCatalog))
	for plan, cfg := range planCatalog {
		out[plan] = cfg
	}
	return out
}
