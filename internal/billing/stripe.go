// Package billing integrates the Stripe payment processor: outbound customer
// and checkout calls, plus decoding of inbound webhook events.
package billing

import (
	"context"
	"fmt"
	"strconv"

	"github.com/storm-saas/storm/internal/config"
	"github.com/storm-saas/storm/internal/models"
	"github.com/storm-saas/storm/internal/subscription"

	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v81"
	checkoutsession "github.com/stripe/stripe-go/v81/checkout/session"
	"github.com/stripe/stripe-go/v81/customer"
	stripesub "github.com/stripe/stripe-go/v81/subscription"
)

// ErrNotConfigured indicates Stripe calls were attempted without a secret key.
var ErrNotConfigured = fmt.Errorf("stripe is not configured")

// StripeClient wraps the outbound Stripe surface the service uses. The
// stripe-go SDK holds the API key globally, so only one client should exist
// per process.
type StripeClient struct {
	cfg config.StripeConfig
}

// NewStripeClient sets the SDK key and returns the client. A client built
// from an empty config rejects all calls with ErrNotConfigured.
func NewStripeClient(cfg config.StripeConfig) *StripeClient {
	if cfg.SecretKey != "" {
		stripe.Key = cfg.SecretKey
	}
	return &StripeClient{cfg: cfg}
}

// Configured reports whether a secret key is present.
func (c *StripeClient) Configured() bool {
	return c.cfg.SecretKey != ""
}

// EnsureCustomer returns the user's Stripe customer ID, creating the customer
// on first use.
func (c *StripeClient) EnsureCustomer(ctx context.Context, user *models.User, existingID string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	if existingID != "" {
		return existingID, nil
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(user.Email),
		Name:  stripe.String(user.FullName),
	}
	params.Context = ctx
	params.Metadata = map[string]string{
		"user_id": strconv.FormatUint(user.ID, 10),
	}

	cust, errNew := customer.New(params)
	if errNew != nil {
		return "", fmt.Errorf("create stripe customer: %w", errNew)
	}
	log.WithFields(log.Fields{"user_id": user.ID, "customer_id": cust.ID}).Info("created stripe customer")
	return cust.ID, nil
}

// CreateCheckoutSession opens a hosted checkout for the given plan and returns
// the URL the browser should be sent to.
func (c *StripeClient) CreateCheckoutSession(ctx context.Context, customerID string, userID uint64, plan models.SubscriptionPlan) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	priceID := subscription.PlanFor(plan).StripePriceID
	if priceID == "" {
		return "", fmt.Errorf("plan %s has no checkout price", plan)
	}

	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(customerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		ClientReferenceID: stripe.String(strconv.FormatUint(userID, 10)),
		SuccessURL:        stripe.String(c.cfg.FrontendURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:         stripe.String(c.cfg.FrontendURL + "/billing/cancelled"),
	}
	params.Context = ctx
	params.Metadata = map[string]string{
		"user_id": strconv.FormatUint(userID, 10),
		"plan":    string(plan),
	}
	// The subscription created by checkout carries the same metadata so
	// later webhook events can be attributed without a session lookup.
	params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
		Metadata: params.Metadata,
	}

	sess, errNew := checkoutsession.New(params)
	if errNew != nil {
		return "", fmt.Errorf("create checkout session: %w", errNew)
	}
	log.WithFields(log.Fields{"user_id": userID, "plan": plan, "session_id": sess.ID}).Info("created checkout session")
	return sess.URL, nil
}

// SetCancelAtPeriodEnd toggles cancel-at-period-end on a remote subscription.
// It implements subscription.RemoteBilling.
func (c *StripeClient) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(cancel),
	}
	params.Context = ctx
	if _, errUpdate := stripesub.Update(subscriptionID, params); errUpdate != nil {
		return fmt.Errorf("update stripe subscription: %w", errUpdate)
	}
	log.WithFields(log.Fields{"subscription_id": subscriptionID, "cancel_at_period_end": cancel}).Info("updated stripe subscription")
	return nil
}
