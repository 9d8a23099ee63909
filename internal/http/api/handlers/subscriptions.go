package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/storm-saas/storm/internal/billing"
	"github.com/storm-saas/storm/internal/config"
	"github.com/storm-saas/storm/internal/models"
	"github.com/storm-saas/storm/internal/subscription"
	"github.com/storm-saas/storm/internal/usage"
)

// maxWebhookBytes caps webhook payloads well above Stripe's largest events.
const maxWebhookBytes = 1 << 20

// stripeCallTimeout bounds outbound calls to the payment processor.
const stripeCallTimeout = 10 * time.Second

// SubscriptionHandler serves plan, subscription and billing endpoints.
type SubscriptionHandler struct {
	ledger    *subscription.Ledger
	meter     *usage.Meter
	stripe    *billing.StripeClient
	stripeCfg config.StripeConfig
}

// NewSubscriptionHandler constructs a SubscriptionHandler.
func NewSubscriptionHandler(ledger *subscription.Ledger, meter *usage.Meter, stripe *billing.StripeClient, stripeCfg config.StripeConfig) *SubscriptionHandler {
	return &SubscriptionHandler{ledger: ledger, meter: meter, stripe: stripe, stripeCfg: stripeCfg}
}

// Plans lists the plan catalog. Public, no auth.
func (h *SubscriptionHandler) Plans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"plans": subscription.Plans()})
}

func subscriptionJSON(sub *models.Subscription) gin.H {
	cfg := subscription.PlanFor(sub.Plan)
	return gin.H{
		"plan":                 sub.Plan,
		"status":               sub.Status,
		"current_period_start": sub.CurrentPeriodStart,
		"current_period_end":   sub.CurrentPeriodEnd,
		"calls_per_month":      cfg.CallsPerMonth,
		"max_api_keys":         cfg.MaxAPIKeys,
	}
}

// Current returns the current user's subscription state.
func (h *SubscriptionHandler) Current(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	sub, errGet := h.ledger.GetOrCreate(c.Request.Context(), user.ID)
	if errGet != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load subscription failed"})
		return
	}
	c.JSON(http.StatusOK, subscriptionJSON(sub))
}

// Usage returns the calls used and remaining for the current billing month.
func (h *SubscriptionHandler) Usage(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	sub, errGet := h.ledger.GetOrCreate(c.Request.Context(), user.ID)
	if errGet != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load subscription failed"})
		return
	}
	used, left, errUsage := h.meter.Remaining(c.Request.Context(), user.ID, sub.Plan)
	if errUsage != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load usage failed"})
		return
	}
	cfg := subscription.PlanFor(sub.Plan)
	c.JSON(http.StatusOK, gin.H{
		"plan":      sub.Plan,
		"limit":     cfg.CallsPerMonth,
		"used":      used,
		"remaining": left,
		"unlimited": cfg.Unlimited(),
	})
}

// Checkout creates a hosted payment session for a paid plan upgrade.
func (h *SubscriptionHandler) Checkout(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var body struct {
		Plan models.SubscriptionPlan `json:"plan"`
	}
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if !subscription.ValidPlan(body.Plan) || body.Plan == models.PlanFree {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid plan"})
		return
	}
	if !h.stripe.Configured() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "billing not configured"})
		return
	}

	sub, errGet := h.ledger.GetOrCreate(c.Request.Context(), user.ID)
	if errGet != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load subscription failed"})
		return
	}

	// Outbound processor calls get a bounded deadline so a stalled Stripe
	// request cannot hold the handler.
	stripeCtx, cancel := context.WithTimeout(c.Request.Context(), stripeCallTimeout)
	defer cancel()
	customerID, errCustomer := h.stripe.EnsureCustomer(stripeCtx, user, sub.BillingCustomerID)
	if errCustomer != nil {
		log.WithError(errCustomer).Warn("create billing customer failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment processor error"})
		return
	}
	if customerID != sub.BillingCustomerID {
		if errSave := h.ledger.SetBillingCustomerID(c.Request.Context(), user.ID, customerID); errSave != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "save subscription failed"})
			return
		}
	}

	checkoutURL, errSession := h.stripe.CreateCheckoutSession(stripeCtx, customerID, user.ID, body.Plan)
	if errSession != nil {
		log.WithError(errSession).Warn("create checkout session failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment processor error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkout_url": checkoutURL})
}

// Cancel schedules the subscription to end at the current period boundary.
func (h *SubscriptionHandler) Cancel(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	sub, errCancel := h.ledger.Cancel(c.Request.Context(), user.ID)
	if errCancel != nil {
		switch {
		case errors.Is(errCancel, subscription.ErrInvalidTransition):
			c.JSON(http.StatusBadRequest, gin.H{"error": errCancel.Error()})
		case errors.Is(errCancel, subscription.ErrExternalService):
			c.JSON(http.StatusBadGateway, gin.H{"error": "payment processor error"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "cancel subscription failed"})
		}
		return
	}
	c.JSON(http.StatusOK, subscriptionJSON(sub))
}

// Reactivate undoes a pending cancellation before the period ends.
func (h *SubscriptionHandler) Reactivate(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	sub, errReactivate := h.ledger.Reactivate(c.Request.Context(), user.ID)
	if errReactivate != nil {
		switch {
		case errors.Is(errReactivate, subscription.ErrInvalidTransition):
			c.JSON(http.StatusBadRequest, gin.H{"error": errReactivate.Error()})
		case errors.Is(errReactivate, subscription.ErrExternalService):
			c.JSON(http.StatusBadGateway, gin.H{"error": "payment processor error"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "reactivate subscription failed"})
		}
		return
	}
	c.JSON(http.StatusOK, subscriptionJSON(sub))
}

// Webhook receives signed billing events from the payment processor.
// Duplicate deliveries are acknowledged without reapplying their effects.
func (h *SubscriptionHandler) Webhook(c *gin.Context) {
	payload, errRead := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if errRead != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read payload failed"})
		return
	}

	event, errDecode := billing.DecodeEvent(payload, c.GetHeader("Stripe-Signature"), h.stripeCfg.WebhookSecret)
	if errDecode != nil {
		switch {
		case errors.Is(errDecode, billing.ErrInvalidSignature):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed event"})
		}
		return
	}

	// Apply with a detached deadline so a slow database write does not make
	// the processor retry a half-applied event.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if errApply := h.ledger.ApplyBillingEvent(ctx, event); errApply != nil {
		log.WithError(errApply).WithField("event", event.ID).Error("apply billing event failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "apply event failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
