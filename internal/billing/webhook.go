package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/storm-saas/storm/internal/models"
	"github.com/storm-saas/storm/internal/subscription"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
)

// Webhook decode errors.
var (
	// ErrInvalidSignature indicates the payload failed signature verification.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedPayload indicates the event body could not be decoded.
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// DecodeEvent verifies the Stripe signature and decodes the payload into the
// ledger's event form. Event types the ledger does not act on decode to
// EventUnknown with no error so the caller can acknowledge them.
func DecodeEvent(payload []byte, signature, secret string) (subscription.BillingEvent, error) {
	// The account may pin an older API version than the SDK; the fields
	// read below are stable across versions.
	event, errVerify := webhook.ConstructEventWithOptions(payload, signature, secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if errVerify != nil {
		return subscription.BillingEvent{}, classifyVerifyError(errVerify)
	}
	return decodeVerified(event)
}

// classifyVerifyError separates signature failures, which the handler answers
// with 401, from body parse failures on an otherwise valid signature.
func classifyVerifyError(errVerify error) error {
	switch {
	case errors.Is(errVerify, webhook.ErrNotSigned),
		errors.Is(errVerify, webhook.ErrInvalidHeader),
		errors.Is(errVerify, webhook.ErrNoValidSignature),
		errors.Is(errVerify, webhook.ErrTooOld):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, errVerify)
	default:
		return fmt.Errorf("%w: %v", ErrMalformedPayload, errVerify)
	}
}

// decodeVerified maps a verified Stripe event onto a BillingEvent.
func decodeVerified(event stripe.Event) (subscription.BillingEvent, error) {
	out := subscription.BillingEvent{
		ID:   event.ID,
		Type: string(event.Type),
		Kind: subscription.EventUnknown,
		Raw:  event.Data.Raw,
	}

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if errParse := json.Unmarshal(event.Data.Raw, &sess); errParse != nil {
			return out, fmt.Errorf("%w: %v", ErrMalformedPayload, errParse)
		}
		userID, errUser := checkoutUserID(&sess)
		if errUser != nil {
			return out, errUser
		}
		plan := models.SubscriptionPlan(sess.Metadata["plan"])
		if !subscription.ValidPlan(plan) {
			return out, fmt.Errorf("%w: unknown plan %q", ErrMalformedPayload, sess.Metadata["plan"])
		}
		out.Kind = subscription.EventCheckoutCompleted
		out.UserID = userID
		out.Plan = plan
		if sess.Subscription != nil {
			out.SubscriptionID = sess.Subscription.ID
		}

	case "invoice.payment_succeeded":
		inv, errParse := decodeInvoice(event.Data.Raw)
		if errParse != nil {
			return out, errParse
		}
		out.Kind = subscription.EventPaymentSucceeded
		out.SubscriptionID = invoiceSubscriptionID(inv)
		out.PeriodStart, out.PeriodEnd = invoicePeriod(inv)

	case "invoice.payment_failed":
		inv, errParse := decodeInvoice(event.Data.Raw)
		if errParse != nil {
			return out, errParse
		}
		out.Kind = subscription.EventPaymentFailed
		out.SubscriptionID = invoiceSubscriptionID(inv)
	}

	return out, nil
}

// checkoutUserID extracts the purchasing user from a checkout session. The
// session carries it both as client_reference_id and in metadata.
func checkoutUserID(sess *stripe.CheckoutSession) (uint64, error) {
	ref := sess.ClientReferenceID
	if ref == "" {
		ref = sess.Metadata["user_id"]
	}
	userID, errParse := strconv.ParseUint(ref, 10, 64)
	if errParse != nil || userID == 0 {
		return 0, fmt.Errorf("%w: checkout session has no user reference", ErrMalformedPayload)
	}
	return userID, nil
}

func decodeInvoice(raw []byte) (*stripe.Invoice, error) {
	var inv stripe.Invoice
	if errParse := json.Unmarshal(raw, &inv); errParse != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, errParse)
	}
	return &inv, nil
}

func invoiceSubscriptionID(inv *stripe.Invoice) string {
	if inv.Subscription != nil {
		return inv.Subscription.ID
	}
	return ""
}

// invoicePeriod prefers the line-item service period over the invoice's own
// bounds, matching what the subscription is actually paid through.
func invoicePeriod(inv *stripe.Invoice) (time.Time, time.Time) {
	if inv.Lines != nil && len(inv.Lines.Data) > 0 && inv.Lines.Data[0].Period != nil {
		p := inv.Lines.Data[0].Period
		return time.Unix(p.Start, 0).UTC(), time.Unix(p.End, 0).UTC()
	}
	return time.Unix(inv.PeriodStart, 0).UTC(), time.Unix(inv.PeriodEnd, 0).UTC()
}
