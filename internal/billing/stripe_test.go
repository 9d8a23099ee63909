package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/storm-saas/storm/internal/config"
	"github.com/storm-saas/storm/internal/models"
)

func TestStripeClient_UnconfiguredRejectsCalls(t *testing.T) {
	client := NewStripeClient(config.StripeConfig{})

	if _, err := client.EnsureCustomer(context.Background(), &models.User{ID: 1}, ""); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := client.CreateCheckoutSession(context.Background(), "cus_1", 1, models.PlanPremium); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if err := client.SetCancelAtPeriodEnd(context.Background(), "sub_1", true); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

// A cancelled context must abort the outbound call before any transport work
// happens; the SDK honors params.Context only when the client sets it.
func TestStripeClient_CallsHonorContext(t *testing.T) {
	client := NewStripeClient(config.StripeConfig{SecretKey: "sk_test_unused", FrontendURL: "http://localhost:3000"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := client.SetCancelAtPeriodEnd(ctx, "sub_ctx_1", true); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := client.EnsureCustomer(ctx, &models.User{ID: 7, Email: "ctx@example.com"}, ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := client.CreateCheckoutSession(ctx, "cus_ctx_1", 7, models.PlanPremium); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
