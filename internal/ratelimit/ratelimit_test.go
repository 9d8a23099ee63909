package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/storm-saas/storm/internal/models"
)

func TestMemoryLimiter_FixedWindow(t *testing.T) {
	limiter := NewMemoryLimiter()
	now := time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		res, err := limiter.Allow(context.Background(), "k:1", 3, now)
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("expected request %d allowed", i)
		}
		if res.Remaining != 3-(i+1) {
			t.Fatalf("expected remaining %d, got %d", 3-(i+1), res.Remaining)
		}
	}

	res, err := limiter.Allow(context.Background(), "k:1", 3, now)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if res.Allowed {
		t.Fatalf("expected fourth request denied")
	}

	// The next second opens a fresh window.
	res, err = limiter.Allow(context.Background(), "k:1", 3, now.Add(time.Second))
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !res.Allowed {
		t.Fatalf("expected new window to allow")
	}
}

func TestMemoryLimiter_KeysIndependent(t *testing.T) {
	limiter := NewMemoryLimiter()
	now := time.Now()

	if res, _ := limiter.Allow(context.Background(), "k:1", 1, now); !res.Allowed {
		t.Fatalf("expected first key allowed")
	}
	if res, _ := limiter.Allow(context.Background(), "k:1", 1, now); res.Allowed {
		t.Fatalf("expected first key exhausted")
	}
	if res, _ := limiter.Allow(context.Background(), "k:2", 1, now); !res.Allowed {
		t.Fatalf("expected second key unaffected")
	}
}

func TestResolveLimit(t *testing.T) {
	key := &models.APIKey{ID: 7, RateLimit: 50}
	decision := ResolveLimit(key, 1000)
	if decision.Limit != 50 || decision.Scope != ScopeAPIKey || decision.KeyID != 7 {
		t.Fatalf("unexpected decision: %+v", decision)
	}

	key.RateLimit = 0
	decision = ResolveLimit(key, 1000)
	if decision.Limit != 1000 {
		t.Fatalf("expected fallback limit, got %d", decision.Limit)
	}

	if decision = ResolveLimit(nil, 1000); decision.Limit != 0 {
		t.Fatalf("expected empty decision for nil key, got %+v", decision)
	}
}

func TestKeyForDecision(t *testing.T) {
	if got := KeyForDecision(1, Decision{Limit: 10, Scope: ScopeAPIKey, KeyID: 7}); got != "k:7" {
		t.Fatalf("expected k:7, got %q", got)
	}
	if got := KeyForDecision(1, Decision{Limit: 10, Scope: ScopeUser}); got != "u:1" {
		t.Fatalf("expected u:1, got %q", got)
	}
	if got := KeyForDecision(1, Decision{Scope: ScopeAPIKey, KeyID: 7}); got != "" {
		t.Fatalf("expected empty key without a limit, got %q", got)
	}
}

func TestManager_MemoryFallbackWithoutRedis(t *testing.T) {
	m := NewManager(func() Settings { return Settings{} }, nil, nil)

	res, err := m.Allow(context.Background(), "k:1", 1)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !res.Allowed {
		t.Fatalf("expected first request allowed")
	}
	res, err = m.Allow(context.Background(), "k:1", 1)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if res.Allowed {
		t.Fatalf("expected second request denied")
	}
}

func TestManager_ZeroLimitAllowsAll(t *testing.T) {
	m := NewManager(nil, nil, nil)
	for i := 0; i < 5; i++ {
		res, err := m.Allow(context.Background(), "k:1", 0)
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("expected unlimited key allowed")
		}
	}
}
