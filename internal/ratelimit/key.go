package ratelimit

import (
	"fmt"

	"github.com/storm-saas/storm/internal/models"
)

// ResolveLimit picks the effective per-second limit for an authenticated API
// key: the key's own limit when set, otherwise the fallback.
func ResolveLimit(key *models.APIKey, fallback int) Decision {
	if key == nil {
		return Decision{}
	}
	limit := key.RateLimit
	if limit <= 0 {
		limit = fallback
	}
	if limit <= 0 {
		return Decision{}
	}
	return Decision{Limit: limit, Scope: ScopeAPIKey, KeyID: key.ID}
}

// KeyForDecision builds a limiter key for the resolved scope.
func KeyForDecision(userID uint64, decision Decision) string {
	if decision.Limit <= 0 {
		return ""
	}
	switch decision.Scope {
	case ScopeAPIKey:
		if decision.KeyID == 0 {
			return ""
		}
		return fmt.Sprintf("k:%d", decision.KeyID)
	case ScopeUser:
		if userID == 0 {
			return ""
		}
		return fmt.Sprintf("u:%d", userID)
	default:
		return ""
	}
}
