package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/storm-saas/storm/internal/auth"
	"github.com/storm-saas/storm/internal/models"
	"github.com/storm-saas/storm/internal/ratelimit"
	"github.com/storm-saas/storm/internal/usage"
)

// UserAuthMiddleware validates access tokens and loads the user into the
// request context.
func UserAuthMiddleware(authSvc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		user, errAuth := authSvc.Authenticate(c.Request.Context(), token)
		if errAuth != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("user", user)
		c.Next()
	}
}

// AdminOnlyMiddleware rejects non-admin users. It must run after
// UserAuthMiddleware.
func AdminOnlyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		v, exists := c.Get("user")
		user, ok := v.(*models.User)
		if !exists || !ok || !user.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access required"})
			return
		}
		c.Next()
	}
}

// APIKeyMiddleware authenticates data plane requests by API key, applies the
// per-second rate limit and the plan's monthly quota, and meters the call
// after the response is written.
func APIKeyMiddleware(s Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		plaintext := apiKeyFromRequest(c)
		if plaintext == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing api key"})
			return
		}

		key, errAuth := s.Keys.Authenticate(c.Request.Context(), plaintext)
		if errAuth != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}

		sub, errSub := s.Ledger.GetOrCreate(c.Request.Context(), key.UserID)
		if errSub != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "subscription lookup failed"})
			return
		}
		if !subscriptionServes(sub) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "subscription inactive"})
			return
		}

		decision := ratelimit.ResolveLimit(key, 0)
		if limiterKey := ratelimit.KeyForDecision(key.UserID, decision); limiterKey != "" {
			result, errAllow := s.Limiter.Allow(c.Request.Context(), limiterKey, decision.Limit)
			if errAllow != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "rate limit check failed"})
				return
			}
			c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			if !result.Reset.IsZero() {
				c.Header("X-RateLimit-Reset", strconv.FormatInt(result.Reset.Unix(), 10))
			}
			if !result.Allowed {
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
				return
			}
		}

		_, left, errQuota := s.Meter.Remaining(c.Request.Context(), key.UserID, sub.Plan)
		if errQuota != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "quota check failed"})
			return
		}
		if left == 0 {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "monthly quota exceeded"})
			return
		}

		c.Set("apiKey", key)
		c.Set("plan", sub.Plan)

		started := time.Now()
		c.Next()

		keyID := key.ID
		event := usage.Event{
			UserID:     key.UserID,
			APIKeyID:   &keyID,
			Endpoint:   c.Request.URL.Path,
			Method:     c.Request.Method,
			StatusCode: c.Writer.Status(),
			LatencyMs:  float64(time.Since(started).Microseconds()) / 1000,
			Timestamp:  started.UTC(),
			IPAddress:  c.ClientIP(),
			UserAgent:  c.Request.UserAgent(),
		}
		// Metering must not add latency to the data plane.
		go s.Meter.Record(event)
	}
}

// subscriptionServes reports whether the data plane should serve the
// subscription. Cancelled plans keep serving through the paid period and
// past-due plans keep serving while payment retries run.
func subscriptionServes(sub *models.Subscription) bool {
	switch sub.Status {
	case models.StatusActive, models.StatusPastDue:
		return true
	case models.StatusCancelled:
		return sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.After(time.Now().UTC())
	default:
		return sub.Plan == models.PlanFree
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", false
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == authHeader {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// apiKeyFromRequest accepts the key as a bearer token or an X-API-Key
// header.
func apiKeyFromRequest(c *gin.Context) string {
	if token, ok := bearerToken(c); ok {
		return token
	}
	return strings.TrimSpace(c.GetHeader("X-API-Key"))
}
