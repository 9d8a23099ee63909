// Package api registers the HTTP surface: the authenticated control plane
// under /v0, the Stripe webhook, and the API-key data plane under /api/v1.
package api

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/storm-saas/storm/internal/apikeys"
	"github.com/storm-saas/storm/internal/auth"
	"github.com/storm-saas/storm/internal/billing"
	"github.com/storm-saas/storm/internal/config"
	"github.com/storm-saas/storm/internal/http/api/handlers"
	"github.com/storm-saas/storm/internal/ratelimit"
	"github.com/storm-saas/storm/internal/subscription"
	"github.com/storm-saas/storm/internal/usage"
)

// Services bundles the components the HTTP layer serves.
type Services struct {
	DB      *gorm.DB
	Auth    *auth.Service
	Ledger  *subscription.Ledger
	Keys    *apikeys.Registry
	Meter   *usage.Meter
	Stripe  *billing.StripeClient
	Limiter *ratelimit.Manager

	StripeCfg config.StripeConfig
	ServerCfg config.ServerConfig
}

// RegisterRoutes registers routes, middleware, and handlers.
func RegisterRoutes(r *gin.Engine, s Services) {
	if r == nil || s.DB == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(s.DB)
	r.GET("/healthz", healthHandler.Healthz)

	r.Static("/uploads", s.ServerCfg.UploadDir)

	v0 := r.Group("/v0")

	authHandler := handlers.NewAuthHandler(s.Auth)
	v0.POST("/auth/register", authHandler.Register)
	v0.POST("/auth/login", authHandler.Login)
	v0.POST("/auth/login/totp", authHandler.LoginTOTP)
	v0.POST("/auth/refresh", authHandler.Refresh)
	v0.POST("/auth/verify-token", authHandler.VerifyToken)

	subHandler := handlers.NewSubscriptionHandler(s.Ledger, s.Meter, s.Stripe, s.StripeCfg)
	v0.GET("/plans", subHandler.Plans)
	v0.POST("/webhooks/stripe", subHandler.Webhook)

	authed := v0.Group("")
	authed.Use(UserAuthMiddleware(s.Auth))

	userHandler := handlers.NewUserHandler(s.DB, s.ServerCfg.UploadDir)
	authed.GET("/users/me", userHandler.Me)
	authed.PUT("/users/me", userHandler.Update)
	authed.PUT("/users/me/password", userHandler.ChangePassword)
	authed.POST("/users/me/avatar", userHandler.UploadAvatar)
	authed.DELETE("/users/me/avatar", userHandler.DeleteAvatar)
	authed.POST("/auth/logout", authHandler.Logout)

	mfaHandler := handlers.NewMFAHandler(s.Auth)
	authed.GET("/mfa/status", mfaHandler.Status)
	authed.POST("/mfa/totp/prepare", mfaHandler.PrepareTOTP)
	authed.POST("/mfa/totp/confirm", mfaHandler.ConfirmTOTP)
	authed.POST("/mfa/totp/disable", mfaHandler.DisableTOTP)

	notificationHandler := handlers.NewNotificationHandler(s.DB)
	authed.GET("/notifications", notificationHandler.List)
	authed.POST("/notifications/:id/read", notificationHandler.MarkRead)
	authed.POST("/notifications/read-all", notificationHandler.MarkAllRead)

	projectHandler := handlers.NewProjectHandler(s.DB)
	authed.POST("/projects", projectHandler.Create)
	authed.GET("/projects", projectHandler.List)
	authed.GET("/projects/:id", projectHandler.Get)
	authed.PUT("/projects/:id", projectHandler.Update)
	authed.DELETE("/projects/:id", projectHandler.Delete)

	apiKeyHandler := handlers.NewAPIKeyHandler(s.Keys)
	authed.POST("/api-keys", apiKeyHandler.Create)
	authed.GET("/api-keys", apiKeyHandler.List)
	authed.DELETE("/api-keys/:id", apiKeyHandler.Revoke)

	dashboardHandler := handlers.NewDashboardHandler(s.DB, s.Meter, s.Ledger)
	authed.GET("/dashboard/stats", dashboardHandler.Stats)

	analyticsHandler := handlers.NewAnalyticsHandler(s.Meter, s.Ledger)
	authed.GET("/analytics/summary", analyticsHandler.Summary)
	authed.GET("/analytics/daily", analyticsHandler.Daily)
	authed.GET("/analytics/endpoints", analyticsHandler.Endpoints)
	authed.GET("/analytics/statuses", analyticsHandler.Statuses)
	authed.GET("/analytics/hours", analyticsHandler.Hours)
	authed.GET("/analytics/recent", analyticsHandler.Recent)
	authed.GET("/analytics/export", analyticsHandler.ExportCSV)

	authed.GET("/subscriptions/current", subHandler.Current)
	authed.GET("/subscriptions/usage", subHandler.Usage)
	authed.POST("/subscriptions/checkout", subHandler.Checkout)
	authed.POST("/subscriptions/cancel", subHandler.Cancel)
	authed.POST("/subscriptions/reactivate", subHandler.Reactivate)

	admin := v0.Group("/admin")
	admin.Use(UserAuthMiddleware(s.Auth))
	admin.Use(AdminOnlyMiddleware())

	adminHandler := handlers.NewAdminHandler(s.DB)
	admin.GET("/users", adminHandler.ListUsers)
	admin.GET("/users/:id", adminHandler.GetUser)
	admin.POST("/users/:id/disable", adminHandler.DisableUser)
	admin.POST("/users/:id/enable", adminHandler.EnableUser)
	admin.GET("/stats", adminHandler.Stats)

	dataPlane := r.Group("/api/v1")
	dataPlane.Use(APIKeyMiddleware(s))

	dataHandler := handlers.NewDataHandler(s.Meter, s.Ledger)
	dataPlane.GET("/ping", dataHandler.Ping)
	dataPlane.GET("/me", dataHandler.Me)
	dataPlane.GET("/usage", dataHandler.Usage)
}
