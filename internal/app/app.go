// Package app wires configuration, storage and services into the runnable
// server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/storm-saas/storm/internal/apikeys"
	"github.com/storm-saas/storm/internal/auth"
	"github.com/storm-saas/storm/internal/billing"
	"github.com/storm-saas/storm/internal/config"
	"github.com/storm-saas/storm/internal/db"
	"github.com/storm-saas/storm/internal/http/api"
	"github.com/storm-saas/storm/internal/ratelimit"
	"github.com/storm-saas/storm/internal/subscription"
	"github.com/storm-saas/storm/internal/usage"
)

const shutdownTimeout = 10 * time.Second

// Migrate opens the database and runs migrations.
func Migrate(_ context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	return db.Migrate(conn)
}

// RunServer boots the API server with database-backed components and serves
// until the context is cancelled.
func RunServer(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	jwtCfg, err := config.LoadJWTConfig(configPath)
	if err != nil {
		return err
	}
	if jwtCfg.Secret == "" {
		return errors.New("missing jwt secret (set `jwt.secret` in config or JWT_SECRET)")
	}
	stripeCfg, err := config.LoadStripeConfig(configPath)
	if err != nil {
		return err
	}
	serverCfg, err := config.LoadServerConfig(configPath)
	if err != nil {
		return err
	}

	stripeClient := billing.NewStripeClient(stripeCfg)
	if !stripeClient.Configured() {
		log.Warn("stripe is not configured, checkout and webhooks are disabled")
	}

	ledger := subscription.NewLedger(conn, stripeClient)
	limiter := ratelimit.NewManager(func() ratelimit.Settings {
		return ratelimit.SettingsFromServerConfig(serverCfg)
	}, time.Now, nil)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	api.RegisterRoutes(engine, api.Services{
		DB:        conn,
		Auth:      auth.NewService(conn, jwtCfg),
		Ledger:    ledger,
		Keys:      apikeys.NewRegistry(conn, ledger),
		Meter:     usage.NewMeter(conn),
		Stripe:    stripeClient,
		Limiter:   limiter,
		StripeCfg: stripeCfg,
		ServerCfg: serverCfg,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", serverCfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s with config=%s", server.Addr, configPath)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case errServe := <-errCh:
		if errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			return errServe
		}
		return nil
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
