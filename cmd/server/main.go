package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"apotek/backend/internal/alerts"
	"apotek/backend/internal/cache"
	"apotek/backend/internal/config"
	"apotek/backend/internal/domain"
	"apotek/backend/internal/httpapi"
	"apotek/backend/internal/lock"
	"apotek/backend/internal/service"
	"apotek/backend/internal/store"
	"apotek/backend/internal/store/memory"
	"apotek/backend/internal/store/sqlstore"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := config.NewLogger(cfg.LogLevel, os.Stdout)
	if err := validateSecurityConfig(cfg); err != nil {
		logger.WithError(err).Fatal("invalid security configuration")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		db, err := sqlstore.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
		if err != nil {
			logger.WithError(err).Fatal("database unavailable and DATABASE_URL is set; refusing to start with in-memory fallback")
		}
		if err := db.Migrate(ctx); err != nil {
			logger.WithError(err).Fatal("database migration failed")
		}
		repo = db
		closers = append(closers, db.Close)
		logger.WithField("driver", cfg.DatabaseDriver).Info("repository: sql")
	} else {
		repo = memory.NewSeeded()
		logger.Info("repository: in-memory")
	}

	alertCache := cache.AlertCache(cache.NoopAlertCache{})
	locker := lock.Locker(lock.NewLocal())
	if cfg.RedisAddr != "" {
		rdb := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		redisCache := cache.NewRedisAlertCache(rdb)
		if err := redisCache.Ping(ctx); err != nil {
			logger.WithError(err).Warn("redis unavailable, using noop cache and in-process locks")
			_ = rdb.Close()
		} else {
			alertCache = redisCache
			locker = lock.NewRedis(rdb, cfg.InvoiceLockTTL(), logger)
			closers = append(closers, rdb.Close)
			logger.Info("cache and locks: redis")
		}
	} else {
		logger.Info("cache: noop, locks: in-process")
	}

	engine := alerts.NewEngine(alertCache, alerts.Options{
		LowStockThreshold: cfg.LowStockThreshold,
		ExpirySoonDays:    cfg.ExpirySoonDays,
		CacheTTL:          time.Duration(cfg.AlertCacheTTLSeconds) * time.Second,
	})
	svc := service.New(service.Dependencies{
		Repo:               repo,
		Locker:             locker,
		Alerts:             engine,
		Logger:             logger,
		FulfillmentTimeout: cfg.FulfillmentTimeout(),
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	if cfg.BootstrapAdminPassword != "" {
		if err := auth.EnsureUser(ctx, cfg.BootstrapAdminUsername, cfg.BootstrapAdminPassword, domain.RoleAdmin); err != nil {
			logger.WithError(err).Fatal("failed to bootstrap admin account")
		}
	}
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.FulfillmentTimeout() + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.Address()).Info("apotek backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.WithError(err).Warn("close error")
		}
	}

	logger.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	switch cfg.DatabaseDriver {
	case config.DriverPostgres, config.DriverSQLite:
	default:
		return fmt.Errorf("DATABASE_DRIVER must be %q or %q, got %q", config.DriverPostgres, config.DriverSQLite, cfg.DatabaseDriver)
	}
	if cfg.InvoiceLockTTL() <= cfg.FulfillmentTimeout() {
		return fmt.Errorf("INVOICE_LOCK_TTL_SECONDS (%d) must be longer than FULFILLMENT_TIMEOUT_SECONDS (%d)", cfg.InvoiceLockTTLSeconds, cfg.FulfillmentTimeoutSeconds)
	}
	if cfg.BootstrapAdminPassword != "" && len(cfg.BootstrapAdminPassword) < 8 {
		return fmt.Errorf("BOOTSTRAP_ADMIN_PASSWORD must be at least 8 characters")
	}
	return nil
}
