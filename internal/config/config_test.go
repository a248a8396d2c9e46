package config

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("BOOTSTRAP_ADMIN_PASSWORD", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.BootstrapAdminPassword != "" {
		t.Fatalf("expected empty BOOTSTRAP_ADMIN_PASSWORD when unset, got %q", cfg.BootstrapAdminPassword)
	}
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "DATABASE_DRIVER", "DATABASE_URL", "LOG_LEVEL",
		"FULFILLMENT_TIMEOUT_SECONDS", "INVOICE_LOCK_TTL_SECONDS",
		"LOW_STOCK_THRESHOLD", "EXPIRY_SOON_DAYS", "ALERT_CACHE_TTL_SECONDS",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	require.Equal(t, ":8080", cfg.Address())
	require.Equal(t, DriverPostgres, cfg.DatabaseDriver)
	require.Empty(t, cfg.DatabaseURL)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, 10, cfg.FulfillmentTimeoutSeconds)
	require.Equal(t, 30, cfg.InvoiceLockTTLSeconds)
	require.Equal(t, 10, cfg.LowStockThreshold)
	require.Equal(t, 7, cfg.ExpirySoonDays)
	require.Equal(t, 30, cfg.AlertCacheTTLSeconds)
}

func TestLoadIgnoresNonPositiveNumbers(t *testing.T) {
	t.Setenv("LOW_STOCK_THRESHOLD", "-4")
	t.Setenv("EXPIRY_SOON_DAYS", "soon")
	t.Setenv("FULFILLMENT_TIMEOUT_SECONDS", "3")
	t.Setenv("DATABASE_DRIVER", "SQLite")

	cfg := Load()
	require.Equal(t, 10, cfg.LowStockThreshold)
	require.Equal(t, 7, cfg.ExpirySoonDays)
	require.Equal(t, 3, cfg.FulfillmentTimeoutSeconds)
	require.Equal(t, DriverSQLite, cfg.DatabaseDriver)
}

func TestNewLoggerWritesJSONAtConfiguredLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("warn", &buf)
	require.Equal(t, logrus.WarnLevel, logger.GetLevel())

	logger.Info("dropped")
	require.Zero(t, buf.Len())

	logger.WithField("module", "config").Warn("kept")
	require.Contains(t, buf.String(), `"module":"config"`)
	require.Contains(t, buf.String(), `"msg":"kept"`)

	require.Equal(t, logrus.InfoLevel, NewLogger("loud", nil).GetLevel())
}
