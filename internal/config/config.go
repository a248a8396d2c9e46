package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Port                      string
	AllowedOrigin             string
	DatabaseDriver            string
	DatabaseURL               string
	RedisAddr                 string
	RedisPassword             string
	RedisDB                   int
	AuthSecret                string
	AccessTokenTTLMinutes     int
	BootstrapAdminUsername    string
	BootstrapAdminPassword    string
	LogLevel                  string
	FulfillmentTimeoutSeconds int
	InvoiceLockTTLSeconds     int
	LowStockThreshold         int
	ExpirySoonDays            int
	AlertCacheTTLSeconds      int
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := Config{
		Port:                      getEnv("PORT", "8080"),
		AllowedOrigin:             getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseDriver:            strings.ToLower(getEnv("DATABASE_DRIVER", DriverPostgres)),
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		RedisAddr:                 os.Getenv("REDIS_ADDR"),
		RedisPassword:             os.Getenv("REDIS_PASSWORD"),
		RedisDB:                   redisDB,
		AuthSecret:                strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:     positiveInt("ACCESS_TOKEN_TTL_MINUTES", 480),
		BootstrapAdminUsername:    getEnv("BOOTSTRAP_ADMIN_USERNAME", "admin"),
		BootstrapAdminPassword:    os.Getenv("BOOTSTRAP_ADMIN_PASSWORD"),
		LogLevel:                  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		FulfillmentTimeoutSeconds: positiveInt("FULFILLMENT_TIMEOUT_SECONDS", 10),
		InvoiceLockTTLSeconds:     positiveInt("INVOICE_LOCK_TTL_SECONDS", 30),
		LowStockThreshold:         positiveInt("LOW_STOCK_THRESHOLD", 10),
		ExpirySoonDays:            positiveInt("EXPIRY_SOON_DAYS", 7),
		AlertCacheTTLSeconds:      positiveInt("ALERT_CACHE_TTL_SECONDS", 30),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) FulfillmentTimeout() time.Duration {
	return time.Duration(c.FulfillmentTimeoutSeconds) * time.Second
}

func (c Config) InvoiceLockTTL() time.Duration {
	return time.Duration(c.InvoiceLockTTLSeconds) * time.Second
}

// NewLogger builds the process logger. Unknown levels fall back to info.
func NewLogger(level string, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if out != nil {
		logger.SetOutput(out)
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func positiveInt(key string, fallback int) int {
	parsed, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}
