package internal

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Quota store backends.
const (
	QuotaStorePostgres = "postgres"
	QuotaStoreRedis    = "redis"
)

type Config struct {
	Env         string
	Port        int
	LogLevel    string
	DatabaseUrl string

	// Quota engine
	QuotaStore             string // "postgres" or "redis"
	RedisURL               string
	QuotaDailyLimit        int
	QuotaReconcileInterval time.Duration
	QuotaFetchTimeout      time.Duration

	// DefaultTimezone is used for sessions whose user has no valid zone.
	DefaultTimezone string
	DefaultLocation *time.Location

	// Send-attempt rate limit, per user
	SendRateLimit  int
	SendRateWindow time.Duration

	// Maintenance worker
	WorkerEnabled      bool
	WorkerPollInterval time.Duration
	SessionIdleTimeout time.Duration
	UsageRetentionDays int

	// Stripe Billing Configuration
	// Billing is disabled when the secret key is empty; the webhook then
	// acknowledges events without processing them.
	StripeSecretKey     string
	StripeWebhookSecret string

	// Stripe Price IDs of the premium plan
	StripePremiumMonthlyPriceID string
	StripePremiumYearlyPriceID  string

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		QuotaStore:             getEnv("QUOTA_STORE", QuotaStorePostgres),
		RedisURL:               getEnv("REDIS_URL", ""),
		QuotaDailyLimit:        getEnvInt("QUOTA_DAILY_LIMIT", 5),
		QuotaReconcileInterval: getEnvDuration("QUOTA_RECONCILE_INTERVAL", 60*time.Second),
		QuotaFetchTimeout:      getEnvDuration("QUOTA_FETCH_TIMEOUT", 10*time.Second),
		DefaultTimezone:        getEnv("DEFAULT_TIMEZONE", "UTC"),

		SendRateLimit:  getEnvInt("SEND_RATE_LIMIT", 30),
		SendRateWindow: getEnvDuration("SEND_RATE_WINDOW", time.Minute),

		WorkerEnabled:      getEnvBool("WORKER_ENABLED", true),
		WorkerPollInterval: getEnvDuration("WORKER_POLL_INTERVAL", time.Minute),
		SessionIdleTimeout: getEnvDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		UsageRetentionDays: getEnvInt("USAGE_RETENTION_DAYS", 90),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		StripePremiumMonthlyPriceID: getEnv("STRIPE_PREMIUM_MONTHLY_PRICE_ID", ""),
		StripePremiumYearlyPriceID:  getEnv("STRIPE_PREMIUM_YEARLY_PRICE_ID", ""),

		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	// Required
	cfg.DatabaseUrl = os.Getenv("DATABASE_URL")
	if cfg.DatabaseUrl == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	switch cfg.QuotaStore {
	case QuotaStorePostgres:
	case QuotaStoreRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required when QUOTA_STORE is 'redis'")
		}
	default:
		return nil, fmt.Errorf("QUOTA_STORE must be either 'postgres' or 'redis', got: %s", cfg.QuotaStore)
	}

	if cfg.QuotaDailyLimit < 1 {
		return nil, fmt.Errorf("QUOTA_DAILY_LIMIT must be at least 1, got: %d", cfg.QuotaDailyLimit)
	}

	loc, err := time.LoadLocation(cfg.DefaultTimezone)
	if err != nil {
		return nil, fmt.Errorf("DEFAULT_TIMEZONE is not a valid IANA zone: %w", err)
	}
	cfg.DefaultLocation = loc

	if cfg.UsageRetentionDays < 2 {
		return nil, fmt.Errorf("USAGE_RETENTION_DAYS must be at least 2, got: %d", cfg.UsageRetentionDays)
	}

	if cfg.StripeSecretKey != "" && cfg.StripeWebhookSecret == "" {
		return nil, fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set")
	}

	return cfg, nil
}

// IsDevelopment reports whether the server runs without TLS in front of it.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// BillingEnabled reports whether Stripe is configured.
func (c *Config) BillingEnabled() bool {
	return c.StripeSecretKey != ""
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
