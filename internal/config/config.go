// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Storage
	DatabaseURL  string // PostgreSQL connection string (optional, uses in-memory if not set)
	RedisURL     string // Fact cache (optional)
	FactCacheTTL time.Duration
	AuditEnabled bool

	// Policy engine
	RulesFile            string           // YAML rule table (optional, built-in defaults otherwise)
	FirstTimeAmountLimit *decimal.Decimal // Caps the first-time-user rule (optional)

	// Fact lookups
	RetryMaxAttempts  int
	RetryInitialDelay time.Duration
	RetryJitter       bool
	BreakerThreshold  int
	BreakerCooldown   time.Duration

	// Security
	RateLimitRPM int

	// Observability
	OTLPEndpoint     string
	TraceSampleRatio float64 // Fraction of root traces exported
}

const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultFactCacheTTL      = 5 * time.Minute
	DefaultRetryMaxAttempts  = 3
	DefaultRetryInitialDelay = 2 * time.Second
	DefaultBreakerThreshold  = 5
	DefaultBreakerCooldown   = 30 * time.Second
	DefaultRateLimit         = 600
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:         getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:       os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RedisURL:          os.Getenv("REDIS_URL"),
		FactCacheTTL:      getEnvDuration("FACT_CACHE_TTL", DefaultFactCacheTTL),
		AuditEnabled:      getEnvBool("AUDIT_ENABLED", true),
		RulesFile:         os.Getenv("RULES_FILE"),
		RetryMaxAttempts:  int(getEnvInt64("RETRY_MAX_ATTEMPTS", DefaultRetryMaxAttempts)),
		RetryInitialDelay: getEnvDuration("RETRY_INITIAL_DELAY", DefaultRetryInitialDelay),
		RetryJitter:       getEnvBool("RETRY_JITTER", false),
		BreakerThreshold:  int(getEnvInt64("BREAKER_THRESHOLD", DefaultBreakerThreshold)),
		BreakerCooldown:   getEnvDuration("BREAKER_COOLDOWN", DefaultBreakerCooldown),
		RateLimitRPM:      int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TraceSampleRatio:  getEnvFloat("OTEL_TRACES_SAMPLER_ARG", 1),
	}

	if raw := os.Getenv("FIRST_TIME_AMOUNT_LIMIT"); raw != "" {
		limit, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("FIRST_TIME_AMOUNT_LIMIT must be a decimal amount: %w", err)
		}
		cfg.FirstTimeAmountLimit = &limit
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all configuration values are usable
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	if c.RetryMaxAttempts <= 0 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be positive")
	}
	if c.RetryInitialDelay < 0 {
		return fmt.Errorf("RETRY_INITIAL_DELAY must not be negative")
	}
	if c.FactCacheTTL <= 0 {
		return fmt.Errorf("FACT_CACHE_TTL must be positive")
	}
	if c.BreakerThreshold <= 0 {
		return fmt.Errorf("BREAKER_THRESHOLD must be positive")
	}
	if c.FirstTimeAmountLimit != nil && !c.FirstTimeAmountLimit.IsPositive() {
		return fmt.Errorf("FIRST_TIME_AMOUNT_LIMIT must be positive")
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("OTEL_TRACES_SAMPLER_ARG must be between 0 and 1")
	}
	if c.RateLimitRPM <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
