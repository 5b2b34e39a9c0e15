package config

import (
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func validConfig() Config {
	return Config{
		Port:              DefaultPort,
		LogFormat:         DefaultLogFormat,
		FactCacheTTL:      DefaultFactCacheTTL,
		RetryMaxAttempts:  DefaultRetryMaxAttempts,
		RetryInitialDelay: DefaultRetryInitialDelay,
		BreakerThreshold:  DefaultBreakerThreshold,
		RateLimitRPM:      DefaultRateLimit,
	}
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DefaultRetryMaxAttempts, cfg.RetryMaxAttempts)
	assert.Equal(t, DefaultRetryInitialDelay, cfg.RetryInitialDelay)
	assert.Equal(t, DefaultFactCacheTTL, cfg.FactCacheTTL)
	assert.True(t, cfg.AuditEnabled)
	assert.False(t, cfg.RetryJitter)
	assert.Nil(t, cfg.FirstTimeAmountLimit)
	assert.Equal(t, 1.0, cfg.TraceSampleRatio)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "RETRY_MAX_ATTEMPTS", "5")
	setEnv(t, "RETRY_INITIAL_DELAY", "500ms")
	setEnv(t, "RETRY_JITTER", "true")
	setEnv(t, "FACT_CACHE_TTL", "1m")
	setEnv(t, "AUDIT_ENABLED", "false")
	setEnv(t, "LOG_FORMAT", "json")
	setEnv(t, "FIRST_TIME_AMOUNT_LIMIT", "2500.50")
	setEnv(t, "OTEL_TRACES_SAMPLER_ARG", "0.25")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.RetryMaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryInitialDelay)
	assert.True(t, cfg.RetryJitter)
	assert.Equal(t, time.Minute, cfg.FactCacheTTL)
	assert.False(t, cfg.AuditEnabled)
	assert.Equal(t, "json", cfg.LogFormat)
	require.NotNil(t, cfg.FirstTimeAmountLimit)
	assert.True(t, cfg.FirstTimeAmountLimit.Equal(decimal.RequireFromString("2500.50")))
	assert.Equal(t, 0.25, cfg.TraceSampleRatio)
}

func TestLoad_InvalidAmountLimit(t *testing.T) {
	setEnv(t, "FIRST_TIME_AMOUNT_LIMIT", "lots")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "FIRST_TIME_AMOUNT_LIMIT")
}

func TestLoad_NonPositiveAttempts(t *testing.T) {
	setEnv(t, "RETRY_MAX_ATTEMPTS", "0")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "RETRY_MAX_ATTEMPTS")
}

func TestConfig_Validate(t *testing.T) {
	negative := decimal.NewFromInt(-10)
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "unknown log format", mutate: func(c *Config) { c.LogFormat = "xml" }, wantErr: "LOG_FORMAT"},
		{name: "zero attempts", mutate: func(c *Config) { c.RetryMaxAttempts = 0 }, wantErr: "RETRY_MAX_ATTEMPTS"},
		{name: "negative delay", mutate: func(c *Config) { c.RetryInitialDelay = -time.Second }, wantErr: "RETRY_INITIAL_DELAY"},
		{name: "zero delay allowed", mutate: func(c *Config) { c.RetryInitialDelay = 0 }},
		{name: "negative amount limit", mutate: func(c *Config) { c.FirstTimeAmountLimit = &negative }, wantErr: "FIRST_TIME_AMOUNT_LIMIT"},
		{name: "zero cache ttl", mutate: func(c *Config) { c.FactCacheTTL = 0 }, wantErr: "FACT_CACHE_TTL"},
		{name: "sample ratio above one", mutate: func(c *Config) { c.TraceSampleRatio = 1.5 }, wantErr: "OTEL_TRACES_SAMPLER_ARG"},
		{name: "missing port", mutate: func(c *Config) { c.Port = "" }, wantErr: "PORT is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvInt64(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
}

func TestGetEnvDurationAndBool(t *testing.T) {
	setEnv(t, "TEST_DUR", "90s")
	setEnv(t, "TEST_BAD_DUR", "soon")
	setEnv(t, "TEST_BOOL", "false")

	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DUR", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("TEST_BAD_DUR", time.Second))
	assert.False(t, getEnvBool("TEST_BOOL", true))
	assert.True(t, getEnvBool("NONEXISTENT_VAR", true))
}
