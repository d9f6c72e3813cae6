package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snel-bot/resilience/pkg/ratelimit"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1000, c.CacheMaxEntries)
	assert.False(t, c.CachePersistenceOn)
	assert.Equal(t, 5, c.BreakerFailureThreshold)
	assert.Equal(t, 60*time.Second, c.BreakerRecoveryTime)
	assert.Equal(t, "info", c.LogLevel)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("MAX_CACHE_ENTRIES", "250")
	t.Setenv("ENABLE_CACHE_PERSISTENCE", "true")
	t.Setenv("CACHE_PERSIST_PATH", "/tmp/snel.gob")
	t.Setenv("CIRCUIT_BREAKER_THRESHOLD", "3")
	t.Setenv("CIRCUIT_BREAKER_RECOVERY_TIME", "30s")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_TO_FILE", "yes")

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 250, c.CacheMaxEntries)
	assert.True(t, c.CachePersistenceOn)
	assert.Equal(t, "/tmp/snel.gob", c.CachePersistPath)
	assert.Equal(t, 3, c.BreakerFailureThreshold)
	assert.Equal(t, 30*time.Second, c.BreakerRecoveryTime)
	assert.Equal(t, "debug", c.LogLevel)
	assert.True(t, c.LogToFile)
}

func TestLoadRecoveryTimeBareSeconds(t *testing.T) {
	t.Setenv("CIRCUIT_BREAKER_RECOVERY_TIME", "45")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, c.BreakerRecoveryTime)
}

func TestLoadRateLimitScan(t *testing.T) {
	t.Setenv("BINANCE_RATE_LIMIT", "10:20")
	t.Setenv("COINGECKO_RATE_LIMIT", "0.5")

	c, err := Load()
	require.NoError(t, err)

	require.Contains(t, c.RateLimits, "binance")
	assert.Equal(t, 10.0, c.RateLimits["binance"].TokensPerSecond)
	assert.Equal(t, 20, c.RateLimits["binance"].MaxTokens)

	require.Contains(t, c.RateLimits, "coingecko")
	assert.Equal(t, 0.5, c.RateLimits["coingecko"].TokensPerSecond)
	assert.Equal(t, 1, c.RateLimits["coingecko"].MaxTokens, "capacity rounds up from the rate")
}

func TestLoadInvalidValues(t *testing.T) {
	t.Setenv("MAX_CACHE_ENTRIES", "lots")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadInvalidRateLimit(t *testing.T) {
	t.Setenv("BINANCE_RATE_LIMIT", "-5")
	_, err := Load()
	assert.Error(t, err)
}

func TestRegisterRateLimits(t *testing.T) {
	c := Defaults()
	c.RateLimits["binance"] = RateLimitSetting{TokensPerSecond: 10, MaxTokens: 5}

	registry := ratelimit.NewRegistry(nil)
	c.RegisterRateLimits(registry)

	limiter := registry.Get("binance")
	require.NotNil(t, limiter)
	assert.Equal(t, 5, limiter.Status().MaxTokens)
}

func TestNewLogger(t *testing.T) {
	c := Defaults()
	c.LogLevel = "warn"

	logger, err := c.NewLogger()
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Sync()
}

func TestNewLoggerBadLevel(t *testing.T) {
	c := Defaults()
	c.LogLevel = "shouty"

	_, err := c.NewLogger()
	assert.Error(t, err)
}
