// Package config loads runtime settings from the environment and builds
// the process logger.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/snel-bot/resilience/pkg/ratelimit"
)

// RateLimitSetting configures one service's token bucket.
type RateLimitSetting struct {
	TokensPerSecond float64
	MaxTokens       int
}

// Config holds all environment-driven settings.
type Config struct {
	// Cache
	CacheMaxEntries      int
	CachePersistenceOn   bool
	CachePersistPath     string
	CacheSweepInterval   time.Duration
	CachePersistInterval time.Duration

	// Circuit breakers
	BreakerFailureThreshold int
	BreakerRecoveryTime     time.Duration

	// Rate limits, keyed by lowercase service name.
	RateLimits map[string]RateLimitSetting

	// Metrics
	MetricsDir              string
	MetricsSnapshotInterval time.Duration

	// Logging
	LogLevel  string
	LogToFile bool
	LogFile   string
}

// Defaults returns the configuration used when the environment sets
// nothing.
func Defaults() *Config {
	return &Config{
		CacheMaxEntries:         1000,
		CachePersistPath:        ".cache/snapshot.gob",
		CacheSweepInterval:      time.Minute,
		CachePersistInterval:    5 * time.Minute,
		BreakerFailureThreshold: 5,
		BreakerRecoveryTime:     60 * time.Second,
		RateLimits:              make(map[string]RateLimitSetting),
		MetricsDir:              ".metrics",
		MetricsSnapshotInterval: 15 * time.Minute,
		LogLevel:                "info",
		LogFile:                 "snel.log",
	}
}

// Load reads configuration from the environment on top of the defaults.
//
// Rate limits are discovered by scanning for variables of the form
// <SERVICE>_RATE_LIMIT with a "tokens_per_second" or
// "tokens_per_second:max_tokens" value, e.g. BINANCE_RATE_LIMIT=10:20.
func Load() (*Config, error) {
	c := Defaults()

	var err error
	if c.CacheMaxEntries, err = intVar("MAX_CACHE_ENTRIES", c.CacheMaxEntries); err != nil {
		return nil, err
	}
	c.CachePersistenceOn = boolVar("ENABLE_CACHE_PERSISTENCE", c.CachePersistenceOn)
	if v := os.Getenv("CACHE_PERSIST_PATH"); v != "" {
		c.CachePersistPath = v
	}

	if c.BreakerFailureThreshold, err = intVar("CIRCUIT_BREAKER_THRESHOLD", c.BreakerFailureThreshold); err != nil {
		return nil, err
	}
	if c.BreakerRecoveryTime, err = durationVar("CIRCUIT_BREAKER_RECOVERY_TIME", c.BreakerRecoveryTime); err != nil {
		return nil, err
	}

	if v := os.Getenv("METRICS_DIR"); v != "" {
		c.MetricsDir = v
	}
	if c.MetricsSnapshotInterval, err = durationVar("METRICS_SNAPSHOT_INTERVAL", c.MetricsSnapshotInterval); err != nil {
		return nil, err
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	c.LogToFile = boolVar("LOG_TO_FILE", c.LogToFile)
	if v := os.Getenv("LOG_FILE"); v != "" {
		c.LogFile = v
	}

	for _, entry := range os.Environ() {
		name, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasSuffix(name, "_RATE_LIMIT") || name == "_RATE_LIMIT" {
			continue
		}

		service := strings.ToLower(strings.TrimSuffix(name, "_RATE_LIMIT"))
		setting, err := parseRateLimit(value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", name, err)
		}
		c.RateLimits[service] = setting
	}

	return c, nil
}

// RegisterRateLimits creates a limiter in registry for every configured
// service.
func (c *Config) RegisterRateLimits(registry *ratelimit.Registry) {
	for service, setting := range c.RateLimits {
		registry.Register(service, setting.TokensPerSecond, setting.MaxTokens)
	}
}

// NewLogger builds a zap logger from the logging settings.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	if c.LogToFile {
		zc.OutputPaths = []string{c.LogFile}
		zc.ErrorOutputPaths = []string{c.LogFile}
	}

	return zc.Build()
}

// parseRateLimit parses "tokens_per_second" or
// "tokens_per_second:max_tokens". With no max, the bucket capacity is the
// refill rate rounded up.
func parseRateLimit(value string) (RateLimitSetting, error) {
	rateStr, maxStr, hasMax := strings.Cut(value, ":")

	rate, err := strconv.ParseFloat(strings.TrimSpace(rateStr), 64)
	if err != nil || rate <= 0 {
		return RateLimitSetting{}, fmt.Errorf("tokens per second must be a positive number, got %q", rateStr)
	}

	maxTokens := int(rate)
	if float64(maxTokens) < rate {
		maxTokens++
	}
	if hasMax {
		maxTokens, err = strconv.Atoi(strings.TrimSpace(maxStr))
		if err != nil || maxTokens <= 0 {
			return RateLimitSetting{}, fmt.Errorf("max tokens must be a positive integer, got %q", maxStr)
		}
	}

	return RateLimitSetting{TokensPerSecond: rate, MaxTokens: maxTokens}, nil
}

func intVar(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return n, nil
}

func boolVar(name string, fallback bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func durationVar(name string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}

	// Accept both Go duration strings and bare seconds.
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}

	return 0, fmt.Errorf("invalid %s %q: expected a duration or seconds", name, v)
}
