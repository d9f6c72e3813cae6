package middleware

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	resilience "github.com/snel-bot/resilience"
	"github.com/snel-bot/resilience/pkg/cache"
)

// CacheConfig holds configuration for cache middleware.
type CacheConfig struct {
	TTL    time.Duration
	Prefix string
	Logger *zap.Logger
}

// CacheOption is a functional option for cache configuration.
type CacheOption func(*CacheConfig)

// DefaultCacheConfig returns the default cache configuration: five minute
// TTL, no prefix.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		TTL:    5 * time.Minute,
		Logger: zap.NewNop(),
	}
}

// WithTTL sets how long cached results stay valid.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *CacheConfig) {
		if ttl > 0 {
			c.TTL = ttl
		}
	}
}

// WithPrefix namespaces this middleware's keys so they can be invalidated
// as a group.
func WithPrefix(prefix string) CacheOption {
	return func(c *CacheConfig) {
		c.Prefix = prefix
	}
}

// WithCacheLogger sets the logger for cache operations.
func WithCacheLogger(logger *zap.Logger) CacheOption {
	return func(c *CacheConfig) {
		c.Logger = logger
	}
}

// CacheMiddleware creates middleware that memoizes call results.
//
// The key is derived from the call's method name and arguments; results
// round-trip through JSON, so a cache hit returns the JSON-decoded form of
// the original result. Calls whose arguments fail to marshal bypass the
// cache rather than failing.
func CacheMiddleware(c *cache.Cache, opts ...CacheOption) resilience.Middleware {
	config := DefaultCacheConfig()
	for _, opt := range opts {
		opt(config)
	}

	return func(ctx context.Context, info *resilience.CallInfo, op resilience.Operation) (interface{}, error) {
		key, err := cache.Key(config.Prefix, info.Method, info.Args)
		if err != nil {
			config.Logger.Warn("uncacheable arguments, bypassing cache",
				zap.String("service", info.Service),
				zap.String("method", info.Method),
				zap.Error(err))
			return op(ctx)
		}

		data, hit, err := c.GetOrCompute(ctx, key, config.TTL, config.Prefix, func(ctx context.Context) ([]byte, error) {
			resp, err := op(ctx)
			if err != nil {
				return nil, err
			}
			return json.Marshal(resp)
		})
		if err != nil {
			return nil, err
		}

		if hit {
			MarkCacheHit(ctx)
			config.Logger.Debug("cache hit",
				zap.String("service", info.Service),
				zap.String("method", info.Method))
		}

		var resp interface{}
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, err
		}

		return resp, nil
	}
}
