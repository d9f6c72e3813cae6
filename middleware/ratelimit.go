package middleware

import (
	"context"

	"go.uber.org/zap"

	resilience "github.com/snel-bot/resilience"
	"github.com/snel-bot/resilience/pkg/ratelimit"
)

// RateLimitConfig holds configuration for rate limit middleware.
type RateLimitConfig struct {
	Tokens int
	Logger *zap.Logger
}

// RateLimitOption is a functional option for rate limit configuration.
type RateLimitOption func(*RateLimitConfig)

// WithTokens sets how many tokens each call consumes. Default: 1.
func WithTokens(n int) RateLimitOption {
	return func(c *RateLimitConfig) {
		if n > 0 {
			c.Tokens = n
		}
	}
}

// WithRateLimitLogger sets the logger for rate limit waits.
func WithRateLimitLogger(logger *zap.Logger) RateLimitOption {
	return func(c *RateLimitConfig) {
		c.Logger = logger
	}
}

// RateLimitMiddleware creates middleware that throttles calls through the
// service's registered token bucket. A service with no registered limiter
// passes through unrestricted. Waits are recorded on the in-flight call
// state for the metrics middleware. Place it inside Retry so every
// attempt, not just the first, acquires a token.
func RateLimitMiddleware(registry *ratelimit.Registry, opts ...RateLimitOption) resilience.Middleware {
	config := &RateLimitConfig{
		Tokens: 1,
		Logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(config)
	}

	return func(ctx context.Context, info *resilience.CallInfo, op resilience.Operation) (interface{}, error) {
		limiter := registry.Get(info.Service)
		if limiter == nil {
			return op(ctx)
		}

		waited, err := limiter.Acquire(ctx, config.Tokens)
		if err != nil {
			return nil, err
		}

		if waited > 0 {
			if state := stateFromContext(ctx); state != nil {
				state.addRateLimitWait(waited)
			}
			config.Logger.Debug("acquired rate limit tokens",
				zap.String("service", info.Service),
				zap.String("method", info.Method),
				zap.Duration("waited", waited))
		}

		return op(ctx)
	}
}

// WithRateLimit runs op after acquiring one token from the service's
// limiter, passing through when none is registered. Convenience for
// callers outside the middleware stack.
func WithRateLimit(ctx context.Context, registry *ratelimit.Registry, service string, op resilience.Operation) (interface{}, error) {
	info := &resilience.CallInfo{Service: service}
	return RateLimitMiddleware(registry)(ctx, info, op)
}
