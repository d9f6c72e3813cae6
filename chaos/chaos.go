// Package chaos provides fault injection for exercising resilience
// policies: random latency, injected errors, rate-limit responses and
// simulated timeouts.
package chaos

import (
	"context"
	"errors"
	"math/rand"
	"time"

	resilience "github.com/snel-bot/resilience"
)

// Config holds configuration for fault injection.
type Config struct {
	// Latency injection
	LatencyEnabled     bool
	LatencyMin         time.Duration
	LatencyMax         time.Duration
	LatencyProbability float64

	// Error injection
	ErrorEnabled     bool
	Errors           []error
	ErrorProbability float64

	// Rate limit response injection
	RateLimitEnabled     bool
	RateLimitRetryAfter  time.Duration
	RateLimitProbability float64

	// Timeout simulation
	TimeoutEnabled     bool
	TimeoutDuration    time.Duration
	TimeoutProbability float64

	// Conditional enabling
	EnableCondition func() bool
}

// Option is a functional option for fault injection configuration.
type Option func(*Config)

// WithLatency enables latency injection.
func WithLatency(min, max time.Duration, probability float64) Option {
	return func(c *Config) {
		c.LatencyEnabled = true
		c.LatencyMin = min
		c.LatencyMax = max
		c.LatencyProbability = probability
	}
}

// WithErrors enables error injection from the given set.
func WithErrors(errs []error, probability float64) Option {
	return func(c *Config) {
		c.ErrorEnabled = true
		c.Errors = errs
		c.ErrorProbability = probability
	}
}

// WithRateLimitResponses enables injection of 429-style responses
// carrying a retry-after hint, for exercising retry policies.
func WithRateLimitResponses(retryAfter time.Duration, probability float64) Option {
	return func(c *Config) {
		c.RateLimitEnabled = true
		c.RateLimitRetryAfter = retryAfter
		c.RateLimitProbability = probability
	}
}

// WithTimeout enables timeout simulation: the downstream operation runs
// under an artificially short deadline.
func WithTimeout(duration time.Duration, probability float64) Option {
	return func(c *Config) {
		c.TimeoutEnabled = true
		c.TimeoutDuration = duration
		c.TimeoutProbability = probability
	}
}

// WithCondition sets a condition for enabling fault injection.
func WithCondition(condition func() bool) Option {
	return func(c *Config) {
		c.EnableCondition = condition
	}
}

// New creates fault injection middleware. Place it innermost so injected
// faults exercise the real retry, breaker and limiter paths above it.
func New(opts ...Option) resilience.Middleware {
	config := &Config{
		EnableCondition: func() bool { return true },
	}

	for _, opt := range opts {
		opt(config)
	}

	return func(ctx context.Context, info *resilience.CallInfo, op resilience.Operation) (interface{}, error) {
		if !config.EnableCondition() {
			return op(ctx)
		}

		if config.LatencyEnabled && shouldInject(config.LatencyProbability) {
			delay := randomDuration(config.LatencyMin, config.LatencyMax)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if config.RateLimitEnabled && shouldInject(config.RateLimitProbability) {
			return nil, &resilience.RateLimitError{
				Service:    info.Service,
				RetryAfter: config.RateLimitRetryAfter,
				Err:        errors.New("chaos: injected rate limit response"),
			}
		}

		if config.ErrorEnabled && shouldInject(config.ErrorProbability) {
			return nil, config.Errors[rand.Intn(len(config.Errors))]
		}

		if config.TimeoutEnabled && shouldInject(config.TimeoutProbability) {
			newCtx, cancel := context.WithTimeout(ctx, config.TimeoutDuration)
			defer cancel()
			return op(newCtx)
		}

		return op(ctx)
	}
}

// LatencyInjector creates latency-only injection middleware.
func LatencyInjector(min, max time.Duration, probability float64) resilience.Middleware {
	return New(WithLatency(min, max, probability))
}

// ErrorInjector creates error-only injection middleware.
func ErrorInjector(errs []error, probability float64) resilience.Middleware {
	return New(WithErrors(errs, probability))
}

func shouldInject(probability float64) bool {
	return rand.Float64() < probability
}

func randomDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}
