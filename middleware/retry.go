package middleware

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	resilience "github.com/snel-bot/resilience"
)

// RetryConfig holds configuration for retry middleware.
type RetryConfig struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffFactor     float64
	Jitter            bool
	PerAttemptTimeout time.Duration
	Breakers          *BreakerRegistry
	RetryIf           func(error) bool
	OnRetry           func(attempt int, err error, delay time.Duration)
	Logger            *zap.Logger
}

// RetryOption is a functional option for retry configuration.
type RetryOption func(*RetryConfig)

// DefaultRetryConfig returns the default retry configuration: three
// retries doubling from one second, jittered, capped at thirty seconds.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
		Logger:        zap.NewNop(),
	}
}

// WithMaxRetries sets the number of retries after the first attempt.
func WithMaxRetries(n int) RetryOption {
	return func(c *RetryConfig) {
		if n >= 0 {
			c.MaxRetries = n
		}
	}
}

// WithInitialDelay sets the delay before the first retry.
func WithInitialDelay(d time.Duration) RetryOption {
	return func(c *RetryConfig) {
		if d > 0 {
			c.InitialDelay = d
		}
	}
}

// WithMaxDelay caps the computed backoff delay.
func WithMaxDelay(d time.Duration) RetryOption {
	return func(c *RetryConfig) {
		if d > 0 {
			c.MaxDelay = d
		}
	}
}

// WithBackoffFactor sets the multiplier applied to the delay after each
// failed attempt.
func WithBackoffFactor(f float64) RetryOption {
	return func(c *RetryConfig) {
		if f >= 1 {
			c.BackoffFactor = f
		}
	}
}

// WithJitter toggles randomization of the backoff delay. When enabled a
// random amount in [0, delay) is added to the base delay to spread out
// retry storms; the sleep never drops below the base delay.
func WithJitter(enabled bool) RetryOption {
	return func(c *RetryConfig) {
		c.Jitter = enabled
	}
}

// WithPerAttemptTimeout bounds each individual attempt. A timed-out
// attempt counts as a failure and is retried like any other error.
func WithPerAttemptTimeout(d time.Duration) RetryOption {
	return func(c *RetryConfig) {
		c.PerAttemptTimeout = d
	}
}

// WithBreakers routes every attempt through the service's circuit breaker
// from the given registry. An open breaker fails the call immediately
// without consuming attempts.
func WithBreakers(registry *BreakerRegistry) RetryOption {
	return func(c *RetryConfig) {
		c.Breakers = registry
	}
}

// WithRetryIf installs a predicate deciding whether an error is worth
// retrying. Non-retryable errors are returned as-is after the first
// attempt.
func WithRetryIf(predicate func(error) bool) RetryOption {
	return func(c *RetryConfig) {
		c.RetryIf = predicate
	}
}

// WithOnRetry installs a callback invoked before each retry sleep.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) RetryOption {
	return func(c *RetryConfig) {
		c.OnRetry = fn
	}
}

// WithRetryLogger sets the logger for retry attempts.
func WithRetryLogger(logger *zap.Logger) RetryOption {
	return func(c *RetryConfig) {
		c.Logger = logger
	}
}

// Retry creates retry middleware with exponential backoff.
//
// Each failed attempt sleeps before the next one: the base delay starts at
// InitialDelay and multiplies by BackoffFactor per attempt, capped at
// MaxDelay. A server-supplied retry-after hint on the error overrides the
// computed delay. When the budget is spent the last error is wrapped in an
// ExhaustedError. Context cancellation aborts the sleep immediately.
func Retry(opts ...RetryOption) resilience.Middleware {
	config := DefaultRetryConfig()
	for _, opt := range opts {
		opt(config)
	}

	return func(ctx context.Context, info *resilience.CallInfo, op resilience.Operation) (interface{}, error) {
		var breaker *Breaker
		if config.Breakers != nil {
			breaker = config.Breakers.Breaker(info.Service)
		}

		var lastErr error
		delay := config.InitialDelay

		for attempt := 0; attempt <= config.MaxRetries; attempt++ {
			if breaker != nil {
				if err := breaker.Allow(); err != nil {
					config.Logger.Warn("call rejected by circuit breaker",
						zap.String("service", info.Service),
						zap.String("method", info.Method))
					return nil, err
				}
			}

			resp, err := attemptOnce(ctx, config, op)
			if err == nil {
				if breaker != nil {
					breaker.OnSuccess()
				}
				return resp, nil
			}

			if breaker != nil {
				breaker.OnFailure()
			}
			lastErr = err

			if config.RetryIf != nil && !config.RetryIf(err) {
				return nil, err
			}
			if attempt == config.MaxRetries {
				break
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			sleep := delay
			if hint, ok := resilience.RetryAfterHint(err); ok && hint > 0 {
				sleep = hint
			} else if config.Jitter {
				sleep = delay + time.Duration(rand.Int63n(int64(delay)))
			}

			config.Logger.Warn("retrying after failure",
				zap.String("service", info.Service),
				zap.String("method", info.Method),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", sleep),
				zap.Error(err))

			if config.OnRetry != nil {
				config.OnRetry(attempt+1, err, sleep)
			}

			timer := time.NewTimer(sleep)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}

			delay = time.Duration(float64(delay) * config.BackoffFactor)
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		}

		return nil, &resilience.ExhaustedError{Attempts: config.MaxRetries + 1, Err: lastErr}
	}
}

// attemptOnce runs a single attempt, bounded by the per-attempt timeout
// when one is configured.
func attemptOnce(ctx context.Context, config *RetryConfig, op resilience.Operation) (interface{}, error) {
	if config.PerAttemptTimeout <= 0 {
		return op(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, config.PerAttemptTimeout)
	defer cancel()

	return op(attemptCtx)
}

// CallWithRetry runs op under a one-off retry policy without building a
// chain. Convenience for callers outside the middleware stack.
func CallWithRetry(ctx context.Context, service, method string, op resilience.Operation, opts ...RetryOption) (interface{}, error) {
	info := &resilience.CallInfo{Service: service, Method: method}
	return Retry(opts...)(ctx, info, op)
}

// CallWithRetryAndTimeout is CallWithRetry with each attempt bounded by
// timeout. A timed-out attempt counts as a failure and is retried.
func CallWithRetryAndTimeout(ctx context.Context, service, method string, timeout time.Duration, op resilience.Operation, opts ...RetryOption) (interface{}, error) {
	opts = append(opts, WithPerAttemptTimeout(timeout))
	return CallWithRetry(ctx, service, method, op, opts...)
}
