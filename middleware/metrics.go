package middleware

import (
	"context"
	"time"

	resilience "github.com/snel-bot/resilience"
	"github.com/snel-bot/resilience/pkg/metrics"
)

// MetricsMiddleware creates middleware that records every call on the
// dashboard. Place it outermost so the duration covers the full chain and
// inner middlewares can mark cache hits and rate limit waits on the call
// state it installs.
func MetricsMiddleware(dashboard *metrics.Dashboard) resilience.Middleware {
	return func(ctx context.Context, info *resilience.CallInfo, op resilience.Operation) (interface{}, error) {
		ctx, state := withCallState(ctx)
		start := time.Now()

		resp, err := op(ctx)

		cacheHit, wait, statusCode := state.snapshot()
		if statusCode == 0 {
			statusCode = statusCodeFor(err)
		}

		dashboard.RecordAPICall(info.Service, info.Method, start, err == nil, statusCode, cacheHit)
		if wait > 0 {
			dashboard.RecordRateLimitWait(info.Service, wait)
		}

		return resp, err
	}
}

// statusCodeFor maps known error types to an HTTP status code when the
// operation did not report one itself.
func statusCodeFor(err error) int {
	switch {
	case err == nil:
		return 200
	case resilience.IsCircuitOpen(err):
		return 503
	default:
		if _, ok := resilience.RetryAfterHint(err); ok {
			return 429
		}
		return 0
	}
}
