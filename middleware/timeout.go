package middleware

import (
	"context"
	"fmt"
	"time"

	resilience "github.com/snel-bot/resilience"
)

// TimeoutMiddleware creates middleware that bounds the whole downstream
// chain. The operation keeps running in its own goroutine after a timeout;
// it sees the cancelled context and is expected to unwind promptly.
func TimeoutMiddleware(timeout time.Duration) resilience.Middleware {
	return func(ctx context.Context, info *resilience.CallInfo, op resilience.Operation) (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		type result struct {
			resp interface{}
			err  error
		}

		done := make(chan result, 1)
		go func() {
			resp, err := op(ctx)
			done <- result{resp, err}
		}()

		select {
		case r := <-done:
			return r.resp, r.err
		case <-ctx.Done():
			return nil, fmt.Errorf("%s.%s: %w", info.Service, info.Method, ctx.Err())
		}
	}
}
