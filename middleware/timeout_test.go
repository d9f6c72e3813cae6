package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	resilience "github.com/snel-bot/resilience"
)

func TestTimeoutMiddlewareFastCall(t *testing.T) {
	mw := TimeoutMiddleware(time.Second)
	info := &resilience.CallInfo{Service: "svc", Method: "get"}

	resp, err := mw(context.Background(), info, okOp)
	if err != nil {
		t.Fatal(err)
	}
	if resp != "ok" {
		t.Fatalf("resp = %v, want ok", resp)
	}
}

func TestTimeoutMiddlewareSlowCall(t *testing.T) {
	mw := TimeoutMiddleware(20 * time.Millisecond)
	info := &resilience.CallInfo{Service: "svc", Method: "get"}

	start := time.Now()
	_, err := mw(context.Background(), info, func(ctx context.Context) (interface{}, error) {
		select {
		case <-time.After(time.Second):
			return "late", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want DeadlineExceeded", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("timeout did not fire promptly")
	}
}
