package middleware

import (
	"context"
	"testing"
	"time"

	resilience "github.com/snel-bot/resilience"
	"github.com/snel-bot/resilience/pkg/ratelimit"
)

func TestRateLimitMiddlewareUnregisteredPassthrough(t *testing.T) {
	registry := ratelimit.NewRegistry(nil)
	mw := RateLimitMiddleware(registry)
	info := &resilience.CallInfo{Service: "unknown", Method: "get"}

	start := time.Now()
	for i := 0; i < 50; i++ {
		if _, err := mw(context.Background(), info, okOp); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("unregistered service should not be throttled")
	}
}

func TestRateLimitMiddlewareThrottles(t *testing.T) {
	registry := ratelimit.NewRegistry(nil)
	registry.Register("svc", 10, 2) // 2 burst, 10/s refill
	mw := RateLimitMiddleware(registry)
	info := &resilience.CallInfo{Service: "svc", Method: "get"}

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := mw(context.Background(), info, okOp); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	elapsed := time.Since(start)

	// Two calls ride the initial burst; the third waits ~100ms for a token.
	if elapsed < 50*time.Millisecond {
		t.Fatalf("3 calls took %v, expected the third to wait", elapsed)
	}
}

func TestRateLimitMiddlewareRecordsWait(t *testing.T) {
	registry := ratelimit.NewRegistry(nil)
	registry.Register("svc", 20, 1)
	mw := RateLimitMiddleware(registry)
	info := &resilience.CallInfo{Service: "svc", Method: "get"}

	ctx, state := withCallState(context.Background())
	if _, err := mw(ctx, info, okOp); err != nil {
		t.Fatal(err)
	}
	if _, err := mw(ctx, info, okOp); err != nil {
		t.Fatal(err)
	}

	if _, wait, _ := state.snapshot(); wait <= 0 {
		t.Fatal("second call should have recorded a rate limit wait")
	}
}

func TestRateLimitMiddlewareCancellation(t *testing.T) {
	registry := ratelimit.NewRegistry(nil)
	limiter := registry.Register("svc", 0.1, 1)
	mw := RateLimitMiddleware(registry)
	info := &resilience.CallInfo{Service: "svc", Method: "get"}

	// Drain the bucket so the next acquire must wait ~10s.
	if !limiter.Allow() {
		t.Fatal("expected an initial token")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := mw(ctx, info, okOp)
	if err == nil {
		t.Fatal("expected an error from the cancelled wait")
	}

	// The abandoned wait must not leak tokens below zero.
	if tokens := limiter.Tokens(); tokens < 0 {
		t.Fatalf("tokens = %f, want >= 0 after cancelled wait", tokens)
	}
}

func TestWithRateLimitConvenience(t *testing.T) {
	registry := ratelimit.NewRegistry(nil)

	resp, err := WithRateLimit(context.Background(), registry, "svc", okOp)
	if err != nil {
		t.Fatal(err)
	}
	if resp != "ok" {
		t.Fatalf("resp = %v, want ok", resp)
	}
}

func okOp(ctx context.Context) (interface{}, error) {
	return "ok", nil
}
