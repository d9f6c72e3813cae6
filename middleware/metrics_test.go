package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	resilience "github.com/snel-bot/resilience"
	"github.com/snel-bot/resilience/pkg/metrics"
)

func TestMetricsMiddlewareRecordsOutcomes(t *testing.T) {
	dashboard := metrics.NewDashboard()
	mw := MetricsMiddleware(dashboard)
	info := &resilience.CallInfo{Service: "svc", Method: "get"}

	if _, err := mw(context.Background(), info, okOp); err != nil {
		t.Fatal(err)
	}
	_, _ = mw(context.Background(), info, func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("down")
	})

	snap := dashboard.Snapshot()
	svc, ok := snap.Services["svc"]
	if !ok {
		t.Fatal("service not recorded")
	}
	if svc.TotalCalls != 2 || svc.SuccessCalls != 1 || svc.ErrorCalls != 1 {
		t.Fatalf("counters = %d/%d/%d, want 2/1/1", svc.TotalCalls, svc.SuccessCalls, svc.ErrorCalls)
	}
	m, ok := svc.Methods["get"]
	if !ok || m.TotalCalls != 2 {
		t.Fatalf("method counters missing or wrong: %+v", m)
	}
	if svc.StatusCodes["200"] != 1 {
		t.Fatalf("status 200 count = %d, want 1", svc.StatusCodes["200"])
	}
}

func TestMetricsMiddlewarePropagatesCacheHit(t *testing.T) {
	dashboard := metrics.NewDashboard()
	mw := MetricsMiddleware(dashboard)
	info := &resilience.CallInfo{Service: "svc", Method: "get"}

	_, err := mw(context.Background(), info, func(ctx context.Context) (interface{}, error) {
		MarkCacheHit(ctx)
		return "cached", nil
	})
	if err != nil {
		t.Fatal(err)
	}

	svc := dashboard.Snapshot().Services["svc"]
	if svc.CacheHits != 1 {
		t.Fatalf("cache hits = %d, want 1", svc.CacheHits)
	}
}

func TestMetricsMiddlewareRecordsRateLimitWait(t *testing.T) {
	dashboard := metrics.NewDashboard()
	mw := MetricsMiddleware(dashboard)
	info := &resilience.CallInfo{Service: "svc", Method: "get"}

	_, err := mw(context.Background(), info, func(ctx context.Context) (interface{}, error) {
		if state := stateFromContext(ctx); state != nil {
			state.addRateLimitWait(50 * time.Millisecond)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatal(err)
	}

	svc := dashboard.Snapshot().Services["svc"]
	if svc.RateLimitWaits != 1 {
		t.Fatalf("rate limit waits = %d, want 1", svc.RateLimitWaits)
	}
	if svc.TotalRateLimitWait != 50*time.Millisecond {
		t.Fatalf("total wait = %v, want 50ms", svc.TotalRateLimitWait)
	}
}

func TestMetricsMiddlewareStatusCodeMapping(t *testing.T) {
	dashboard := metrics.NewDashboard()
	mw := MetricsMiddleware(dashboard)
	info := &resilience.CallInfo{Service: "svc", Method: "get"}

	_, _ = mw(context.Background(), info, func(ctx context.Context) (interface{}, error) {
		return nil, &resilience.RateLimitError{Service: "svc", RetryAfter: time.Second}
	})
	_, _ = mw(context.Background(), info, func(ctx context.Context) (interface{}, error) {
		return nil, &resilience.CircuitOpenError{Service: "svc", Until: time.Now()}
	})
	_, _ = mw(context.Background(), info, func(ctx context.Context) (interface{}, error) {
		SetStatusCode(ctx, 404)
		return nil, errors.New("not found")
	})

	svc := dashboard.Snapshot().Services["svc"]
	for _, code := range []string{"429", "503", "404"} {
		if svc.StatusCodes[code] != 1 {
			t.Errorf("status %s count = %d, want 1", code, svc.StatusCodes[code])
		}
	}
}
