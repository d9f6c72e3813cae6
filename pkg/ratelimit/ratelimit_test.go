package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterBurstThenWait(t *testing.T) {
	l := NewLimiter("svc", 10, 2, nil)
	ctx := context.Background()

	// The bucket starts full: the burst goes through without waiting.
	for i := 0; i < 2; i++ {
		waited, err := l.Acquire(ctx, 1)
		require.NoError(t, err)
		assert.Less(t, waited, 20*time.Millisecond)
	}

	// The third acquisition waits for a refill, ~100ms at 10 tokens/s.
	waited, err := l.Acquire(ctx, 1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, waited, 50*time.Millisecond)
}

func TestLimiterAllow(t *testing.T) {
	l := NewLimiter("svc", 1, 1, nil)

	assert.True(t, l.Allow())
	assert.False(t, l.Allow(), "bucket drained, no token available immediately")
}

func TestLimiterCancellationReturnsTokens(t *testing.T) {
	l := NewLimiter("svc", 0.1, 1, nil)
	require.True(t, l.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := l.Acquire(ctx, 1)
	assert.Error(t, err)
	assert.GreaterOrEqual(t, l.Tokens(), 0.0, "cancelled wait must not drive tokens negative")
}

func TestLimiterNoNegativeTokensUnderConcurrency(t *testing.T) {
	l := NewLimiter("svc", 100, 5, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Acquire(ctx, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, l.Tokens(), 0.0)
}

func TestLimiterStatus(t *testing.T) {
	l := NewLimiter("svc", 10, 4, nil)

	status := l.Status()
	assert.Equal(t, "svc", status.Name)
	assert.Equal(t, 4, status.MaxTokens)
	assert.Equal(t, 10.0, status.TokensPerSecond)
	assert.InDelta(t, 0.0, status.Utilization, 0.05, "full bucket means zero utilization")

	require.True(t, l.Allow())
	require.True(t, l.Allow())

	status = l.Status()
	assert.InDelta(t, 0.5, status.Utilization, 0.1)
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry(nil)

	assert.Nil(t, r.Get("svc"), "unregistered service has no limiter")

	first := r.Register("svc", 10, 5)
	assert.Same(t, first, r.Get("svc"))

	// Re-registration replaces the limiter.
	second := r.Register("svc", 20, 10)
	assert.NotSame(t, first, second)
	assert.Same(t, second, r.Get("svc"))
}

func TestRegistryStatuses(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("a", 10, 5)
	r.Register("b", 1, 1)

	statuses := r.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, 5, statuses["a"].MaxTokens)
	assert.Equal(t, 1, statuses["b"].MaxTokens)
}
