package middleware

import (
	"context"
	"sync"
	"time"
)

// callState carries per-call facts between middlewares: the cache
// middleware marks hits, the rate limit middleware records waits, and the
// metrics middleware reads both when the call completes.
type callState struct {
	mu            sync.Mutex
	cacheHit      bool
	rateLimitWait time.Duration
	statusCode    int
}

func (s *callState) markCacheHit() {
	s.mu.Lock()
	s.cacheHit = true
	s.mu.Unlock()
}

func (s *callState) addRateLimitWait(d time.Duration) {
	s.mu.Lock()
	s.rateLimitWait += d
	s.mu.Unlock()
}

func (s *callState) setStatusCode(code int) {
	s.mu.Lock()
	s.statusCode = code
	s.mu.Unlock()
}

func (s *callState) snapshot() (cacheHit bool, wait time.Duration, statusCode int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cacheHit, s.rateLimitWait, s.statusCode
}

type callStateKey struct{}

// withCallState returns ctx carrying a fresh callState, reusing an
// existing one so nested chains share a single record.
func withCallState(ctx context.Context) (context.Context, *callState) {
	if state := stateFromContext(ctx); state != nil {
		return ctx, state
	}
	state := &callState{}
	return context.WithValue(ctx, callStateKey{}, state), state
}

func stateFromContext(ctx context.Context) *callState {
	state, _ := ctx.Value(callStateKey{}).(*callState)
	return state
}

// MarkCacheHit flags the in-flight call as served from cache. Cache layers
// outside this package can use it to keep metrics accurate.
func MarkCacheHit(ctx context.Context) {
	if state := stateFromContext(ctx); state != nil {
		state.markCacheHit()
	}
}

// SetStatusCode records the upstream HTTP status code for the in-flight
// call so the metrics middleware can attribute errors by category.
func SetStatusCode(ctx context.Context, code int) {
	if state := stateFromContext(ctx); state != nil {
		state.setStatusCode(code)
	}
}
