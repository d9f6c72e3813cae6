// Package ratelimit provides per-service token bucket rate limiting.
//
// Buckets are built on golang.org/x/time/rate: tokens accrue continuously
// at the configured rate up to the bucket capacity, applied lazily at
// acquire time. Acquire suspends only the calling goroutine; cancellation
// while waiting returns the reserved tokens to the bucket.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Limiter is a named token bucket.
type Limiter struct {
	name    string
	limiter *rate.Limiter
	waiters int64
	logger  *zap.Logger
}

// Status describes a limiter's current state.
type Status struct {
	Name            string  `json:"name"`
	Tokens          float64 `json:"tokens"`
	MaxTokens       int     `json:"max_tokens"`
	TokensPerSecond float64 `json:"tokens_per_second"`
	Waiters         int     `json:"waiters"`
	Utilization     float64 `json:"utilization"`
}

// NewLimiter creates a token bucket refilling at tokensPerSecond with a
// capacity of maxTokens. The bucket starts full.
func NewLimiter(name string, tokensPerSecond float64, maxTokens int, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		name:    name,
		limiter: rate.NewLimiter(rate.Limit(tokensPerSecond), maxTokens),
		logger:  logger,
	}
}

// Name returns the limiter's service key.
func (l *Limiter) Name() string {
	return l.name
}

// Acquire blocks until tokens are available, deducts them and returns the
// time spent waiting. A cancelled context abandons the wait cleanly:
// nothing is deducted.
func (l *Limiter) Acquire(ctx context.Context, tokens int) (time.Duration, error) {
	start := time.Now()

	atomic.AddInt64(&l.waiters, 1)
	err := l.limiter.WaitN(ctx, tokens)
	atomic.AddInt64(&l.waiters, -1)

	if err != nil {
		return 0, err
	}

	waited := time.Since(start)
	if waited > time.Second {
		l.logger.Info("rate limit delay",
			zap.String("limiter", l.name),
			zap.Duration("waited", waited),
			zap.Int("tokens", tokens))
	}

	return waited, nil
}

// Allow reports whether one token is immediately available, deducting it
// if so.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// Tokens returns the number of tokens currently available.
func (l *Limiter) Tokens() float64 {
	return l.limiter.Tokens()
}

// Status returns the limiter's current state.
func (l *Limiter) Status() Status {
	tokens := l.limiter.Tokens()
	maxTokens := l.limiter.Burst()

	var utilization float64
	if maxTokens > 0 {
		utilization = (float64(maxTokens) - tokens) / float64(maxTokens)
	}

	return Status{
		Name:            l.name,
		Tokens:          tokens,
		MaxTokens:       maxTokens,
		TokensPerSecond: float64(l.limiter.Limit()),
		Waiters:         int(atomic.LoadInt64(&l.waiters)),
		Utilization:     utilization,
	}
}

// Registry owns the process's named limiters. A service without a
// registered limiter is unrestricted: Get returns nil and callers must
// treat that as "do not throttle".
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	logger   *zap.Logger
}

// NewRegistry creates an empty limiter registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		limiters: make(map[string]*Limiter),
		logger:   logger,
	}
}

// Register creates a limiter under name, replacing any existing one.
func (r *Registry) Register(name string, tokensPerSecond float64, maxTokens int) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.limiters[name]; exists {
		r.logger.Warn("replacing existing rate limiter", zap.String("limiter", name))
	}

	limiter := NewLimiter(name, tokensPerSecond, maxTokens, r.logger)
	r.limiters[name] = limiter

	r.logger.Debug("registered rate limiter",
		zap.String("limiter", name),
		zap.Float64("tokens_per_second", tokensPerSecond),
		zap.Int("max_tokens", maxTokens))

	return limiter
}

// Get returns the named limiter, or nil when none is configured.
func (r *Registry) Get(name string) *Limiter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.limiters[name]
}

// Statuses returns the current state of every registered limiter.
func (r *Registry) Statuses() map[string]Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make(map[string]Status, len(r.limiters))
	for name, limiter := range r.limiters {
		statuses[name] = limiter.Status()
	}

	return statuses
}
