// Package middleware implements the cross-cutting wrappers every outbound
// API call passes through: caching, retries with circuit breaking, rate
// limiting, timeouts, logging, tracing and metrics recording.
package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	resilience "github.com/snel-bot/resilience"
)

// Circuit breaker states.
const (
	StateClosed   State = iota // Normal operation, calls pass through
	StateOpen                  // Calls fail immediately
	StateHalfOpen              // One trial call probes for recovery
)

// State represents the current state of a circuit breaker.
type State int

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker is a per-service failure-tripped gate.
//
// State machine: closed --(consecutive failures reach threshold)--> open;
// open --(recovery time elapsed)--> half-open, allowing exactly one trial
// call; half-open --(success)--> closed; half-open --(failure)--> open.
// Breakers persist for the process lifetime.
type Breaker struct {
	mu sync.Mutex

	name             string
	failureThreshold int
	recoveryTime     time.Duration

	state       State
	failures    int
	lastFailure time.Time
	probes      int
}

// BreakerStatus is a point-in-time view of one breaker.
type BreakerStatus struct {
	State       string    `json:"state"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure"`
	Remaining   float64   `json:"time_remaining_seconds"`
}

// NewBreaker creates a closed breaker for the named service.
func NewBreaker(name string, failureThreshold int, recoveryTime time.Duration) *Breaker {
	return &Breaker{
		name:             name,
		failureThreshold: failureThreshold,
		recoveryTime:     recoveryTime,
		state:            StateClosed,
	}
}

// Allow reports whether a call may proceed. While open it fails fast with
// a CircuitOpenError until the recovery time has elapsed, then transitions
// to half-open and admits exactly one trial call; further callers keep
// failing fast until the trial resolves.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		until := b.lastFailure.Add(b.recoveryTime)
		if time.Now().Before(until) {
			return &resilience.CircuitOpenError{Service: b.name, Until: until}
		}
		b.state = StateHalfOpen
		b.probes = 0
		fallthrough
	case StateHalfOpen:
		if b.probes >= 1 {
			// A trial call is in flight; when it resolves is unknown, so
			// no reopen time is reported.
			return &resilience.CircuitOpenError{Service: b.name}
		}
		b.probes++
	}

	return nil
}

// OnSuccess records a successful call. A half-open trial success closes
// the breaker; any success resets the consecutive-failure count.
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.probes = 0
	}
}

// OnFailure records a failed call. Reaching the failure threshold, or
// failing the half-open trial, opens the breaker.
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()

	if b.state == StateHalfOpen {
		b.state = StateOpen
		b.probes = 0
		return
	}

	if b.state == StateClosed && b.failures >= b.failureThreshold {
		b.state = StateOpen
	}
}

// State returns the breaker's current state, applying the open→half-open
// transition if the recovery time has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && !time.Now().Before(b.lastFailure.Add(b.recoveryTime)) {
		b.state = StateHalfOpen
		b.probes = 0
	}

	return b.state
}

// Status returns a point-in-time view of the breaker.
func (b *Breaker) Status() BreakerStatus {
	state := b.State()

	b.mu.Lock()
	defer b.mu.Unlock()

	var remaining float64
	if state == StateOpen {
		remaining = time.Until(b.lastFailure.Add(b.recoveryTime)).Seconds()
		if remaining < 0 {
			remaining = 0
		}
	}

	return BreakerStatus{
		State:       state.String(),
		Failures:    b.failures,
		LastFailure: b.lastFailure,
		Remaining:   remaining,
	}
}

// Reset forces the breaker back to closed with a zero failure count.
// Operational recovery only, not part of normal call flow.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failures = 0
	b.probes = 0
}

// BreakerRegistry owns the process's circuit breakers, keyed by service
// name and created lazily on first use.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker

	defaultThreshold int
	defaultRecovery  time.Duration
	logger           *zap.Logger
}

// BreakerRegistryOption configures a BreakerRegistry.
type BreakerRegistryOption func(*BreakerRegistry)

// WithDefaultThreshold sets the failure threshold for lazily created
// breakers. Default: 5.
func WithDefaultThreshold(n int) BreakerRegistryOption {
	return func(r *BreakerRegistry) {
		if n > 0 {
			r.defaultThreshold = n
		}
	}
}

// WithDefaultRecoveryTime sets the recovery time for lazily created
// breakers. Default: 60s.
func WithDefaultRecoveryTime(d time.Duration) BreakerRegistryOption {
	return func(r *BreakerRegistry) {
		if d > 0 {
			r.defaultRecovery = d
		}
	}
}

// WithRegistryLogger sets the logger for breaker state transitions.
func WithRegistryLogger(logger *zap.Logger) BreakerRegistryOption {
	return func(r *BreakerRegistry) {
		r.logger = logger
	}
}

// NewBreakerRegistry creates an empty breaker registry.
func NewBreakerRegistry(opts ...BreakerRegistryOption) *BreakerRegistry {
	r := &BreakerRegistry{
		breakers:         make(map[string]*Breaker),
		defaultThreshold: 5,
		defaultRecovery:  60 * time.Second,
		logger:           zap.NewNop(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Breaker returns the breaker for name, creating it with the registry
// defaults on first use.
func (r *BreakerRegistry) Breaker(name string) *Breaker {
	return r.BreakerWith(name, r.defaultThreshold, r.defaultRecovery)
}

// BreakerWith returns the breaker for name, creating it with the given
// parameters on first use. An existing breaker keeps its original
// configuration.
func (r *BreakerRegistry) BreakerWith(name string, failureThreshold int, recoveryTime time.Duration) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, exists := r.breakers[name]; exists {
		return b
	}

	b := NewBreaker(name, failureThreshold, recoveryTime)
	r.breakers[name] = b
	r.logger.Debug("created circuit breaker",
		zap.String("service", name),
		zap.Int("failure_threshold", failureThreshold),
		zap.Duration("recovery_time", recoveryTime))

	return b
}

// Statuses returns a snapshot of every known breaker.
func (r *BreakerRegistry) Statuses() map[string]BreakerStatus {
	r.mu.Lock()
	breakers := make(map[string]*Breaker, len(r.breakers))
	for name, b := range r.breakers {
		breakers[name] = b
	}
	r.mu.Unlock()

	statuses := make(map[string]BreakerStatus, len(breakers))
	for name, b := range breakers {
		statuses[name] = b.Status()
	}

	return statuses
}

// StatusLines renders breaker states as one line per service, suitable
// for a metrics dashboard status section.
func (r *BreakerRegistry) StatusLines() map[string]string {
	lines := make(map[string]string)
	for name, status := range r.Statuses() {
		line := status.State
		if status.State == StateOpen.String() {
			line = fmt.Sprintf("%s (%.1fs remaining)", status.State, status.Remaining)
		}
		if status.Failures > 0 {
			line = fmt.Sprintf("%s, %d failures", line, status.Failures)
		}
		lines[name] = line
	}
	return lines
}

// Reset forces the named breaker (or all breakers, with an empty name)
// back to closed with zero failures.
func (r *BreakerRegistry) Reset(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		for _, b := range r.breakers {
			b.Reset()
		}
		r.logger.Info("reset all circuit breakers")
		return
	}

	if b, exists := r.breakers[name]; exists {
		b.Reset()
		r.logger.Info("reset circuit breaker", zap.String("service", name))
	}
}

// CircuitBreakerMiddleware gates calls through the service's breaker
// without retrying. Retry integrates breakers itself; this standalone
// middleware serves chains that do not retry.
func CircuitBreakerMiddleware(registry *BreakerRegistry) resilience.Middleware {
	return func(ctx context.Context, info *resilience.CallInfo, op resilience.Operation) (interface{}, error) {
		breaker := registry.Breaker(info.Service)

		if err := breaker.Allow(); err != nil {
			return nil, err
		}

		resp, err := op(ctx)
		if err != nil {
			breaker.OnFailure()
			return nil, err
		}

		breaker.OnSuccess()
		return resp, nil
	}
}
