package metrics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/snel-bot/resilience/pkg/serialization"
)

// StatusFunc supplies one named section of operational state (circuit
// breakers, rate limiters, cache) for reports and snapshots. Values are
// preformatted lines keyed by entity name.
type StatusFunc func() map[string]string

// methodCounters accumulates observations for one service/method pair.
type methodCounters struct {
	TotalCalls   uint64
	SuccessCalls uint64
	ErrorCalls   uint64
	CacheHits    uint64
	TotalTime    time.Duration
	MinTime      time.Duration
	MaxTime      time.Duration
}

// observe folds one call outcome into the counters. Latency is only
// accumulated for calls that actually went out; cache hits are free.
func (m *methodCounters) observe(elapsed time.Duration, success, cacheHit bool) {
	m.TotalCalls++
	if success {
		m.SuccessCalls++
	} else {
		m.ErrorCalls++
	}
	if cacheHit {
		m.CacheHits++
		return
	}
	m.TotalTime += elapsed
	if m.MinTime == 0 || elapsed < m.MinTime {
		m.MinTime = elapsed
	}
	if elapsed > m.MaxTime {
		m.MaxTime = elapsed
	}
}

// serviceCounters accumulates observations for one service.
type serviceCounters struct {
	methodCounters
	Methods            map[string]*methodCounters
	StatusCodes        map[int]uint64
	RateLimitWaits     uint64
	TotalRateLimitWait time.Duration
	LastCall           time.Time
}

// Dashboard is the process-wide accumulator of API call metrics.
//
// Recording never fails outward: any internal panic is recovered and
// logged so a metrics problem cannot affect the wrapped call.
type Dashboard struct {
	mu       sync.Mutex
	services map[string]*serviceCounters
	sections []section
	start    time.Time
	dir      string
	enabled  bool
	logger   *zap.Logger

	collector Collector
}

type section struct {
	name string
	fn   StatusFunc
}

// DashboardOption configures a Dashboard.
type DashboardOption func(*Dashboard)

// WithSnapshotDir sets the directory snapshot files are written to.
func WithSnapshotDir(dir string) DashboardOption {
	return func(d *Dashboard) {
		d.dir = dir
	}
}

// WithDashboardLogger sets the logger for internal warnings.
func WithDashboardLogger(logger *zap.Logger) DashboardOption {
	return func(d *Dashboard) {
		d.logger = logger
	}
}

// WithCollector forwards every observation to an additional collector
// (typically Prometheus).
func WithCollector(c Collector) DashboardOption {
	return func(d *Dashboard) {
		d.collector = c
	}
}

// NewDashboard creates an empty dashboard.
func NewDashboard(opts ...DashboardOption) *Dashboard {
	d := &Dashboard{
		services: make(map[string]*serviceCounters),
		start:    time.Now(),
		dir:      ".metrics",
		enabled:  true,
		logger:   zap.NewNop(),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// RegisterStatusSection adds a named operational-state section to reports
// and snapshots. Sections render in registration order.
func (d *Dashboard) RegisterStatusSection(name string, fn StatusFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.sections = append(d.sections, section{name: name, fn: fn})
}

// RecordAPICall appends one observation to the named service and method
// counters. start is when the call began; latency is measured from it.
// statusCode 0 means no HTTP status applies. Never propagates a failure.
func (d *Dashboard) RecordAPICall(service, method string, start time.Time, success bool, statusCode int, cacheHit bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("metrics recording failed", zap.Any("panic", r))
		}
	}()

	elapsed := time.Since(start)

	d.mu.Lock()
	if d.enabled {
		svc := d.serviceLocked(service)
		svc.observe(elapsed, success, cacheHit)
		svc.LastCall = time.Now()

		m, ok := svc.Methods[method]
		if !ok {
			m = &methodCounters{}
			svc.Methods[method] = m
		}
		m.observe(elapsed, success, cacheHit)

		if statusCode != 0 {
			svc.StatusCodes[statusCode]++
		}
	}
	collector := d.collector
	d.mu.Unlock()

	if collector != nil {
		collector.RecordRequest(service, method, success, elapsed)
		if cacheHit {
			collector.RecordCacheHit(service, method)
		}
		if !success {
			collector.RecordError(service, errorType(statusCode))
		}
	}
}

// RecordRateLimitWait records time a call spent waiting on the named
// service's rate limiter. Never propagates a failure.
func (d *Dashboard) RecordRateLimitWait(service string, waited time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("metrics recording failed", zap.Any("panic", r))
		}
	}()

	d.mu.Lock()
	if d.enabled {
		svc := d.serviceLocked(service)
		svc.RateLimitWaits++
		svc.TotalRateLimitWait += waited
	}
	collector := d.collector
	d.mu.Unlock()

	if collector != nil {
		collector.RecordRateLimitWait(service, waited)
	}
}

// Enable resumes metrics collection.
func (d *Dashboard) Enable() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = true
}

// Disable pauses metrics collection. Recording calls become no-ops.
func (d *Dashboard) Disable() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = false
}

// Reset discards counters for the named service, or all services when
// name is empty.
func (d *Dashboard) Reset(service string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if service == "" {
		d.services = make(map[string]*serviceCounters)
		return
	}
	delete(d.services, service)
}

// Uptime returns time elapsed since the dashboard was created.
func (d *Dashboard) Uptime() time.Duration {
	return time.Since(d.start)
}

// MethodSnapshot is the exported view of one method's counters.
type MethodSnapshot struct {
	TotalCalls   uint64        `json:"total_calls"`
	SuccessCalls uint64        `json:"success_calls"`
	ErrorCalls   uint64        `json:"error_calls"`
	CacheHits    uint64        `json:"cache_hits"`
	SuccessRate  float64       `json:"success_rate"`
	CacheHitRate float64       `json:"cache_hit_rate"`
	AvgTime      time.Duration `json:"avg_time_ns"`
	MinTime      time.Duration `json:"min_time_ns"`
	MaxTime      time.Duration `json:"max_time_ns"`
}

// ServiceSnapshot is the exported view of one service's counters.
type ServiceSnapshot struct {
	MethodSnapshot
	Methods            map[string]MethodSnapshot `json:"methods,omitempty"`
	StatusCodes        map[string]uint64         `json:"status_codes,omitempty"`
	RateLimitWaits     uint64                    `json:"rate_limit_waits"`
	TotalRateLimitWait time.Duration             `json:"total_rate_limit_wait_ns"`
	LastCall           time.Time                 `json:"last_call"`
}

// Snapshot is a point-in-time view of everything the dashboard knows.
type Snapshot struct {
	Timestamp     time.Time                    `json:"timestamp"`
	UptimeSeconds float64                      `json:"uptime_seconds"`
	Services      map[string]ServiceSnapshot   `json:"services"`
	Sections      map[string]map[string]string `json:"sections,omitempty"`
}

func snapshotMethod(m *methodCounters) MethodSnapshot {
	s := MethodSnapshot{
		TotalCalls:   m.TotalCalls,
		SuccessCalls: m.SuccessCalls,
		ErrorCalls:   m.ErrorCalls,
		CacheHits:    m.CacheHits,
		MinTime:      m.MinTime,
		MaxTime:      m.MaxTime,
	}
	if m.TotalCalls > 0 {
		s.SuccessRate = float64(m.SuccessCalls) / float64(m.TotalCalls)
		s.CacheHitRate = float64(m.CacheHits) / float64(m.TotalCalls)
	}
	if outbound := m.TotalCalls - m.CacheHits; outbound > 0 {
		s.AvgTime = m.TotalTime / time.Duration(outbound)
	}
	return s
}

// Snapshot returns the current state of all counters and sections.
func (d *Dashboard) Snapshot() Snapshot {
	d.mu.Lock()
	snap := Snapshot{
		Timestamp:     time.Now(),
		UptimeSeconds: time.Since(d.start).Seconds(),
		Services:      make(map[string]ServiceSnapshot, len(d.services)),
	}

	for name, svc := range d.services {
		ss := ServiceSnapshot{
			MethodSnapshot:     snapshotMethod(&svc.methodCounters),
			Methods:            make(map[string]MethodSnapshot, len(svc.Methods)),
			StatusCodes:        make(map[string]uint64, len(svc.StatusCodes)),
			RateLimitWaits:     svc.RateLimitWaits,
			TotalRateLimitWait: svc.TotalRateLimitWait,
			LastCall:           svc.LastCall,
		}
		for method, m := range svc.Methods {
			ss.Methods[method] = snapshotMethod(m)
		}
		for code, count := range svc.StatusCodes {
			ss.StatusCodes[fmt.Sprintf("%d", code)] = count
		}
		snap.Services[name] = ss
	}

	sections := make([]section, len(d.sections))
	copy(sections, d.sections)
	d.mu.Unlock()

	// Section callbacks run outside the lock: they read other subsystems
	// that may themselves record metrics.
	if len(sections) > 0 {
		snap.Sections = make(map[string]map[string]string, len(sections))
		for _, s := range sections {
			snap.Sections[s.name] = s.fn()
		}
	}

	return snap
}

// GenerateReport renders a human-readable summary of all metrics and
// registered status sections. Pure read, no side effects.
func (d *Dashboard) GenerateReport() string {
	snap := d.Snapshot()

	var b strings.Builder
	b.WriteString("======= API METRICS REPORT =======\n")
	fmt.Fprintf(&b, "Generated: %s\n", snap.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "Uptime: %.1f hours\n\n", snap.UptimeSeconds/3600)

	if len(snap.Services) > 0 {
		b.WriteString("=== API CALLS ===\n")
		for _, name := range sortedKeys(snap.Services) {
			svc := snap.Services[name]
			fmt.Fprintf(&b, "%s:\n", name)
			fmt.Fprintf(&b, "  Total calls: %d\n", svc.TotalCalls)
			fmt.Fprintf(&b, "  Success rate: %.1f%%\n", svc.SuccessRate*100)
			fmt.Fprintf(&b, "  Cache hit rate: %.1f%%\n", svc.CacheHitRate*100)
			if svc.AvgTime > 0 {
				fmt.Fprintf(&b, "  Avg response time: %.1fms\n", float64(svc.AvgTime)/float64(time.Millisecond))
			}
			if svc.RateLimitWaits > 0 {
				fmt.Fprintf(&b, "  Rate limit waits: %d (total %.2fs)\n",
					svc.RateLimitWaits, svc.TotalRateLimitWait.Seconds())
			}
			for _, method := range sortedKeys(svc.Methods) {
				m := svc.Methods[method]
				fmt.Fprintf(&b, "  %s: %d calls, %.1f%% success, %.1f%% cached\n",
					method, m.TotalCalls, m.SuccessRate*100, m.CacheHitRate*100)
			}
		}
		b.WriteString("\n")
	}

	for name, lines := range snap.Sections {
		fmt.Fprintf(&b, "=== %s ===\n", strings.ToUpper(name))
		for _, key := range sortedKeys(lines) {
			fmt.Fprintf(&b, "%s: %s\n", key, lines[key])
		}
		b.WriteString("\n")
	}

	return b.String()
}

// SaveSnapshot serializes the current counters to a timestamped JSON file
// in the snapshot directory and returns its path. Best-effort: an I/O
// failure is logged and reported through the error return, never a panic.
func (d *Dashboard) SaveSnapshot() (string, error) {
	snap := d.Snapshot()

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		d.logger.Warn("failed to create metrics directory", zap.Error(err))
		return "", err
	}

	filename := fmt.Sprintf("metrics_%s.json", snap.Timestamp.Format("20060102_150405"))
	path := filepath.Join(d.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		d.logger.Warn("failed to create metrics snapshot", zap.Error(err))
		return "", err
	}
	defer f.Close()

	if err := serialization.JSONEncoder(f).Encode(snap); err != nil {
		d.logger.Warn("failed to encode metrics snapshot", zap.Error(err))
		return "", err
	}

	d.logger.Info("saved metrics snapshot", zap.String("path", path))
	return path, nil
}

// StartSnapshotTask periodically saves snapshots until ctx is cancelled.
func (d *Dashboard) StartSnapshotTask(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := d.SaveSnapshot(); err != nil {
					d.logger.Warn("periodic metrics snapshot failed", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// serviceLocked returns the counters for service, creating them on first
// use. Caller must hold d.mu.
func (d *Dashboard) serviceLocked(service string) *serviceCounters {
	svc, ok := d.services[service]
	if !ok {
		svc = &serviceCounters{
			Methods:     make(map[string]*methodCounters),
			StatusCodes: make(map[int]uint64),
		}
		d.services[service] = svc
	}
	return svc
}

func errorType(statusCode int) string {
	switch {
	case statusCode == 429:
		return "rate_limited"
	case statusCode >= 500:
		return "server_error"
	case statusCode >= 400:
		return "client_error"
	default:
		return "error"
	}
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
