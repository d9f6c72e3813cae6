// Package metrics collects per-service outcomes of wrapped API calls and
// renders them as reports, JSON snapshots and Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector is the sink the dashboard forwards observations to. The
// Prometheus implementation is the default; tests substitute their own.
type Collector interface {
	// RecordRequest records a completed call with its duration and outcome.
	RecordRequest(service, method string, success bool, duration time.Duration)

	// RecordCacheHit records a call served from cache.
	RecordCacheHit(service, method string)

	// RecordRateLimitWait records time spent waiting on a rate limiter.
	RecordRateLimitWait(service string, waited time.Duration)

	// RecordError records an error occurrence by category.
	RecordError(service, errorType string)
}

// Config holds configuration for the Prometheus collector.
type Config struct {
	Namespace        string
	Subsystem        string
	ConstLabels      prometheus.Labels
	EnableHistogram  bool
	HistogramBuckets []float64
}

// ConfigOption is a functional option for collector configuration.
type ConfigOption func(*Config)

// DefaultConfig returns the default collector configuration.
func DefaultConfig() *Config {
	return &Config{
		Namespace:        "snel",
		Subsystem:        "api",
		EnableHistogram:  true,
		HistogramBuckets: prometheus.DefBuckets,
	}
}

// WithNamespace sets the metric namespace.
func WithNamespace(namespace string) ConfigOption {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metric subsystem.
func WithSubsystem(subsystem string) ConfigOption {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels adds constant labels to all metrics.
func WithConstLabels(labels prometheus.Labels) ConfigOption {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithHistogram toggles the request duration histogram.
func WithHistogram(enabled bool) ConfigOption {
	return func(c *Config) {
		c.EnableHistogram = enabled
	}
}

// WithHistogramBuckets sets custom histogram buckets.
func WithHistogramBuckets(buckets []float64) ConfigOption {
	return func(c *Config) {
		c.HistogramBuckets = buckets
	}
}
