package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements Collector for Prometheus.
type PrometheusCollector struct {
	config   *Config
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	cacheHitsTotal  *prometheus.CounterVec
	rateLimitWait   *prometheus.HistogramVec
	errorsTotal     *prometheus.CounterVec
}

// NewPrometheusCollector creates a new Prometheus metrics collector with
// its own registry.
func NewPrometheusCollector(opts ...ConfigOption) (*PrometheusCollector, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}

	collector := &PrometheusCollector{
		config:   config,
		registry: prometheus.NewRegistry(),
	}

	if err := collector.initMetrics(); err != nil {
		return nil, err
	}

	return collector, nil
}

// initMetrics initializes all Prometheus metrics.
func (p *PrometheusCollector) initMetrics() error {
	p.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        "requests_total",
			Help:        "Total number of outbound API calls",
			ConstLabels: p.config.ConstLabels,
		},
		[]string{"service", "method", "outcome"},
	)

	if p.config.EnableHistogram {
		p.requestDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   p.config.Namespace,
				Subsystem:   p.config.Subsystem,
				Name:        "request_duration_seconds",
				Help:        "Histogram of outbound API call duration in seconds",
				Buckets:     p.config.HistogramBuckets,
				ConstLabels: p.config.ConstLabels,
			},
			[]string{"service", "method"},
		)
	}

	p.cacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        "cache_hits_total",
			Help:        "Total number of calls served from cache",
			ConstLabels: p.config.ConstLabels,
		},
		[]string{"service", "method"},
	)

	p.rateLimitWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        "rate_limit_wait_seconds",
			Help:        "Histogram of time spent waiting on rate limiters",
			Buckets:     []float64{.001, .01, .1, .5, 1, 2, 5, 10, 30},
			ConstLabels: p.config.ConstLabels,
		},
		[]string{"service"},
	)

	p.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        "errors_total",
			Help:        "Total number of outbound API call errors",
			ConstLabels: p.config.ConstLabels,
		},
		[]string{"service", "error_type"},
	)

	p.registry.MustRegister(
		p.requestsTotal,
		p.cacheHitsTotal,
		p.rateLimitWait,
		p.errorsTotal,
	)

	if p.config.EnableHistogram {
		p.registry.MustRegister(p.requestDuration)
	}

	return nil
}

// RecordRequest records a completed call.
func (p *PrometheusCollector) RecordRequest(service, method string, success bool, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "error"
	}

	p.requestsTotal.WithLabelValues(service, method, outcome).Inc()
	if p.config.EnableHistogram {
		p.requestDuration.WithLabelValues(service, method).Observe(duration.Seconds())
	}
}

// RecordCacheHit records a call served from cache.
func (p *PrometheusCollector) RecordCacheHit(service, method string) {
	p.cacheHitsTotal.WithLabelValues(service, method).Inc()
}

// RecordRateLimitWait records time spent waiting on a rate limiter.
func (p *PrometheusCollector) RecordRateLimitWait(service string, waited time.Duration) {
	p.rateLimitWait.WithLabelValues(service).Observe(waited.Seconds())
}

// RecordError records an error occurrence.
func (p *PrometheusCollector) RecordError(service, errorType string) {
	p.errorsTotal.WithLabelValues(service, errorType).Inc()
}

// GetRegistry returns the Prometheus registry for exposition.
func (p *PrometheusCollector) GetRegistry() *prometheus.Registry {
	return p.registry
}

// MustRegister registers a custom collector on the same registry.
func (p *PrometheusCollector) MustRegister(collectors ...prometheus.Collector) {
	p.registry.MustRegister(collectors...)
}
