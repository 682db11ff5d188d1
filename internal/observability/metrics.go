package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Upstream API call rate by category and outcome. Watch for: error vs success ratio.
	UpstreamCallsTotal *prometheus.CounterVec

	// Upstream API latency per call. Watch for: p95 > 2s (upstream degradation), p99 near the 10s bound.
	UpstreamCallDuration *prometheus.HistogramVec

	// Retry attempts for upstream calls. Watch for: high retries = unstable upstream.
	UpstreamRetriesTotal prometheus.Counter

	// Cache hits by category. Hit rate per category = hits/(hits+misses).
	CacheHitsTotal *prometheus.CounterVec

	// Cache misses by category.
	CacheMissesTotal *prometheus.CounterVec

	// Negative-cache hits (repeated requests for known-missing resources that skipped the network).
	NegativeCacheHitsTotal prometheus.Counter

	// Key deactivations after repeated failures. Watch for: keys burning out.
	KeyDeactivationsTotal prometheus.Counter

	// Full reactivation sweeps (every key had failed). Any increase deserves attention.
	KeyReactivationSweepsTotal prometheus.Counter

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// Cache warming runs and failures.
	CacheWarmingTotal       prometheus.Counter
	CacheWarmingErrorsTotal prometheus.Counter

	keyPoolGaugeOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamCallsTotal",
			Help: "Total number of upstream weather API calls",
		},
		[]string{"category", "status"},
	)
	UpstreamCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstreamCallDurationSeconds",
			Help:    "Upstream weather API latency in seconds (per call)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"category", "status"},
	)
	UpstreamRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "upstreamRetriesTotal",
			Help: "Total number of retry attempts for upstream calls",
		},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of cache hits by category",
		},
		[]string{"category"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of cache misses by category",
		},
		[]string{"category"},
	)
	NegativeCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "negativeCacheHitsTotal",
			Help: "Requests answered from the negative (not-found) cache without a network call",
		},
	)
	KeyDeactivationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "keyDeactivationsTotal",
			Help: "API keys deactivated after reaching the failure threshold",
		},
	)
	KeyReactivationSweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "keyReactivationSweepsTotal",
			Help: "Full key reactivation sweeps triggered by zero active keys",
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Cache warming runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Cache warming runs that ended with errors",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		UpstreamCallsTotal, UpstreamCallDuration, UpstreamRetriesTotal,
		CacheHitsTotal, CacheMissesTotal, NegativeCacheHitsTotal,
		KeyDeactivationsTotal, KeyReactivationSweepsTotal,
		RateLimitDeniedTotal,
		CacheWarmingTotal, CacheWarmingErrorsTotal,
	)
}

// RegisterKeyPoolGauge registers a gauge reporting the number of active API
// keys. Call from main after the pool is constructed.
func RegisterKeyPoolGauge(activeKeys func() float64) {
	keyPoolGaugeOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "keyPoolActiveKeys",
					Help: "API keys currently active in the rotation pool",
				},
				activeKeys,
			),
		)
	})
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
