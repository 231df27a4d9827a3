package resilience

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the request-execution
// lifecycle and reliability layers. It is safe for concurrent use.
type MetricsCollector struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	retriesTotal *prometheus.CounterVec

	circuitBreakerState       *prometheus.GaugeVec
	circuitBreakerTransitions *prometheus.CounterVec

	deduplicationHits *prometheus.CounterVec
	activeRequests    prometheus.Gauge
	resultCacheSize   prometheus.Gauge

	rateLimiterTokens prometheus.Gauge

	errorsTotal *prometheus.CounterVec
}

// NewMetricsCollector creates a collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using the supplied
// registerer, letting tests and embedders isolate metric registration.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	return &MetricsCollector{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "usearch_requests_total",
				Help: "Total number of executed operations by outcome",
			},
			[]string{"service", "outcome"},
		),
		requestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "usearch_request_duration_seconds",
				Help:    "Duration of executed operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service", "outcome"},
		),
		retriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "usearch_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"attempt"},
		),
		circuitBreakerState: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "usearch_circuit_breaker_state",
				Help: "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"service"},
		),
		circuitBreakerTransitions: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "usearch_circuit_breaker_transitions_total",
				Help: "Total circuit breaker state transitions by target state",
			},
			[]string{"service", "to"},
		),
		deduplicationHits: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "usearch_deduplication_hits_total",
				Help: "Total deduplication hits by kind (cache or inflight)",
			},
			[]string{"kind"},
		),
		activeRequests: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "usearch_active_requests",
				Help: "Number of distinct in-flight deduplicated requests",
			},
		),
		resultCacheSize: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "usearch_result_cache_size",
				Help: "Current number of entries in the shared result cache",
			},
		),
		rateLimiterTokens: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "usearch_rate_limiter_tokens",
				Help: "Current number of available rate limiter tokens",
			},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "usearch_errors_total",
				Help: "Total errors by classified type",
			},
			[]string{"type"},
		),
	}
}

// RecordRequest records one completed operation.
func (mc *MetricsCollector) RecordRequest(service, outcome string, duration time.Duration) {
	mc.requestsTotal.WithLabelValues(service, outcome).Inc()
	mc.requestDuration.WithLabelValues(service, outcome).Observe(duration.Seconds())
}

// RecordRetry records one scheduled retry attempt.
func (mc *MetricsCollector) RecordRetry(attempt int) {
	mc.retriesTotal.WithLabelValues(strconv.Itoa(attempt)).Inc()
}

// RecordCircuitBreakerState publishes the breaker's current state.
func (mc *MetricsCollector) RecordCircuitBreakerState(service string, state CircuitState) {
	var v float64
	switch state {
	case StateOpen:
		v = 1
	case StateHalfOpen:
		v = 2
	}
	mc.circuitBreakerState.WithLabelValues(service).Set(v)
}

// RecordCircuitBreakerTransition counts a state transition.
func (mc *MetricsCollector) RecordCircuitBreakerTransition(service string, to CircuitState) {
	mc.circuitBreakerTransitions.WithLabelValues(service, to.String()).Inc()
}

// RecordDeduplicationHit counts a cache or in-flight coalescing hit.
func (mc *MetricsCollector) RecordDeduplicationHit(kind string) {
	mc.deduplicationHits.WithLabelValues(kind).Inc()
}

// RecordActiveRequests publishes the in-flight fingerprint count.
func (mc *MetricsCollector) RecordActiveRequests(n int) {
	mc.activeRequests.Set(float64(n))
}

// RecordResultCacheSize publishes the result cache entry count.
func (mc *MetricsCollector) RecordResultCacheSize(n int) {
	mc.resultCacheSize.Set(float64(n))
}

// RecordRateLimiterTokens publishes the available token count.
func (mc *MetricsCollector) RecordRateLimiterTokens(n int) {
	mc.rateLimiterTokens.Set(float64(n))
}

// RecordError counts an error by its classified type.
func (mc *MetricsCollector) RecordError(errorType string) {
	mc.errorsTotal.WithLabelValues(errorType).Inc()
}
