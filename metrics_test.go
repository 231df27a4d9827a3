package resilience

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestCollector() (*MetricsCollector, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	return NewMetricsCollectorWithRegistry(registry), registry
}

func TestRecordRequest(t *testing.T) {
	mc, _ := newTestCollector()

	mc.RecordRequest("search-api", "success", 100*time.Millisecond)
	mc.RecordRequest("search-api", "success", 200*time.Millisecond)
	mc.RecordRequest("search-api", "failure", 50*time.Millisecond)

	if got := testutil.ToFloat64(mc.requestsTotal.WithLabelValues("search-api", "success")); got != 2 {
		t.Errorf("success count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(mc.requestsTotal.WithLabelValues("search-api", "failure")); got != 1 {
		t.Errorf("failure count = %v, want 1", got)
	}
}

func TestRecordCircuitBreakerState(t *testing.T) {
	mc, _ := newTestCollector()

	mc.RecordCircuitBreakerState("svc", StateClosed)
	if got := testutil.ToFloat64(mc.circuitBreakerState.WithLabelValues("svc")); got != 0 {
		t.Errorf("closed gauge = %v, want 0", got)
	}
	mc.RecordCircuitBreakerState("svc", StateOpen)
	if got := testutil.ToFloat64(mc.circuitBreakerState.WithLabelValues("svc")); got != 1 {
		t.Errorf("open gauge = %v, want 1", got)
	}
	mc.RecordCircuitBreakerState("svc", StateHalfOpen)
	if got := testutil.ToFloat64(mc.circuitBreakerState.WithLabelValues("svc")); got != 2 {
		t.Errorf("half-open gauge = %v, want 2", got)
	}
}

func TestRecordDeduplicationHits(t *testing.T) {
	mc, _ := newTestCollector()

	mc.RecordDeduplicationHit("cache")
	mc.RecordDeduplicationHit("cache")
	mc.RecordDeduplicationHit("inflight")

	if got := testutil.ToFloat64(mc.deduplicationHits.WithLabelValues("cache")); got != 2 {
		t.Errorf("cache hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(mc.deduplicationHits.WithLabelValues("inflight")); got != 1 {
		t.Errorf("inflight hits = %v, want 1", got)
	}
}

func TestGauges(t *testing.T) {
	mc, _ := newTestCollector()

	mc.RecordActiveRequests(7)
	mc.RecordResultCacheSize(42)
	mc.RecordRateLimiterTokens(3)

	if got := testutil.ToFloat64(mc.activeRequests); got != 7 {
		t.Errorf("activeRequests = %v, want 7", got)
	}
	if got := testutil.ToFloat64(mc.resultCacheSize); got != 42 {
		t.Errorf("resultCacheSize = %v, want 42", got)
	}
	if got := testutil.ToFloat64(mc.rateLimiterTokens); got != 3 {
		t.Errorf("rateLimiterTokens = %v, want 3", got)
	}
}

func TestRecordErrorByType(t *testing.T) {
	mc, _ := newTestCollector()

	mc.RecordError(ErrorTypeTimeout)
	mc.RecordError(ErrorTypeTimeout)
	mc.RecordError(ErrorTypePolicy)

	if got := testutil.ToFloat64(mc.errorsTotal.WithLabelValues(ErrorTypeTimeout)); got != 2 {
		t.Errorf("timeout errors = %v, want 2", got)
	}
}

func TestRecordRetry(t *testing.T) {
	mc, _ := newTestCollector()

	mc.RecordRetry(1)
	mc.RecordRetry(1)
	mc.RecordRetry(2)

	if got := testutil.ToFloat64(mc.retriesTotal.WithLabelValues("1")); got != 2 {
		t.Errorf("attempt 1 retries = %v, want 2", got)
	}
	if got := testutil.ToFloat64(mc.retriesTotal.WithLabelValues("2")); got != 1 {
		t.Errorf("attempt 2 retries = %v, want 1", got)
	}
}

func TestRecordCircuitBreakerTransition(t *testing.T) {
	mc, registry := newTestCollector()

	mc.RecordCircuitBreakerTransition("svc", StateOpen)
	mc.RecordCircuitBreakerTransition("svc", StateHalfOpen)

	if got := testutil.ToFloat64(mc.circuitBreakerTransitions.WithLabelValues("svc", "open")); got != 1 {
		t.Errorf("transitions to open = %v, want 1", got)
	}
	if got, err := testutil.GatherAndCount(registry, "usearch_circuit_breaker_transitions_total"); err != nil || got != 2 {
		t.Errorf("transition series = %v (err %v), want 2", got, err)
	}
}

func TestIsolatedRegistriesDoNotCollide(t *testing.T) {
	// Two collectors on separate registries must register without panicking.
	a := prometheus.NewRegistry()
	b := prometheus.NewRegistry()
	NewMetricsCollectorWithRegistry(a)
	NewMetricsCollectorWithRegistry(b)
}
