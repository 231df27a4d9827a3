package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestExecutorDoSuccess(t *testing.T) {
	e := New(WithRetry(fastRetryConfig(2)))
	if !e.IsValid() {
		t.Fatalf("ValidationError = %v, want valid", e.ValidationError())
	}

	value, err := e.Do(context.Background(), "search-api", "golang testing", nil, succeedingOp)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if value != "ok" {
		t.Errorf("value = %v, want %q", value, "ok")
	}
}

func TestExecutorDoDeduplicatesConcurrentCalls(t *testing.T) {
	e := New(WithRetry(fastRetryConfig(1)))

	var executions int32
	release := make(chan struct{})
	op := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&executions, 1)
		<-release
		return "shared", nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]any, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.Do(context.Background(), "search-api", "same query", nil, op)
		}(i)
	}

	// Wait for the owner to start before releasing it.
	for atomic.LoadInt32(&executions) == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&executions); got != 1 {
		t.Errorf("executions = %d, want 1", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i] != "shared" {
			t.Errorf("caller %d value = %v, want %q", i, results[i], "shared")
		}
	}
}

func TestExecutorDoRetriesTransientFailures(t *testing.T) {
	e := New(WithRetry(fastRetryConfig(3)))

	var calls int32
	op := func(ctx context.Context) (any, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, errDownstream
		}
		return "recovered", nil
	}

	value, err := e.Do(context.Background(), "flaky", "retry me", nil, op)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if value != "recovered" {
		t.Errorf("value = %v, want %q", value, "recovered")
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestExecutorOpensCircuitAfterRepeatedFailures(t *testing.T) {
	e := New(
		WithRetry(fastRetryConfig(1)),
		WithCircuitBreaker(CircuitBreakerConfig{
			FailureThreshold:    3,
			RecoveryTimeout:     time.Minute,
			HalfOpenMaxRequests: 1,
			SuccessThreshold:    1,
		}),
	)

	for i := 0; i < 3; i++ {
		if _, err := e.Do(context.Background(), "broken", "q", nil, failingOp); err == nil {
			t.Fatalf("call %d: expected failure", i)
		}
	}

	if got := e.Breakers().Get("broken").State(); got != StateOpen {
		t.Fatalf("state = %v, want %v", got, StateOpen)
	}

	var invoked int32
	_, err := e.Do(context.Background(), "broken", "q", nil, func(ctx context.Context) (any, error) {
		atomic.AddInt32(&invoked, 1)
		return "ok", nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if atomic.LoadInt32(&invoked) != 0 {
		t.Errorf("operation invoked while circuit open")
	}
}

func TestExecutorBreakerIsolationAcrossServices(t *testing.T) {
	e := New(
		WithRetry(fastRetryConfig(1)),
		WithCircuitBreaker(CircuitBreakerConfig{
			FailureThreshold:    1,
			RecoveryTimeout:     time.Minute,
			HalfOpenMaxRequests: 1,
			SuccessThreshold:    1,
		}),
	)

	if _, err := e.Do(context.Background(), "broken", "q", nil, failingOp); err == nil {
		t.Fatal("expected failure")
	}
	if _, err := e.Do(context.Background(), "healthy", "q", nil, succeedingOp); err != nil {
		t.Fatalf("healthy service affected: %v", err)
	}
}

func TestExecutorRateLimited(t *testing.T) {
	e := New(
		WithRetry(fastRetryConfig(1)),
		WithRateLimiter(2, time.Hour),
	)

	for i := 0; i < 2; i++ {
		if _, err := e.Do(context.Background(), "svc", "q", map[string]any{"i": i}, succeedingOp); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}

	_, err := e.Do(context.Background(), "svc", "q", map[string]any{"i": 2}, succeedingOp)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
}

func TestExecutorSkipsDeduplicationWhenDisabled(t *testing.T) {
	config := DefaultDeduplicationConfig()
	config.Enabled = false
	e := New(WithRetry(fastRetryConfig(1)), WithDeduplication(config))

	var calls int32
	op := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "ok", nil
	}
	for i := 0; i < 3; i++ {
		if _, err := e.Do(context.Background(), "svc", "same", nil, op); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestExecutorRecordsMetrics(t *testing.T) {
	collector := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())
	e := New(WithRetry(fastRetryConfig(1)), WithMetricsCollector(collector))

	if _, err := e.Do(context.Background(), "svc", "q", nil, succeedingOp); err != nil {
		t.Fatalf("Do: %v", err)
	}
	// The collector is shared down into every layer.
	if e.dedup.collector != collector || e.retry.collector != collector || e.breakers.collector != collector {
		t.Error("collector not wired into all layers")
	}
}

func TestExecuteTyped(t *testing.T) {
	e := New(WithRetry(fastRetryConfig(1)))

	got, err := Execute(context.Background(), e, "svc", "typed", nil, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != 42 {
		t.Errorf("got = %d, want 42", got)
	}
}

func TestExecuteTypedPropagatesError(t *testing.T) {
	e := New(WithRetry(fastRetryConfig(1)))

	boom := &NonRetryableError{Err: errors.New("bad input")}
	_, err := Execute(context.Background(), e, "svc", "typed err", nil, func(ctx context.Context) (string, error) {
		return "", boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestExecutorAccessors(t *testing.T) {
	e := New()
	if e.Deduplicator() == nil {
		t.Error("Deduplicator() = nil")
	}
	if e.Breakers() == nil {
		t.Error("Breakers() = nil")
	}
	if e.RetryManager() == nil {
		t.Error("RetryManager() = nil")
	}
}
