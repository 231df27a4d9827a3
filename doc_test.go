package resilience

import (
	"context"
	"fmt"
	"time"
)

func ExampleNew() {
	e := New(
		WithRetry(RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    10 * time.Millisecond,
			Backoff:     BackoffFixed,
			Jitter:      JitterNone,
		}),
	)

	value, err := e.Do(context.Background(), "search-api", "example query", nil,
		func(ctx context.Context) (any, error) {
			return "result", nil
		})
	fmt.Println(value, err)
	// Output: result <nil>
}

func ExampleExecute() {
	e := New(WithRetry(FixedDelay()))

	n, err := Execute(context.Background(), e, "counter", "count things", nil,
		func(ctx context.Context) (int, error) {
			return 7, nil
		})
	fmt.Println(n, err)
	// Output: 7 <nil>
}

func ExampleCircuitBreaker_Execute() {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold:    2,
		RecoveryTimeout:     time.Minute,
		HalfOpenMaxRequests: 1,
		SuccessThreshold:    1,
	})

	for i := 0; i < 2; i++ {
		cb.Execute(context.Background(), func(ctx context.Context) (any, error) {
			return nil, fmt.Errorf("backend down")
		})
	}
	fmt.Println(cb.State())
	// Output: open
}

func ExampleFingerprinter_Fingerprint() {
	fp := NewFingerprinter(HashDJB2)

	a := fp.Fingerprint("  Hello   World  ", map[string]any{"page": 1, "size": 10})
	b := fp.Fingerprint("hello world", map[string]any{"size": 10, "page": 1})
	fmt.Println(a.Hash == b.Hash)
	// Output: true
}
