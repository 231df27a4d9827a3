// Package resilience is the request-execution layer of the universal search
// client: three composable reliability primitives that govern how an
// unreliable downstream operation is invoked, retried, throttled and shared
// across concurrent callers.
//
//   - Circuit breaker (closed / open / half-open states, exponential-backoff
//     recovery, lazy state evaluation, transition history)
//   - Request deduplicator (fingerprint-keyed coalescing of identical
//     in-flight calls, TTL-bounded result sharing)
//   - Retry manager (exponential / linear / fixed / immediate backoff with
//     jitter, error classification, per-attempt timeouts, abort)
//
// Each component is independently usable; they compose by function wrapping:
//
//	dedup.GetOrCreateRequest(ctx, query, params, func(ctx context.Context) (any, error) {
//	    return breaker.Execute(ctx, func(ctx context.Context) (any, error) {
//	        return retrier.Retry(ctx, networkCall, resilience.NetworkRetry())
//	    })
//	})
//
// The Executor ties the layers together behind functional options for
// callers that want the stock pipeline:
//
//	exec := resilience.New(
//	    resilience.WithCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
//	    resilience.WithRetry(resilience.ExponentialBackoff()),
//	    resilience.WithRateLimiter(10, time.Second),
//	    resilience.WithMetrics(),
//	)
//	result, err := exec.Do(ctx, "search-api", query, params, searchCall)
//
// Design goals:
//   - Caller-owned instances; no hidden process-wide singletons
//   - Explicit config structs with defaults resolved once at construction
//   - Every state mutation serialized behind a mutex; safe for concurrent use
//   - Policy rejections (circuit open, concurrency limit, rate limited) are
//     distinguishable from exhausted-retry failures via errors.Is
//
// The actual transport, data-source adapters and rendering live elsewhere;
// this package sees only an operation of shape func(ctx) (any, error) plus an
// opaque query/params pair used for fingerprinting.
package resilience
