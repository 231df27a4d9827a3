package resilience

import (
	"context"
	"fmt"
	"time"
)

// Executor composes the reliability layers around a caller-supplied
// operation: rate limiting, fingerprint deduplication, per-service circuit
// breaking and retries, in that order. Instances are caller-owned and built
// with functional options; there is no process-wide default.
type Executor struct {
	dedup       *Deduplicator
	breakers    *BreakerRegistry
	retry       *RetryManager
	retryConfig RetryConfig
	rateLimiter *RateLimiter

	metrics         *MetricsCollector
	debug           *DebugConfig
	logger          Logger
	validationError error
}

// New constructs an Executor using the provided functional options. A best
// effort validation is performed; call IsValid / ValidationError for errors.
func New(options ...Option) *Executor {
	e := &Executor{
		dedup:       NewDeduplicator(DefaultDeduplicationConfig()),
		breakers:    NewBreakerRegistry(DefaultCircuitBreakerConfig()),
		retry:       NewRetryManager(),
		retryConfig: DefaultRetryConfig(),
		debug:       DefaultDebugConfig(),
	}

	for _, option := range options {
		option(e)
	}

	// Wire shared observability into the layers after options settle.
	e.dedup.collector = e.metrics
	e.dedup.logger = e.logger
	e.dedup.debug = e.debug
	e.breakers.collector = e.metrics
	e.breakers.logger = e.logger
	e.breakers.debug = e.debug
	e.retry.collector = e.metrics
	e.retry.logger = e.logger
	e.retry.debug = e.debug

	if err := e.ValidateConfiguration(); err != nil {
		e.validationError = err
	}

	return e
}

// Do executes the operation for the given service with every configured
// reliability layer applied:
//
//	deduplicate(fingerprint, breaker.Execute(retry.Retry(op)))
//
// Query and params exist only for fingerprinting; they are otherwise opaque.
func (e *Executor) Do(ctx context.Context, service, query string, params map[string]any, op Operation) (any, error) {
	start := time.Now()

	var requestID string
	if e.debug != nil && e.debug.Enabled && e.debug.RequestIDGen != nil {
		requestID = e.debug.RequestIDGen()
	}
	if e.debug != nil && e.debug.Enabled && e.debug.LogRequests && e.logger != nil {
		e.logger.Debug("starting request", "requestID", requestID, "service", service, "query", query)
	}

	if e.rateLimiter != nil {
		allowed := e.rateLimiter.Allow()
		if e.metrics != nil {
			e.metrics.RecordRateLimiterTokens(e.rateLimiter.Tokens())
		}
		if !allowed {
			e.record(service, "rate_limited", start, ErrRateLimited)
			return nil, fmt.Errorf("%w: service %q", ErrRateLimited, service)
		}
	}

	wrapped := func(ctx context.Context) (any, error) {
		return e.breakers.Get(service).Execute(ctx, func(ctx context.Context) (any, error) {
			return e.retry.Retry(ctx, op, e.retryConfig)
		})
	}

	var value any
	var err error
	if e.dedup.ShouldDeduplicate(query, params) {
		value, err = e.dedup.GetOrCreateRequest(ctx, query, params, wrapped)
	} else {
		value, err = wrapped(ctx)
	}

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	e.record(service, outcome, start, err)

	if e.debug != nil && e.debug.Enabled && e.debug.LogRequests && e.logger != nil {
		e.logger.Debug("request finished", "requestID", requestID, "service", service,
			"outcome", outcome, "duration", time.Since(start))
	}
	return value, err
}

func (e *Executor) record(service, outcome string, start time.Time, err error) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordRequest(service, outcome, time.Since(start))
	if err != nil {
		e.metrics.RecordError(Classify(err))
	}
}

// Deduplicator exposes the executor's deduplicator for metrics and cleanup.
func (e *Executor) Deduplicator() *Deduplicator { return e.dedup }

// Breakers exposes the executor's circuit breaker registry.
func (e *Executor) Breakers() *BreakerRegistry { return e.breakers }

// RetryManager exposes the executor's retry manager for Abort and state.
func (e *Executor) RetryManager() *RetryManager { return e.retry }

// IsValid reports whether construction-time validation passed.
func (e *Executor) IsValid() bool { return e.validationError == nil }

// ValidationError returns the construction-time validation error, if any.
func (e *Executor) ValidationError() error { return e.validationError }

// Execute is a typed front door over Executor.Do for callers that know the
// operation's result type.
func Execute[T any](ctx context.Context, e *Executor, service, query string, params map[string]any, op func(ctx context.Context) (T, error)) (T, error) {
	value, err := e.Do(ctx, service, query, params, func(ctx context.Context) (any, error) {
		return op(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	typed, ok := value.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("resilience: shared result is %T, not %T", value, zero)
	}
	return typed, nil
}
