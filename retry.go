package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alonbtm/abt-universal-search-sub010/internal/backoff"
)

// RetryState exposes an in-progress retry session for live feedback.
type RetryState struct {
	Attempt    int
	Errors     []error
	TotalDelay time.Duration
	StartTime  time.Time
	Elapsed    time.Duration
}

// RetryMetrics accumulates across retry sessions for the lifetime of the
// manager.
type RetryMetrics struct {
	Sessions       int64
	Successes      int64
	Failures       int64
	Aborts         int64
	TotalAttempts  int64
	TotalDelay     time.Duration
	RecordedErrors []error
}

// retryErrorHistoryLimit bounds the cumulative error history kept in metrics.
const retryErrorHistoryLimit = 100

type retrySession struct {
	attempt    int
	errs       []error
	totalDelay time.Duration
	start      time.Time
	abort      chan struct{}
	abortOnce  sync.Once
}

// RetryManager repeatedly invokes an operation with computed delay and
// jitter until success, budget exhaustion, or a non-retryable error. It is
// independent of, and composable with, the circuit breaker and deduplicator.
type RetryManager struct {
	mu      sync.Mutex
	session *retrySession
	metrics RetryMetrics

	now       func() time.Time
	collector *MetricsCollector
	logger    Logger
	debug     *DebugConfig
}

// NewRetryManager creates a retry manager with empty metrics.
func NewRetryManager() *RetryManager {
	return &RetryManager{now: time.Now}
}

// Retry executes the operation under the given config. On failure the error
// is classified and, if retryable, the next attempt is scheduled after
// CalculateDelay (or after a server-provided RetryAfterHinter hint). The
// loop stops on success, on the first non-retryable error (surfaced as-is),
// or once MaxAttempts is reached, failing with a *RetryExhaustedError that
// carries every attempt's error in order.
//
// Abort cancels the session: the signal is checked before each sleep and
// before each new attempt, and resolves a pending sleep early. A running
// operation is not forcibly cancelled; its per-attempt context is cancelled
// and the operation must honor it.
func (m *RetryManager) Retry(ctx context.Context, op Operation, config RetryConfig) (any, error) {
	config = config.withDefaults()

	session := &retrySession{
		start: m.now(),
		abort: make(chan struct{}),
	}
	m.mu.Lock()
	m.session = session
	m.metrics.Sessions++
	m.mu.Unlock()

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if err := m.checkCancelled(ctx, session); err != nil {
			return nil, err
		}

		m.mu.Lock()
		session.attempt = attempt
		m.metrics.TotalAttempts++
		m.mu.Unlock()

		value, err := m.runAttempt(ctx, op, config, attempt)
		if err == nil {
			m.finish(session, true, false)
			return value, nil
		}

		m.mu.Lock()
		session.errs = append(session.errs, err)
		if len(m.metrics.RecordedErrors) < retryErrorHistoryLimit {
			m.metrics.RecordedErrors = append(m.metrics.RecordedErrors, err)
		}
		m.mu.Unlock()

		if !canRetry(err, config) {
			m.finish(session, false, false)
			return nil, err
		}
		if attempt == config.MaxAttempts {
			break
		}

		delay := nextDelay(err, attempt, config)
		if m.debug != nil && m.debug.Enabled && m.debug.LogRetries && m.logger != nil {
			m.logger.Debug("retry scheduled", "attempt", attempt, "delay", delay, "error", err.Error())
		}
		if m.collector != nil {
			m.collector.RecordRetry(attempt)
		}
		if err := m.sleep(ctx, session, delay); err != nil {
			return nil, err
		}
	}

	m.finish(session, false, false)
	m.mu.Lock()
	errs := make([]error, len(session.errs))
	copy(errs, session.errs)
	elapsed := m.now().Sub(session.start)
	m.mu.Unlock()
	return nil, &RetryExhaustedError{Attempts: errs, Elapsed: elapsed}
}

// runAttempt enforces the per-attempt timeout, independent of the overall
// retry budget. The operation races the timeout; a loser keeps running with
// a cancelled context and its result is dropped.
func (m *RetryManager) runAttempt(ctx context.Context, op Operation, config RetryConfig, attempt int) (any, error) {
	if config.AttemptTimeout <= 0 {
		return op(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, config.AttemptTimeout)
	defer cancel()

	type opResult struct {
		value any
		err   error
	}
	done := make(chan opResult, 1)
	go func() {
		v, err := op(attemptCtx)
		done <- opResult{value: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &OperationTimeoutError{Timeout: config.AttemptTimeout, Attempt: attempt}
		}
		return r.value, r.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &OperationTimeoutError{Timeout: config.AttemptTimeout, Attempt: attempt}
	}
}

// sleep suspends between attempts, resolving early on abort or context
// cancellation.
func (m *RetryManager) sleep(ctx context.Context, session *retrySession, delay time.Duration) error {
	if delay <= 0 {
		return m.checkCancelled(ctx, session)
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		m.mu.Lock()
		session.totalDelay += delay
		m.metrics.TotalDelay += delay
		m.mu.Unlock()
		return nil
	case <-session.abort:
		m.finish(session, false, true)
		return ErrRetryAborted
	case <-ctx.Done():
		m.finish(session, false, false)
		return ctx.Err()
	}
}

func (m *RetryManager) checkCancelled(ctx context.Context, session *retrySession) error {
	select {
	case <-session.abort:
		m.finish(session, false, true)
		return ErrRetryAborted
	default:
	}
	if err := ctx.Err(); err != nil {
		m.finish(session, false, false)
		return err
	}
	return nil
}

func (m *RetryManager) finish(session *retrySession, success, aborted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case success:
		m.metrics.Successes++
	case aborted:
		m.metrics.Aborts++
	default:
		m.metrics.Failures++
	}
	if m.session == session {
		m.session = nil
	}
}

// Abort cancels the in-flight retry session, if any. Pending sleeps resolve
// immediately and no further attempts start.
func (m *RetryManager) Abort() {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()
	if session != nil {
		session.abortOnce.Do(func() { close(session.abort) })
	}
}

// GetRetryState returns a snapshot of the in-progress session, or the zero
// state when no session is running.
func (m *RetryManager) GetRetryState() RetryState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return RetryState{}
	}
	errs := make([]error, len(m.session.errs))
	copy(errs, m.session.errs)
	return RetryState{
		Attempt:    m.session.attempt,
		Errors:     errs,
		TotalDelay: m.session.totalDelay,
		StartTime:  m.session.start,
		Elapsed:    m.now().Sub(m.session.start),
	}
}

// Metrics returns the cumulative counters across sessions.
func (m *RetryManager) Metrics() RetryMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.metrics
	out.RecordedErrors = make([]error, len(m.metrics.RecordedErrors))
	copy(out.RecordedErrors, m.metrics.RecordedErrors)
	return out
}

// canRetry consults the config's predicate, falling back to the default
// classification. Errors marked non-retryable always halt the loop.
func canRetry(err error, config RetryConfig) bool {
	var nonRetryable *NonRetryableError
	if errors.As(err, &nonRetryable) {
		return false
	}
	if config.RetryIf != nil {
		return config.RetryIf(err)
	}
	return IsRetryable(err)
}

// nextDelay prefers a server-provided retry-after hint over the computed
// backoff, capped at MaxDelay either way.
func nextDelay(err error, attempt int, config RetryConfig) time.Duration {
	var hinter RetryAfterHinter
	if errors.As(err, &hinter) {
		if hint := hinter.RetryAfter(); hint > 0 {
			if config.MaxDelay > 0 && hint > config.MaxDelay {
				return config.MaxDelay
			}
			return hint
		}
	}
	return CalculateDelay(attempt, config)
}

// CalculateDelay returns the delay before the attempt following attempt
// failures, applying the config's backoff policy and jitter. Without jitter
// the delay is non-decreasing across attempts under the exponential and
// linear policies; with jitter it never exceeds the unjittered value, so the
// MaxDelay cap holds in every mode.
func CalculateDelay(attempt int, config RetryConfig) time.Duration {
	config = config.withDefaults()
	strategy := backoff.ForPolicy(backoff.Policy(config.Backoff))
	base := strategy.Delay(attempt, config.BaseDelay, config.MaxDelay)
	return backoff.ApplyJitter(base, backoff.Jitter(config.Jitter))
}

// Named presets: canonical (maxAttempts, baseDelay, jitter, retryPredicate)
// bundles for common situations.

// ExponentialBackoff retries up to five times with doubling, fully jittered
// delays.
func ExponentialBackoff() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Backoff:     BackoffExponential,
		Jitter:      JitterFull,
	}
}

// LinearBackoff retries up to three times with linearly growing delays.
func LinearBackoff() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		Backoff:     BackoffLinear,
		Jitter:      JitterNone,
	}
}

// FixedDelay retries up to three times with a constant delay.
func FixedDelay() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    time.Second,
		Backoff:     BackoffFixed,
		Jitter:      JitterNone,
	}
}

// ImmediateRetry retries up to three times with no delay.
func ImmediateRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		Backoff:     BackoffImmediate,
		Jitter:      JitterNone,
	}
}

// NetworkRetry retries transport and timeout errors only.
func NetworkRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Backoff:     BackoffExponential,
		Jitter:      JitterFull,
		RetryIf: func(err error) bool {
			switch Classify(err) {
			case ErrorTypeNetwork, ErrorTypeTimeout:
				return true
			}
			return false
		},
	}
}

// AuthRetry retries exactly once, giving the caller's operation a chance to
// refresh credentials before the second attempt.
func AuthRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts: 2,
		Backoff:     BackoffImmediate,
		Jitter:      JitterNone,
		RetryIf: func(err error) bool {
			return Classify(err) == ErrorTypeAuth
		},
	}
}

// RateLimitRetry retries rate-limit rejections, honoring server-provided
// retry-after hints when the error implements RetryAfterHinter.
func RateLimitRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    time.Minute,
		Backoff:     BackoffExponential,
		Jitter:      JitterEqual,
		RetryIf: func(err error) bool {
			return Classify(err) == ErrorTypeRateLimit
		},
	}
}
