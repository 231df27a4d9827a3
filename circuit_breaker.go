package resilience

import (
	"context"
	"sync"
	"time"
)

// stateHistoryLimit bounds the retained transition records.
const stateHistoryLimit = 50

// outcomeWindowLimit bounds the retained per-request outcomes backing
// FailureRate.
const outcomeWindowLimit = 100

// StateTransition records one circuit state change for observability.
type StateTransition struct {
	From   CircuitState
	To     CircuitState
	At     time.Time
	Reason string
}

// CircuitBreakerMetrics is a point-in-time snapshot of breaker state.
type CircuitBreakerMetrics struct {
	State           CircuitState
	FailureCount    int
	SuccessCount    int
	TotalRequests   int64
	LastFailureTime time.Time
	NextRetryTime   time.Time
	CurrentBackoff  time.Duration
	StateHistory    []StateTransition
}

// CircuitBreaker wraps invocation of one downstream operation with a
// closed/open/half-open failure state machine. State is re-evaluated lazily
// on Execute and State calls; there is no background timer.
//
// A single mutex serializes every state transition, which keeps compound
// updates (counters, history, nextRetryTime) atomic under concurrent use.
type CircuitBreaker struct {
	mu sync.Mutex

	name   string
	config CircuitBreakerConfig

	state           CircuitState
	failures        int
	successes       int
	totalRequests   int64
	lastFailureTime time.Time
	nextRetryTime   time.Time
	currentBackoff  time.Duration
	halfOpenProbes  int

	history  []StateTransition
	outcomes []bool // true = success, newest last

	now       func() time.Time
	collector *MetricsCollector
	logger    Logger
	debug     *DebugConfig
}

// NewCircuitBreaker creates a circuit breaker. A zero config gets
// DefaultCircuitBreakerConfig; a partial config gets its zero numeric
// fields defaulted.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config == (CircuitBreakerConfig{}) {
		config = DefaultCircuitBreakerConfig()
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout == 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	if config.HalfOpenMaxRequests == 0 {
		config.HalfOpenMaxRequests = 3
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 2
	}
	if config.UseExponentialBackoff && config.MaxBackoff == 0 {
		config.MaxBackoff = 5 * time.Minute
	}

	return &CircuitBreaker{
		name:   "default",
		config: config,
		state:  StateClosed,
		now:    time.Now,
	}
}

// Execute runs the operation under the breaker's policy. When the circuit is
// open, or half-open with no probe slots left, it rejects with a
// *CircuitOpenError without invoking the operation. A configured
// RequestTimeout races the operation; a timeout counts as a failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, op Operation) (any, error) {
	probe, err := cb.beforeRequest()
	if err != nil {
		return nil, err
	}

	result, opErr := cb.run(ctx, op)
	cb.afterRequest(probe, opErr)
	return result, opErr
}

// beforeRequest counts the request, lazily re-evaluates state, and either
// admits the call (reserving a probe slot when half-open) or rejects it.
func (cb *CircuitBreaker) beforeRequest() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++
	cb.evaluateLocked()

	switch cb.state {
	case StateOpen:
		return false, cb.openErrorLocked()
	case StateHalfOpen:
		if cb.halfOpenProbes >= cb.config.HalfOpenMaxRequests {
			return false, cb.openErrorLocked()
		}
		cb.halfOpenProbes++
		return true, nil
	default:
		return false, nil
	}
}

// run races the operation against the configured request timeout. A losing
// operation is left running and its eventual result dropped: the outcome is
// unknown, not undone.
func (cb *CircuitBreaker) run(ctx context.Context, op Operation) (any, error) {
	if cb.config.RequestTimeout <= 0 {
		return op(ctx)
	}

	type opResult struct {
		value any
		err   error
	}
	done := make(chan opResult, 1)
	go func() {
		v, err := op(ctx)
		done <- opResult{value: v, err: err}
	}()

	timer := time.NewTimer(cb.config.RequestTimeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.value, r.err
	case <-timer.C:
		return nil, &OperationTimeoutError{Timeout: cb.config.RequestTimeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// afterRequest releases the probe slot (when one was reserved) and applies
// the success or failure transition.
func (cb *CircuitBreaker) afterRequest(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	// Release per completed probe rather than only on transitions, so
	// out-of-order completions cannot over-admit probes.
	if probe && cb.halfOpenProbes > 0 {
		cb.halfOpenProbes--
	}

	cb.outcomes = append(cb.outcomes, err == nil)
	if len(cb.outcomes) > outcomeWindowLimit {
		cb.outcomes = cb.outcomes[len(cb.outcomes)-outcomeWindowLimit:]
	}

	if err == nil {
		cb.onSuccessLocked()
	} else {
		cb.onFailureLocked()
	}
}

func (cb *CircuitBreaker) onSuccessLocked() {
	switch cb.state {
	case StateClosed:
		// Successes decay the failure count so sporadic errors do not
		// accumulate toward the threshold forever.
		if cb.failures > 0 {
			cb.failures--
		}
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transitionLocked(StateClosed, "success threshold reached")
			cb.failures = 0
			cb.successes = 0
			cb.currentBackoff = 0
			cb.nextRetryTime = time.Time{}
		}
	}
}

func (cb *CircuitBreaker) onFailureLocked() {
	cb.failures++
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.openLocked("failure threshold reached")
		}
	case StateHalfOpen:
		cb.openLocked("probe failed")
	case StateOpen:
		// Late failure from an admitted call; extend the cooldown.
		cb.scheduleRetryLocked()
	}
}

// openLocked moves to open and schedules the next recovery probe window.
func (cb *CircuitBreaker) openLocked(reason string) {
	cb.transitionLocked(StateOpen, reason)
	cb.successes = 0
	cb.halfOpenProbes = 0
	cb.scheduleRetryLocked()
}

// scheduleRetryLocked computes nextRetryTime. With exponential backoff the
// cooldown doubles for each failure past the threshold, capped at MaxBackoff.
func (cb *CircuitBreaker) scheduleRetryLocked() {
	backoffDur := cb.config.RecoveryTimeout
	if cb.config.UseExponentialBackoff {
		exp := cb.failures - cb.config.FailureThreshold
		if exp < 0 {
			exp = 0
		}
		if exp > 20 {
			exp = 20
		}
		backoffDur = cb.config.RecoveryTimeout * time.Duration(1<<uint(exp))
		if cb.config.MaxBackoff > 0 && backoffDur > cb.config.MaxBackoff {
			backoffDur = cb.config.MaxBackoff
		}
	}
	cb.currentBackoff = backoffDur
	cb.nextRetryTime = cb.now().Add(backoffDur)
}

// evaluateLocked applies the lazy open -> half-open transition.
func (cb *CircuitBreaker) evaluateLocked() {
	if cb.state == StateOpen && !cb.now().Before(cb.nextRetryTime) {
		cb.transitionLocked(StateHalfOpen, "recovery timeout elapsed")
		cb.successes = 0
		cb.halfOpenProbes = 0
	}
}

func (cb *CircuitBreaker) transitionLocked(to CircuitState, reason string) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to

	cb.history = append(cb.history, StateTransition{
		From:   from,
		To:     to,
		At:     cb.now(),
		Reason: reason,
	})
	if len(cb.history) > stateHistoryLimit {
		cb.history = cb.history[len(cb.history)-stateHistoryLimit:]
	}

	if cb.collector != nil {
		cb.collector.RecordCircuitBreakerState(cb.name, to)
		cb.collector.RecordCircuitBreakerTransition(cb.name, to)
	}
	if cb.debug != nil && cb.debug.Enabled && cb.debug.LogStateChanges && cb.logger != nil {
		cb.logger.Info("circuit state change",
			"service", cb.name, "from", from.String(), "to", to.String(), "reason", reason)
	}
}

func (cb *CircuitBreaker) openErrorLocked() error {
	return &CircuitOpenError{
		Service:       cb.name,
		FailureCount:  cb.failures,
		NextRetryTime: cb.nextRetryTime,
	}
}

// State returns the current state after lazy re-evaluation.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.evaluateLocked()
	return cb.state
}

// Metrics returns a snapshot of counters and the retained transition history.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.evaluateLocked()

	history := make([]StateTransition, len(cb.history))
	copy(history, cb.history)

	return CircuitBreakerMetrics{
		State:           cb.state,
		FailureCount:    cb.failures,
		SuccessCount:    cb.successes,
		TotalRequests:   cb.totalRequests,
		LastFailureTime: cb.lastFailureTime,
		NextRetryTime:   cb.nextRetryTime,
		CurrentBackoff:  cb.currentBackoff,
		StateHistory:    history,
	}
}

// FailureRate returns the failure fraction over the most recent windowSize
// completed requests (capped at the retained outcome window). Returns 0 when
// nothing has completed yet.
func (cb *CircuitBreaker) FailureRate(windowSize int) float64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if windowSize <= 0 || windowSize > len(cb.outcomes) {
		windowSize = len(cb.outcomes)
	}
	if windowSize == 0 {
		return 0
	}

	failed := 0
	for _, ok := range cb.outcomes[len(cb.outcomes)-windowSize:] {
		if !ok {
			failed++
		}
	}
	return float64(failed) / float64(windowSize)
}

// Healthy reports whether the breaker is closed with a comfortable margin
// below the failure threshold.
func (cb *CircuitBreaker) Healthy() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.evaluateLocked()
	return cb.state == StateClosed && cb.failures < cb.config.FailureThreshold/2
}

// ForceState moves the breaker to the given state. Administrative and
// test-only; production transitions happen through Execute.
func (cb *CircuitBreaker) ForceState(state CircuitState, reason string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionLocked(state, reason)
	cb.successes = 0
	cb.halfOpenProbes = 0
	if state == StateOpen {
		cb.scheduleRetryLocked()
	}
}

// Reset returns the breaker to a pristine closed state, keeping only the
// transition history.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionLocked(StateClosed, "reset")
	cb.failures = 0
	cb.successes = 0
	cb.halfOpenProbes = 0
	cb.currentBackoff = 0
	cb.lastFailureTime = time.Time{}
	cb.nextRetryTime = time.Time{}
	cb.outcomes = nil
}
