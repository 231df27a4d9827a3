package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Sentinel errors for common failure scenarios. The typed errors below
// match these via errors.Is so callers can branch without type assertions.
var (
	// ErrCircuitOpen is returned when the circuit breaker rejects a call
	// without invoking the operation.
	ErrCircuitOpen = errors.New("resilience: circuit open")

	// ErrConcurrencyLimit is returned when the deduplicator is at its
	// in-flight fingerprint capacity.
	ErrConcurrencyLimit = errors.New("resilience: concurrent request limit reached")

	// ErrOperationTimeout is returned when an operation exceeds its
	// per-attempt or per-request timeout.
	ErrOperationTimeout = errors.New("resilience: operation timed out")

	// ErrRetryExhausted is returned when the attempt budget runs out.
	ErrRetryExhausted = errors.New("resilience: retry attempts exhausted")

	// ErrRetryAborted is returned when Abort cancels a retry session.
	ErrRetryAborted = errors.New("resilience: retry aborted")

	// ErrRequestEvicted is returned to waiters whose deduplicated entry was
	// cleared before the owning execution settled.
	ErrRequestEvicted = errors.New("resilience: deduplicated request evicted")

	// ErrRateLimited is returned when the executor's rate limiter denies a call.
	ErrRateLimited = errors.New("resilience: rate limited")
)

// CircuitOpenError reports a call rejected by policy while the circuit is
// open (or half-open with no probe slots left). The operation was not invoked.
type CircuitOpenError struct {
	Service       string
	FailureCount  int
	NextRetryTime time.Time
}

func (e *CircuitOpenError) Error() string {
	name := e.Service
	if name == "" {
		name = "default"
	}
	return fmt.Sprintf("resilience: circuit open for %q (%d failures, retry after %s)",
		name, e.FailureCount, e.NextRetryTime.Format(time.RFC3339))
}

func (e *CircuitOpenError) Is(target error) bool { return target == ErrCircuitOpen }

// ConcurrencyLimitError reports a call rejected because the deduplicator is
// tracking MaxConcurrentRequests distinct in-flight fingerprints.
type ConcurrencyLimitError struct {
	Fingerprint string
	Active      int
	Limit       int
}

func (e *ConcurrencyLimitError) Error() string {
	return fmt.Sprintf("resilience: concurrent request limit reached (%d/%d active, fingerprint %s)",
		e.Active, e.Limit, e.Fingerprint)
}

func (e *ConcurrencyLimitError) Is(target error) bool { return target == ErrConcurrencyLimit }

// OperationTimeoutError reports an operation that did not settle within its
// timeout. The operation may still be running; treat the outcome as unknown,
// not as a guaranteed no-op.
type OperationTimeoutError struct {
	Timeout time.Duration
	Attempt int
}

func (e *OperationTimeoutError) Error() string {
	if e.Attempt > 0 {
		return fmt.Sprintf("resilience: operation timed out after %v (attempt %d)", e.Timeout, e.Attempt)
	}
	return fmt.Sprintf("resilience: operation timed out after %v", e.Timeout)
}

func (e *OperationTimeoutError) Is(target error) bool { return target == ErrOperationTimeout }

// RetryExhaustedError reports a retry session that consumed its full attempt
// budget. Attempts holds every attempt's error in order.
type RetryExhaustedError struct {
	Attempts []error
	Elapsed  time.Duration
}

func (e *RetryExhaustedError) Error() string {
	last := error(nil)
	if n := len(e.Attempts); n > 0 {
		last = e.Attempts[n-1]
	}
	return fmt.Sprintf("resilience: retry exhausted after %d attempts in %v: %v",
		len(e.Attempts), e.Elapsed.Round(time.Millisecond), last)
}

func (e *RetryExhaustedError) Is(target error) bool { return target == ErrRetryExhausted }

// Unwrap exposes the final attempt's error for errors.Is / errors.As chains.
func (e *RetryExhaustedError) Unwrap() error {
	if n := len(e.Attempts); n > 0 {
		return e.Attempts[n-1]
	}
	return nil
}

// NonRetryableError marks an error that must halt retry loops immediately.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("resilience: non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error { return e.Err }

// MarkNonRetryable wraps err so the retry manager surfaces it on the first
// attempt instead of burning the budget.
func MarkNonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// RetryAfterHinter is implemented by errors that carry a server-provided
// retry-after hint, e.g. parsed from a 429 response. The retry manager
// prefers the hint over the computed backoff delay.
type RetryAfterHinter interface {
	RetryAfter() time.Duration
}

// ErrorType classes returned by Classify.
const (
	ErrorTypeNetwork    = "network"
	ErrorTypeTimeout    = "timeout"
	ErrorTypeRateLimit  = "rate_limit"
	ErrorTypeAuth       = "auth"
	ErrorTypeValidation = "validation"
	ErrorTypeServer     = "server"
	ErrorTypePolicy     = "policy"
	ErrorTypeUnknown    = "unknown"
)

// Classify infers an error class from the error's type, interfaces and, as a
// last resort, its message. Caller-supplied operations rarely return typed
// errors, so the message heuristics carry more weight than usual.
func Classify(err error) string {
	if err == nil {
		return ErrorTypeUnknown
	}

	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrConcurrencyLimit) || errors.Is(err, ErrRateLimited) {
		return ErrorTypePolicy
	}
	if errors.Is(err, ErrOperationTimeout) {
		return ErrorTypeTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTypeTimeout
		}
		return ErrorTypeNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") || strings.Contains(msg, "deadline exceeded"):
		return ErrorTypeTimeout
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") || strings.Contains(msg, "429"):
		return ErrorTypeRateLimit
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden") ||
		strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "credential") || strings.Contains(msg, "token expired"):
		return ErrorTypeAuth
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "validation") || strings.Contains(msg, "bad request") || strings.Contains(msg, "400"):
		return ErrorTypeValidation
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network") ||
		strings.Contains(msg, "dns") || strings.Contains(msg, "refused") || strings.Contains(msg, "reset"):
		return ErrorTypeNetwork
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503") ||
		strings.Contains(msg, "504") || strings.Contains(msg, "server error") || strings.Contains(msg, "unavailable"):
		return ErrorTypeServer
	}
	return ErrorTypeUnknown
}

// IsRetryable reports whether an error represents a transient failure worth
// another attempt. Network errors, timeouts, rate limiting and server errors
// are retryable; auth and validation failures, policy rejections and errors
// marked with MarkNonRetryable are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var nonRetryable *NonRetryableError
	if errors.As(err, &nonRetryable) {
		return false
	}
	switch Classify(err) {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeServer, ErrorTypeUnknown:
		return true
	default:
		return false
	}
}
