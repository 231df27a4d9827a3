package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	tests := []struct {
		err      error
		sentinel error
	}{
		{&CircuitOpenError{Service: "s", FailureCount: 3, NextRetryTime: time.Now()}, ErrCircuitOpen},
		{&ConcurrencyLimitError{Fingerprint: "abc", Active: 50, Limit: 50}, ErrConcurrencyLimit},
		{&OperationTimeoutError{Timeout: time.Second}, ErrOperationTimeout},
		{&RetryExhaustedError{Attempts: []error{errors.New("x")}, Elapsed: time.Second}, ErrRetryExhausted},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.sentinel) {
			t.Errorf("%T does not match its sentinel", tt.err)
		}
	}
}

func TestPolicyRejectionsDistinguishableFromExhaustion(t *testing.T) {
	// Integrators branch user messaging on this distinction.
	policyErr := error(&CircuitOpenError{})
	exhaustedErr := error(&RetryExhaustedError{})

	if errors.Is(policyErr, ErrRetryExhausted) {
		t.Error("circuit-open matched retry-exhausted")
	}
	if errors.Is(exhaustedErr, ErrCircuitOpen) {
		t.Error("retry-exhausted matched circuit-open")
	}
}

func TestRetryExhaustedUnwrapsLastError(t *testing.T) {
	last := errors.New("final failure")
	err := &RetryExhaustedError{Attempts: []error{errors.New("first"), last}}

	if !errors.Is(err, last) {
		t.Error("RetryExhaustedError does not unwrap to the final attempt error")
	}
}

func TestWrappedSentinelStillMatches(t *testing.T) {
	err := fmt.Errorf("executing search: %w", &CircuitOpenError{Service: "s"})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Error("wrapped CircuitOpenError lost its sentinel identity")
	}
	var openErr *CircuitOpenError
	if !errors.As(err, &openErr) {
		t.Error("errors.As failed through wrapping")
	}
}

func TestMarkNonRetryable(t *testing.T) {
	base := errors.New("bad schema")
	marked := MarkNonRetryable(base)

	var nonRetryable *NonRetryableError
	if !errors.As(marked, &nonRetryable) {
		t.Fatal("MarkNonRetryable did not produce a NonRetryableError")
	}
	if !errors.Is(marked, base) {
		t.Error("NonRetryableError does not unwrap to its cause")
	}
	if MarkNonRetryable(nil) != nil {
		t.Error("MarkNonRetryable(nil) should be nil")
	}
	if IsRetryable(marked) {
		t.Error("marked error reported retryable")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ErrorTypeUnknown},
		{errors.New("dial tcp 10.0.0.1:443: connection refused"), ErrorTypeNetwork},
		{errors.New("request timed out"), ErrorTypeTimeout},
		{context.DeadlineExceeded, ErrorTypeTimeout},
		{&OperationTimeoutError{Timeout: time.Second}, ErrorTypeTimeout},
		{errors.New("429 too many requests"), ErrorTypeRateLimit},
		{errors.New("401 unauthorized"), ErrorTypeAuth},
		{errors.New("token expired"), ErrorTypeAuth},
		{errors.New("invalid query syntax"), ErrorTypeValidation},
		{errors.New("503 service unavailable"), ErrorTypeServer},
		{&CircuitOpenError{}, ErrorTypePolicy},
		{&ConcurrencyLimitError{}, ErrorTypePolicy},
		{errors.New("something odd happened"), ErrorTypeUnknown},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	retryable := []error{
		errors.New("connection reset by peer"),
		errors.New("request timed out"),
		errors.New("429 too many requests"),
		errors.New("500 internal server error"),
		errors.New("inexplicable glitch"), // unknown errors get the benefit of the doubt
	}
	for _, err := range retryable {
		if !IsRetryable(err) {
			t.Errorf("IsRetryable(%v) = false, want true", err)
		}
	}

	notRetryable := []error{
		nil,
		errors.New("401 unauthorized"),
		errors.New("invalid request payload"),
		&CircuitOpenError{},
		MarkNonRetryable(errors.New("connection reset")),
	}
	for _, err := range notRetryable {
		if IsRetryable(err) {
			t.Errorf("IsRetryable(%v) = true, want false", err)
		}
	}
}

func TestErrorMessages(t *testing.T) {
	openErr := &CircuitOpenError{Service: "search-api", FailureCount: 7, NextRetryTime: time.Unix(0, 0).UTC()}
	if msg := openErr.Error(); msg == "" {
		t.Error("empty CircuitOpenError message")
	}

	limitErr := &ConcurrencyLimitError{Fingerprint: "ff1", Active: 50, Limit: 50}
	if msg := limitErr.Error(); msg == "" {
		t.Error("empty ConcurrencyLimitError message")
	}

	exhausted := &RetryExhaustedError{
		Attempts: []error{errors.New("a"), errors.New("b")},
		Elapsed:  1500 * time.Millisecond,
	}
	if msg := exhausted.Error(); msg == "" {
		t.Error("empty RetryExhaustedError message")
	}
}

func TestOperationTimeoutErrorAttempt(t *testing.T) {
	withAttempt := &OperationTimeoutError{Timeout: time.Second, Attempt: 3}
	without := &OperationTimeoutError{Timeout: time.Second}
	if withAttempt.Error() == without.Error() {
		t.Error("attempt number not reflected in message")
	}
}
