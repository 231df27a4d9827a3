package resilience

import (
	"context"
	"time"

	"github.com/alonbtm/abt-universal-search-sub010/internal/backoff"
	"github.com/alonbtm/abt-universal-search-sub010/internal/hashing"
)

// Operation is a caller-supplied unit of work, typically a network call to a
// search backend. It must honor ctx cancellation to be cancellable; the
// library never forcibly stops a running operation.
type Operation func(ctx context.Context) (any, error)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

// String returns the lowercase state name used in logs and metrics.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds circuit breaker configuration.
//
// A zero-valued config is replaced wholesale by DefaultCircuitBreakerConfig.
// In a partially filled config only zero numeric fields are defaulted;
// UseExponentialBackoff is taken as given.
type CircuitBreakerConfig struct {
	// FailureThreshold is the consecutive failure count that opens the circuit.
	FailureThreshold int
	// RecoveryTimeout is the base cooldown before an open circuit admits probes.
	RecoveryTimeout time.Duration
	// RequestTimeout bounds a single wrapped operation; exceeding it counts
	// as a failure. Zero disables the timeout race.
	RequestTimeout time.Duration
	// HalfOpenMaxRequests caps concurrent probes while half-open.
	HalfOpenMaxRequests int
	// SuccessThreshold is the probe success count that closes the circuit.
	SuccessThreshold int
	// UseExponentialBackoff grows the cooldown with repeated failures past
	// the threshold.
	UseExponentialBackoff bool
	// MaxBackoff caps the grown cooldown.
	MaxBackoff time.Duration
}

// DefaultCircuitBreakerConfig returns the stock configuration.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:      5,
		RecoveryTimeout:       60 * time.Second,
		RequestTimeout:        30 * time.Second,
		HalfOpenMaxRequests:   3,
		SuccessThreshold:      2,
		UseExponentialBackoff: true,
		MaxBackoff:            5 * time.Minute,
	}
}

// HashAlgorithm selects the rolling hash used for fingerprints.
type HashAlgorithm string

const (
	HashSimple HashAlgorithm = HashAlgorithm(hashing.Simple)
	HashDJB2   HashAlgorithm = HashAlgorithm(hashing.DJB2)
	HashFNV1a  HashAlgorithm = HashAlgorithm(hashing.FNV1a)
)

// DeduplicationConfig holds request deduplication configuration.
//
// A zero-valued config is replaced wholesale by DefaultDeduplicationConfig.
// In a partially filled config only zero numeric fields are defaulted;
// Enabled and EnableResultSharing are taken as given.
type DeduplicationConfig struct {
	// Enabled turns deduplication on. When false every call executes.
	Enabled bool
	// MaxConcurrentRequests caps distinct in-flight fingerprints.
	MaxConcurrentRequests int
	// CacheSize caps the shared result cache; the oldest entry is evicted
	// first when the cap is exceeded.
	CacheSize int
	// RequestTTL bounds both the cached result lifetime and how long an
	// in-flight entry may stay unsettled before forced eviction.
	RequestTTL time.Duration
	// EnableResultSharing caches completed results for RequestTTL so
	// followers within the window skip execution entirely.
	EnableResultSharing bool
	// HashAlgorithm selects the fingerprint hash.
	HashAlgorithm HashAlgorithm
}

// DefaultDeduplicationConfig returns the stock configuration.
func DefaultDeduplicationConfig() DeduplicationConfig {
	return DeduplicationConfig{
		Enabled:               true,
		MaxConcurrentRequests: 50,
		CacheSize:             100,
		RequestTTL:            30 * time.Second,
		EnableResultSharing:   true,
		HashAlgorithm:         HashDJB2,
	}
}

// BackoffPolicy names the delay growth curve between retry attempts.
type BackoffPolicy string

const (
	BackoffExponential BackoffPolicy = BackoffPolicy(backoff.Exponential)
	BackoffLinear      BackoffPolicy = BackoffPolicy(backoff.Linear)
	BackoffFixed       BackoffPolicy = BackoffPolicy(backoff.Fixed)
	BackoffImmediate   BackoffPolicy = BackoffPolicy(backoff.Immediate)
)

// JitterMode names the randomization applied to a computed delay.
type JitterMode string

const (
	JitterFull  JitterMode = JitterMode(backoff.Full)
	JitterEqual JitterMode = JitterMode(backoff.Equal)
	JitterNone  JitterMode = JitterMode(backoff.None)
)

// RetryPredicate decides whether an error is worth another attempt.
type RetryPredicate func(err error) bool

// RetryConfig holds retry session configuration. The named presets in
// retry.go return canonical bundles.
type RetryConfig struct {
	// MaxAttempts is the total attempt budget including the first call.
	MaxAttempts int
	// BaseDelay seeds the backoff curve.
	BaseDelay time.Duration
	// MaxDelay caps any computed delay.
	MaxDelay time.Duration
	// Backoff selects the growth curve.
	Backoff BackoffPolicy
	// Jitter selects the randomization mode.
	Jitter JitterMode
	// RetryIf overrides the default retryability classification.
	RetryIf RetryPredicate
	// AttemptTimeout bounds each attempt independently of the overall
	// budget. Zero disables the per-attempt timeout.
	AttemptTimeout time.Duration
}

// DefaultRetryConfig returns the stock configuration: three attempts with
// capped exponential backoff and equal jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Backoff:     BackoffExponential,
		Jitter:      JitterEqual,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay < 0 {
		c.BaseDelay = 0
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Backoff == "" {
		c.Backoff = BackoffExponential
	}
	if c.Jitter == "" {
		c.Jitter = JitterNone
	}
	return c
}

// Option represents a configuration option for an Executor.
type Option func(*Executor)
