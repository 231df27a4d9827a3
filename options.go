package resilience

import (
	"fmt"
	"strings"
	"time"
)

// WithDeduplication configures request deduplication. Pass a zero config for
// the defaults.
func WithDeduplication(config DeduplicationConfig) Option {
	return func(e *Executor) {
		e.dedup = NewDeduplicator(config)
	}
}

// WithCircuitBreaker configures the shared breaker config used for every
// service in the registry. Pass a zero config for the defaults.
func WithCircuitBreaker(config CircuitBreakerConfig) Option {
	return func(e *Executor) {
		e.breakers = NewBreakerRegistry(config)
	}
}

// WithServiceCircuitBreaker overrides the breaker config for one service.
func WithServiceCircuitBreaker(service string, config CircuitBreakerConfig) Option {
	return func(e *Executor) {
		e.breakers.Register(service, config)
	}
}

// WithRetry sets the retry config applied inside the circuit breaker.
func WithRetry(config RetryConfig) Option {
	return func(e *Executor) {
		e.retryConfig = config.withDefaults()
	}
}

// WithRateLimiter gates every execution behind a token bucket.
func WithRateLimiter(maxTokens int, refillRate time.Duration) Option {
	return func(e *Executor) {
		e.rateLimiter = NewRateLimiter(maxTokens, refillRate)
	}
}

// WithMetrics enables Prometheus metrics on the default registerer.
func WithMetrics() Option {
	return func(e *Executor) {
		e.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector.
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(e *Executor) {
		e.metrics = collector
	}
}

// WithLogger sets a custom logger for debug output.
func WithLogger(logger Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithDebug enables debug logging with the default configuration.
func WithDebug() Option {
	return func(e *Executor) {
		if e.debug == nil {
			e.debug = DefaultDebugConfig()
		}
		e.debug.Enabled = true
		if e.logger == nil {
			e.logger = NewSimpleLogger()
		}
	}
}

// WithDebugConfig sets a custom debug configuration.
func WithDebugConfig(config *DebugConfig) Option {
	return func(e *Executor) {
		e.debug = config
	}
}

// WithRequestIDGenerator sets a custom request id generator for debug lines.
func WithRequestIDGenerator(gen func() string) Option {
	return func(e *Executor) {
		if e.debug == nil {
			e.debug = DefaultDebugConfig()
		}
		e.debug.RequestIDGen = gen
	}
}

// ValidateConfiguration validates the executor configuration and returns an
// error describing every problem found, or nil.
func (e *Executor) ValidateConfiguration() error {
	var problems []string

	problems = append(problems, e.validateDeduplicationConfig()...)
	problems = append(problems, e.validateCircuitBreakerConfig()...)
	problems = append(problems, e.validateRetryConfig()...)
	problems = append(problems, e.validateRateLimiterConfig()...)
	problems = append(problems, e.validateDebugConfig()...)

	if len(problems) > 0 {
		return fmt.Errorf("resilience: configuration validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (e *Executor) validateDeduplicationConfig() []string {
	var problems []string
	if e.dedup == nil {
		return []string{"deduplicator cannot be nil"}
	}
	cfg := e.dedup.config
	if cfg.MaxConcurrentRequests <= 0 {
		problems = append(problems, "deduplication MaxConcurrentRequests must be positive")
	}
	if cfg.CacheSize <= 0 {
		problems = append(problems, "deduplication CacheSize must be positive")
	}
	if cfg.RequestTTL <= 0 {
		problems = append(problems, "deduplication RequestTTL must be positive")
	}
	return problems
}

func (e *Executor) validateCircuitBreakerConfig() []string {
	var problems []string
	if e.breakers == nil {
		return []string{"breaker registry cannot be nil"}
	}
	cfg := e.breakers.config
	if cfg.FailureThreshold <= 0 {
		problems = append(problems, "circuitBreaker FailureThreshold must be positive")
	}
	if cfg.RecoveryTimeout <= 0 {
		problems = append(problems, "circuitBreaker RecoveryTimeout must be positive")
	}
	if cfg.SuccessThreshold <= 0 {
		problems = append(problems, "circuitBreaker SuccessThreshold must be positive")
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		problems = append(problems, "circuitBreaker HalfOpenMaxRequests must be positive")
	}
	if cfg.UseExponentialBackoff && cfg.MaxBackoff < cfg.RecoveryTimeout {
		problems = append(problems, "circuitBreaker MaxBackoff must be at least RecoveryTimeout")
	}
	return problems
}

func (e *Executor) validateRetryConfig() []string {
	var problems []string
	cfg := e.retryConfig
	if cfg.MaxAttempts <= 0 {
		problems = append(problems, "retry MaxAttempts must be positive")
	}
	if cfg.MaxAttempts > 100 {
		problems = append(problems, "retry MaxAttempts > 100 may cause excessive resource usage")
	}
	if cfg.BaseDelay < 0 {
		problems = append(problems, "retry BaseDelay must be non-negative")
	}
	if cfg.Backoff != BackoffImmediate && cfg.MaxDelay < cfg.BaseDelay {
		problems = append(problems, "retry MaxDelay must be at least BaseDelay")
	}
	if cfg.MaxDelay > time.Hour {
		problems = append(problems, "retry MaxDelay > 1h may cause extremely long delays")
	}
	return problems
}

func (e *Executor) validateRateLimiterConfig() []string {
	var problems []string
	if e.rateLimiter != nil {
		if e.rateLimiter.maxTokens <= 0 {
			problems = append(problems, "rateLimiter maxTokens must be positive")
		}
		if e.rateLimiter.refillRate <= 0 {
			problems = append(problems, "rateLimiter refillRate must be positive")
		}
	}
	return problems
}

func (e *Executor) validateDebugConfig() []string {
	var problems []string
	if e.debug != nil && e.debug.Enabled {
		if e.debug.RequestIDGen == nil {
			problems = append(problems, "debug RequestIDGen must be set when debug is enabled")
		}
		if e.logger == nil {
			problems = append(problems, "logger must be set when debug is enabled")
		}
	}
	return problems
}

// MustValidate panics when construction-time validation failed. Useful in
// wiring code where a misconfigured executor should stop the program.
func (e *Executor) MustValidate() {
	if e.validationError != nil {
		panic(e.validationError)
	}
}
