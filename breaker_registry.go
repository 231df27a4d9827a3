package resilience

import (
	"context"
	"sort"
	"sync"
)

// BreakerRegistry maps a service identifier to its own circuit breaker so
// one failing backend cannot open the circuit for the others. Breakers are
// created on demand with the registry's shared config unless a per-service
// config was registered first.
type BreakerRegistry struct {
	mu       sync.RWMutex
	config   CircuitBreakerConfig
	breakers map[string]*CircuitBreaker

	collector *MetricsCollector
	logger    Logger
	debug     *DebugConfig
}

// NewBreakerRegistry creates a registry whose breakers share the given
// config.
func NewBreakerRegistry(config CircuitBreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		config:   config,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for the service, creating one on first use.
func (r *BreakerRegistry) Get(service string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[service]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another caller may have created it between the RLock and here.
	if cb, ok := r.breakers[service]; ok {
		return cb
	}
	return r.createLocked(service, r.config)
}

// Register installs a breaker with a service-specific config, replacing any
// existing breaker for that service.
func (r *BreakerRegistry) Register(service string, config CircuitBreakerConfig) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createLocked(service, config)
}

func (r *BreakerRegistry) createLocked(service string, config CircuitBreakerConfig) *CircuitBreaker {
	cb := NewCircuitBreaker(config)
	cb.name = service
	cb.collector = r.collector
	cb.logger = r.logger
	cb.debug = r.debug
	r.breakers[service] = cb
	return cb
}

// Execute runs the operation under the named service's breaker.
func (r *BreakerRegistry) Execute(ctx context.Context, service string, op Operation) (any, error) {
	return r.Get(service).Execute(ctx, op)
}

// Names returns the registered service identifiers, sorted.
func (r *BreakerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// States returns each registered service's current state.
func (r *BreakerRegistry) States() map[string]CircuitState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	states := make(map[string]CircuitState, len(r.breakers))
	for name, cb := range r.breakers {
		states[name] = cb.State()
	}
	return states
}

// ResetAll resets every registered breaker to closed.
func (r *BreakerRegistry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cb := range r.breakers {
		cb.Reset()
	}
}
