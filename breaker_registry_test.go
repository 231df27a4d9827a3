package resilience

import (
	"context"
	"reflect"
	"testing"
	"time"
)

func TestRegistryReturnsSameInstance(t *testing.T) {
	r := NewBreakerRegistry(DefaultCircuitBreakerConfig())

	a := r.Get("search-api")
	b := r.Get("search-api")
	if a != b {
		t.Error("Get returned different breakers for the same service")
	}
}

func TestRegistryIsolatesServices(t *testing.T) {
	r := NewBreakerRegistry(CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	ctx := context.Background()

	r.Execute(ctx, "flaky", failingOp)

	if got := r.Get("flaky").State(); got != StateOpen {
		t.Errorf("flaky state = %v, want open", got)
	}
	if got := r.Get("healthy").State(); got != StateClosed {
		t.Errorf("healthy state = %v, want closed; breakers must not share state", got)
	}
}

func TestRegistryPerServiceConfig(t *testing.T) {
	r := NewBreakerRegistry(CircuitBreakerConfig{FailureThreshold: 10, RecoveryTimeout: time.Minute})
	r.Register("fragile", CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	ctx := context.Background()

	r.Execute(ctx, "fragile", failingOp)
	r.Execute(ctx, "normal", failingOp)

	if got := r.Get("fragile").State(); got != StateOpen {
		t.Errorf("fragile state = %v, want open after one failure", got)
	}
	if got := r.Get("normal").State(); got != StateClosed {
		t.Errorf("normal state = %v, want closed under shared threshold", got)
	}
}

func TestRegistryNamesSorted(t *testing.T) {
	r := NewBreakerRegistry(DefaultCircuitBreakerConfig())
	r.Get("zeta")
	r.Get("alpha")
	r.Get("mid")

	want := []string{"alpha", "mid", "zeta"}
	if got := r.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestRegistryStates(t *testing.T) {
	r := NewBreakerRegistry(CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	ctx := context.Background()

	r.Execute(ctx, "down", failingOp)
	r.Execute(ctx, "up", succeedingOp)

	states := r.States()
	if states["down"] != StateOpen {
		t.Errorf("down = %v, want open", states["down"])
	}
	if states["up"] != StateClosed {
		t.Errorf("up = %v, want closed", states["up"])
	}
}

func TestRegistryResetAll(t *testing.T) {
	r := NewBreakerRegistry(CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	ctx := context.Background()

	r.Execute(ctx, "a", failingOp)
	r.Execute(ctx, "b", failingOp)
	r.ResetAll()

	for name, state := range r.States() {
		if state != StateClosed {
			t.Errorf("%s = %v after ResetAll, want closed", name, state)
		}
	}
}

func TestRegistryBreakerCarriesServiceName(t *testing.T) {
	r := NewBreakerRegistry(CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	ctx := context.Background()

	r.Execute(ctx, "search-api", failingOp)
	_, err := r.Execute(ctx, "search-api", succeedingOp)

	openErr, ok := err.(*CircuitOpenError)
	if !ok {
		t.Fatalf("err is %T, want *CircuitOpenError", err)
	}
	if openErr.Service != "search-api" {
		t.Errorf("Service = %q, want search-api", openErr.Service)
	}
}
