// Package backoff implements the delay calculation used between retry
// attempts and for circuit breaker recovery windows.
package backoff

import (
	"math/rand"
	"time"
)

// Policy names a base delay growth curve.
type Policy string

const (
	Exponential Policy = "exponential"
	Linear      Policy = "linear"
	Fixed       Policy = "fixed"
	Immediate   Policy = "immediate"
)

// Jitter names a randomization mode applied on top of a base delay.
type Jitter string

const (
	// Full picks a uniform delay in [0, d].
	Full Jitter = "full"
	// Equal keeps half the delay and randomizes the other half: [d/2, d].
	Equal Jitter = "equal"
	// None returns the base delay unchanged.
	None Jitter = "none"
)

// Strategy calculates the base delay before a given attempt. Attempt
// numbering starts at 1 for the delay after the first failure.
type Strategy interface {
	Delay(attempt int, base, max time.Duration) time.Duration
}

// ForPolicy returns the Strategy for the given policy. Unknown policies
// resolve to Exponential.
func ForPolicy(p Policy) Strategy {
	switch p {
	case Linear:
		return linearStrategy{}
	case Fixed:
		return fixedStrategy{}
	case Immediate:
		return immediateStrategy{}
	default:
		return exponentialStrategy{}
	}
}

type exponentialStrategy struct{}

// Delay returns base * 2^(attempt-1) capped at max.
func (exponentialStrategy) Delay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Prevent overflow by limiting the exponent
	if attempt > 31 {
		attempt = 31
	}
	d := time.Duration(float64(base) * pow(2.0, attempt-1))
	return clamp(d, max)
}

type linearStrategy struct{}

// Delay returns base * attempt capped at max.
func (linearStrategy) Delay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(base) * float64(attempt))
	return clamp(d, max)
}

type fixedStrategy struct{}

func (fixedStrategy) Delay(_ int, base, max time.Duration) time.Duration {
	return clamp(base, max)
}

type immediateStrategy struct{}

func (immediateStrategy) Delay(int, time.Duration, time.Duration) time.Duration {
	return 0
}

// ApplyJitter randomizes d according to the jitter mode. The result never
// exceeds d, so a delay capped before jittering stays capped after.
func ApplyJitter(d time.Duration, mode Jitter) time.Duration {
	if d <= 0 {
		return 0
	}
	switch mode {
	case Full:
		return time.Duration(rand.Float64() * float64(d))
	case Equal:
		half := float64(d) / 2
		return time.Duration(half + rand.Float64()*half)
	default:
		return d
	}
}

func clamp(d, max time.Duration) time.Duration {
	if d < 0 || (max > 0 && d > max) {
		return max
	}
	return d
}

// pow calculates base^exponent using integer exponentiation.
func pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
