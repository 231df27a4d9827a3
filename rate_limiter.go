package resilience

import (
	"sync"
	"time"
)

// RateLimiter is a token bucket guarding how often the executor invokes the
// downstream operation at all, independent of per-fingerprint deduplication.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     int
	maxTokens  int
	refillRate time.Duration
	lastRefill time.Time
}

// NewRateLimiter creates a bucket that starts full and refills one token per
// refillRate elapsed, up to maxTokens.
func NewRateLimiter(maxTokens int, refillRate time.Duration) *RateLimiter {
	return &RateLimiter{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Allow consumes a token if one is available.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked()
	if rl.tokens <= 0 {
		return false
	}
	rl.tokens--
	return true
}

// Tokens returns the currently available token count.
func (rl *RateLimiter) Tokens() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refillLocked()
	return rl.tokens
}

func (rl *RateLimiter) refillLocked() {
	if rl.refillRate <= 0 {
		return
	}
	now := time.Now()
	elapsed := now.Sub(rl.lastRefill)
	refill := int(elapsed / rl.refillRate)
	if refill <= 0 {
		return
	}
	rl.tokens += refill
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = rl.lastRefill.Add(time.Duration(refill) * rl.refillRate)
}
