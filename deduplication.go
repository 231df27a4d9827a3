package resilience

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// inflightRequest owns exactly one underlying execution shared between the
// owner and any number of waiters.
type inflightRequest struct {
	fingerprint *RequestFingerprint
	done        chan struct{}
	value       any
	err         error
	settleOnce  sync.Once
	waiters     []string
	startTime   time.Time
	evictTimer  *time.Timer
}

// settle publishes the result exactly once and releases every waiter.
func (e *inflightRequest) settle(value any, err error) {
	e.settleOnce.Do(func() {
		e.value = value
		e.err = err
		if err == nil {
			e.fingerprint.Status = StatusCompleted
		} else {
			e.fingerprint.Status = StatusFailed
		}
		close(e.done)
	})
}

// wait blocks until the owning execution settles or ctx is cancelled.
func (e *inflightRequest) wait(ctx context.Context) (any, error) {
	select {
	case <-e.done:
		return e.value, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type cachedResult struct {
	value    any
	storedAt time.Time
}

// DeduplicationMetrics is a point-in-time snapshot of deduplicator activity.
type DeduplicationMetrics struct {
	TotalRequests         int64
	ActiveRequests        int
	CachedResults         int
	CacheHits             int64
	CoalescedRequests     int64
	Executions            int64
	Evictions             int64
	ConcurrencyRejections int64
}

// Deduplicator collapses concurrent identical calls into one execution and
// optionally shares completed results for a TTL. Identity is the request
// fingerprint; see Fingerprinter.
//
// Eviction is dual: a per-entry timer forces cleanup of executions that never
// settle within RequestTTL, expiry is additionally checked lazily on read,
// and Cleanup runs a full sweep for callers that want a periodic pass.
type Deduplicator struct {
	mu     sync.Mutex
	config DeduplicationConfig

	fingerprinter *Fingerprinter
	active        map[string]*inflightRequest
	cache         map[string]*cachedResult

	totalRequests         int64
	cacheHits             int64
	coalescedRequests     int64
	executions            int64
	evictions             int64
	concurrencyRejections int64

	now       func() time.Time
	collector *MetricsCollector
	logger    Logger
	debug     *DebugConfig
}

// NewDeduplicator creates a deduplicator. A zero config gets
// DefaultDeduplicationConfig; a partial config gets its zero numeric fields
// defaulted.
func NewDeduplicator(config DeduplicationConfig) *Deduplicator {
	if config == (DeduplicationConfig{}) {
		config = DefaultDeduplicationConfig()
	}
	if config.MaxConcurrentRequests == 0 {
		config.MaxConcurrentRequests = 50
	}
	if config.CacheSize == 0 {
		config.CacheSize = 100
	}
	if config.RequestTTL == 0 {
		config.RequestTTL = 30 * time.Second
	}
	if config.HashAlgorithm == "" {
		config.HashAlgorithm = HashDJB2
	}

	return &Deduplicator{
		config:        config,
		fingerprinter: NewFingerprinter(config.HashAlgorithm),
		active:        make(map[string]*inflightRequest),
		cache:         make(map[string]*cachedResult),
		now:           time.Now,
	}
}

// ShouldDeduplicate reports whether a call with this query and parameter set
// is eligible for deduplication. Empty queries never qualify: their
// fingerprint would collapse unrelated calls.
func (d *Deduplicator) ShouldDeduplicate(query string, _ map[string]any) bool {
	return d.config.Enabled && strings.TrimSpace(query) != ""
}

// GetOrCreateRequest executes the operation, deduplicating against identical
// in-flight calls. Order of resolution:
//
//  1. A non-expired cached result for the fingerprint is returned directly.
//  2. An active in-flight execution registers this caller as a waiter and
//     returns that execution's eventual result; no new execution starts.
//  3. At MaxConcurrentRequests active fingerprints the call fails fast with
//     a *ConcurrencyLimitError.
//  4. Otherwise a new execution starts; its result is shared with waiters,
//     cached on success when result sharing is enabled, and the active entry
//     removed.
//
// All waiters observe the identical resolution or rejection. When
// deduplication is disabled the operation simply runs.
func (d *Deduplicator) GetOrCreateRequest(ctx context.Context, query string, params map[string]any, op Operation) (any, error) {
	if !d.ShouldDeduplicate(query, params) {
		return op(ctx)
	}

	fp := d.fingerprinter.Fingerprint(query, params)

	d.mu.Lock()
	d.totalRequests++

	if d.config.EnableResultSharing {
		if cached, ok := d.cache[fp.Hash]; ok {
			if d.now().Sub(cached.storedAt) < d.config.RequestTTL {
				d.cacheHits++
				value := cached.value
				d.mu.Unlock()
				d.recordHit("cache")
				return value, nil
			}
			// Lazy expiry on read.
			delete(d.cache, fp.Hash)
			d.evictions++
		}
	}

	if entry, ok := d.active[fp.Hash]; ok {
		waiterID := uuid.NewString()
		entry.waiters = append(entry.waiters, waiterID)
		d.coalescedRequests++
		d.mu.Unlock()
		d.recordHit("inflight")
		return entry.wait(ctx)
	}

	if len(d.active) >= d.config.MaxConcurrentRequests {
		active := len(d.active)
		d.concurrencyRejections++
		d.mu.Unlock()
		return nil, &ConcurrencyLimitError{
			Fingerprint: fp.Hash,
			Active:      active,
			Limit:       d.config.MaxConcurrentRequests,
		}
	}

	entry := &inflightRequest{
		fingerprint: fp,
		done:        make(chan struct{}),
		waiters:     []string{uuid.NewString()},
		startTime:   d.now(),
	}
	// Forced eviction if the execution never settles within the TTL.
	entry.evictTimer = time.AfterFunc(d.config.RequestTTL, func() {
		d.evictExpired(fp.Hash, entry)
	})
	d.active[fp.Hash] = entry
	d.executions++
	d.mu.Unlock()
	d.publishGauges()

	if d.debug != nil && d.debug.Enabled && d.debug.LogDeduplication && d.logger != nil {
		d.logger.Debug("starting deduplicated execution", "fingerprint", fp.Hash, "query", fp.NormalizedQuery)
	}

	value, err := op(ctx)
	d.complete(fp.Hash, entry, value, err)
	return value, err
}

// complete settles the entry, removes it from the active set, and caches a
// successful result. Failures are passed through to waiters unchanged and
// never cached, so one transient error cannot stick for a whole TTL.
func (d *Deduplicator) complete(hash string, entry *inflightRequest, value any, err error) {
	entry.settle(value, err)

	d.mu.Lock()
	if entry.evictTimer != nil {
		entry.evictTimer.Stop()
	}
	if d.active[hash] == entry {
		delete(d.active, hash)
	}
	if err == nil && d.config.EnableResultSharing {
		d.cache[hash] = &cachedResult{value: value, storedAt: d.now()}
		d.trimCacheLocked()
	}
	d.mu.Unlock()
	d.publishGauges()
}

// evictExpired is the eviction timer callback: it releases any waiters with
// a timeout error and drops the entry. The owning operation may still be
// running; its eventual result is returned to the owner but no longer shared.
func (d *Deduplicator) evictExpired(hash string, entry *inflightRequest) {
	entry.settle(nil, &OperationTimeoutError{Timeout: d.config.RequestTTL})

	d.mu.Lock()
	if d.active[hash] == entry {
		delete(d.active, hash)
		d.evictions++
	}
	d.mu.Unlock()
	d.publishGauges()

	if d.debug != nil && d.debug.Enabled && d.debug.LogDeduplication && d.logger != nil {
		d.logger.Warn("evicted unsettled request", "fingerprint", hash, "ttl", d.config.RequestTTL)
	}
}

// trimCacheLocked evicts oldest-timestamp entries until the cache fits.
func (d *Deduplicator) trimCacheLocked() {
	if len(d.cache) <= d.config.CacheSize {
		return
	}

	type aged struct {
		hash     string
		storedAt time.Time
	}
	entries := make([]aged, 0, len(d.cache))
	for hash, c := range d.cache {
		entries = append(entries, aged{hash: hash, storedAt: c.storedAt})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].storedAt.Before(entries[j].storedAt)
	})

	for _, e := range entries[:len(d.cache)-d.config.CacheSize] {
		delete(d.cache, e.hash)
		d.evictions++
	}
}

// Cleanup sweeps active entries older than RequestTTL, drops expired cached
// results, and trims the cache to size. Intended to be called periodically;
// the per-entry timers make it a safety net rather than a requirement.
func (d *Deduplicator) Cleanup() {
	now := d.now()

	d.mu.Lock()
	var stale []*inflightRequest
	var staleHashes []string
	for hash, entry := range d.active {
		if now.Sub(entry.startTime) >= d.config.RequestTTL {
			stale = append(stale, entry)
			staleHashes = append(staleHashes, hash)
		}
	}
	for i, entry := range stale {
		if entry.evictTimer != nil {
			entry.evictTimer.Stop()
		}
		delete(d.active, staleHashes[i])
		d.evictions++
	}

	for hash, cached := range d.cache {
		if now.Sub(cached.storedAt) >= d.config.RequestTTL {
			delete(d.cache, hash)
			d.evictions++
		}
	}
	d.trimCacheLocked()
	d.mu.Unlock()

	for _, entry := range stale {
		entry.settle(nil, &OperationTimeoutError{Timeout: d.config.RequestTTL})
	}
	d.publishGauges()
}

// GetMetrics returns a snapshot of deduplicator counters.
func (d *Deduplicator) GetMetrics() DeduplicationMetrics {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DeduplicationMetrics{
		TotalRequests:         d.totalRequests,
		ActiveRequests:        len(d.active),
		CachedResults:         len(d.cache),
		CacheHits:             d.cacheHits,
		CoalescedRequests:     d.coalescedRequests,
		Executions:            d.executions,
		Evictions:             d.evictions,
		ConcurrencyRejections: d.concurrencyRejections,
	}
}

// Clear drops the result cache and releases every pending waiter with
// ErrRequestEvicted.
func (d *Deduplicator) Clear() {
	d.mu.Lock()
	entries := make([]*inflightRequest, 0, len(d.active))
	for _, entry := range d.active {
		if entry.evictTimer != nil {
			entry.evictTimer.Stop()
		}
		entries = append(entries, entry)
	}
	d.active = make(map[string]*inflightRequest)
	d.cache = make(map[string]*cachedResult)
	d.mu.Unlock()

	for _, entry := range entries {
		entry.settle(nil, ErrRequestEvicted)
	}
	d.publishGauges()
}

func (d *Deduplicator) recordHit(kind string) {
	if d.collector != nil {
		d.collector.RecordDeduplicationHit(kind)
	}
}

func (d *Deduplicator) publishGauges() {
	if d.collector == nil {
		return
	}
	d.mu.Lock()
	active := len(d.active)
	cached := len(d.cache)
	d.mu.Unlock()
	d.collector.RecordActiveRequests(active)
	d.collector.RecordResultCacheSize(cached)
}

// DedupeTyped is a typed front door over GetOrCreateRequest for callers that
// know the operation's result type.
func DedupeTyped[T any](ctx context.Context, d *Deduplicator, query string, params map[string]any, op func(ctx context.Context) (T, error)) (T, error) {
	value, err := d.GetOrCreateRequest(ctx, query, params, func(ctx context.Context) (any, error) {
		return op(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	typed, ok := value.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("resilience: shared result is %T, not %T", value, zero)
	}
	return typed, nil
}
