// Package ratelimit implements a multi-tier token-bucket admission
// controller: a bounded table of per-key buckets with lazy TTL
// cleanup and insertion-order eviction under memory pressure.
package ratelimit

import (
	"sync"
	"time"
)

// Decision is the result of an admission check.
type Decision struct {
	Allowed         bool
	RetryAfter      time.Duration
	RemainingTokens float64
}

type bucket struct {
	tokens   float64
	lastSeen time.Time // monotonic, used for refill elapsed and TTL
}

// Limiter is a bounded table of token buckets keyed by an arbitrary
// string. It is safe for concurrent use.
type Limiter struct {
	mu sync.Mutex

	buckets map[string]*bucket
	order   []string // insertion order, for oldest-first eviction

	ttl             time.Duration
	cleanupInterval time.Duration
	maxBuckets      int
	evictBatch      int

	lastCleanup time.Time
	now         func() time.Time // overridable for tests
}

// Option configures a Limiter at construction time.
type Option func(*Limiter)

// WithTTL overrides the default 15 minute bucket TTL.
func WithTTL(d time.Duration) Option { return func(l *Limiter) { l.ttl = d } }

// WithCleanupInterval overrides the default 60 second lazy-cleanup cadence.
func WithCleanupInterval(d time.Duration) Option {
	return func(l *Limiter) { l.cleanupInterval = d }
}

// WithMaxBuckets bounds the table size (default 100000).
func WithMaxBuckets(n int) Option { return func(l *Limiter) { l.maxBuckets = n } }

// WithEvictBatch sets how many oldest entries are dropped once the
// table is full (default 2000).
func WithEvictBatch(n int) Option { return func(l *Limiter) { l.evictBatch = n } }

// withClock is test-only: it replaces the limiter's notion of "now".
func withClock(now func() time.Time) Option { return func(l *Limiter) { l.now = now } }

// NewLimiter constructs a Limiter with sensible production defaults.
func NewLimiter(opts ...Option) *Limiter {
	l := &Limiter{
		buckets:         make(map[string]*bucket),
		ttl:             15 * time.Minute,
		cleanupInterval: 60 * time.Second,
		maxBuckets:      100_000,
		evictBatch:      2_000,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastCleanup = l.now()
	return l
}

// Allow runs the token-bucket admission check for key, with the given
// capacity, refillRatePerSecond and cost.
func (l *Limiter) Allow(key string, capacity, refillRatePerSecond, cost float64) Decision {
	if capacity < 0 {
		capacity = 0
	}
	if refillRatePerSecond < 0 {
		refillRatePerSecond = 0
	}
	if cost < 0 {
		cost = 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		if now.Sub(l.lastCleanup) > l.cleanupInterval {
			l.cleanupLocked(now)
			l.lastCleanup = now
		}
		if len(l.buckets) >= l.maxBuckets {
			l.cleanupLocked(now)
		}
		if len(l.buckets) >= l.maxBuckets {
			l.evictLocked()
		}
		if len(l.buckets) >= l.maxBuckets {
			// Table stays full: deny without allocating a new bucket.
			return Decision{Allowed: false, RetryAfter: time.Second}
		}
		b = &bucket{tokens: capacity, lastSeen: now}
		l.buckets[key] = b
		l.order = append(l.order, key)
	} else {
		elapsed := now.Sub(b.lastSeen).Seconds()
		if elapsed > 0 {
			if refillRatePerSecond > 0 {
				b.tokens = min(capacity, b.tokens+elapsed*refillRatePerSecond)
			} else if b.tokens > capacity {
				b.tokens = capacity
			}
		}
		b.lastSeen = now
	}

	if b.tokens >= cost {
		b.tokens -= cost
		return Decision{Allowed: true, RemainingTokens: max(0, b.tokens)}
	}

	var retryAfter time.Duration
	if refillRatePerSecond <= 0 {
		retryAfter = l.ttl
	} else {
		need := cost - b.tokens
		retryAfter = time.Duration(need / refillRatePerSecond * float64(time.Second))
	}
	return Decision{Allowed: false, RetryAfter: retryAfter, RemainingTokens: max(0, b.tokens)}
}

// cleanupLocked drops buckets whose lastSeen age exceeds the TTL. Must
// be called with l.mu held.
func (l *Limiter) cleanupLocked(now time.Time) {
	if len(l.buckets) == 0 {
		return
	}
	kept := l.order[:0]
	for _, k := range l.order {
		b, ok := l.buckets[k]
		if !ok {
			continue
		}
		if now.Sub(b.lastSeen) > l.ttl {
			delete(l.buckets, k)
			continue
		}
		kept = append(kept, k)
	}
	l.order = kept
}

// evictLocked drops the evictBatch oldest entries by insertion order,
// without sorting — a bounded fast path under memory pressure.
func (l *Limiter) evictLocked() {
	n := l.evictBatch
	if n > len(l.order) {
		n = len(l.order)
	}
	for i := 0; i < n; i++ {
		delete(l.buckets, l.order[i])
	}
	l.order = l.order[n:]
}

// Len reports the current number of live buckets (test/diagnostic use).
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
