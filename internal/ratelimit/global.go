package ratelimit

import (
	"context"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// GlobalLimiter wraps golang.org/x/time/rate as a single shared
// limiter (rather than a keyed table). Admitter does not use it: its
// "all traffic" bucket is a key in the Limiter table.
type GlobalLimiter struct {
	l *rate.Limiter
}

// NewGlobalLimiter builds a GlobalLimiter with the given requests-per-
// second refill rate and burst capacity.
func NewGlobalLimiter(rps float64, burst int) *GlobalLimiter {
	return &GlobalLimiter{l: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Allow reports whether a single event may proceed now.
func (g *GlobalLimiter) Allow() bool { return g.l.Allow() }

// ConcurrencyCaps holds the three fleet-wide counting semaphores: live
// WebSocket connections, concurrent chat turns, and concurrent uploads
// (including thumbnailing).
type ConcurrencyCaps struct {
	WSConnections *semaphore.Weighted
	ChatTurns     *semaphore.Weighted
	Uploads       *semaphore.Weighted
}

// NewConcurrencyCaps constructs the caps with the given ceilings.
func NewConcurrencyCaps(maxWSConnections, maxChatTurns, maxUploads int64) *ConcurrencyCaps {
	return &ConcurrencyCaps{
		WSConnections: semaphore.NewWeighted(maxWSConnections),
		ChatTurns:     semaphore.NewWeighted(maxChatTurns),
		Uploads:       semaphore.NewWeighted(maxUploads),
	}
}

// TryAcquire attempts to acquire one slot of sem without blocking,
// returning false immediately (never enqueueing) when the ceiling is
// already reached, so a caller at capacity can answer 429 without
// waiting in line.
func TryAcquire(sem *semaphore.Weighted) bool {
	return sem.TryAcquire(1)
}

// Release releases one previously acquired slot.
func Release(sem *semaphore.Weighted) { sem.Release(1) }

// Acquire blocks until a slot is available or ctx is cancelled.
func Acquire(ctx context.Context, sem *semaphore.Weighted) error {
	return sem.Acquire(ctx, 1)
}
