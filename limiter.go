package adclient

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// ConcurrencyLimiter bounds the number of in-flight directory operations,
// independent of pool size. The pool bounds resources; the limiter bounds
// concurrent work, and the two ceilings are deliberately separate: a pool
// smaller than the limiter makes borrowers queue on the pool even when the
// limiter would admit more work.
type ConcurrencyLimiter struct {
	sem *semaphore.Weighted
	max int
}

// NewConcurrencyLimiter creates a limiter admitting at most max concurrent
// operations.
func NewConcurrencyLimiter(max int) *ConcurrencyLimiter {
	if max <= 0 {
		max = 1
	}
	return &ConcurrencyLimiter{
		sem: semaphore.NewWeighted(int64(max)),
		max: max,
	}
}

// Enter blocks until a slot is available or ctx is done. A caller cancelled
// while waiting is unblocked immediately with ErrOperationCancelled, not
// left queued.
func (l *ConcurrencyLimiter) Enter(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return cancelled(ctx)
	}
	return nil
}

// Exit releases a slot previously obtained by Enter.
func (l *ConcurrencyLimiter) Exit() {
	l.sem.Release(1)
}

// TryEnter attempts to take a slot without blocking.
func (l *ConcurrencyLimiter) TryEnter() bool {
	return l.sem.TryAcquire(1)
}

// Limit returns the configured ceiling.
func (l *ConcurrencyLimiter) Limit() int {
	return l.max
}
