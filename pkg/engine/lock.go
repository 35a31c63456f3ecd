package engine

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/semaphore"
)

// lock is a mutex whose acquisition can be bounded by a timeout and
// interrupted by a context.
type lock struct {
	sem *semaphore.Weighted
}

func newLock() *lock {
	return &lock{sem: semaphore.NewWeighted(1)}
}

// acquire blocks until the lock is held, ctx is done, or timeout elapses.
// A timeout <= 0 waits indefinitely. Expiry of the timeout yields
// ErrLockTimeout; cancellation of ctx yields ctx's own error.
func (l *lock) acquire(ctx context.Context, timeout time.Duration) error {
	if l.sem.TryAcquire(1) {
		return nil
	}
	if timeout <= 0 {
		return l.sem.Acquire(ctx, 1)
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := l.sem.Acquire(waitCtx, 1)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return ErrLockTimeout
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (l *lock) release() {
	l.sem.Release(1)
}
