package concurrency

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds the number of slots that may be held at once.
// It is a thin wrapper around a weighted semaphore that also counts held
// permits so that surplus releases are ignored.
type Limiter struct {

	// sem holds one unit of weight per occupied slot.
	sem *semaphore.Weighted

	// size is the total number of permits the limiter was created with.
	size int64

	// held is the number of permits currently acquired.
	held *atomic.Int64
}

//region Implementation

// TryAcquire takes a permit without blocking. It reports false when every
// permit is already held.
func (l *Limiter) TryAcquire() bool {
	if !l.sem.TryAcquire(1) {
		return false
	}
	l.held.Add(1)
	return true
}

// Acquire blocks until a permit is available or ctx is done, in which case
// ctx.Err() is returned and no permit is held.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	l.held.Add(1)
	return nil
}

// Release hands a permit back. Releasing when nothing is held is ignored
// rather than panicking inside the semaphore.
func (l *Limiter) Release() {
	for {
		cur := l.held.Load()
		if cur <= 0 {
			return
		}
		if l.held.CompareAndSwap(cur, cur-1) {
			l.sem.Release(1)
			return
		}
	}
}

// Size returns the total number of permits.
func (l *Limiter) Size() int64 {
	return l.size
}

//endregion

//region Constructor

// NewLimiter creates a Limiter with size permits, all initially available.
func NewLimiter(size int64) *Limiter {
	return &Limiter{
		sem:  semaphore.NewWeighted(size),
		size: size,
		held: &atomic.Int64{},
	}
}

//endregion
