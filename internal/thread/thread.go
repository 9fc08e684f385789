// Package thread wraps a goroutine in a handle with start, join, detach and
// cancel semantics. Cancellation is cooperative: the running function sees its
// context cancelled and is expected to return.
package thread

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrPanicked is returned from Join when the running function panicked.
var ErrPanicked = errors.New("worker panicked")

// Func is the body run by a Thread.
type Func[R any] func(ctx context.Context) (R, error)

// Thread is a single goroutine and its one-shot result.
type Thread[R any] struct {
	fn     Func[R]
	ctx    context.Context
	cancel context.CancelFunc

	startOnce *sync.Once
	done      chan struct{}

	result R
	err    error
}

// New prepares a Thread running fn. The goroutine is not started until Start.
// The context handed to fn is derived from parent.
func New[R any](parent context.Context, fn Func[R]) *Thread[R] {
	ctx, cancel := context.WithCancel(parent)
	return &Thread[R]{
		fn:        fn,
		ctx:       ctx,
		cancel:    cancel,
		startOnce: &sync.Once{},
		done:      make(chan struct{}),
	}
}

// Start launches the goroutine. Only the first call has any effect.
func (t *Thread[R]) Start() {
	t.startOnce.Do(func() {
		go t.run()
	})
}

func (t *Thread[R]) run() {
	defer close(t.done)
	defer t.cancel()
	defer func() {
		if r := recover(); r != nil {
			t.err = fmt.Errorf("%w: %v", ErrPanicked, r)
		}
	}()

	t.result, t.err = t.fn(t.ctx)
}

// Join blocks until the goroutine returns and yields its result.
// It may be called more than once; every call sees the same result.
func (t *Thread[R]) Join() (R, error) {
	<-t.done
	return t.result, t.err
}

// Cancel requests termination by cancelling the context passed to fn.
// It does not wait for the goroutine to exit.
func (t *Thread[R]) Cancel() {
	t.cancel()
}

// Done is closed once the goroutine has returned.
func (t *Thread[R]) Done() <-chan struct{} {
	return t.done
}
