package pulse

import (
	"context"

	"gopkg.in/op/go-logging.v1"

	internallog "github.com/pgvanniekerk/pulse/internal/logging"
)

// DefaultMaxThreads is the number of slots a pool gets when WithCapacity is
// not used.
const DefaultMaxThreads = 100

// poolOptions represents the configuration a Pool is built from.
type poolOptions struct {
	capacity  int
	parent    context.Context
	log       *logging.Logger
	observers []Observer
}

// Option customises a Pool at construction time. The slot count cannot be
// changed afterwards.
type Option func(*poolOptions)

// WithCapacity sets the number of slots. Values below one are ignored.
func WithCapacity(capacity int) Option {
	return func(options *poolOptions) {
		if capacity > 0 {
			options.capacity = capacity
		}
	}
}

// WithContext sets the parent of every worker's context. Cancelling it
// cancels all workers, but does not release their slots.
func WithContext(ctx context.Context) Option {
	return func(options *poolOptions) {
		if ctx != nil {
			options.parent = ctx
		}
	}
}

// WithLogger replaces the default "pulse" module logger.
func WithLogger(log *logging.Logger) Option {
	return func(options *poolOptions) {
		if log != nil {
			options.log = log
		}
	}
}

// WithObserver adds an Observer. It may be given more than once; observers
// are called in the order they were added.
func WithObserver(observer Observer) Option {
	return func(options *poolOptions) {
		if observer != nil {
			options.observers = append(options.observers, observer)
		}
	}
}

func defaultOptions() *poolOptions {
	return &poolOptions{
		capacity: DefaultMaxThreads,
		parent:   context.Background(),
		log:      internallog.Log,
	}
}
