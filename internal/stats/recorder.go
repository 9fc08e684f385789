package stats

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/op/go-logging.v1"
)

var log = logging.MustGetLogger("stats")

// Recorder turns pool observer callbacks into Store events. Events are queued
// and written by a single background goroutine so a slow store never holds up
// the pool; when the queue is full the event is dropped.
type Recorder struct {
	store   Store
	timeout time.Duration
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan item
	done   chan struct{}

	dropped *atomic.Int64
	failed  *atomic.Int64
}

// item is a queued event, or a flush marker when flushed is set.
type item struct {
	ev      Event
	flushed chan struct{}
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithTimeout bounds each Store.Record call.
func WithTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithBuffer sets how many events may be queued before new ones are dropped.
func WithBuffer(n int) RecorderOption {
	return func(r *Recorder) {
		if n >= 0 {
			r.queue = make(chan item, n)
		}
	}
}

// NewRecorder starts a Recorder writing to store. Close must be called to
// flush queued events and stop its goroutine.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:   store,
		timeout: time.Second,
		now:     time.Now,
		queue:   make(chan item, 256),
		done:    make(chan struct{}),
		dropped: &atomic.Int64{},
		failed:  &atomic.Int64{},
	}
	for _, opt := range opts {
		opt(r)
	}

	go r.loop()
	return r
}

// Spawned queues a Spawned event.
func (r *Recorder) Spawned(name string) {
	r.enqueue(Event{Kind: Spawned, Name: name})
}

// Rejected queues a Rejected event.
func (r *Recorder) Rejected(name string) {
	r.enqueue(Event{Kind: Rejected, Name: name})
}

// Released queues a Released event.
func (r *Recorder) Released(name string, how string, lifetime time.Duration) {
	r.enqueue(Event{Kind: Released, Name: name, How: how, Lifetime: lifetime})
}

// Close stops accepting events and waits for queued ones to be written.
// It is safe to call more than once.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
}

// Flush waits until every event queued before the call has been written, or
// ctx is done. It returns immediately once the recorder is closed.
func (r *Recorder) Flush(ctx context.Context) error {
	flushed := make(chan struct{})

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil
	}
	select {
	case r.queue <- item{flushed: flushed}:
		r.mu.RUnlock()
	case <-ctx.Done():
		r.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped returns how many events were discarded because the queue was full
// or the recorder was closed.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Failed returns how many events the store refused.
func (r *Recorder) Failed() int64 {
	return r.failed.Load()
}

func (r *Recorder) enqueue(ev Event) {
	ev.At = r.now()

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}
	select {
	case r.queue <- item{ev: ev}:
	default:
		if r.dropped.Add(1) == 1 {
			log.Warning("Stats queue full, dropping events")
		}
	}
}

func (r *Recorder) loop() {
	defer close(r.done)
	for it := range r.queue {
		if it.flushed != nil {
			close(it.flushed)
			continue
		}
		ev := it.ev
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.store.Record(ctx, ev); err != nil {
			r.failed.Add(1)
			log.Debug("Failed to record %s event for %q: %s", ev.Kind, ev.Name, err)
		}
		cancel()
	}
}
