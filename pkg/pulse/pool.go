package pulse

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/op/go-logging.v1"

	"github.com/pgvanniekerk/pulse/internal/slot"
	"github.com/pgvanniekerk/pulse/internal/thread"
)

// poolIDs hands out pool identities; zero is never issued.
var poolIDs atomic.Uint64

// New creates a pool with every slot free.
//
// Parameters:
//   - opts: functional options; see WithCapacity, WithContext, WithLogger and
//     WithObserver. Without WithCapacity the pool has DefaultMaxThreads slots.
//
// Example:
//
//	pool := pulse.New[string, int](pulse.WithCapacity(4))
//
//	h, err := pool.Spawn("count", func(ctx context.Context, s string) (int, error) {
//	    return len(s), nil
//	}, "hello")
//	if err != nil {
//	    log.Fatalf("spawn: %s", pulse.Describe(pulse.CodeOf(err)))
//	}
//
//	n, err := pool.Join(h) // n == 5
func New[A, R any](opts ...Option) *Pool[A, R] {
	options := defaultOptions()
	for idx := range opts {
		opts[idx](options)
	}

	return &Pool[A, R]{
		id:        poolIDs.Add(1),
		table:     slot.NewTable[*thread.Thread[R]](options.capacity),
		parent:    options.parent,
		log:       options.log,
		observers: options.observers,
	}
}

// Pool is a fixed set of named worker slots. Spawn occupies the lowest free
// slot and starts a goroutine on it; Join, Detach and Cancel each end exactly
// one occupancy and free the slot again. All methods are safe for concurrent
// use, and all of them are no-ops on a nil *Pool.
type Pool[A, R any] struct {
	// id is stamped on every Handle this pool issues.
	id uint64
	// table owns every slot and the worker bound to it.
	table *slot.Table[*thread.Thread[R]]
	// parent is the context every worker context derives from.
	parent context.Context
	// log receives lifecycle messages.
	log *logging.Logger
	// observers are told about spawns, rejections and releases.
	observers []Observer
}

//region Spawn

// Spawn starts work(ctx, arg) on the lowest-indexed free slot and records name
// against it. Names need not be unique; see FindByName.
//
// It returns ErrMaxThreadsReached, without starting anything, when every slot
// is occupied. It never blocks; use SpawnWait to wait for a free slot.
func (p *Pool[A, R]) Spawn(name string, work Work[A, R], arg A) (Handle, error) {
	if p == nil {
		return Handle{}, ErrNilPool
	}
	if work == nil {
		return Handle{}, ErrNilWork
	}

	th := p.prepare(work, arg)
	ref, ok := p.table.Acquire(name, th)
	if !ok {
		th.Cancel()
		p.log.Warning("Not starting %q: %s", name, ErrorMaxThreadsReached)
		for _, o := range p.observers {
			o.Rejected(name)
		}
		return Handle{}, ErrMaxThreadsReached
	}

	return p.start(name, ref, th), nil
}

// SpawnWait is like Spawn but waits for a slot to free up. It returns ctx's
// error if ctx ends first, in which case nothing was started.
func (p *Pool[A, R]) SpawnWait(ctx context.Context, name string, work Work[A, R], arg A) (Handle, error) {
	if p == nil {
		return Handle{}, ErrNilPool
	}
	if work == nil {
		return Handle{}, ErrNilWork
	}

	th := p.prepare(work, arg)
	ref, err := p.table.AcquireWait(ctx, name, th)
	if err != nil {
		th.Cancel()
		return Handle{}, fmt.Errorf("waiting for a free slot for %q: %w", name, err)
	}

	return p.start(name, ref, th), nil
}

//endregion

//region Lookup

// FindByName returns the handle of the first live worker, in slot order,
// spawned with name. Workers that a Join, Detach, Cancel or Shutdown is
// already ending are skipped, so later workers sharing the name become
// reachable as soon as earlier ones are claimed. The empty name never matches.
func (p *Pool[A, R]) FindByName(name string) (Handle, bool) {
	if p == nil {
		return Handle{}, false
	}
	ref, ok := p.table.Lookup(name)
	if !ok {
		return Handle{}, false
	}
	return p.handle(ref), true
}

// Slots lists every occupied slot in index order.
func (p *Pool[A, R]) Slots() []SlotInfo {
	if p == nil {
		return nil
	}
	snap := p.table.Snapshot()
	out := make([]SlotInfo, len(snap))
	for idx, info := range snap {
		out[idx] = SlotInfo{
			Handle:      p.handle(info.Ref),
			Name:        info.Name,
			StartedAt:   info.StartedAt,
			Terminating: info.Claimed,
		}
	}
	return out
}

//endregion

//region Termination

// Join waits for the worker behind h to return and hands back its result and
// error. The slot stays occupied until the worker has returned, then is freed.
//
// It returns ErrInvalidHandle, and changes nothing, if h does not refer to a
// live worker or another terminal operation is already in progress on it.
func (p *Pool[A, R]) Join(h Handle) (R, error) {
	var zero R
	if p == nil {
		return zero, ErrInvalidHandle
	}

	th, ok := p.claim(h)
	if !ok {
		return zero, ErrInvalidHandle
	}

	res, err := th.Join()
	p.release(h, ReleaseJoin)
	return res, err
}

// Detach frees the slot behind h straight away and lets the worker run to
// completion on its own. Its result is discarded.
//
// It returns ErrInvalidHandle, and changes nothing, if h is not live.
func (p *Pool[A, R]) Detach(h Handle) error {
	if p == nil {
		return ErrInvalidHandle
	}

	if _, ok := p.claim(h); !ok {
		return ErrInvalidHandle
	}

	p.release(h, ReleaseDetach)
	return nil
}

// Cancel cancels the worker's context and frees its slot straight away. It
// does not wait for the worker to notice; the worker may still be running
// when Cancel returns.
//
// It returns ErrInvalidHandle, and changes nothing, if h is not live.
func (p *Pool[A, R]) Cancel(h Handle) error {
	if p == nil {
		return ErrInvalidHandle
	}

	th, ok := p.claim(h)
	if !ok {
		return ErrInvalidHandle
	}

	th.Cancel()
	p.release(h, ReleaseCancel)
	return nil
}

// JoinByName is FindByName followed by Join.
func (p *Pool[A, R]) JoinByName(name string) (R, error) {
	h, ok := p.FindByName(name)
	if !ok {
		var zero R
		return zero, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return p.Join(h)
}

// DetachByName is FindByName followed by Detach.
func (p *Pool[A, R]) DetachByName(name string) error {
	h, ok := p.FindByName(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return p.Detach(h)
}

// CancelByName is FindByName followed by Cancel.
func (p *Pool[A, R]) CancelByName(name string) error {
	h, ok := p.FindByName(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return p.Cancel(h)
}

// Shutdown cancels every worker that no other terminal operation owns and
// waits for them to return, freeing each slot as its worker finishes. Errors
// returned by workers, other than context cancellation, are collected into a
// *multierror.Error. If ctx ends first its error is included and the remaining
// slots are freed without waiting, as with Cancel.
//
// The pool stays usable afterwards.
func (p *Pool[A, R]) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}

	refs, threads := p.table.ClaimAll()
	for _, th := range threads {
		th.Cancel()
	}
	if len(threads) > 0 {
		p.log.Info("Shutting down %d worker(s)", len(threads))
	}

	var result *multierror.Error
	expired := false
	for idx, th := range threads {
		finished := false
		if !expired {
			select {
			case <-th.Done():
				finished = true
			case <-ctx.Done():
				expired = true
				result = multierror.Append(result, fmt.Errorf("shutdown: %w", ctx.Err()))
			}
		}

		name := p.release(p.handle(refs[idx]), ReleaseShutdown)
		if !finished {
			continue
		}
		if _, err := th.Join(); err != nil && !errors.Is(err, context.Canceled) {
			result = multierror.Append(result, fmt.Errorf("worker %q: %w", name, err))
		}
	}

	return result.ErrorOrNil()
}

//endregion

//region Capacity

// ActiveCount returns how many slots are occupied, including slots whose
// worker is being joined.
func (p *Pool[A, R]) ActiveCount() int {
	if p == nil {
		return 0
	}
	return p.table.Active()
}

// FreeCount returns Capacity() - ActiveCount().
func (p *Pool[A, R]) FreeCount() int {
	if p == nil {
		return 0
	}
	return p.table.Free()
}

// Capacity returns the fixed number of slots.
func (p *Pool[A, R]) Capacity() int {
	if p == nil {
		return 0
	}
	return p.table.Len()
}

//endregion

//region Helpers

func (p *Pool[A, R]) handle(ref slot.Ref) Handle {
	return Handle{pool: p.id, ref: ref}
}

// claim takes exclusive ownership of h's occupancy. Handles issued by another
// pool never match.
func (p *Pool[A, R]) claim(h Handle) (*thread.Thread[R], bool) {
	if h.pool != p.id {
		return nil, false
	}
	return p.table.Claim(h.ref)
}

// prepare builds the worker for work(arg) without starting it.
func (p *Pool[A, R]) prepare(work Work[A, R], arg A) *thread.Thread[R] {
	return thread.New(p.parent, func(ctx context.Context) (R, error) {
		return work(ctx, arg)
	})
}

// start launches a worker whose slot has just been acquired.
func (p *Pool[A, R]) start(name string, ref slot.Ref, th *thread.Thread[R]) Handle {
	th.Start()

	h := p.handle(ref)
	p.log.Debug("Started %q on %s", name, h)
	for _, o := range p.observers {
		o.Spawned(name)
	}
	return h
}

// release frees the slot behind h and notifies observers. It returns the name
// the slot held, or "" if h was already stale.
func (p *Pool[A, R]) release(h Handle, how string) string {
	info, ok := p.table.Release(h.ref)
	if !ok {
		return ""
	}

	lifetime := time.Since(info.StartedAt)
	p.log.Debug("Released %q from %s (%s) after %s", info.Name, h, how, lifetime)
	for _, o := range p.observers {
		o.Released(info.Name, how, lifetime)
	}
	return info.Name
}

//endregion
