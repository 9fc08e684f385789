// Package slot implements the fixed-size table of named, reusable worker slots.
package slot

import (
	"context"
	"sync"
	"time"

	"github.com/pgvanniekerk/pulse/internal/concurrency"
)

// Ref identifies one occupancy of a slot. Generation is bumped every time the
// slot is acquired, so a Ref taken before a release never matches a later
// occupant of the same index. The zero Ref never matches anything.
type Ref struct {
	Index      int
	Generation uint64
}

// Info is a read-only view of an occupied slot.
type Info struct {
	Ref       Ref
	Name      string
	StartedAt time.Time
	Claimed   bool
}

// entry is a single slot record.
type entry[T any] struct {
	active     bool
	claimed    bool
	name       string
	generation uint64
	startedAt  time.Time
	value      T
}

// Table is a fixed-length set of reusable named slots. Every method is safe
// for concurrent use; the scan-and-mark and release sequences run under a
// single mutex.
type Table[T any] struct {

	// mu guards every entry and the active count.
	mu *sync.Mutex

	// entries is allocated once and never resized.
	entries []entry[T]

	// active is the number of entries with active set.
	active int

	// limiter holds one permit per active entry and lets AcquireWait block
	// for a free slot without polling.
	limiter *concurrency.Limiter

	// now is swapped in tests.
	now func() time.Time
}

//region Implementation

// Acquire claims the lowest free index for name and stores value in it.
// It reports false, without side effects, when every slot is occupied.
func (t *Table[T]) Acquire(name string, value T) (Ref, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.limiter.TryAcquire() {
		return Ref{}, false
	}
	ref, ok := t.mark(name, value)
	if !ok {
		t.limiter.Release()
	}
	return ref, ok
}

// AcquireWait is like Acquire but blocks until a slot frees up or ctx is done.
func (t *Table[T]) AcquireWait(ctx context.Context, name string, value T) (Ref, error) {
	if err := t.limiter.Acquire(ctx); err != nil {
		return Ref{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ref, ok := t.mark(name, value)
	if !ok {
		// Holding a permit guarantees a free entry.
		t.limiter.Release()
		panic("slot: permit held but no free entry")
	}
	return ref, nil
}

// Lookup returns the first occupied, unclaimed slot, in index order, whose
// name equals name. The empty name never matches.
func (t *Table[T]) Lookup(name string) (Ref, bool) {
	if name == "" {
		return Ref{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for idx := range t.entries {
		e := &t.entries[idx]
		if !e.active || e.claimed || len(e.name) != len(name) || e.name != name {
			continue
		}
		return Ref{Index: idx, Generation: e.generation}, true
	}
	return Ref{}, false
}

// Claim marks the slot referenced by ref as being terminated and returns its
// value. Only one caller can claim a given occupancy; it fails if ref is stale,
// the slot is free or somebody else already claimed it.
func (t *Table[T]) Claim(ref Ref) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.lookupRef(ref)
	if !ok || e.claimed {
		var zero T
		return zero, false
	}
	e.claimed = true
	return e.value, true
}

// ClaimAll claims every occupied, unclaimed slot and returns their refs and
// values in index order.
func (t *Table[T]) ClaimAll() ([]Ref, []T) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var refs []Ref
	var values []T
	for idx := range t.entries {
		e := &t.entries[idx]
		if !e.active || e.claimed {
			continue
		}
		e.claimed = true
		refs = append(refs, Ref{Index: idx, Generation: e.generation})
		values = append(values, e.value)
	}
	return refs, values
}

// Release frees the slot referenced by ref and returns what it held. It is a
// no-op returning false if ref does not name the current occupancy.
func (t *Table[T]) Release(ref Ref) (Info, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.lookupRef(ref)
	if !ok {
		return Info{}, false
	}

	info := Info{Ref: ref, Name: e.name, StartedAt: e.startedAt, Claimed: e.claimed}

	var zero T
	e.active = false
	e.claimed = false
	e.name = ""
	e.startedAt = time.Time{}
	e.value = zero
	t.active--
	t.limiter.Release()

	return info, true
}

// Snapshot lists every occupied slot in index order.
func (t *Table[T]) Snapshot() []Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Info, 0, t.active)
	for idx := range t.entries {
		e := &t.entries[idx]
		if !e.active {
			continue
		}
		out = append(out, Info{
			Ref:       Ref{Index: idx, Generation: e.generation},
			Name:      e.name,
			StartedAt: e.startedAt,
			Claimed:   e.claimed,
		})
	}
	return out
}

// Active returns the number of occupied slots.
func (t *Table[T]) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Free returns the number of unoccupied slots.
func (t *Table[T]) Free() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Len() - t.active
}

// Len returns the fixed number of slots.
func (t *Table[T]) Len() int {
	return int(t.limiter.Size())
}

//endregion

//region Helpers

// mark occupies the lowest free entry. Callers hold mu and a limiter permit.
func (t *Table[T]) mark(name string, value T) (Ref, bool) {
	for idx := range t.entries {
		e := &t.entries[idx]
		if e.active {
			continue
		}

		e.active = true
		e.claimed = false
		e.name = name
		e.generation++
		e.startedAt = t.now()
		e.value = value
		t.active++

		return Ref{Index: idx, Generation: e.generation}, true
	}
	return Ref{}, false
}

// lookupRef resolves ref to its entry if it is the current occupancy.
// Callers hold mu.
func (t *Table[T]) lookupRef(ref Ref) (*entry[T], bool) {
	if ref.Index < 0 || ref.Index >= len(t.entries) || ref.Generation == 0 {
		return nil, false
	}
	e := &t.entries[ref.Index]
	if !e.active || e.generation != ref.Generation {
		return nil, false
	}
	return e, true
}

//endregion

//region Constructor

// NewTable allocates a Table with size free slots. A size below one is
// raised to one.
func NewTable[T any](size int) *Table[T] {
	if size < 1 {
		size = 1
	}
	return &Table[T]{
		mu:      &sync.Mutex{},
		entries: make([]entry[T], size),
		limiter: concurrency.NewLimiter(int64(size)),
		now:     time.Now,
	}
}

//endregion
