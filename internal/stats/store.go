// Package stats records pool lifecycle events into a Store.
//
// Recording is best-effort: a Store that fails is logged and otherwise
// ignored, so stats can never slow down or break the pool they observe.
package stats

import (
	"context"
	"time"
)

// Kind is the type of lifecycle event.
type Kind string

const (
	// Spawned means a worker took a slot.
	Spawned Kind = "spawned"
	// Rejected means a spawn was refused because every slot was taken.
	Rejected Kind = "rejected"
	// Released means a slot was freed.
	Released Kind = "released"
)

// Event is a single lifecycle event.
//
// Name is the caller-chosen worker name; stores should be careful about
// tracking it per name since names are unbounded.
type Event struct {
	Kind Kind
	Name string
	// How is the operation that freed the slot; only set for Released.
	How string
	// Lifetime is how long the slot was held; only set for Released.
	Lifetime time.Duration

	At time.Time
}

// Store persists lifecycle events.
type Store interface {
	Record(ctx context.Context, ev Event) error
}

// Counters is the running total of events.
type Counters struct {
	Spawned  int64
	Rejected int64
	Released int64
	// ByHow splits Released by the operation that freed the slot.
	ByHow map[string]int64
	// Lifetime is the summed lifetime of every released slot.
	Lifetime time.Duration
}
