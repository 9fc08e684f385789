package pulse

import "time"

// How a slot was released, as passed to Observer.Released.
const (
	ReleaseJoin     = "join"
	ReleaseDetach   = "detach"
	ReleaseCancel   = "cancel"
	ReleaseShutdown = "shutdown"
)

// Observer is notified of slot lifecycle events. Calls happen on the goroutine
// performing the operation, after the slot table has been updated and outside
// its lock, so implementations may call back into the pool but should be quick.
type Observer interface {
	// Spawned is called after a worker was started on a slot.
	Spawned(name string)

	// Rejected is called when Spawn returned ErrMaxThreadsReached.
	Rejected(name string)

	// Released is called once per slot occupancy with one of the Release*
	// constants and how long the slot was held.
	Released(name string, how string, lifetime time.Duration)
}
