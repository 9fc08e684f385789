// Package pulse provides a fixed-capacity pool of named worker slots.
//
// A Pool owns a table of slots whose size is fixed when the pool is created
// (DefaultMaxThreads unless WithCapacity says otherwise). Spawn takes the
// lowest-indexed free slot, records a caller-chosen name against it and starts
// the work on its own goroutine. The worker is later ended with exactly one
// terminal operation, which frees the slot for reuse:
//
//   - Join waits for the work to return and yields its typed result
//   - Detach lets the work finish on its own and discards the result
//   - Cancel cancels the work's context and does not wait for it
//
// There is no queue. When every slot is taken Spawn fails immediately with
// ErrMaxThreadsReached and the caller decides whether to retry, back off or
// wait with SpawnWait.
//
// # Handles and names
//
// Spawn returns a Handle, a slot index plus a generation counter. A handle
// stays valid until its occupancy ends; after that every operation on it is a
// no-op returning ErrInvalidHandle, even if the slot has been reused by a new
// worker. Calling Join, Detach or Cancel twice is therefore harmless.
//
// Workers can also be found by name with FindByName. Names need not be unique;
// the lowest-indexed match wins, and later workers with the same name are only
// reachable once the earlier ones are gone.
//
// # Example
//
//	pool := pulse.New[time.Duration, string](pulse.WithCapacity(2))
//
//	nap := func(ctx context.Context, d time.Duration) (string, error) {
//	    select {
//	    case <-time.After(d):
//	        return "rested", nil
//	    case <-ctx.Done():
//	        return "", ctx.Err()
//	    }
//	}
//
//	if _, err := pool.Spawn("a", nap, time.Second); err != nil {
//	    return err
//	}
//	if _, err := pool.Spawn("b", nap, time.Minute); err != nil {
//	    return err
//	}
//	if _, err := pool.Spawn("c", nap, time.Second); errors.Is(err, pulse.ErrMaxThreadsReached) {
//	    fmt.Println(pulse.Describe(pulse.CodeOf(err))) // Pool reached maximum number of threads
//	}
//
//	h, _ := pool.FindByName("a")
//	msg, err := pool.Join(h) // "rested", nil; slot 0 is free again
//
//	_ = pool.CancelByName("b") // slot 1 freed immediately
//
// # Concurrency
//
// Every method is safe for concurrent use. The slot table is guarded by a
// single mutex held only while scanning or updating slots; Join waits for its
// worker outside that lock, and keeps the slot occupied until the worker has
// returned. Cancellation is cooperative and best-effort.
//
// # Observability
//
// Pools log through go-logging (module "pulse" by default) and report spawns,
// rejections and releases to any Observer registered with WithObserver. The
// "pulse" module logs at WARNING and above until a backend is configured; call
// logging.SetLevel(logging.DEBUG, "pulse") to see every spawn and release.
package pulse
