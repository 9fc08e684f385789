package pulse

import "context"

// Work is the unit of work run on a pool slot. It receives the argument passed
// to Spawn and a context that is cancelled when the slot is cancelled (or the
// pool's parent context ends). Its result and error are handed to whoever
// joins the slot; a detached or cancelled worker's result is discarded.
//
// Cancellation is cooperative. A Work that never looks at ctx keeps running
// after Cancel returns, exactly like a thread that ignores a cancellation
// request, so long-running work should select on ctx.Done():
//
//	poll := func(ctx context.Context, url string) (int, error) {
//	    ticker := time.NewTicker(time.Second)
//	    defer ticker.Stop()
//	    for n := 0; ; n++ {
//	        select {
//	        case <-ctx.Done():
//	            return n, ctx.Err()
//	        case <-ticker.C:
//	            if err := ping(url); err != nil {
//	                return n, err
//	            }
//	        }
//	    }
//	}
//
// A panic inside Work is recovered and reported from Join as an error
// wrapping ErrWorkPanicked.
type Work[A, R any] func(ctx context.Context, arg A) (R, error)
