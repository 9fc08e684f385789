package pulse

import (
	"fmt"
	"time"

	"github.com/pgvanniekerk/pulse/internal/slot"
)

// Handle refers to one worker started by Spawn. It records the pool that
// issued it plus a slot index and generation counter, so a Handle kept after
// its slot was released never matches the slot's next occupant, and a Handle
// from one pool never matches a worker in another. Handles are comparable;
// FindByName returns a Handle equal to the one Spawn returned. The zero Handle
// is never valid.
type Handle struct {
	pool uint64
	ref  slot.Ref
}

// Index is the slot position the worker occupies.
func (h Handle) Index() int {
	return h.ref.Index
}

// Generation counts how many times the slot had been occupied when this
// worker took it.
func (h Handle) Generation() uint64 {
	return h.ref.Generation
}

// IsZero reports whether h is the zero Handle.
func (h Handle) IsZero() bool {
	return h.pool == 0 && h.ref == slot.Ref{}
}

func (h Handle) String() string {
	return fmt.Sprintf("slot %d#%d", h.ref.Index, h.ref.Generation)
}

// SlotInfo describes one occupied slot.
type SlotInfo struct {
	Handle    Handle
	Name      string
	StartedAt time.Time
	// Terminating is set while a Join, Detach, Cancel or Shutdown owns the slot.
	Terminating bool
}
