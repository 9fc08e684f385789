package stats

import (
	"context"
	"sync"
)

// MemoryStore keeps counters in memory. Nothing expires.
type MemoryStore struct {
	mu     sync.Mutex
	total  Counters
	byName map[string]Counters

	trackNames bool
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithTrackNames also keeps counters per worker name.
func WithTrackNames(track bool) MemoryOption {
	return func(s *MemoryStore) { s.trackNames = track }
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		total:  Counters{ByHow: map[string]int64{}},
		byName: make(map[string]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record implements Store. It never fails.
func (s *MemoryStore) Record(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	add(&s.total, ev)
	if s.trackNames && ev.Name != "" {
		c := s.byName[ev.Name]
		if c.ByHow == nil {
			c.ByHow = map[string]int64{}
		}
		add(&c, ev)
		s.byName[ev.Name] = c
	}
	return nil
}

// Total returns a copy of the running totals.
func (s *MemoryStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.total)
}

// ByName returns a copy of the per-name counters. It is empty unless the
// store was created WithTrackNames(true).
func (s *MemoryStore) ByName() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byName))
	for k, v := range s.byName {
		out[k] = clone(v)
	}
	return out
}

func add(c *Counters, ev Event) {
	switch ev.Kind {
	case Spawned:
		c.Spawned++
	case Rejected:
		c.Rejected++
	case Released:
		c.Released++
		c.Lifetime += ev.Lifetime
		if ev.How != "" {
			c.ByHow[ev.How]++
		}
	}
}

func clone(c Counters) Counters {
	out := c
	out.ByHow = make(map[string]int64, len(c.ByHow))
	for k, v := range c.ByHow {
		out.ByHow[k] = v
	}
	return out
}
