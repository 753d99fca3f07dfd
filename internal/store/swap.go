package store

import (
	"sync/atomic"
)

// Swapper publishes snapshots by atomic pointer swap. In-flight readers
// keep the snapshot they already resolved; no reader ever observes a
// half-built store, and reads never block behind a rebuild.
type Swapper struct {
	cur atomic.Pointer[Snapshot]
	gen atomic.Uint64
}

func NewSwapper() *Swapper {
	return &Swapper{}
}

// Current returns the latest published snapshot, or nil before the first
// publish.
func (s *Swapper) Current() *Snapshot {
	return s.cur.Load()
}

// Publish assigns the next version to snap and makes it current. The
// returned version is strictly increasing across the process lifetime.
func (s *Swapper) Publish(snap *Snapshot) uint64 {
	v := s.gen.Add(1)
	snap.Version = v
	s.cur.Store(snap)
	return v
}
