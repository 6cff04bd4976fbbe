package pool

import "sync/atomic"

// connSet is a copy-on-write snapshot set of pooledConns, the Go analogue
// of the Java pool's CopyOnWriteArrayList-backed connection and trash
// lists. Reads (snapshot, len) never block and never race with writers;
// writers pay a full-slice copy, which is fine because membership changes
// (grow, trash, resurrect, evict) are rare next to Borrow/Return traffic.
type connSet struct {
	v atomic.Pointer[[]*pooledConn]
}

func newConnSet() *connSet {
	s := &connSet{}
	empty := make([]*pooledConn, 0)
	s.v.Store(&empty)
	return s
}

// snapshot returns the current backing slice. Callers must not mutate it.
func (s *connSet) snapshot() []*pooledConn {
	return *s.v.Load()
}

func (s *connSet) len() int {
	return len(s.snapshot())
}

// add appends c to the set.
func (s *connSet) add(c *pooledConn) {
	for {
		old := s.v.Load()
		next := make([]*pooledConn, len(*old)+1)
		copy(next, *old)
		next[len(*old)] = c
		if s.v.CompareAndSwap(old, &next) {
			return
		}
	}
}

// remove drops c from the set, reporting whether it was present.
func (s *connSet) remove(c *pooledConn) bool {
	for {
		old := s.v.Load()
		idx := -1
		for i, e := range *old {
			if e == c {
				idx = i
				break
			}
		}
		if idx < 0 {
			return false
		}
		next := make([]*pooledConn, 0, len(*old)-1)
		next = append(next, (*old)[:idx]...)
		next = append(next, (*old)[idx+1:]...)
		if s.v.CompareAndSwap(old, &next) {
			return true
		}
	}
}

// drain atomically empties the set and returns what it held, matching the
// Java pool's discardAvailableConnections: exactly one caller gets each
// connection, even if drain races with add/remove.
func (s *connSet) drain() []*pooledConn {
	for {
		old := s.v.Load()
		empty := make([]*pooledConn, 0)
		if s.v.CompareAndSwap(old, &empty) {
			return *old
		}
	}
}
