package pool

import "sync/atomic"

// connState is the life-cycle state of a single pooled connection. A
// connection starts Open, may be moved to Trashed when the pool shrinks,
// from there either Resurrected back to Open (if demand picks back up
// before it's reaped) or declared Gone (once the trash reaper closes it
// for good). A defunct connection is dropped straight to Gone from Open.
type connState int32

const (
	stateOpen connState = iota
	stateTrashed
	stateResurrecting
	stateGone
)

func (s connState) String() string {
	switch s {
	case stateOpen:
		return "OPEN"
	case stateTrashed:
		return "TRASHED"
	case stateResurrecting:
		return "RESURRECTING"
	case stateGone:
		return "GONE"
	default:
		return "UNKNOWN"
	}
}

// stateBox CAS-guards the transitions of a single connection's connState so
// concurrent trash/resurrect/close attempts interlock without a lock.
type stateBox struct {
	v atomic.Int32
}

func newStateBox(s connState) *stateBox {
	b := &stateBox{}
	b.v.Store(int32(s))
	return b
}

func (b *stateBox) load() connState {
	return connState(b.v.Load())
}

// compareAndSwap attempts the from->to transition, returning whether it won
// the race. Losing just means some other goroutine already moved the
// connection on; the caller re-reads state and adapts.
func (b *stateBox) compareAndSwap(from, to connState) bool {
	return b.v.CompareAndSwap(int32(from), int32(to))
}
