package pool

import "sync/atomic"

// pooledConn pairs a Connection with the life-cycle state the pool tracks
// on its behalf. The Connection itself has no notion of trashed or
// resurrecting; that bookkeeping lives entirely here.
type pooledConn struct {
	Connection
	state *stateBox

	// maxIdleTime is the UnixNano deadline after which a trashed
	// connection becomes eligible for cleanupTrash to close it for good.
	// Only meaningful while state is Trashed. A stream-leak replacement
	// forces this to math.MinInt64 so the very next tick reaps it.
	maxIdleTime atomic.Int64
}

func newPooledConn(c Connection) *pooledConn {
	return &pooledConn{Connection: c, state: newStateBox(stateOpen)}
}
