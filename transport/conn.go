// Package transport provides a net.Conn-backed implementation of
// pool.Connection, tracking in-flight request counts and I/O health so a
// pool can pick the least-busy connection and notice when one has gone
// bad.
package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by operations attempted on a Conn that has already
// been closed.
var ErrClosed = errors.New("transport: connection closed")

// maxConsecutiveFailures is how many back-to-back I/O errors a Conn
// tolerates before declaring itself defunct. A single timeout or a reset
// mid-request is not by itself fatal; a streak of them means the socket or
// the peer is gone.
const maxConsecutiveFailures = 3

// Conn wraps a net.Conn with the bookkeeping a pool needs: how many
// requests are outstanding, how many streams remain available, and
// whether repeated I/O failures mean the connection should be evicted.
//
// The low bit of activeCount marks the connection closed, exactly like the
// activity counter this is adapted from; the remaining bits count
// successful reads and writes (in steps of 2). Stream accounting lives in
// inFlight instead.
type Conn struct {
	net.Conn

	maxStreams int32

	inFlight    atomic.Int32
	failures    atomic.Int32
	activeCount atomic.Uint64
}

// New wraps conn so it satisfies pool.Connection, accepting up to
// maxStreams concurrent requests.
func New(conn net.Conn, maxStreams int) *Conn {
	return &Conn{Conn: conn, maxStreams: int32(maxStreams)}
}

// Reserve implements pool.Connection: it CAS-increments inFlight, refusing
// once inFlight has reached the stream budget rather than letting it run
// past it.
func (c *Conn) Reserve() bool {
	if c.IsDefunct() || c.IsClosed() {
		return false
	}
	for {
		cur := c.inFlight.Load()
		if cur >= c.maxStreams {
			return false
		}
		if c.inFlight.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Release gives back one stream slot claimed by a successful Reserve.
func (c *Conn) Release() { c.inFlight.Add(-1) }

// InFlight implements pool.Connection.
func (c *Conn) InFlight() int { return int(c.inFlight.Load()) }

// MaxAvailableStreams implements pool.Connection: the connection's
// stream-ID budget. This transport doesn't model per-ID leakage (the wire
// protocol that would leak them is out of scope), so the budget is fixed
// at the value New was called with, except that a defunct or closed
// connection reports none at all.
func (c *Conn) MaxAvailableStreams() int {
	if c.IsDefunct() || c.IsClosed() {
		return 0
	}
	return int(c.maxStreams)
}

// IsDefunct implements pool.Connection: true once enough consecutive I/O
// operations have failed in a row that the connection is assumed dead.
func (c *Conn) IsDefunct() bool {
	return c.failures.Load() >= maxConsecutiveFailures
}

// IsClosed implements pool.Connection.
func (c *Conn) IsClosed() bool {
	return c.activeCount.Load()&1 != 0
}

// Read implements net.Conn, bumping the failure streak on error and
// resetting it on success.
func (c *Conn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	c.recordResult(err)
	return n, err
}

// Write implements net.Conn, bumping the failure streak on error and
// resetting it on success.
func (c *Conn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	c.recordResult(err)
	return n, err
}

func (c *Conn) recordResult(err error) {
	if err == nil {
		c.failures.Store(0)
		for {
			old := c.activeCount.Load()
			if c.activeCount.CompareAndSwap(old, old+2) {
				return
			}
		}
	}
	c.failures.Add(1)
}

// Close closes the underlying connection. It's CAS-guarded against
// concurrent Close calls the same way the activity counter it's adapted
// from is, so only one of them actually calls through to the socket.
func (c *Conn) Close() error {
	for {
		active := c.activeCount.Load()
		if active&1 != 0 {
			return nil
		}
		if c.activeCount.CompareAndSwap(active, active|1) {
			return c.Conn.Close()
		}
	}
}

// SetKeyspace implements pool.Connection. The wire protocol itself is out
// of scope here; this sends a small length-prefixed frame naming the
// keyspace and waits for a single-byte acknowledgement, which is enough to
// exercise the context deadline plumbing a real protocol handshake would
// need.
func (c *Conn) SetKeyspace(ctx context.Context, keyspace string) error {
	if c.IsClosed() {
		return ErrClosed
	}
	if dl, ok := ctx.Deadline(); ok {
		c.Conn.SetDeadline(dl)
		defer c.Conn.SetDeadline(time.Time{})
	}

	frame := make([]byte, 2+len(keyspace))
	binary.BigEndian.PutUint16(frame[:2], uint16(len(keyspace)))
	copy(frame[2:], keyspace)

	if _, err := c.Write(frame); err != nil {
		return err
	}
	ack := make([]byte, 1)
	if _, err := io.ReadFull(c, ack); err != nil {
		return err
	}
	return nil
}
