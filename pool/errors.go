package pool

import "fmt"

// ErrPoolClosed is returned by Borrow when the pool has already started (or
// finished) shutting down.
var ErrPoolClosed = fmt.Errorf("pool: closed")

// ErrTimeout is returned by Borrow when the context passed in expires
// before a connection becomes available.
var ErrTimeout = fmt.Errorf("pool: timed out waiting for a connection")

// ErrNoConnections describes a pool with no live connections that is
// unable to open one. Borrow does not return it: with no live connections
// it waits and fails with ErrTimeout or ErrPoolClosed.
var ErrNoConnections = fmt.Errorf("pool: no connections available")

// errAtMaxConnections is an internal control-flow signal from
// createConnection meaning "open is already at max, nothing to do here" —
// not a real failure, so callers that see it don't log it or treat it as
// the kind of error a fatal-open-error check should inspect.
var errAtMaxConnections = fmt.Errorf("pool: at max connections")

// AuthenticationError means a new connection's transport-level handshake
// succeeded but the server rejected the credentials offered during
// authentication. Unlike a bare connect failure, it stops Init from opening
// the remaining core connections, since the same credentials will fail
// again; later growth or EnsureCoreConnections calls still try to open.
type AuthenticationError struct {
	Host string
	Err  error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("pool: authentication failed against %s: %v", e.Host, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// ProtocolVersionError means the host does not support the wire protocol
// version this pool was configured to speak. Like AuthenticationError, this
// is a fatal, non-retryable condition for the pool as configured.
type ProtocolVersionError struct {
	Host            string
	ProtocolVersion int
	Err             error
}

func (e *ProtocolVersionError) Error() string {
	return fmt.Sprintf("pool: host %s does not support protocol version %d: %v", e.Host, e.ProtocolVersion, e.Err)
}

func (e *ProtocolVersionError) Unwrap() error { return e.Err }

// ClusterNameMismatchError means the host answered a handshake with a
// cluster name different from the one this client expected, which usually
// indicates the client is misconfigured or pointed at the wrong cluster.
type ClusterNameMismatchError struct {
	Host     string
	Expected string
	Got      string
}

func (e *ClusterNameMismatchError) Error() string {
	return fmt.Sprintf("pool: host %s reported cluster name %q, expected %q", e.Host, e.Got, e.Expected)
}

// isFatalOpenError reports whether err is one of the fatal open errors,
// on which Init stops opening further core connections. It does not stop
// later growth or EnsureCoreConnections from trying again.
func isFatalOpenError(err error) bool {
	switch err.(type) {
	case *AuthenticationError, *ProtocolVersionError, *ClusterNameMismatchError:
		return true
	default:
		return false
	}
}
