package pool

import (
	"time"

	"github.com/drivercore/hostpool/hostdistance"
)

// Tunables matching the Java pool's statics. MaxSimultaneousCreation caps
// how many growth-triggered connection opens a single pool runs at once, so
// a burst of Borrows doesn't spawn a burst of TCP handshakes (Init and
// EnsureCoreConnections are not subject to it); MinAvailableStreams is the
// per-connection stream budget below which Return replaces a connection as
// leaking stream IDs, and at or below which a trashed connection is not
// resurrected.
const (
	MaxSimultaneousCreation = 1
	MinAvailableStreams     = 96
)

// HostDistanceOptions is the per-HostDistance sizing knobs a session
// applies to every pool it opens for a host at that distance.
type HostDistanceOptions struct {
	CoreConnections        int
	MaxConnections         int
	MaxRequestsPerConn     int
	NewConnectionThreshold int
}

// Options configures a Pool. MaxStreamPerConnection is the protocol's
// concurrent-request ceiling per connection (128 for protocol v2, 32768
// for v3 and later); callers set it once and it is not per-HostDistance.
type Options struct {
	Distance HostDistanceOptions

	MaxStreamPerConnection int

	// IdleTimeout is how long a trashed connection sits before the reaper
	// closes it for good, unless it gets resurrected first.
	IdleTimeout time.Duration

	// CleanupInterval is how often the pool re-evaluates trash and
	// shrinks an over-provisioned connection set.
	CleanupInterval time.Duration
}

// DefaultOptionsFor returns reasonable defaults for hosts at d, matching
// the driver-core defaults: a bigger core/max pool for local hosts than
// remote ones, and no pool at all for ignored hosts.
func DefaultOptionsFor(d hostdistance.HostDistance) Options {
	opts := Options{
		MaxStreamPerConnection: 32768,
		IdleTimeout:            time.Minute,
		CleanupInterval:        10 * time.Second,
	}
	switch d {
	case hostdistance.Local:
		opts.Distance = HostDistanceOptions{
			CoreConnections:        1,
			MaxConnections:         2,
			MaxRequestsPerConn:     1024,
			NewConnectionThreshold: 800,
		}
	case hostdistance.Remote:
		opts.Distance = HostDistanceOptions{
			CoreConnections:        1,
			MaxConnections:         1,
			MaxRequestsPerConn:     256,
			NewConnectionThreshold: 200,
		}
	default:
		opts.Distance = HostDistanceOptions{}
	}
	return opts
}
