package transport

import (
	"context"
	"net"

	"github.com/drivercore/hostpool/pool"
)

// Dialer is a pool.ConnectionFactory that dials plain TCP connections and
// wraps each one in a Conn.
type Dialer struct {
	dialer     *net.Dialer
	maxStreams int
	port       string
}

// NewDialer builds a Dialer that connects to host:port, handing back
// connections that can carry up to maxStreams concurrent requests each.
func NewDialer(d *net.Dialer, port string, maxStreams int) *Dialer {
	if d == nil {
		d = &net.Dialer{}
	}
	return &Dialer{dialer: d, maxStreams: maxStreams, port: port}
}

// Open implements pool.ConnectionFactory.
func (d *Dialer) Open(ctx context.Context, host string) (pool.Connection, error) {
	nc, err := d.dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, d.port))
	if err != nil {
		return nil, err
	}
	return New(nc, d.maxStreams), nil
}
