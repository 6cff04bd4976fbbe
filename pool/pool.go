// Package pool manages the set of connections a driver keeps open to a
// single host. It borrows out the least-busy connection for each request,
// grows the set under load, shrinks it back down once load subsides, and
// recovers from individual connections going bad without taking the whole
// pool down.
package pool

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/drivercore/hostpool/hostdistance"
	"github.com/drivercore/hostpool/poollog"
)

// Pool manages connections to one host at one HostDistance. The zero value
// is not usable; construct one with New.
type Pool struct {
	Host     string
	Distance hostdistance.HostDistance
	Options  Options

	factory ConnectionFactory
	log     *poollog.Logger

	connections *connSet
	trash       *connSet

	// open is the number of connections counted as "serving": live OPEN
	// connections plus ones mid-creation or mid-resurrection that have
	// already claimed a slot against Options.Distance.MaxConnections. It
	// is mutated only via CAS, by whichever operation is enforcing
	// open>=core or open<=max at that moment.
	open atomic.Int32

	// scheduledForCreation counts pending create tasks started by growth
	// and by EnsureCoreConnections. Growth only starts a task while it is
	// zero, mirroring MaxSimultaneousCreation in the original driver.
	scheduledForCreation atomic.Int32

	// totalInFlight counts slots reserved by Borrow and not yet given back
	// by Return; it is never reset. maxTotalInFlight is its high-water
	// mark since the last tick, read-and-reset by the shrink pass.
	totalInFlight    atomic.Int64
	maxTotalInFlight atomic.Int64

	keyspace atomic.Pointer[string]

	waiters *waiterPark

	closed  atomic.Bool
	closeFn *closeFuture

	initOnce atomic.Bool
	initErr  atomic.Pointer[error]
	initDone chan struct{}

	cleanupCancel context.CancelFunc
}

// New creates a Pool for host at distance d. It does not open any
// connections; call Init for that.
func New(host string, d hostdistance.HostDistance, opts Options, factory ConnectionFactory, log *poollog.Logger) *Pool {
	if log == nil {
		log = poollog.Default()
	}
	p := &Pool{
		Host:        host,
		Distance:    d,
		Options:     opts,
		factory:     factory,
		log:         log.With("host", host, "distance", d.String()),
		connections: newConnSet(),
		trash:       newConnSet(),
		waiters:     newWaiterPark(),
		closeFn:     newCloseFuture(),
		initDone:    make(chan struct{}),
	}
	return p
}

// Init opens Options.Distance.CoreConnections connections, synchronously,
// and starts the background idle-cleanup loop. Init is idempotent: calling
// it more than once just waits on the result of the first call.
func (p *Pool) Init(ctx context.Context) error {
	if !p.initOnce.CompareAndSwap(false, true) {
		<-p.initDone
		if e := p.initErr.Load(); e != nil {
			return *e
		}
		return nil
	}
	defer close(p.initDone)

	var firstErr error
	core := p.Options.Distance.CoreConnections
	if p.Distance == hostdistance.Ignored || core <= 0 {
		p.startCleanupLoop()
		return nil
	}

	for i := 0; i < core; i++ {
		if _, err := p.createConnection(ctx); err != nil {
			if err == errAtMaxConnections {
				break
			}
			if firstErr == nil {
				firstErr = err
			}
			p.log.ERROR("failed to open core connection", "err", err)
			if isFatalOpenError(err) {
				break
			}
			continue
		}
	}

	if firstErr != nil {
		p.initErr.Store(&firstErr)
	}
	p.startCleanupLoop()
	return firstErr
}

// createConnection is addConnectionIfUnderMaximum: it CAS-increments open
// only while under the distance's MaxConnections, tries resurrection from
// trash before opening a new transport, and rolls open back on any
// failure along the way.
func (p *Pool) createConnection(ctx context.Context) (*pooledConn, error) {
	max := int32(p.Options.Distance.MaxConnections)
	for {
		cur := p.open.Load()
		if cur >= max {
			return nil, errAtMaxConnections
		}
		if p.open.CompareAndSwap(cur, cur+1) {
			break
		}
	}

	if p.closed.Load() {
		p.open.Add(-1)
		return nil, ErrPoolClosed
	}

	if pc, ok := p.tryResurrect(); ok {
		if p.closed.Load() {
			p.evict(pc)
			return nil, ErrPoolClosed
		}
		p.waiters.signal()
		return pc, nil
	}

	conn, err := p.factory.Open(ctx, p.Host)
	if err != nil {
		p.open.Add(-1)
		return nil, err
	}
	if ks := p.keyspace.Load(); ks != nil {
		if err := conn.SetKeyspace(ctx, *ks); err != nil {
			conn.Close()
			p.open.Add(-1)
			return nil, err
		}
	}
	pc := newPooledConn(conn)
	p.connections.add(pc)
	p.log.DEBUG("opened connection", "total", p.connections.len())

	if p.closed.Load() {
		p.connections.remove(pc)
		pc.Close()
		p.open.Add(-1)
		return nil, ErrPoolClosed
	}
	p.waiters.signal()
	return pc, nil
}

func (p *Pool) startCleanupLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cleanupCancel = cancel
	interval := p.Options.CleanupInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go p.cleanupLoop(ctx, interval)
}

// Borrow returns the least-busy connection with its inFlight already
// reserved via a CAS-incremented slot, opening new connections or parking
// the caller on the waiter park if none is immediately available. It
// returns ErrPoolClosed if the pool has started shutting down, and
// ErrTimeout if ctx expires first. The caller must call Return exactly
// once on whatever it gets back.
func (p *Pool) Borrow(ctx context.Context) (Connection, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	if p.connections.len() == 0 {
		// Can happen during initialization or under pathological races.
		// Submit core create tasks bypassing the throttle, then wait.
		core := p.Options.Distance.CoreConnections
		for i := 0; i < core; i++ {
			go p.createConnection(context.Background())
		}
		return p.waitForConnection(ctx)
	}

	if pc, ok := p.reserveLeastBusy(); ok {
		p.afterReserve(pc)
		return pc.Connection, nil
	}

	// The candidate we found was saturated, or there was no candidate at
	// all (raced with shutdown/eviction). Either way: do not retry
	// selection, go straight to the wait loop.
	return p.waitForConnection(ctx)
}

// reserveLeastBusy scans the live connection set for the one with the
// smallest InFlight (tie-break: first seen) and attempts to CAS-reserve a
// stream slot on it. It returns ok=false if there is no usable candidate,
// or if the candidate it found turned out to be saturated.
func (p *Pool) reserveLeastBusy() (*pooledConn, bool) {
	conns := p.connections.snapshot()
	var best *pooledConn
	bestBusy := -1
	for _, c := range conns {
		if c.state.load() != stateOpen {
			continue
		}
		if c.IsDefunct() || c.IsClosed() {
			continue
		}
		b := c.InFlight()
		if best == nil || b < bestBusy {
			best, bestBusy = c, b
		}
	}
	if best == nil {
		return nil, false
	}
	if !best.Connection.Reserve() {
		return nil, false
	}
	return best, true
}

// waitForConnection parks the caller until a slot frees up, the pool
// closes, or ctx expires, re-scanning and re-attempting reservation on
// every wakeup rather than trusting anything computed before the wait.
func (p *Pool) waitForConnection(ctx context.Context) (Connection, error) {
	for {
		if p.closed.Load() {
			return nil, ErrPoolClosed
		}

		tok := p.waiters.token()
		// Re-check after taking the token: a connection may have become
		// available between the scan in Borrow (or the previous
		// iteration) and here.
		if pc, ok := p.reserveLeastBusy(); ok {
			p.afterReserve(pc)
			return pc.Connection, nil
		}

		p.waiters.enter()
		err := wait(ctx, tok, p.closeFn.Done())
		p.waiters.leave()
		if err != nil {
			if err == ErrPoolClosed {
				return nil, ErrPoolClosed
			}
			return nil, ErrTimeout
		}
		// Loop around: re-scan from scratch. The growth heuristic, if it
		// fires, is evaluated again on fresh counters after this wait,
		// never reusing anything computed before it.
	}
}

// afterReserve runs the bookkeeping a successful reservation triggers:
// counting it into totalInFlight/maxTotalInFlight, possibly triggering
// growth, and propagating the pool's current keyspace.
func (p *Pool) afterReserve(pc *pooledConn) {
	total := p.totalInFlight.Add(1)
	for {
		cur := p.maxTotalInFlight.Load()
		if total <= cur {
			break
		}
		if p.maxTotalInFlight.CompareAndSwap(cur, total) {
			break
		}
	}

	p.maybeGrow()

	if ks := p.keyspace.Load(); ks != nil {
		if err := pc.SetKeyspace(context.Background(), *ks); err != nil {
			p.log.WARN("failed to propagate keyspace to borrowed connection", "err", err)
		}
	}
}

// Return gives a connection back to the pool after a request on it
// finishes.
func (p *Pool) Return(c Connection) {
	c.Release()
	p.totalInFlight.Add(-1)

	pc := p.find(c)
	if pc == nil {
		return
	}

	if p.closed.Load() {
		pc.Close()
		return
	}
	if pc.IsDefunct() {
		// Defunct handling already ran (or will, via
		// ReplaceDefunctConnection); nothing more to do here.
		return
	}

	if pc.state.load() != stateTrashed {
		if pc.MaxAvailableStreams() < MinAvailableStreams {
			if p.trashForStreamLeak(pc) {
				return
			}
		}
	}
	p.waiters.signal()
}

func (p *Pool) find(c Connection) *pooledConn {
	for _, pc := range p.connections.snapshot() {
		if pc.Connection == c {
			return pc
		}
	}
	return nil
}

// evict removes a connection from the live set (or the trash, wherever it
// is), closes it, and rolls back open. Used when a connection created or
// resurrected by createConnection turns out to have lost a race against
// shutdown.
func (p *Pool) evict(pc *pooledConn) {
	if p.connections.remove(pc) || p.trash.remove(pc) {
		pc.state.v.Store(int32(stateGone))
		pc.Close()
		p.open.Add(-1)
		p.waiters.signal()
	}
}

// ReplaceDefunctConnection is the downward signal a Connection
// implementation (or whatever layer notices a request failed against one)
// calls once a connection can no longer serve requests. It is idempotent
// under concurrent invocation: only the caller that wins the OPEN->GONE
// transition does anything.
func (p *Pool) ReplaceDefunctConnection(c Connection) {
	pc := p.find(c)
	if pc == nil {
		return
	}
	if !pc.state.compareAndSwap(stateOpen, stateGone) {
		return
	}
	p.open.Add(-1)
	p.connections.remove(pc)
	p.log.WARN("replacing defunct connection", "remaining", p.connections.len())
	go pc.Close()
	p.spawnNewConnection()
	p.waiters.signal()
}

// SetKeyspace propagates a keyspace change to every live connection and
// remembers it so connections opened or resurrected afterward pick it up
// too.
func (p *Pool) SetKeyspace(ctx context.Context, keyspace string) error {
	ks := keyspace
	p.keyspace.Store(&ks)
	for _, pc := range p.connections.snapshot() {
		if pc.state.load() != stateOpen {
			continue
		}
		if err := pc.SetKeyspace(ctx, keyspace); err != nil {
			return err
		}
	}
	return nil
}

// Size reports how many connections are currently in the live set.
func (p *Pool) Size() int {
	return p.connections.len()
}

// Opened reports the pool's current open counter: connections counted as
// serving, including ones mid-creation or mid-resurrection.
func (p *Pool) Opened() int {
	return int(p.open.Load())
}

// Trashed reports how many connections currently sit in the trash,
// retained for possible resurrection.
func (p *Pool) Trashed() int {
	return p.trash.len()
}

// IsClosed reports whether CloseAsync has been called.
func (p *Pool) IsClosed() bool {
	return p.closed.Load()
}

// CloseAsync begins shutting the pool down: no further Borrow calls will
// succeed, every parked waiter is released with ErrPoolClosed, and every
// live and trashed connection is closed. It returns immediately; use the
// returned future's Wait to block for completion. CloseAsync is idempotent
// and safe to call more than once or concurrently.
func (p *Pool) CloseAsync() *closeFuture {
	if p.closed.CompareAndSwap(false, true) {
		go p.drainAndClose()
	}
	return p.closeFn
}

func (p *Pool) drainAndClose() {
	if p.cleanupCancel != nil {
		p.cleanupCancel()
	}
	p.waiters.signal()

	var firstErr error
	for _, pc := range p.connections.drain() {
		if pc.state.compareAndSwap(stateOpen, stateGone) {
			p.open.Add(-1)
		}
		if err := pc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, pc := range p.trash.drain() {
		if err := pc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.closeFn.complete(firstErr)
}

// Close closes the pool and blocks until teardown finishes.
func (p *Pool) Close() error {
	return p.CloseAsync().Wait()
}
