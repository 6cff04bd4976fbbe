package pool

import (
	"context"
	"math"
	"time"

	"github.com/drivercore/hostpool/hostdistance"
)

func nowNano() int64 { return time.Now().UnixNano() }

// maybeGrow implements the growth trigger from the borrow path: after
// reserving a slot, if there's still room under max, compute the current
// connection set's capacity as (connectionCount-1)*MaxStreamPerConnection +
// NewConnectionThreshold. If totalInFlight has exceeded that, spawn one
// more connection. The intent: start a new connection once the existing
// ones are full and the last one added is closing in on its own
// threshold.
func (p *Pool) maybeGrow() {
	if p.closed.Load() {
		return
	}
	if p.Distance == hostdistance.Ignored {
		return
	}
	max := int64(p.Options.Distance.MaxConnections)
	if int64(p.open.Load())+int64(p.scheduledForCreation.Load()) >= max {
		return
	}

	n := int64(p.connections.len())
	capacity := (n-1)*int64(p.Options.MaxStreamPerConnection) + int64(p.Options.Distance.NewConnectionThreshold)
	if p.totalInFlight.Load() > capacity {
		p.spawnNewConnection()
	}
}

// spawnNewConnection submits a create task, subject to the
// MaxSimultaneousCreation throttle (a single CAS-guarded flag, since the
// throttle is always 1).
func (p *Pool) spawnNewConnection() {
	if !p.scheduledForCreation.CompareAndSwap(0, 1) {
		return
	}
	go func() {
		defer p.scheduledForCreation.Store(0)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := p.createConnection(ctx); err != nil && err != errAtMaxConnections {
			p.log.WARN("failed to grow pool", "err", err)
		}
	}()
}

// EnsureCoreConnections is a best-effort top-up: for each slot still
// missing between the current open count and core, it submits a create
// task bypassing the MaxSimultaneousCreation throttle. Meant to be called
// by a host-discovery layer on a hosts-up notification.
func (p *Pool) EnsureCoreConnections() {
	if p.closed.Load() {
		return
	}
	missing := p.Options.Distance.CoreConnections - int(p.open.Load())
	for i := 0; i < missing; i++ {
		p.scheduledForCreation.Add(1)
		go func() {
			defer p.scheduledForCreation.Add(-1)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := p.createConnection(ctx); err != nil && err != errAtMaxConnections {
				p.log.WARN("ensureCoreConnections: failed to open connection", "err", err)
			}
		}()
	}
}

// tryResurrect selects, from a snapshot of trash, the connection with the
// largest maxIdleTime that is still greater than now and whose
// MaxAvailableStreams exceeds MinAvailableStreams — the most-recently
// trashed healthy connection, on the theory that it's still warm. It
// retries the whole selection if it loses the CAS race to move its pick
// into Resurrecting, since another goroutine (the reaper, or another
// createConnection) may have gotten there first.
func (p *Pool) tryResurrect() (*pooledConn, bool) {
	now := nowNano()
	var best *pooledConn
	var bestDeadline int64 = math.MinInt64
	for _, pc := range p.trash.snapshot() {
		if pc.state.load() != stateTrashed {
			continue
		}
		deadline := pc.maxIdleTime.Load()
		if deadline <= now {
			continue
		}
		if pc.MaxAvailableStreams() <= MinAvailableStreams {
			continue
		}
		if deadline > bestDeadline {
			best, bestDeadline = pc, deadline
		}
	}
	if best == nil {
		return nil, false
	}

	if !best.state.compareAndSwap(stateTrashed, stateResurrecting) {
		return p.tryResurrect()
	}
	if best.IsDefunct() || best.IsClosed() {
		best.state.v.Store(int32(stateGone))
		p.trash.remove(best)
		return p.tryResurrect()
	}
	best.state.v.Store(int32(stateOpen))
	p.trash.remove(best)
	p.connections.add(best)
	p.log.DEBUG("resurrected trashed connection")
	return best, true
}

func (p *Pool) cleanupLoop(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.CleanupIdleConnections(time.Now())
		}
	}
}

// CleanupIdleConnections is the external periodic tick: shrink the live
// set back toward recently observed load, then reap any trashed
// connections whose idle window has expired. A host-discovery layer (or a
// test, for deterministic control over trash expiry) drives this by
// calling it directly with an arbitrary wall-clock time; the background
// cleanup loop is just a convenience caller of the same method.
func (p *Pool) CleanupIdleConnections(now time.Time) {
	nowNs := now.UnixNano()
	p.shrinkToLoad(nowNs)
	p.cleanupTrash(nowNs)
}

// shrinkToLoad reads and resets maxTotalInFlight, computes how many
// connections that load actually needs, and trashes the excess.
func (p *Pool) shrinkToLoad(now int64) {
	currentLoad := p.maxTotalInFlight.Swap(0)
	needed := neededConnections(currentLoad, int64(p.Options.MaxStreamPerConnection), p.Options.Distance.NewConnectionThreshold, p.Options.Distance.CoreConnections)

	excess := int(p.open.Load()) - needed
	if excess <= 0 {
		return
	}

	for _, c := range p.connections.snapshot() {
		if excess <= 0 {
			break
		}
		if c.state.load() != stateOpen {
			continue
		}
		if p.trashConnection(c, now) {
			excess--
		}
	}
}

// neededConnections is shrinkIfBelowCapacity's sizing formula: the
// ceiling of load/perConn, plus one more if the remainder left over by
// that division still exceeds newConnectionThreshold, floored at core.
func neededConnections(load, perConn int64, newConnectionThreshold, core int) int {
	if perConn <= 0 {
		return core
	}
	full := load / perConn
	rem := load % perConn
	needed := full
	if rem > 0 {
		needed++
	}
	if rem > int64(newConnectionThreshold) {
		needed++
	}
	if int(needed) < core {
		return core
	}
	return int(needed)
}

// trashConnection is the shrink path's eviction primitive: CAS OPEN to
// TRASHED, then CAS-decrement open but only if it would stay at or above
// core — otherwise it reverts the state and refuses, since taking the
// pool below core isn't this path's call to make.
func (p *Pool) trashConnection(pc *pooledConn, now int64) bool {
	if !pc.state.compareAndSwap(stateOpen, stateTrashed) {
		return false
	}

	core := int32(p.Options.Distance.CoreConnections)
	for {
		cur := p.open.Load()
		if cur-1 < core {
			pc.state.v.Store(int32(stateOpen))
			return false
		}
		if p.open.CompareAndSwap(cur, cur-1) {
			break
		}
	}

	pc.maxIdleTime.Store(now + p.Options.IdleTimeout.Nanoseconds())
	p.connections.remove(pc)
	p.trash.add(pc)
	p.log.DEBUG("trashed connection", "open", p.open.Load())
	return true
}

// trashForStreamLeak is the return-path replacement from the stream-leak
// guard: unlike trashConnection, it always decrements open (the pool is
// compensating by scheduling a replacement immediately, not trying to
// shrink) and forces maxIdleTime into the past so the very next cleanup
// tick reaps it rather than waiting out the full idle timeout.
func (p *Pool) trashForStreamLeak(pc *pooledConn) bool {
	if !pc.state.compareAndSwap(stateOpen, stateTrashed) {
		return false
	}
	p.open.Add(-1)
	pc.maxIdleTime.Store(math.MinInt64)
	p.connections.remove(pc)
	p.trash.add(pc)
	p.log.WARN("replacing connection with leaked streams", "available", pc.MaxAvailableStreams())
	p.spawnNewConnection()
	return true
}

// cleanupTrash closes every trashed connection whose maxIdleTime has
// passed. A connection with requests still draining (inFlight != 0) is
// reverted back to Trashed to retry on the next tick instead — expected
// to be rare, since idleTimeout is meant to dwarf any request timeout.
func (p *Pool) cleanupTrash(now int64) {
	for _, pc := range p.trash.snapshot() {
		if pc.maxIdleTime.Load() >= now {
			continue
		}
		if !pc.state.compareAndSwap(stateTrashed, stateGone) {
			continue
		}
		if pc.InFlight() == 0 {
			p.trash.remove(pc)
			pc.Close()
			p.log.DEBUG("reaped trashed connection")
		} else {
			pc.state.v.Store(int32(stateTrashed))
		}
	}
}
