package pool

import (
	"context"
	"sync"
	"sync/atomic"
)

// waiterPark lets Borrow calls that found every connection full sleep
// until something changes (a connection returns, grows in, or the pool
// closes) instead of busy-spinning. It gives no ordering guarantee between
// waiters: like the Java pool's signalAvailableConnection, whichever
// waiter wakes up first just re-checks the world and races for a slot, so
// this is not a fair queue.
//
// It's built on the broadcast-channel idiom rather than sync.Cond so a
// waiter can select on ctx.Done() and the pool's closeFuture at the same
// time as the wakeup, instead of needing a second goroutine to translate
// cond.Wait into something selectable.
type waiterPark struct {
	mu      sync.Mutex
	waiting atomic.Int32
	wake    chan struct{}
}

func newWaiterPark() *waiterPark {
	return &waiterPark{wake: make(chan struct{})}
}

// token captures the current generation to wait on. Call it once before
// deciding there's nothing available, then pass it to wait: anything that
// happened before token() was called is visible to the subsequent
// re-check, and anything that happens after is caught by the channel it
// returns.
func (p *waiterPark) token() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.wake
}

// signal wakes every goroutine currently parked on a token.
func (p *waiterPark) signal() {
	p.mu.Lock()
	old := p.wake
	p.wake = make(chan struct{})
	p.mu.Unlock()
	close(old)
}

// waiterCount reports how many goroutines are currently parked, for
// diagnostics; the elastic-sizing heuristic does not consult it.
func (p *waiterPark) waiterCount() int32 {
	return p.waiting.Load()
}

func (p *waiterPark) enter() { p.waiting.Add(1) }
func (p *waiterPark) leave() { p.waiting.Add(-1) }

// wait blocks until tok fires, ctx is done, or closed resolves.
func wait(ctx context.Context, tok <-chan struct{}, closed <-chan struct{}) error {
	select {
	case <-tok:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-closed:
		return ErrPoolClosed
	}
}
