package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/drivercore/hostpool/hostdistance"
)

// fakeConn is a Connection whose behavior the test controls directly,
// instead of driving real I/O. max is its stream-ID budget: the ceiling
// Reserve checks InFlight against, not a "remaining capacity" figure.
type fakeConn struct {
	inFlight atomic.Int32
	max      int32
	defunct  atomic.Bool
	closed   atomic.Bool
}

func newFakeConn(max int32) *fakeConn {
	return &fakeConn{max: max}
}

func (c *fakeConn) InFlight() int { return int(c.inFlight.Load()) }

func (c *fakeConn) MaxAvailableStreams() int {
	if c.defunct.Load() || c.closed.Load() {
		return 0
	}
	return int(c.max)
}

func (c *fakeConn) Reserve() bool {
	if c.defunct.Load() || c.closed.Load() {
		return false
	}
	for {
		cur := c.inFlight.Load()
		if cur >= c.max {
			return false
		}
		if c.inFlight.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (c *fakeConn) Release() { c.inFlight.Add(-1) }

func (c *fakeConn) IsDefunct() bool { return c.defunct.Load() }
func (c *fakeConn) IsClosed() bool  { return c.closed.Load() }
func (c *fakeConn) SetKeyspace(ctx context.Context, keyspace string) error {
	return nil
}
func (c *fakeConn) Close() error { c.closed.Store(true); return nil }

// saturate reserves slots on c until it refuses, leaving it fully busy
// regardless of what its budget happens to be.
func saturate(c *fakeConn) {
	for c.Reserve() {
	}
}

type fakeFactory struct {
	mu       sync.Mutex
	max      int32
	opened   []*fakeConn
	failNext bool
}

func (f *fakeFactory) Open(ctx context.Context, host string) (Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return nil, &AuthenticationError{Host: host, Err: context.DeadlineExceeded}
	}
	c := newFakeConn(f.max)
	f.opened = append(f.opened, c)
	return c, nil
}

// conns returns a snapshot of everything this factory has opened so far,
// safe to call from a goroutine other than the one driving Borrow/Init.
func (f *fakeFactory) conns() []*fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*fakeConn, len(f.opened))
	copy(out, f.opened)
	return out
}

func testOptions() Options {
	opts := DefaultOptionsFor(hostdistance.Local)
	opts.Distance.CoreConnections = 2
	opts.Distance.MaxConnections = 4
	opts.Distance.MaxRequestsPerConn = 10
	opts.Distance.NewConnectionThreshold = 5
	opts.MaxStreamPerConnection = 128
	opts.CleanupInterval = 20 * time.Millisecond
	opts.IdleTimeout = 10 * time.Millisecond
	return opts
}

func TestInitOpensCoreConnections(t *testing.T) {
	factory := &fakeFactory{max: 128}
	p := New("h1", hostdistance.Local, testOptions(), factory, nil)
	defer p.Close()

	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if got := p.Size(); got != 2 {
		t.Fatalf("expected 2 core connections, got %d", got)
	}
}

func TestBorrowReservesStreamSlot(t *testing.T) {
	factory := &fakeFactory{max: 128}
	p := New("h1", hostdistance.Local, testOptions(), factory, nil)
	defer p.Close()
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	got, err := p.Borrow(context.Background())
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	if got.InFlight() != 1 {
		t.Fatalf("expected Borrow to return a connection with its slot already reserved, InFlight=%d", got.InFlight())
	}

	p.Return(got)
	if got.InFlight() != 0 {
		t.Fatalf("expected Return to release the reserved slot, InFlight=%d", got.InFlight())
	}
}

func TestBorrowPicksLeastBusy(t *testing.T) {
	factory := &fakeFactory{max: 128}
	p := New("h1", hostdistance.Local, testOptions(), factory, nil)
	defer p.Close()
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	conns := factory.conns()
	conns[0].Reserve()
	conns[0].Reserve()

	got, err := p.Borrow(context.Background())
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	if got != Connection(conns[1]) {
		t.Fatalf("expected the idler connection to be borrowed")
	}
}

func TestBorrowReturnsErrPoolClosed(t *testing.T) {
	factory := &fakeFactory{max: 128}
	p := New("h1", hostdistance.Local, testOptions(), factory, nil)
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := p.Borrow(context.Background()); err != ErrPoolClosed {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
}

func TestBorrowTimesOut(t *testing.T) {
	opts := testOptions()
	opts.Distance.CoreConnections = 1
	opts.Distance.MaxConnections = 1
	factory := &fakeFactory{max: 128}
	p := New("h1", hostdistance.Local, opts, factory, nil)
	defer p.Close()
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	saturate(factory.conns()[0]) // the only connection, and the pool is at max

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := p.Borrow(ctx); err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestReturnWakesParkedBorrow(t *testing.T) {
	opts := testOptions()
	opts.Distance.CoreConnections = 1
	opts.Distance.MaxConnections = 1
	factory := &fakeFactory{max: 128}
	p := New("h1", hostdistance.Local, opts, factory, nil)
	defer p.Close()
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	conn := factory.conns()[0]
	saturate(conn)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := p.Borrow(ctx)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	p.Return(conn) // frees exactly one of the reserved slots

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Borrow: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Borrow never woke up after Return")
	}
}

func TestReturnReplacesStreamLeakedConnection(t *testing.T) {
	opts := testOptions()
	opts.Distance.CoreConnections = 1
	opts.Distance.MaxConnections = 2
	factory := &fakeFactory{max: 10} // budget under MinAvailableStreams: every connection counts as leaking
	p := New("h1", hostdistance.Local, opts, factory, nil)
	defer p.Close()
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	conn := factory.conns()[0]
	got, err := p.Borrow(context.Background())
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	if got != Connection(conn) {
		t.Fatalf("expected to borrow the only connection")
	}
	p.Return(got)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && p.find(conn) != nil {
		time.Sleep(5 * time.Millisecond)
	}
	if p.find(conn) != nil {
		t.Fatalf("expected the stream-starved connection to be trashed")
	}

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) && p.Size() != 1 {
		time.Sleep(5 * time.Millisecond)
	}
	if p.Size() != 1 {
		t.Fatalf("expected a replacement connection to be opened, size=%d", p.Size())
	}
}

func TestGrowthTriggersOnSustainedLoad(t *testing.T) {
	opts := testOptions()
	opts.Distance.CoreConnections = 1
	opts.Distance.MaxConnections = 3
	opts.Distance.NewConnectionThreshold = 5
	opts.MaxStreamPerConnection = 10
	factory := &fakeFactory{max: 128}
	p := New("h1", hostdistance.Local, opts, factory, nil)
	defer p.Close()
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	// capacity with 1 connection is (1-1)*10+5 = 5; the 6th reservation
	// pushes totalInFlight past that and should trigger growth.
	for i := 0; i < 6; i++ {
		if _, err := p.Borrow(context.Background()); err != nil {
			t.Fatalf("Borrow #%d: %v", i, err)
		}
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && p.Size() != 2 {
		time.Sleep(5 * time.Millisecond)
	}
	if p.Size() != 2 {
		t.Fatalf("expected sustained load to grow the pool to 2 connections, got %d", p.Size())
	}
}

func TestCleanupIdleConnectionsShrinksToLoad(t *testing.T) {
	opts := testOptions()
	opts.Distance.CoreConnections = 1
	opts.Distance.MaxConnections = 4
	opts.MaxStreamPerConnection = 10
	opts.Distance.NewConnectionThreshold = 5
	opts.IdleTimeout = time.Hour // keep the shrink path from also reaping trash this tick
	factory := &fakeFactory{max: 128}
	p := New("h1", hostdistance.Local, opts, factory, nil)
	defer p.Close()
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if _, err := p.createConnection(context.Background()); err != nil {
		t.Fatalf("createConnection: %v", err)
	}
	if _, err := p.createConnection(context.Background()); err != nil {
		t.Fatalf("createConnection: %v", err)
	}
	if p.Size() != 3 {
		t.Fatalf("expected 3 connections before shrink, got %d", p.Size())
	}

	// Recent load only needs 1 connection's worth of streams.
	p.maxTotalInFlight.Store(4)
	p.CleanupIdleConnections(time.Now())

	if p.Size() != 1 {
		t.Fatalf("expected shrink to trim back to core (1), got %d", p.Size())
	}
	if p.Trashed() != 2 {
		t.Fatalf("expected 2 connections moved to trash, got %d", p.Trashed())
	}
}

func TestCleanupIdleConnectionsReapsExpiredTrash(t *testing.T) {
	opts := testOptions()
	opts.Distance.CoreConnections = 1
	opts.Distance.MaxConnections = 4
	opts.Distance.NewConnectionThreshold = 5
	opts.IdleTimeout = time.Minute
	factory := &fakeFactory{max: 128}
	p := New("h1", hostdistance.Local, opts, factory, nil)
	defer p.Close()
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if _, err := p.createConnection(context.Background()); err != nil {
		t.Fatalf("createConnection: %v", err)
	}

	now := time.Now()
	p.maxTotalInFlight.Store(0) // no recent load: shrink trims back to core
	p.CleanupIdleConnections(now)
	if p.Trashed() != 1 {
		t.Fatalf("expected the extra connection to be trashed, got %d", p.Trashed())
	}

	// Not yet past the idle timeout: still sitting in trash.
	p.CleanupIdleConnections(now.Add(30 * time.Second))
	if p.Trashed() != 1 {
		t.Fatalf("expected the trashed connection to survive before its idle timeout, got %d", p.Trashed())
	}

	// Past the idle timeout: reaped for good.
	p.CleanupIdleConnections(now.Add(2 * time.Minute))
	if p.Trashed() != 0 {
		t.Fatalf("expected the trashed connection to be reaped after its idle timeout, got %d", p.Trashed())
	}
}

func TestResurrectionPicksLargestMaxIdleTime(t *testing.T) {
	opts := testOptions()
	opts.Distance.CoreConnections = 1
	opts.Distance.MaxConnections = 3
	factory := &fakeFactory{max: 128}
	p := New("h1", hostdistance.Local, opts, factory, nil)
	defer p.Close()
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	older, err := p.createConnection(context.Background())
	if err != nil {
		t.Fatalf("createConnection: %v", err)
	}
	newer, err := p.createConnection(context.Background())
	if err != nil {
		t.Fatalf("createConnection: %v", err)
	}

	now := nowNano()
	if !p.trashConnection(older, now) {
		t.Fatalf("expected the older connection to be trashed")
	}
	older.maxIdleTime.Store(now + int64(time.Second))
	if !p.trashConnection(newer, now) {
		t.Fatalf("expected the newer connection to be trashed")
	}
	newer.maxIdleTime.Store(now + int64(time.Minute))

	pc, ok := p.tryResurrect()
	if !ok {
		t.Fatalf("expected a trashed connection to be resurrected")
	}
	if pc != newer {
		t.Fatalf("expected resurrection to pick the connection with the largest maxIdleTime")
	}
}

func TestEnsureCoreConnectionsTopsUp(t *testing.T) {
	opts := testOptions()
	opts.Distance.CoreConnections = 3
	opts.Distance.MaxConnections = 5
	factory := &fakeFactory{max: 128}
	p := New("h1", hostdistance.Ignored, opts, factory, nil)
	defer p.Close()
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if p.Size() != 0 {
		t.Fatalf("expected an ignored-distance pool to open nothing on Init, got %d", p.Size())
	}

	p.EnsureCoreConnections()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && p.Opened() != 3 {
		time.Sleep(5 * time.Millisecond)
	}
	if p.Opened() != 3 {
		t.Fatalf("expected EnsureCoreConnections to top up to core, got open=%d", p.Opened())
	}
}

func TestOpenedAndTrashedCounters(t *testing.T) {
	opts := testOptions()
	opts.Distance.CoreConnections = 1
	opts.Distance.MaxConnections = 3
	factory := &fakeFactory{max: 128}
	p := New("h1", hostdistance.Local, opts, factory, nil)
	defer p.Close()
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if p.Opened() != 1 || p.Trashed() != 0 {
		t.Fatalf("expected open=1 trashed=0 after Init, got open=%d trashed=%d", p.Opened(), p.Trashed())
	}

	extra, err := p.createConnection(context.Background())
	if err != nil {
		t.Fatalf("createConnection: %v", err)
	}
	if p.Opened() != 2 {
		t.Fatalf("expected open=2 after manually adding a connection, got %d", p.Opened())
	}

	if !p.trashConnection(extra, nowNano()) {
		t.Fatalf("expected the extra connection to trash")
	}
	if p.Opened() != 1 || p.Trashed() != 1 {
		t.Fatalf("expected open=1 trashed=1 after trashing, got open=%d trashed=%d", p.Opened(), p.Trashed())
	}
}

func TestDefunctConnectionIsEvictedAndReplaced(t *testing.T) {
	factory := &fakeFactory{max: 128}
	p := New("h1", hostdistance.Local, testOptions(), factory, nil)
	defer p.Close()
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	bad := factory.conns()[0]
	bad.defunct.Store(true)
	p.ReplaceDefunctConnection(bad)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && p.find(bad) != nil {
		time.Sleep(5 * time.Millisecond)
	}
	if p.find(bad) != nil {
		t.Fatalf("expected defunct connection to be evicted from the live set")
	}

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) && p.Size() != 2 {
		time.Sleep(5 * time.Millisecond)
	}
	if p.Size() != 2 {
		t.Fatalf("expected the defunct connection to be replaced, got size %d", p.Size())
	}
}

func TestCloseAsyncIsIdempotent(t *testing.T) {
	factory := &fakeFactory{max: 128}
	p := New("h1", hostdistance.Local, testOptions(), factory, nil)
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	f1 := p.CloseAsync()
	f2 := p.CloseAsync()
	if f1 != f2 {
		t.Fatalf("expected CloseAsync to return the same future both times")
	}
	if err := f1.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	for _, c := range factory.conns() {
		if !c.IsClosed() {
			t.Fatalf("expected every connection to be closed after shutdown")
		}
	}
}

func TestInitFatalAuthErrorStopsEarly(t *testing.T) {
	opts := testOptions()
	opts.Distance.CoreConnections = 2
	factory := &fakeFactory{max: 128, failNext: true}
	p := New("h1", hostdistance.Local, opts, factory, nil)
	defer p.Close()

	err := p.Init(context.Background())
	if err == nil {
		t.Fatal("expected Init to return the fatal auth error")
	}
	if !isFatalOpenError(err) {
		t.Fatalf("expected a fatal open error, got %v (%T)", err, err)
	}
	if got := len(factory.conns()); got != 0 {
		t.Fatalf("expected Init to stop after the fatal error, but %d more connections were opened", got)
	}
}
