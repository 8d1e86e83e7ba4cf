package genpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// errFromFactory is a sentinel used to make a failing factory identifiable.
var errFromFactory = errors.New("factory failure")

// fakeFactory is a PooledObjectFactory backed by an incrementing counter, so
// tests can assert on exactly which instances were handed out.
type fakeFactory struct {
	mu          sync.Mutex
	next        int
	failMake    bool
	failOnN     int // MakeObject fails once created count reaches this value; 0 disables
	failDestroy bool
	destroyed   []int
}

func (f *fakeFactory) MakeObject() (*PooledObject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMake {
		return nil, errFromFactory
	}
	f.next++
	if f.failOnN != 0 && f.next >= f.failOnN {
		return nil, errFromFactory
	}
	return NewPooledObject(f.next), nil
}

func (f *fakeFactory) ActivateObject(*PooledObject) error { return nil }
func (f *fakeFactory) ValidateObject(*PooledObject) bool  { return true }
func (f *fakeFactory) PassivateObject(*PooledObject) error { return nil }
func (f *fakeFactory) DestroyObject(p *PooledObject, _ DestroyReason) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = append(f.destroyed, p.Object.(int))
	if f.failDestroy {
		return errFromFactory
	}
	return nil
}

func newTestPool(t *testing.T, cfg *ObjectPoolConfig) (*ObjectPool, *fakeFactory) {
	t.Helper()
	f := &fakeFactory{}
	p := New(f, cfg)
	t.Cleanup(p.Close)
	return p, f
}

func TestBorrowReturnRoundTrip(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t, NewDefaultPoolConfig())

	obj, err := p.Borrow(context.Background())
	if err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}
	if p.GetNumActive() != 1 {
		t.Fatalf("NumActive = %d, want 1", p.GetNumActive())
	}
	if err := p.Return(obj); err != nil {
		t.Fatalf("Return failed: %v", err)
	}
	if p.GetNumActive() != 0 || p.GetNumIdle() != 1 {
		t.Fatalf("after return: active=%d idle=%d, want 0/1", p.GetNumActive(), p.GetNumIdle())
	}
}

func TestBorrowOrderFIFO(t *testing.T) {
	t.Parallel()

	cfg := NewDefaultPoolConfig()
	cfg.Lifo = false
	cfg.MaxTotal = 3
	cfg.MaxIdle = 3
	p, _ := newTestPool(t, cfg)

	var borrowed []any
	for i := 0; i < 3; i++ {
		obj, err := p.Borrow(context.Background())
		if err != nil {
			t.Fatalf("Borrow %d failed: %v", i, err)
		}
		borrowed = append(borrowed, obj)
	}
	for _, obj := range borrowed {
		if err := p.Return(obj); err != nil {
			t.Fatalf("Return failed: %v", err)
		}
	}

	for i, want := range borrowed {
		got, err := p.Borrow(context.Background())
		if err != nil {
			t.Fatalf("re-borrow %d failed: %v", i, err)
		}
		if got != want {
			t.Errorf("FIFO re-borrow %d = %v, want %v", i, got, want)
		}
	}
}

func TestBorrowOrderLIFO(t *testing.T) {
	t.Parallel()

	cfg := NewDefaultPoolConfig()
	cfg.Lifo = true
	cfg.MaxTotal = 3
	cfg.MaxIdle = 3
	p, _ := newTestPool(t, cfg)

	var borrowed []any
	for i := 0; i < 3; i++ {
		obj, err := p.Borrow(context.Background())
		if err != nil {
			t.Fatalf("Borrow %d failed: %v", i, err)
		}
		borrowed = append(borrowed, obj)
	}
	for _, obj := range borrowed {
		if err := p.Return(obj); err != nil {
			t.Fatalf("Return failed: %v", err)
		}
	}

	for i := len(borrowed) - 1; i >= 0; i-- {
		got, err := p.Borrow(context.Background())
		if err != nil {
			t.Fatalf("re-borrow failed: %v", err)
		}
		if got != borrowed[i] {
			t.Errorf("LIFO re-borrow = %v, want %v", got, borrowed[i])
		}
	}
}

func TestBorrowExhaustedNonBlockingReturnsImmediately(t *testing.T) {
	t.Parallel()

	cfg := NewDefaultPoolConfig()
	cfg.MaxTotal = 1
	cfg.BlockWhenExhausted = false
	p, _ := newTestPool(t, cfg)

	if _, err := p.Borrow(context.Background()); err != nil {
		t.Fatalf("first Borrow failed: %v", err)
	}
	if _, err := p.Borrow(context.Background()); !errors.Is(err, ErrPoolExhausted) {
		t.Errorf("second Borrow error = %v, want ErrPoolExhausted", err)
	}
}

func TestBorrowWithTimeoutExpires(t *testing.T) {
	t.Parallel()

	cfg := NewDefaultPoolConfig()
	cfg.MaxTotal = 1
	p, _ := newTestPool(t, cfg)

	if _, err := p.Borrow(context.Background()); err != nil {
		t.Fatalf("first Borrow failed: %v", err)
	}

	start := time.Now()
	_, err := p.BorrowWithTimeout(context.Background(), 20*time.Millisecond)
	if !errors.Is(err, ErrPoolExhausted) {
		t.Errorf("timed-out Borrow error = %v, want ErrPoolExhausted", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("returned after %v, wanted at least the configured wait", elapsed)
	}
}

func TestBorrowUnblocksOnReturn(t *testing.T) {
	t.Parallel()

	cfg := NewDefaultPoolConfig()
	cfg.MaxTotal = 1
	p, _ := newTestPool(t, cfg)

	obj, err := p.Borrow(context.Background())
	if err != nil {
		t.Fatalf("first Borrow failed: %v", err)
	}

	var second any
	var secondErr error
	done := make(chan struct{})
	go func() {
		second, secondErr = p.Borrow(context.Background())
		close(done)
	}()

	time.Sleep(10 * time.Millisecond) // give the goroutine time to start waiting
	if err := p.Return(obj); err != nil {
		t.Fatalf("Return failed: %v", err)
	}

	select {
	case <-done:
		if secondErr != nil {
			t.Fatalf("blocked Borrow failed: %v", secondErr)
		}
		if second != obj {
			t.Errorf("blocked Borrow got %v, want the returned %v", second, obj)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked Borrow never unblocked after Return")
	}
}

func TestBorrowCancelledContext(t *testing.T) {
	t.Parallel()

	cfg := NewDefaultPoolConfig()
	cfg.MaxTotal = 1
	p, _ := newTestPool(t, cfg)

	if _, err := p.Borrow(context.Background()); err != nil {
		t.Fatalf("first Borrow failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Borrow(ctx); !errors.Is(err, ErrCancelled) {
		t.Errorf("Borrow with cancelled context error = %v, want ErrCancelled", err)
	}
}

func TestBorrowOnClosedPool(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t, NewDefaultPoolConfig())
	p.Close()

	if _, err := p.Borrow(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Borrow on closed pool error = %v, want ErrPoolClosed", err)
	}
}

func TestInvalidateDestroysAndFreesCapacity(t *testing.T) {
	t.Parallel()

	cfg := NewDefaultPoolConfig()
	cfg.MaxTotal = 1
	p, f := newTestPool(t, cfg)

	obj, err := p.Borrow(context.Background())
	if err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}
	if err := p.Invalidate(obj); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if p.GetNumActive() != 0 {
		t.Errorf("NumActive after Invalidate = %d, want 0", p.GetNumActive())
	}

	// Capacity should be free for a fresh create.
	if _, err := p.Borrow(context.Background()); err != nil {
		t.Fatalf("Borrow after Invalidate failed: %v", err)
	}

	f.mu.Lock()
	destroyed := append([]int(nil), f.destroyed...)
	f.mu.Unlock()
	if len(destroyed) != 1 || destroyed[0] != obj.(int) {
		t.Errorf("destroyed = %v, want [%v]", destroyed, obj)
	}
}

func TestClearDestroysIdleOnly(t *testing.T) {
	t.Parallel()

	cfg := NewDefaultPoolConfig()
	cfg.MaxTotal = 2
	cfg.MaxIdle = 2
	p, f := newTestPool(t, cfg)

	idle, err := p.Borrow(context.Background())
	if err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}
	active, err := p.Borrow(context.Background())
	if err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}
	if err := p.Return(idle); err != nil {
		t.Fatalf("Return failed: %v", err)
	}

	p.Clear()

	if p.GetNumIdle() != 0 {
		t.Errorf("NumIdle after Clear = %d, want 0", p.GetNumIdle())
	}
	if p.GetNumActive() != 1 {
		t.Errorf("NumActive after Clear = %d, want 1 (the still-borrowed object)", p.GetNumActive())
	}
	if errs := p.LastDrainErrors(); len(errs) != 0 {
		t.Errorf("LastDrainErrors = %v, want none", errs)
	}

	f.mu.Lock()
	destroyedIdle := len(f.destroyed) == 1 && f.destroyed[0] == idle.(int)
	f.mu.Unlock()
	if !destroyedIdle {
		t.Errorf("expected only the idle object to be destroyed by Clear")
	}

	if err := p.Return(active); err != nil {
		t.Fatalf("returning the still-active object failed: %v", err)
	}
}

func TestCloseDrainsAndRejectsBorrow(t *testing.T) {
	t.Parallel()

	p, f := newTestPool(t, NewDefaultPoolConfig())

	obj, err := p.Borrow(context.Background())
	if err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}
	if err := p.Return(obj); err != nil {
		t.Fatalf("Return failed: %v", err)
	}

	p.Close()

	if !p.IsClosed() {
		t.Fatal("IsClosed = false after Close")
	}
	if _, err := p.Borrow(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Borrow after Close error = %v, want ErrPoolClosed", err)
	}

	f.mu.Lock()
	n := len(f.destroyed)
	f.mu.Unlock()
	if n != 1 {
		t.Errorf("destroyed count after Close = %d, want 1", n)
	}

	// Close is idempotent.
	p.Close()
}

func TestMakeObjectErrorPropagates(t *testing.T) {
	t.Parallel()

	f := &fakeFactory{failMake: true}
	p := New(f, NewDefaultPoolConfig())
	defer p.Close()

	_, err := p.Borrow(context.Background())
	var factoryErr *FactoryCreateError
	if !errors.As(err, &factoryErr) {
		t.Fatalf("Borrow error = %v, want *FactoryCreateError", err)
	}
	if !errors.Is(err, errFromFactory) {
		t.Errorf("Borrow error chain does not contain errFromFactory: %v", err)
	}
}

func TestEvictorRemovesIdleOlderThanThreshold(t *testing.T) {
	t.Parallel()

	cfg := NewDefaultPoolConfig()
	cfg.MaxTotal = 5
	cfg.MaxIdle = 5
	cfg.MinEvictableIdleDuration = 5 * time.Millisecond
	cfg.NumTestsPerEvictionRun = 5
	p, f := newTestPool(t, cfg)

	obj, err := p.Borrow(context.Background())
	if err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}
	if err := p.Return(obj); err != nil {
		t.Fatalf("Return failed: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	p.evict()

	if p.GetNumIdle() != 0 {
		t.Errorf("NumIdle after evict = %d, want 0", p.GetNumIdle())
	}
	f.mu.Lock()
	n := len(f.destroyed)
	f.mu.Unlock()
	if n != 1 {
		t.Errorf("destroyed count after evict = %d, want 1", n)
	}
}

func TestEvictorKeepsSoftMinIdleFloor(t *testing.T) {
	t.Parallel()

	cfg := NewDefaultPoolConfig()
	cfg.MaxTotal = 5
	cfg.MaxIdle = 5
	cfg.MinIdle = 1
	cfg.SoftMinEvictableIdleDuration = 5 * time.Millisecond
	cfg.MinEvictableIdleDuration = 0
	cfg.NumTestsPerEvictionRun = 5
	p, _ := newTestPool(t, cfg)

	var objs []any
	for i := 0; i < 2; i++ {
		o, err := p.Borrow(context.Background())
		if err != nil {
			t.Fatalf("Borrow failed: %v", err)
		}
		objs = append(objs, o)
	}
	for _, o := range objs {
		if err := p.Return(o); err != nil {
			t.Fatalf("Return failed: %v", err)
		}
	}

	time.Sleep(10 * time.Millisecond)
	p.evict()

	if p.GetNumIdle() != cfg.MinIdle {
		t.Errorf("NumIdle after soft-min evict = %d, want %d (the floor)", p.GetNumIdle(), cfg.MinIdle)
	}
}

func TestAbandonedObjectReclaimedOnMaintenance(t *testing.T) {
	t.Parallel()

	cfg := NewDefaultPoolConfig()
	cfg.MaxTotal = 1
	p, f := newTestPool(t, cfg)

	var reports int32
	p.SetAbandonedConfig(&AbandonedConfig{
		RemoveAbandonedOnMaintenance: true,
		RemoveAbandonedTimeout:       5 * time.Millisecond,
		LogAbandoned:                 true,
		Sink: abandonedReportSinkFunc(func(AbandonedReport) {
			atomic.AddInt32(&reports, 1)
		}),
	})

	obj, err := p.Borrow(context.Background())
	if err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	p.removeAbandoned(p.getAbandonedConfig())

	if atomic.LoadInt32(&reports) != 1 {
		t.Errorf("reports = %d, want 1", reports)
	}
	f.mu.Lock()
	n := len(f.destroyed)
	f.mu.Unlock()
	if n != 1 {
		t.Errorf("destroyed count after sweep = %d, want 1", n)
	}

	// The borrower can still voluntarily return the now-reclaimed object
	// without error; the pool treats it as already gone.
	if err := p.Return(obj); err != nil {
		t.Errorf("late Return of a swept object failed: %v", err)
	}
}

// abandonedReportSinkFunc adapts a plain func to AbandonedReportSink.
type abandonedReportSinkFunc func(AbandonedReport)

func (f abandonedReportSinkFunc) Report(r AbandonedReport) { f(r) }

// swallowedErrorListenerFunc adapts a plain func to SwallowedErrorListener.
type swallowedErrorListenerFunc func(error)

func (f swallowedErrorListenerFunc) SwallowedError(err error) { f(err) }

func TestStatsReflectsBorrowAndInvalidate(t *testing.T) {
	t.Parallel()

	cfg := NewDefaultPoolConfig()
	cfg.MaxTotal = 2
	p, _ := newTestPool(t, cfg)

	a, err := p.Borrow(context.Background())
	if err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}
	if _, err := p.Borrow(context.Background()); err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}

	stats := p.Stats()
	if stats.NumActive != 2 || stats.CreatedCount != 2 {
		t.Fatalf("Stats = %+v, want NumActive=2 CreatedCount=2", stats)
	}

	if err := p.Invalidate(a); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	stats = p.Stats()
	if stats.NumActive != 1 || stats.DestroyedCount != 1 {
		t.Fatalf("Stats after Invalidate = %+v, want NumActive=1 DestroyedCount=1", stats)
	}
}

func TestSwallowedErrorListenerReceivesDestroyFailures(t *testing.T) {
	t.Parallel()

	p, f := newTestPool(t, NewDefaultPoolConfig())
	f.failDestroy = true

	var mu sync.Mutex
	var swallowed []error
	p.SetSwallowedErrorListener(swallowedErrorListenerFunc(func(err error) {
		mu.Lock()
		defer mu.Unlock()
		swallowed = append(swallowed, err)
	}))

	obj, err := p.Borrow(context.Background())
	if err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}
	if err := p.Invalidate(obj); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(swallowed) != 1 {
		t.Fatalf("listener received %d errors, want 1", len(swallowed))
	}
	if !errors.Is(swallowed[0], errFromFactory) {
		t.Errorf("swallowed error = %v, want wrapping %v", swallowed[0], errFromFactory)
	}
}
