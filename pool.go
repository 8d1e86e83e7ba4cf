// Package genpool is a generic, bounded, thread-safe object pool: a FIFO or
// LIFO cache of pre-constructed objects mediated by a user-supplied
// lifecycle factory, with an asynchronous evictor, a minimum-idle
// maintainer, and an abandoned-object sweeper. See package genpool/keyed
// for the per-key variant.
package genpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"oss.nandlabs.io/golly/errutils"

	"github.com/nandlabs-forks/genpool/collections"
	"github.com/nandlabs-forks/genpool/concurrent"
	"github.com/nandlabs-forks/genpool/maintenance"
)

// ObjectPool is the single-resource engine described in spec.md §4.1. The
// zero value is not usable; construct with New.
type ObjectPool struct {
	factory PooledObjectFactory

	configMu sync.RWMutex
	config   *ObjectPoolConfig

	abandonedMu     sync.RWMutex
	abandonedConfig *AbandonedConfig

	idleObjects *collections.LinkedBlockingDeque[*PooledObject]
	allObjects  *collections.SyncIdentityMap[*PooledObject]

	closed concurrent.AtomicBoolean

	createCount                      *concurrent.AtomicInteger
	destroyedCount                   *concurrent.AtomicInteger
	destroyedByEvictorCount          *concurrent.AtomicInteger
	destroyedByBorrowValidationCount *concurrent.AtomicInteger

	evictionLock     sync.Mutex
	evictionIterator collections.Iterator[*PooledObject]

	maintenanceReg *maintenance.Registration

	listenerMu sync.RWMutex
	listener   SwallowedErrorListener

	drainMu         sync.Mutex
	lastDrainErrors *errutils.MultiError
}

// New constructs an ObjectPool with the given factory and configuration
// snapshot. The evictor is started immediately if
// config.TimeBetweenEvictionRuns is positive.
func New(factory PooledObjectFactory, config *ObjectPoolConfig) *ObjectPool {
	if config == nil {
		config = NewDefaultPoolConfig()
	}
	snapshot := *config
	p := &ObjectPool{
		factory:                           factory,
		config:                            &snapshot,
		idleObjects:                       collections.NewDeque[*PooledObject](-1),
		allObjects:                        collections.NewSyncIdentityMap[*PooledObject](),
		createCount:                       concurrent.NewAtomicInteger(0),
		destroyedCount:                    concurrent.NewAtomicInteger(0),
		destroyedByEvictorCount:           concurrent.NewAtomicInteger(0),
		destroyedByBorrowValidationCount:  concurrent.NewAtomicInteger(0),
		listener:                          noopSwallowedErrorListener{},
	}
	p.restartMaintenance()
	return p
}

// SetAbandonedConfig installs or replaces the abandoned-tracking
// configuration. Pass nil to disable the sweeper.
func (p *ObjectPool) SetAbandonedConfig(ac *AbandonedConfig) {
	p.abandonedMu.Lock()
	defer p.abandonedMu.Unlock()
	p.abandonedConfig = ac
}

func (p *ObjectPool) getAbandonedConfig() *AbandonedConfig {
	p.abandonedMu.RLock()
	defer p.abandonedMu.RUnlock()
	return p.abandonedConfig
}

// SetSwallowedErrorListener registers a hook invoked for every factory
// DestroyObject error the pool swallows, whether the destroy came from
// background maintenance, Return, Invalidate, Clear or Close. Pass nil to
// restore the no-op default.
func (p *ObjectPool) SetSwallowedErrorListener(l SwallowedErrorListener) {
	p.listenerMu.Lock()
	defer p.listenerMu.Unlock()
	if l == nil {
		l = noopSwallowedErrorListener{}
	}
	p.listener = l
}

func (p *ObjectPool) swallow(err error) {
	if err == nil {
		return
	}
	p.listenerMu.RLock()
	l := p.listener
	p.listenerMu.RUnlock()
	l.SwallowedError(err)
}

// Config returns the pool's current configuration snapshot.
func (p *ObjectPool) Config() ObjectPoolConfig {
	p.configMu.RLock()
	defer p.configMu.RUnlock()
	return *p.config
}

// SetConfig replaces the configuration snapshot. Per spec.md §4.5, the new
// values take effect starting with the next maintenance cycle and the next
// Borrow/Return call; nothing in flight is affected. If the eviction period
// changed, the shared maintenance registration is restarted.
func (p *ObjectPool) SetConfig(config *ObjectPoolConfig) {
	snapshot := *config
	p.configMu.Lock()
	oldPeriod := p.config.TimeBetweenEvictionRuns
	p.config = &snapshot
	p.configMu.Unlock()

	if oldPeriod != config.TimeBetweenEvictionRuns {
		p.restartMaintenance()
	}
}

func (p *ObjectPool) restartMaintenance() {
	if p.maintenanceReg != nil {
		p.maintenanceReg.Unregister()
		p.maintenanceReg = nil
	}
	period := p.Config().TimeBetweenEvictionRuns
	if period <= 0 {
		return
	}
	id := maintenanceID(p)
	p.maintenanceReg = maintenance.Register(id, period, func(ctx context.Context) error {
		p.evict()
		p.ensureMinIdle()
		if ac := p.getAbandonedConfig(); ac != nil && ac.RemoveAbandonedOnMaintenance {
			p.removeAbandoned(ac)
		}
		return nil
	})
}

func maintenanceID(p *ObjectPool) string {
	return "genpool.ObjectPool@" + addrString(p)
}

// AddObject pre-creates one Idle instance if capacity allows, per
// spec.md §4.1 ("AddObject").
func (p *ObjectPool) AddObject() error {
	if p.IsClosed() {
		return ErrPoolClosed
	}
	obj, err := p.create()
	if err != nil {
		return err
	}
	if obj != nil {
		p.addIdleObject(obj)
	}
	return nil
}

func (p *ObjectPool) addIdleObject(obj *PooledObject) {
	if err := p.factory.PassivateObject(obj); err != nil {
		p.destroy(obj, ReasonPassivationFailure)
		return
	}
	if p.Config().Lifo {
		p.idleObjects.AddFirst(obj)
	} else {
		p.idleObjects.AddLast(obj)
	}
}

// GetNumIdle returns the instantaneous idle count.
func (p *ObjectPool) GetNumIdle() int { return p.idleObjects.Size() }

// GetNumActive returns the instantaneous active (borrowed) count.
func (p *ObjectPool) GetNumActive() int {
	return p.allObjects.Size() - p.idleObjects.Size()
}

// GetNumWaiters returns the instantaneous borrow-waiter count.
func (p *ObjectPool) GetNumWaiters() int { return p.idleObjects.WaiterCount() }

// Stats returns a consolidated counter snapshot (SPEC_FULL.md §5).
func (p *ObjectPool) Stats() PoolStats {
	// createCount is net of destroyed objects; adding destroyedCount back
	// gives the number created.
	return PoolStats{
		NumActive:                        p.GetNumActive(),
		NumIdle:                          p.GetNumIdle(),
		NumWaiters:                       p.GetNumWaiters(),
		CreatedCount:                    p.createCount.Get() + p.destroyedCount.Get(),
		DestroyedCount:                   p.destroyedCount.Get(),
		DestroyedByEvictorCount:          p.destroyedByEvictorCount.Get(),
		DestroyedByBorrowValidationCount: p.destroyedByBorrowValidationCount.Get(),
	}
}

// IsClosed reports whether Close has been called.
func (p *ObjectPool) IsClosed() bool { return p.closed.Get() }

// create is the capacity-admission-controlled factory call described in
// spec.md §4.1.2: the create counter is incremented speculatively and
// rolled back if that would exceed MaxTotal, so the engine lock is never
// held across the (possibly slow) factory call. Returns (nil, nil) when no
// admission slot is available — not an error, just "nothing to create".
func (p *ObjectPool) create() (*PooledObject, error) {
	maxTotal := p.Config().MaxTotal
	newCount := p.createCount.IncrementAndGet()
	if maxTotal >= 0 && newCount > int64(maxTotal) {
		p.createCount.DecrementAndGet()
		return nil, nil
	}

	obj, err := p.factory.MakeObject()
	if err != nil {
		p.createCount.DecrementAndGet()
		return nil, &FactoryCreateError{Cause: err}
	}
	if obj == nil {
		p.createCount.DecrementAndGet()
		return nil, &FactoryCreateError{Cause: errors.New("factory returned a nil object")}
	}

	if ac := p.getAbandonedConfig(); ac != nil {
		obj.setAbandonedTracking(ac.LogAbandoned, ac.RequireFullStackTrace, captureCallSite(ac.LogAbandoned))
	}

	p.allObjects.Put(obj.Object, obj)
	return obj, nil
}

func (p *ObjectPool) destroy(obj *PooledObject, reason DestroyReason) {
	p.destroyInto(obj, reason, nil)
}

// destroyInto is destroy's variant used by Clear/Close: in addition to
// swallowing the factory error for SwallowedErrorListener, it appends the
// error to collector when non-nil, so a drain that touches several idle
// objects surfaces every destroy failure it hit rather than only the last
// one (SPEC_FULL.md §2: errutils.MultiError aggregation for drain paths).
func (p *ObjectPool) destroyInto(obj *PooledObject, reason DestroyReason, collector *errutils.MultiError) {
	obj.Invalidate()
	p.idleObjects.RemoveFirstOccurrence(obj)
	p.allObjects.Remove(obj.Object)
	if err := p.factory.DestroyObject(obj, reason); err != nil {
		wrapped := fmt.Errorf("genpool: destroy failed: %w", err)
		if collector != nil {
			collector.Add(wrapped)
		}
		p.swallow(wrapped)
	}
	p.destroyedCount.IncrementAndGet()
	p.createCount.DecrementAndGet()
}

func (p *ObjectPool) setDrainErrors(m *errutils.MultiError) {
	p.drainMu.Lock()
	p.lastDrainErrors = m
	p.drainMu.Unlock()
}

// LastDrainErrors returns the factory destroy errors accumulated during the
// most recent Clear or Close call, or nil if none occurred. This is the
// status accessor spec.md §7 asks for: Clear/Close themselves never fail,
// but a caller that cares can inspect what destroy failures were swallowed.
func (p *ObjectPool) LastDrainErrors() []error {
	p.drainMu.Lock()
	defer p.drainMu.Unlock()
	if p.lastDrainErrors == nil {
		return nil
	}
	return p.lastDrainErrors.GetAll()
}

// Borrow obtains one instance from the pool, blocking up to the pool's
// configured MaxWait. See BorrowWithTimeout to override the wait.
func (p *ObjectPool) Borrow(ctx context.Context) (any, error) {
	return p.borrow(ctx, p.Config().MaxWait)
}

// BorrowWithTimeout obtains one instance, blocking up to maxWait
// regardless of the pool's configured default. A negative maxWait blocks
// indefinitely (subject to ctx); zero does not block at all.
func (p *ObjectPool) BorrowWithTimeout(ctx context.Context, maxWait time.Duration) (any, error) {
	return p.borrow(ctx, maxWait)
}

func (p *ObjectPool) borrow(ctx context.Context, maxWait time.Duration) (any, error) {
	if p.IsClosed() {
		return nil, ErrPoolClosed
	}

	if ac := p.getAbandonedConfig(); ac != nil && ac.RemoveAbandonedOnBorrow &&
		p.GetNumIdle() < 2 && p.GetNumActive() > p.Config().MaxTotal-3 {
		p.removeAbandoned(ac)
	}

	cfg := p.Config()
	consecutiveValidationFailures := 0
	validationCeiling := 2*maxTotalOrZero(cfg.MaxTotal) + 1

	for {
		var obj *PooledObject
		created := false

		if v, ok := p.takeIdle(cfg); ok {
			obj = v
		} else {
			candidate, err := p.create()
			if err != nil {
				return nil, err
			}
			if candidate != nil {
				obj = candidate
				created = true
			}
		}

		if obj == nil {
			if !cfg.BlockWhenExhausted {
				return nil, ErrPoolExhausted
			}
			waited, err := p.waitForIdle(ctx, maxWait)
			if err != nil {
				return nil, waitErrToPoolErr(err)
			}
			obj = waited
		}

		if !obj.Allocate() {
			// Lost a race (e.g. the evictor took it concurrently);
			// discard this attempt and retry the whole loop.
			continue
		}

		if ac := p.getAbandonedConfig(); ac != nil && ac.LogAbandoned {
			obj.setAbandonedTracking(ac.LogAbandoned, ac.RequireFullStackTrace, captureCallSite(true))
		}

		if err := p.factory.ActivateObject(obj); err != nil {
			p.destroy(obj, ReasonEvictorFailure)
			consecutiveValidationFailures++
			if consecutiveValidationFailures >= validationCeiling {
				return nil, ErrValidationFailed
			}
			continue
		}

		if cfg.TestOnBorrow || (created && cfg.TestOnCreate) {
			if !p.factory.ValidateObject(obj) {
				p.destroy(obj, ReasonBorrowValidationFailure)
				p.destroyedByBorrowValidationCount.IncrementAndGet()
				consecutiveValidationFailures++
				if consecutiveValidationFailures >= validationCeiling {
					return nil, ErrValidationFailed
				}
				continue
			}
		}

		return obj.Object, nil
	}
}

// takeIdle pops one wrapper from the idle deque per the configured
// FIFO/LIFO order, without blocking.
func (p *ObjectPool) takeIdle(cfg ObjectPoolConfig) (*PooledObject, bool) {
	if cfg.Lifo {
		return p.idleObjects.PollLast()
	}
	return p.idleObjects.PollFirst()
}

// waitForIdle blocks on the idle deque (and, indirectly, on new arrivals
// created by a returning borrower) up to maxWait.
func (p *ObjectPool) waitForIdle(ctx context.Context, maxWait time.Duration) (*PooledObject, error) {
	if maxWait < 0 {
		return p.idleObjects.TakeFirst(ctx)
	}
	return p.idleObjects.PollFirstWithTimeout(ctx, maxWait)
}

func waitErrToPoolErr(err error) error {
	switch {
	case errors.Is(err, collections.ErrInterrupted):
		return ErrPoolClosed
	case errors.Is(err, collections.ErrDeadlineExceeded):
		return ErrPoolExhausted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrCancelled
	default:
		return err
	}
}

func maxTotalOrZero(maxTotal int) int {
	if maxTotal < 0 {
		return 0
	}
	return maxTotal
}

// Return gives a previously borrowed object back to the pool. See
// spec.md §4.1.3 for the full protocol, including the Abandoned ->
// destroyed fast path.
func (p *ObjectPool) Return(obj any) error {
	if obj == nil {
		return ErrUnknownObject
	}
	wrapper, ok := p.allObjects.Get(obj)
	if !ok {
		if p.getAbandonedConfig() != nil {
			// Already reclaimed by the sweeper and removed from
			// all-objects; a voluntary late return is not an error.
			return nil
		}
		return ErrUnknownObject
	}

	state := wrapper.State()
	if state == StateAbandoned {
		// The sweeper flagged it; the borrower is returning it anyway.
		// Proceed straight to destruction, never back to idle.
		p.destroy(wrapper, ReasonAbandoned)
		return nil
	}
	if !wrapper.MarkReturning() {
		return ErrIllegalState
	}

	cfg := p.Config()
	if cfg.TestOnReturn && !p.factory.ValidateObject(wrapper) {
		p.destroy(wrapper, ReasonReturnValidationFailure)
		p.ensureIdle(1, false)
		return nil
	}

	if err := p.factory.PassivateObject(wrapper); err != nil {
		p.destroy(wrapper, ReasonPassivationFailure)
		p.ensureIdle(1, false)
		return nil
	}

	if !wrapper.Deallocate() {
		return ErrIllegalState
	}

	if p.IsClosed() || (cfg.MaxIdle >= 0 && p.idleObjects.Size() >= cfg.MaxIdle) {
		p.destroy(wrapper, ReasonOverCapacity)
	} else {
		wrapper.MarkIdle()
		// The tail holds the most recently returned object: takeIdle pops
		// the tail under Lifo and the head otherwise.
		p.idleObjects.AddLast(wrapper)
		if p.IsClosed() {
			p.Clear()
		}
	}
	return nil
}

// Invalidate unconditionally destroys obj, freeing a capacity slot.
func (p *ObjectPool) Invalidate(obj any) error {
	wrapper, ok := p.allObjects.Get(obj)
	if !ok {
		if p.getAbandonedConfig() != nil {
			return nil
		}
		return ErrUnknownObject
	}
	if wrapper.State() != StateInvalid {
		p.destroy(wrapper, ReasonInvalidated)
	}
	p.ensureIdle(1, false)
	return nil
}

// Clear destroys every currently Idle object. Borrowed objects are left
// alone and destroyed on return if the pool is then over capacity.
func (p *ObjectPool) Clear() {
	p.setDrainErrors(p.drainIdle(ReasonClear))
}

// drainIdle destroys every currently Idle object for the given reason,
// collecting any destroy errors into a fresh MultiError.
func (p *ObjectPool) drainIdle(reason DestroyReason) *errutils.MultiError {
	collector := errutils.NewMultiErr(nil)
	for {
		obj, ok := p.idleObjects.PollFirst()
		if !ok {
			return collector
		}
		p.destroyInto(obj, reason, collector)
	}
}

// Close prevents further Borrow calls, drains all Idle objects, and wakes
// every waiter with ErrPoolClosed. Return and Invalidate remain valid after
// Close so in-flight borrows can still be returned.
func (p *ObjectPool) Close() {
	if !p.closed.CompareAndSet(false, true) {
		return
	}

	if p.maintenanceReg != nil {
		p.maintenanceReg.Unregister()
		p.maintenanceReg = nil
	}

	var g errgroup.Group
	g.Go(func() error {
		p.setDrainErrors(p.drainIdle(ReasonClose))
		return nil
	})
	_ = g.Wait()

	p.idleObjects.InterruptTakeWaiters()
}

func (p *ObjectPool) ensureIdle(count int, always bool) {
	if count < 1 || p.IsClosed() || (!always && !p.idleObjects.HasTakeWaiters()) {
		return
	}
	cfg := p.Config()
	for p.idleObjects.Size() < count {
		obj, err := p.create()
		if err != nil || obj == nil {
			break
		}
		if cfg.Lifo {
			p.idleObjects.AddFirst(obj)
		} else {
			p.idleObjects.AddLast(obj)
		}
	}
	if p.IsClosed() {
		p.Clear()
	}
}
