package keyed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	gcollections "oss.nandlabs.io/golly/collections"
	"oss.nandlabs.io/golly/errutils"

	"github.com/nandlabs-forks/genpool"
	"github.com/nandlabs-forks/genpool/collections"
	"github.com/nandlabs-forks/genpool/concurrent"
	"github.com/nandlabs-forks/genpool/maintenance"
)

// entry is the global all-objects index value: the object's wrapper plus
// the key it belongs to, so Return/Invalidate can find the right sub-pool
// without the caller naming the key.
type entry struct {
	key     any
	wrapper *genpool.PooledObject
}

// KeyedObjectPool is the per-key engine described in spec.md §4.2: each
// distinct key gets its own idle deque, but all keys share one global
// capacity ceiling and the round-robin victim-eviction policy that keeps
// any single busy key from starving the others.
type KeyedObjectPool struct {
	factory genpool.KeyedPooledObjectFactory

	configMu sync.RWMutex
	config   *Config

	mu     sync.Mutex
	pools  map[any]*subPool
	// keyOrder is the round-robin victim-selection cursor, in creation
	// order. Built on golly's ArrayList rather than a bare slice since k.mu
	// already serializes every access, matching golly's own non-synced
	// ArrayList contract (see SyncedArrayList for the self-locking variant
	// this package intentionally does not need).
	keyOrder *gcollections.ArrayList[any]
	cursor   int

	allObjects *collections.SyncIdentityMap[*entry]

	liveCount      *concurrent.AtomicInteger // created - destroyed, across all keys
	destroyedCount *concurrent.AtomicInteger

	closed concurrent.AtomicBoolean

	globalSignal *broadcaster

	maintenanceReg *maintenance.Registration

	listenerMu sync.RWMutex
	listener   genpool.SwallowedErrorListener

	drainMu         sync.Mutex
	lastDrainErrors *errutils.MultiError
}

// New constructs a KeyedObjectPool. Sub-pools are created on demand on
// first borrow with a given key.
func New(factory genpool.KeyedPooledObjectFactory, config *Config) *KeyedObjectPool {
	if config == nil {
		config = NewDefaultConfig()
	}
	snapshot := *config
	k := &KeyedObjectPool{
		factory:        factory,
		config:         &snapshot,
		pools:          make(map[any]*subPool),
		keyOrder:       gcollections.NewArrayList[any](),
		allObjects:     collections.NewSyncIdentityMap[*entry](),
		liveCount:      concurrent.NewAtomicInteger(0),
		destroyedCount: concurrent.NewAtomicInteger(0),
		globalSignal:   newBroadcaster(),
		listener:       noopListener{},
	}
	k.restartMaintenance()
	return k
}

func (k *KeyedObjectPool) Config() Config {
	k.configMu.RLock()
	defer k.configMu.RUnlock()
	return *k.config
}

// SetConfig replaces the configuration snapshot, taking effect on the next
// maintenance cycle and the next Borrow/Return, per spec.md §4.5.
func (k *KeyedObjectPool) SetConfig(config *Config) {
	snapshot := *config
	k.configMu.Lock()
	oldPeriod := k.config.TimeBetweenEvictionRuns
	k.config = &snapshot
	k.configMu.Unlock()
	if oldPeriod != config.TimeBetweenEvictionRuns {
		k.restartMaintenance()
	}
}

func (k *KeyedObjectPool) SetSwallowedErrorListener(l genpool.SwallowedErrorListener) {
	k.listenerMu.Lock()
	defer k.listenerMu.Unlock()
	if l == nil {
		l = noopListener{}
	}
	k.listener = l
}

func (k *KeyedObjectPool) swallow(err error) {
	if err == nil {
		return
	}
	k.listenerMu.RLock()
	l := k.listener
	k.listenerMu.RUnlock()
	l.SwallowedError(err)
}

type noopListener struct{}

func (noopListener) SwallowedError(error) {}

func (k *KeyedObjectPool) restartMaintenance() {
	if k.maintenanceReg != nil {
		k.maintenanceReg.Unregister()
		k.maintenanceReg = nil
	}
	period := k.Config().TimeBetweenEvictionRuns
	if period <= 0 {
		return
	}
	id := "genpool.KeyedObjectPool@" + addrString(k)
	k.maintenanceReg = maintenance.Register(id, period, func(ctx context.Context) error {
		k.evict()
		k.ensureMinIdle()
		if cfg := k.Config(); cfg.RemoveAbandonedOnMaintenance {
			k.removeAbandoned()
		}
		return nil
	})
}

// IsClosed reports whether Close has been called.
func (k *KeyedObjectPool) IsClosed() bool { return k.closed.Get() }

func (k *KeyedObjectPool) getOrCreateSubPool(key any) *subPool {
	k.mu.Lock()
	defer k.mu.Unlock()
	sp, ok := k.pools[key]
	if !ok {
		sp = newSubPool(key)
		k.pools[key] = sp
		_ = k.keyOrder.Add(key)
	}
	return sp
}

// maybeDropSubPool removes a key's sub-pool from the table once nothing
// references it, per spec.md §4.2 ("sub-pools whose total drops to zero
// may be removed").
func (k *KeyedObjectPool) maybeDropSubPool(sp *subPool) {
	if sp.refCount() > 0 {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if sp.refCount() > 0 {
		return
	}
	if cur, ok := k.pools[sp.key]; !ok || cur != sp {
		return
	}
	delete(k.pools, sp.key)
	k.keyOrder.Remove(sp.key)
	if k.cursor > k.keyOrder.Size() {
		k.cursor = 0
	}
}

// NumActiveForKey, NumIdleForKey report per-key instantaneous counters.
func (k *KeyedObjectPool) NumActiveForKey(key any) int {
	k.mu.Lock()
	sp, ok := k.pools[key]
	k.mu.Unlock()
	if !ok {
		return 0
	}
	return int(sp.numActive.Get())
}

func (k *KeyedObjectPool) NumIdleForKey(key any) int {
	k.mu.Lock()
	sp, ok := k.pools[key]
	k.mu.Unlock()
	if !ok {
		return 0
	}
	return sp.idleObjects.Size()
}

// NumActive returns the instantaneous active count across every key.
func (k *KeyedObjectPool) NumActive() int {
	return int(k.liveCount.Get()) - k.NumIdle()
}

// NumIdle returns the instantaneous idle count across every key.
func (k *KeyedObjectPool) NumIdle() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	total := 0
	for _, sp := range k.pools {
		total += sp.idleObjects.Size()
	}
	return total
}

// Borrow obtains one instance for key, creating key's sub-pool on first
// use. See spec.md §4.2 for the fairness rules this implements.
func (k *KeyedObjectPool) Borrow(ctx context.Context, key any) (any, error) {
	if k.IsClosed() {
		return nil, genpool.ErrPoolClosed
	}
	cfg := k.Config()

	sp := k.getOrCreateSubPool(key)
	sp.numInterested.IncrementAndGet()
	defer func() {
		sp.numInterested.DecrementAndGet()
		k.maybeDropSubPool(sp)
	}()

	if cfg.RemoveAbandonedOnBorrow {
		k.removeAbandoned()
	}

	deadline := time.Time{}
	if cfg.MaxWait >= 0 {
		deadline = time.Now().Add(cfg.MaxWait)
	}

	consecutiveValidationFailures := 0
	ceiling := 2*maxTotalOrZero(cfg.MaxTotalPerKey, cfg.MaxTotal) + 1

	for {
		var wrapper *genpool.PooledObject
		created := false

		if v, ok := takeIdle(sp, cfg); ok {
			wrapper = v
		} else {
			candidate, err := k.createFor(sp, cfg)
			if err != nil {
				return nil, err
			}
			if candidate != nil {
				wrapper = candidate
				created = true
			}
		}

		if wrapper == nil {
			if !cfg.BlockWhenExhausted {
				return nil, genpool.ErrPoolExhausted
			}
			waited, err := k.blockForCapacity(ctx, sp, cfg, deadline)
			if err != nil {
				if errors.Is(err, errRetryGlobal) {
					continue
				}
				return nil, err
			}
			wrapper = waited
		}

		if !wrapper.Allocate() {
			continue
		}
		sp.numActive.IncrementAndGet()

		if err := k.factory.ActivateObject(key, wrapper); err != nil {
			k.destroy(sp, wrapper, genpool.ReasonEvictorFailure)
			sp.numActive.DecrementAndGet()
			consecutiveValidationFailures++
			if consecutiveValidationFailures >= ceiling {
				return nil, genpool.ErrValidationFailed
			}
			continue
		}

		if cfg.TestOnBorrow || (created && cfg.TestOnCreate) {
			if !k.factory.ValidateObject(key, wrapper) {
				k.destroy(sp, wrapper, genpool.ReasonBorrowValidationFailure)
				sp.destroyedByBorrowValidationCount.IncrementAndGet()
				sp.numActive.DecrementAndGet()
				consecutiveValidationFailures++
				if consecutiveValidationFailures >= ceiling {
					return nil, genpool.ErrValidationFailed
				}
				continue
			}
		}

		return wrapper.Object, nil
	}
}

func takeIdle(sp *subPool, cfg Config) (*genpool.PooledObject, bool) {
	if cfg.Lifo {
		return sp.idleObjects.PollLast()
	}
	return sp.idleObjects.PollFirst()
}

func maxTotalOrZero(perKey, total int) int {
	if perKey >= 0 {
		return perKey
	}
	if total >= 0 {
		return total
	}
	return 0
}

// blockForCapacity waits on the sub-pool's own idle deque (per-key
// capacity), but the wait is cancelled early if the shared
// global-capacity broadcaster signals — in which case it returns
// errRetryGlobal so the caller re-attempts createFor, which may now have
// global room. The derived context means a global signal never steals or
// leaks an idle object popped for another borrower: the deque's own wait
// loop simply observes cancellation and returns without popping anything.
func (k *KeyedObjectPool) blockForCapacity(ctx context.Context, sp *subPool, cfg Config, deadline time.Time) (*genpool.PooledObject, error) {
	waitCtx := ctx
	cancel := func() {}
	if cfg.MaxWait >= 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, genpool.ErrPoolExhausted
		}
		waitCtx, cancel = context.WithTimeout(ctx, remaining)
	} else {
		waitCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	sig := k.globalSignal.wait()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-sig:
			cancel()
		case <-stop:
		}
	}()

	result, err := sp.idleObjects.TakeFirst(waitCtx)
	if err == nil {
		return result, nil
	}

	switch {
	case errors.Is(err, collections.ErrInterrupted):
		return nil, genpool.ErrPoolClosed
	case errors.Is(err, context.DeadlineExceeded):
		return nil, genpool.ErrPoolExhausted
	case errors.Is(err, context.Canceled):
		if ctx.Err() != nil {
			return nil, genpool.ErrCancelled
		}
		return nil, errRetryGlobal
	default:
		return nil, err
	}
}

var errRetryGlobal = errors.New("keyed: retry after global capacity freed")

func (k *KeyedObjectPool) createFor(sp *subPool, cfg Config) (*genpool.PooledObject, error) {
	if cfg.MaxTotalPerKey >= 0 && sp.createCount.Get() >= int64(cfg.MaxTotalPerKey) {
		return nil, nil
	}
	if cfg.MaxTotal >= 0 && k.liveCount.Get() >= int64(cfg.MaxTotal) {
		if !k.evictVictim(sp.key) {
			return nil, nil
		}
	}

	sp.createCount.IncrementAndGet()
	k.liveCount.IncrementAndGet()

	obj, err := k.factory.MakeObject(sp.key)
	if err != nil {
		sp.createCount.DecrementAndGet()
		k.liveCount.DecrementAndGet()
		return nil, &genpool.FactoryCreateError{Cause: err}
	}
	if obj == nil {
		sp.createCount.DecrementAndGet()
		k.liveCount.DecrementAndGet()
		return nil, &genpool.FactoryCreateError{Cause: errors.New("factory returned a nil object")}
	}

	k.allObjects.Put(obj.Object, &entry{key: sp.key, wrapper: obj})
	return obj, nil
}

// evictVictim destroys the oldest idle object from some other key,
// selected round-robin, to free a global capacity slot for preferredKey.
// Returns whether a victim was found and destroyed.
func (k *KeyedObjectPool) evictVictim(preferredKey any) bool {
	k.mu.Lock()
	keys := make([]any, k.keyOrder.Size())
	for i := range keys {
		keys[i], _ = k.keyOrder.Get(i)
	}
	start := k.cursor
	k.mu.Unlock()

	for i := 0; i < len(keys); i++ {
		idx := (start + i) % len(keys)
		candidateKey := keys[idx]
		if candidateKey == preferredKey {
			continue
		}
		k.mu.Lock()
		sp, ok := k.pools[candidateKey]
		k.mu.Unlock()
		if !ok {
			continue
		}
		if victim, ok := sp.idleObjects.PollFirst(); ok {
			k.destroy(sp, victim, genpool.ReasonOverCapacity)
			k.mu.Lock()
			k.cursor = (idx + 1) % len(keys)
			k.mu.Unlock()
			return true
		}
	}
	return false
}

func (k *KeyedObjectPool) destroy(sp *subPool, wrapper *genpool.PooledObject, reason genpool.DestroyReason) {
	k.destroyInto(sp, wrapper, reason, nil)
}

// destroyInto is destroy's variant used by Clear/ClearKey/Close: it appends
// the factory error to collector when non-nil, in addition to swallowing it,
// so a multi-key drain surfaces every destroy failure it hit rather than
// only the last one (SPEC_FULL.md §2: errutils.MultiError aggregation).
func (k *KeyedObjectPool) destroyInto(sp *subPool, wrapper *genpool.PooledObject, reason genpool.DestroyReason, collector *errutils.MultiError) {
	wrapper.Invalidate()
	sp.idleObjects.RemoveFirstOccurrence(wrapper)
	k.allObjects.Remove(wrapper.Object)
	if err := k.factory.DestroyObject(sp.key, wrapper, reason); err != nil {
		wrapped := fmt.Errorf("genpool/keyed: destroy failed for key %v: %w", sp.key, err)
		if collector != nil {
			collector.Add(wrapped)
		}
		k.swallow(wrapped)
	}
	sp.destroyedCount.IncrementAndGet()
	sp.createCount.DecrementAndGet()
	k.liveCount.DecrementAndGet()
	k.destroyedCount.IncrementAndGet()
	k.globalSignal.signal()
}

func (k *KeyedObjectPool) setDrainErrors(m *errutils.MultiError) {
	k.drainMu.Lock()
	k.lastDrainErrors = m
	k.drainMu.Unlock()
}

// LastDrainErrors returns the factory destroy errors accumulated during the
// most recent Clear, ClearKey, or Close call, or nil if none occurred.
func (k *KeyedObjectPool) LastDrainErrors() []error {
	k.drainMu.Lock()
	defer k.drainMu.Unlock()
	if k.lastDrainErrors == nil {
		return nil
	}
	return k.lastDrainErrors.GetAll()
}

// Return gives a previously borrowed object back to its sub-pool.
func (k *KeyedObjectPool) Return(obj any) error {
	if obj == nil {
		return genpool.ErrUnknownObject
	}
	ent, ok := k.allObjects.Get(obj)
	if !ok {
		// Already reclaimed by the sweeper and removed from the
		// all-objects index; a voluntary late return is not an error,
		// matching ObjectPool.Return's tolerance for the same race.
		if k.Config().RemoveAbandonedTimeout > 0 {
			return nil
		}
		return genpool.ErrUnknownObject
	}
	sp := k.subPoolFor(ent.key)
	wrapper := ent.wrapper

	if wrapper.State() == genpool.StateAbandoned {
		k.destroy(sp, wrapper, genpool.ReasonAbandoned)
		sp.numActive.DecrementAndGet()
		k.maybeDropSubPool(sp)
		return nil
	}
	if !wrapper.MarkReturning() {
		return genpool.ErrIllegalState
	}

	cfg := k.Config()
	if cfg.TestOnReturn && !k.factory.ValidateObject(ent.key, wrapper) {
		k.destroy(sp, wrapper, genpool.ReasonReturnValidationFailure)
		sp.numActive.DecrementAndGet()
		k.maybeDropSubPool(sp)
		return nil
	}

	if err := k.factory.PassivateObject(ent.key, wrapper); err != nil {
		k.destroy(sp, wrapper, genpool.ReasonPassivationFailure)
		sp.numActive.DecrementAndGet()
		k.maybeDropSubPool(sp)
		return nil
	}

	if !wrapper.Deallocate() {
		return genpool.ErrIllegalState
	}
	sp.numActive.DecrementAndGet()

	if k.IsClosed() || (cfg.MaxIdlePerKey >= 0 && sp.idleObjects.Size() >= cfg.MaxIdlePerKey) {
		k.destroy(sp, wrapper, genpool.ReasonOverCapacity)
	} else {
		wrapper.MarkIdle()
		// The tail holds the most recently returned object: takeIdle pops
		// the tail under Lifo and the head otherwise.
		sp.idleObjects.AddLast(wrapper)
		k.globalSignal.signal()
	}
	k.maybeDropSubPool(sp)
	return nil
}

func (k *KeyedObjectPool) subPoolFor(key any) *subPool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.pools[key]
}

// Invalidate unconditionally destroys obj.
func (k *KeyedObjectPool) Invalidate(obj any) error {
	ent, ok := k.allObjects.Get(obj)
	if !ok {
		return genpool.ErrUnknownObject
	}
	sp := k.subPoolFor(ent.key)
	if ent.wrapper.State() != genpool.StateInvalid {
		k.destroy(sp, ent.wrapper, genpool.ReasonInvalidated)
		sp.numActive.DecrementAndGet()
	}
	k.maybeDropSubPool(sp)
	return nil
}

// AddObject pre-creates one Idle instance for key.
func (k *KeyedObjectPool) AddObject(key any) error {
	if k.IsClosed() {
		return genpool.ErrPoolClosed
	}
	sp := k.getOrCreateSubPool(key)
	cfg := k.Config()
	obj, err := k.createFor(sp, cfg)
	if err != nil {
		return err
	}
	if obj != nil {
		if perr := k.factory.PassivateObject(key, obj); perr != nil {
			k.destroy(sp, obj, genpool.ReasonPassivationFailure)
			return nil
		}
		if cfg.Lifo {
			sp.idleObjects.AddFirst(obj)
		} else {
			sp.idleObjects.AddLast(obj)
		}
		k.globalSignal.signal()
	}
	return nil
}

// Clear destroys every idle object for every key.
func (k *KeyedObjectPool) Clear() {
	k.mu.Lock()
	sps := make([]*subPool, 0, len(k.pools))
	for _, sp := range k.pools {
		sps = append(sps, sp)
	}
	k.mu.Unlock()
	collector := errutils.NewMultiErr(nil)
	for _, sp := range sps {
		k.clearSubPool(sp, genpool.ReasonClear, collector)
	}
	k.setDrainErrors(collector)
}

// ClearKey destroys every idle object for one key only.
func (k *KeyedObjectPool) ClearKey(key any) {
	sp := k.subPoolFor(key)
	if sp == nil {
		return
	}
	collector := errutils.NewMultiErr(nil)
	k.clearSubPool(sp, genpool.ReasonClear, collector)
	k.setDrainErrors(collector)
	k.maybeDropSubPool(sp)
}

func (k *KeyedObjectPool) clearSubPool(sp *subPool, reason genpool.DestroyReason, collector *errutils.MultiError) {
	for {
		obj, ok := sp.idleObjects.PollFirst()
		if !ok {
			return
		}
		k.destroyInto(sp, obj, reason, collector)
	}
}

// Close prevents further Borrow calls, drains every key's idle objects
// concurrently, and wakes every waiter.
func (k *KeyedObjectPool) Close() {
	if !k.closed.CompareAndSet(false, true) {
		return
	}
	if k.maintenanceReg != nil {
		k.maintenanceReg.Unregister()
		k.maintenanceReg = nil
	}

	k.mu.Lock()
	sps := make([]*subPool, 0, len(k.pools))
	for _, sp := range k.pools {
		sps = append(sps, sp)
	}
	k.mu.Unlock()

	collector := errutils.NewMultiErr(nil)
	var collectorMu sync.Mutex
	var g errgroup.Group
	for _, sp := range sps {
		sp := sp
		g.Go(func() error {
			local := errutils.NewMultiErr(nil)
			k.clearSubPool(sp, genpool.ReasonClose, local)
			sp.idleObjects.InterruptTakeWaiters()
			collectorMu.Lock()
			for _, e := range local.GetAll() {
				collector.Add(e)
			}
			collectorMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	k.setDrainErrors(collector)
	k.globalSignal.signal()
}
