package genpool

import (
	"sync"
	"time"
)

// PooledObject is the engine's record of one managed object: its lifecycle
// state, timestamps, borrow count, and (optionally) the captured call-site
// used for abandoned-object reporting. Engines own every PooledObject's
// lifecycle; the wrapper never calls back into the engine, only the other
// way around, which keeps the wrapper<->engine relationship acyclic.
type PooledObject struct {
	// Object is the user-managed value. Never nil for a live wrapper: a
	// nil value from the factory is treated as FactoryCreateFailed before
	// a wrapper is ever constructed.
	Object any

	lock  sync.Mutex
	state PooledObjectState

	createInstant     time.Time
	lastBorrowInstant time.Time
	lastReturnInstant time.Time
	lastUsedInstant   time.Time

	borrowedCount int64

	// logAbandoned/requireFullStackTrace mirror the owning pool's
	// AbandonedConfig at the time the wrapper was created; copied rather
	// than referenced so a config change never changes the behavior of an
	// in-flight borrow.
	logAbandoned          bool
	requireFullStackTrace bool
	borrowCallSite        []byte
	lastUseCallSite       []byte
}

// NewPooledObject wraps obj, freshly created, in the Idle state. Callers
// (the engine) are expected to immediately transition it to Allocated or
// leave it Idle depending on why it was created.
func NewPooledObject(obj any) *PooledObject {
	now := time.Now()
	return &PooledObject{
		Object:            obj,
		state:             StateIdle,
		createInstant:     now,
		lastReturnInstant: now,
	}
}

// State returns the current state. Callers that need to act on the result
// should prefer CompareAndSetState to avoid races.
func (p *PooledObject) State() PooledObjectState {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.state
}

// CompareAndSetState atomically transitions the wrapper from expect to
// update, returning whether the transition took place. This is the only
// way engine code should mutate state, so that a racing evictor, borrower,
// and sweeper never clobber each other's transition.
func (p *PooledObject) CompareAndSetState(expect, update PooledObjectState) bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.state != expect {
		return false
	}
	p.state = update
	return true
}

// Allocate transitions an Idle (or EvictionReturnToHead, in the rare race
// where the evictor lost the CAS to a borrower) wrapper to Allocated,
// recording the borrow. Returns false if the wrapper was not in a state a
// borrow can take from.
func (p *PooledObject) Allocate() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	switch p.state {
	case StateIdle, StateEvictionReturnToHead:
		p.state = StateAllocated
		p.lastBorrowInstant = time.Now()
		p.lastUsedInstant = p.lastBorrowInstant
		p.borrowedCount++
		return true
	default:
		return false
	}
}

// Deallocate transitions Allocated -> Returning is assumed to already have
// happened via MarkReturning; Deallocate finalizes the return by confirming
// the wrapper is still Returning and updating lastReturnInstant. It exists
// as a separate step from MarkReturning because passivate/validate run
// unlocked between the two.
func (p *PooledObject) Deallocate() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.state != StateReturning {
		return false
	}
	p.lastReturnInstant = time.Now()
	return true
}

// MarkReturning transitions Allocated -> Returning, the first step of
// Return, taken before any factory call so a concurrent sweeper cannot
// simultaneously mark the same wrapper Abandoned.
func (p *PooledObject) MarkReturning() bool {
	return p.CompareAndSetState(StateAllocated, StateReturning)
}

// MarkIdle transitions the wrapper to Idle, used when a Return completes
// successfully. The evictor returns a retained wrapper to Idle through
// EndEvictionTest instead.
func (p *PooledObject) MarkIdle() {
	p.lock.Lock()
	p.state = StateIdle
	p.lock.Unlock()
}

// MarkAbandoned transitions Allocated -> Abandoned. Returns false if the
// wrapper was no longer Allocated (e.g. the borrower returned it first).
func (p *PooledObject) MarkAbandoned() bool {
	return p.CompareAndSetState(StateAllocated, StateAbandoned)
}

// Invalidate forces the wrapper to the terminal Invalid state regardless of
// its current state. Used by Clear/Close/Invalidate/evictor
// destruction and for the Abandoned -> Invalid reclamation transition.
func (p *PooledObject) Invalidate() {
	p.lock.Lock()
	p.state = StateInvalid
	p.lock.Unlock()
}

// StartEvictionTest attempts Idle -> Evicting. Returns false if a
// concurrent borrow already took the wrapper out of Idle.
func (p *PooledObject) StartEvictionTest() bool {
	return p.CompareAndSetState(StateIdle, StateEvicting)
}

// EndEvictionTest transitions Evicting back to Idle, unless a concurrent
// Allocate raced and lost (observed as the state no longer being
// Evicting), in which case it reports the race via the returned bool so
// the caller can push the wrapper to the head of the idle deque instead of
// leaving it stranded.
func (p *PooledObject) EndEvictionTest() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.state == StateEvicting {
		p.state = StateIdle
		return true
	}
	if p.state == StateEvictionReturnToHead {
		p.state = StateIdle
		return true
	}
	return false
}

// LastBorrowInstant returns the timestamp of the most recent Allocate.
func (p *PooledObject) LastBorrowInstant() time.Time {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.lastBorrowInstant
}

// LastReturnInstant returns the timestamp of the most recent completed
// return.
func (p *PooledObject) LastReturnInstant() time.Time {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.lastReturnInstant
}

// LastUsedInstant returns the timestamp of the most recent borrow or Use
// call, whichever is more recent.
func (p *PooledObject) LastUsedInstant() time.Time {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.lastUsedInstant
}

// CreateInstant returns the wrapper's creation timestamp.
func (p *PooledObject) CreateInstant() time.Time {
	return p.createInstant
}

// IdleDuration reports how long the wrapper has been idle, measured from
// its last return. Only meaningful while the wrapper is Idle.
func (p *PooledObject) IdleDuration() time.Duration {
	return time.Since(p.LastReturnInstant())
}

// ActiveDuration reports how long the wrapper has been borrowed, measured
// from its last borrow to now.
func (p *PooledObject) ActiveDuration() time.Duration {
	return time.Since(p.LastBorrowInstant())
}

// BorrowedCount returns the monotonically increasing borrow counter.
func (p *PooledObject) BorrowedCount() int64 {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.borrowedCount
}

// Use records a use-site against the wrapper, called by a proxy
// collaborator (or directly by a borrower using UsageTracking) to refresh
// lastUsedInstant so the abandoned sweeper does not reclaim a genuinely
// in-use object. callSite is stored as the last-use call site only when
// the wrapper has both logAbandoned and requireFullStackTrace set;
// otherwise it is ignored and the previous last-use call site is kept.
func (p *PooledObject) Use(callSite []byte) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.lastUsedInstant = time.Now()
	if p.logAbandoned && p.requireFullStackTrace {
		p.lastUseCallSite = callSite
	}
}

// setAbandonedTracking configures whether this wrapper captures call-sites,
// invoked by the engine at creation time from the pool's AbandonedConfig.
func (p *PooledObject) setAbandonedTracking(logAbandoned, requireFullStackTrace bool, borrowCallSite []byte) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.logAbandoned = logAbandoned
	p.requireFullStackTrace = requireFullStackTrace
	if logAbandoned {
		p.borrowCallSite = borrowCallSite
	}
}

// callSites returns the captured borrow and last-use call sites, used when
// building an AbandonedReport.
func (p *PooledObject) callSites() (borrow, lastUse []byte) {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.borrowCallSite, p.lastUseCallSite
}
