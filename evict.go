package genpool

import (
	"math"
	"time"

	"github.com/nandlabs-forks/genpool/collections"
)

// evict runs one evictor pass as described in spec.md §4.3: visit up to
// getNumTests() idle wrappers starting from wherever the previous run's
// cursor left off, applying the configured EvictionPolicy to each.
func (p *ObjectPool) evict() {
	if p.idleObjects.Size() == 0 {
		return
	}

	p.evictionLock.Lock()
	defer p.evictionLock.Unlock()

	cfg := p.Config()
	policy := getEvictionPolicy(cfg.EvictionPolicyName)
	evictionCfg := &EvictionConfig{
		IdleEvictDuration:     cfg.MinEvictableIdleDuration,
		IdleSoftEvictDuration: cfg.SoftMinEvictableIdleDuration,
		MinIdle:               cfg.MinIdle,
	}

	for i, n := 0, p.getNumTests(cfg); i < n; i++ {
		if p.evictionIterator == nil || !p.evictionIterator.HasNext() {
			p.evictionIterator = p.evictionOrderIterator(cfg)
		}
		if !p.evictionIterator.HasNext() {
			return
		}

		underTest := p.evictionIterator.Next()
		if underTest == nil || !underTest.StartEvictionTest() {
			// Raced with a concurrent borrow; don't count this visit.
			i--
			continue
		}

		if policy.Evict(evictionCfg, underTest, p.idleObjects.Size()) {
			p.destroy(underTest, ReasonEvictorFailure)
			p.destroyedByEvictorCount.IncrementAndGet()
			continue
		}

		if cfg.TestWhileIdle {
			if !p.testWhileIdle(underTest) {
				p.destroyedByEvictorCount.IncrementAndGet()
				continue
			}
		}

		if !underTest.EndEvictionTest() {
			// A concurrent borrow is contending for this wrapper; leave it
			// be, it will re-enter the idle deque (or not) via the normal
			// borrow/return path.
		}
	}
}

// testWhileIdle runs activate/validate/passivate against a retained
// wrapper and destroys it on any failure. Returns false if it destroyed
// the wrapper.
func (p *ObjectPool) testWhileIdle(underTest *PooledObject) bool {
	if err := p.factory.ActivateObject(underTest); err != nil {
		p.destroy(underTest, ReasonEvictorFailure)
		return false
	}
	if !p.factory.ValidateObject(underTest) {
		p.destroy(underTest, ReasonEvictorFailure)
		return false
	}
	if err := p.factory.PassivateObject(underTest); err != nil {
		p.destroy(underTest, ReasonEvictorFailure)
		return false
	}
	return true
}

// evictionOrderIterator returns a fresh snapshot iterator in the order the
// evictor should visit: LIFO-configured pools visit newest-first so the
// eviction order matches the take order, and vice versa.
func (p *ObjectPool) evictionOrderIterator(cfg ObjectPoolConfig) collections.Iterator[*PooledObject] {
	if cfg.Lifo {
		return p.idleObjects.DescendingIterator()
	}
	return p.idleObjects.Iterator()
}

// getNumTests applies the NumTestsPerEvictionRun interpretation documented
// in DESIGN.md: a non-negative N caps visits (zero visits none); a
// negative N means visit ceil(numIdle / |N|).
func (p *ObjectPool) getNumTests(cfg ObjectPoolConfig) int {
	n := cfg.NumTestsPerEvictionRun
	idle := p.idleObjects.Size()
	if n >= 0 {
		if n < idle {
			return n
		}
		return idle
	}
	return int(math.Ceil(float64(idle) / math.Abs(float64(n))))
}

func (p *ObjectPool) getMinIdle(cfg ObjectPoolConfig) int {
	if cfg.MinIdle > cfg.MaxIdle && cfg.MaxIdle >= 0 {
		return cfg.MaxIdle
	}
	return cfg.MinIdle
}

// ensureMinIdle tops the idle deque up to the configured floor, run after
// every evictor pass per spec.md §4.3 step 5.
func (p *ObjectPool) ensureMinIdle() {
	cfg := p.Config()
	p.ensureIdle(p.getMinIdle(cfg), true)
}

// removeAbandoned implements the sweeper protocol from spec.md §4.4: CAS
// every over-threshold Allocated wrapper to Abandoned, then invalidate it
// and, if LogAbandoned is set, emit a report.
func (p *ObjectPool) removeAbandoned(ac *AbandonedConfig) {
	timeout := ac.RemoveAbandonedTimeout
	var toReclaim []*PooledObject
	for _, obj := range p.allObjects.Values() {
		if obj.State() != StateAllocated {
			continue
		}
		lastActive := obj.LastBorrowInstant()
		if lu := obj.LastUsedInstant(); lu.After(lastActive) {
			lastActive = lu
		}
		if time.Since(lastActive) > timeout {
			if obj.MarkAbandoned() {
				toReclaim = append(toReclaim, obj)
			}
		}
	}

	sink := sinkOrDefault(ac)
	for _, obj := range toReclaim {
		if ac.LogAbandoned {
			borrowStack, lastUseStack := obj.callSites()
			sink.Report(AbandonedReport{
				CreateInstant: obj.CreateInstant(),
				BorrowInstant: obj.LastBorrowInstant(),
				LastUsed:      obj.LastUsedInstant(),
				BorrowStack:   borrowStack,
				LastUseStack:  lastUseStack,
			})
		}
		p.destroy(obj, ReasonAbandoned)
	}
}
