package keyed

import (
	"math"

	"github.com/nandlabs-forks/genpool"
	"github.com/nandlabs-forks/genpool/collections"
)

// evict runs one evictor pass over every key's idle deque in turn, applying
// the same per-wrapper protocol spec.md §4.3 describes for the
// single-resource engine.
func (k *KeyedObjectPool) evict() {
	cfg := k.Config()
	policy := resolvePolicy(cfg.EvictionPolicyName)
	evictionCfg := &genpool.EvictionConfig{
		IdleEvictDuration:     cfg.MinEvictableIdleDuration,
		IdleSoftEvictDuration: cfg.SoftMinEvictableIdleDuration,
		MinIdle:               cfg.MinIdlePerKey,
	}

	k.mu.Lock()
	sps := make([]*subPool, 0, len(k.pools))
	for _, sp := range k.pools {
		sps = append(sps, sp)
	}
	k.mu.Unlock()

	for _, sp := range sps {
		k.evictSubPool(sp, cfg, policy, evictionCfg)
	}
}

func (k *KeyedObjectPool) evictSubPool(sp *subPool, cfg Config, policy genpool.EvictionPolicy, evictionCfg *genpool.EvictionConfig) {
	if sp.idleObjects.Size() == 0 {
		return
	}

	for i, n := 0, numTests(cfg.NumTestsPerEvictionRun, sp.idleObjects.Size()); i < n; i++ {
		if sp.evictionIterator == nil || !sp.evictionIterator.HasNext() {
			sp.evictionIterator = evictionOrderIterator(sp, cfg)
		}
		if !sp.evictionIterator.HasNext() {
			return
		}

		underTest := sp.evictionIterator.Next()
		if underTest == nil || !underTest.StartEvictionTest() {
			i--
			continue
		}

		if policy.Evict(evictionCfg, underTest, sp.idleObjects.Size()) {
			k.destroy(sp, underTest, genpool.ReasonEvictorFailure)
			sp.destroyedByEvictorCount.IncrementAndGet()
			continue
		}

		if cfg.TestWhileIdle {
			if err := k.factory.ActivateObject(sp.key, underTest); err != nil {
				k.destroy(sp, underTest, genpool.ReasonEvictorFailure)
				sp.destroyedByEvictorCount.IncrementAndGet()
				continue
			}
			if !k.factory.ValidateObject(sp.key, underTest) {
				k.destroy(sp, underTest, genpool.ReasonEvictorFailure)
				sp.destroyedByEvictorCount.IncrementAndGet()
				continue
			}
			if err := k.factory.PassivateObject(sp.key, underTest); err != nil {
				k.destroy(sp, underTest, genpool.ReasonEvictorFailure)
				sp.destroyedByEvictorCount.IncrementAndGet()
				continue
			}
		}

		underTest.EndEvictionTest()
	}
}

func evictionOrderIterator(sp *subPool, cfg Config) collections.Iterator[*genpool.PooledObject] {
	if cfg.Lifo {
		return sp.idleObjects.DescendingIterator()
	}
	return sp.idleObjects.Iterator()
}

func numTests(configured, idle int) int {
	if configured >= 0 {
		if configured < idle {
			return configured
		}
		return idle
	}
	return int(math.Ceil(float64(idle) / math.Abs(float64(configured))))
}

func resolvePolicy(name string) genpool.EvictionPolicy {
	return genpool.ResolveEvictionPolicy(name)
}

// ensureMinIdle tops every key currently tracked back up to MinIdlePerKey,
// run after every evictor pass.
func (k *KeyedObjectPool) ensureMinIdle() {
	cfg := k.Config()
	if cfg.MinIdlePerKey < 1 {
		return
	}
	k.mu.Lock()
	sps := make([]*subPool, 0, len(k.pools))
	for _, sp := range k.pools {
		sps = append(sps, sp)
	}
	k.mu.Unlock()

	for _, sp := range sps {
		for sp.idleObjects.Size() < cfg.MinIdlePerKey {
			obj, err := k.createFor(sp, cfg)
			if err != nil || obj == nil {
				break
			}
			if perr := k.factory.PassivateObject(sp.key, obj); perr != nil {
				k.destroy(sp, obj, genpool.ReasonPassivationFailure)
				break
			}
			if cfg.Lifo {
				sp.idleObjects.AddFirst(obj)
			} else {
				sp.idleObjects.AddLast(obj)
			}
			k.globalSignal.signal()
		}
	}
}
