package keyed

import (
	"github.com/nandlabs-forks/genpool"
	"github.com/nandlabs-forks/genpool/collections"
	"github.com/nandlabs-forks/genpool/concurrent"
)

// subPool is one key's logically independent pool, structured like
// ObjectPool minus its own waiter primitive: per-key blocking is served by
// subPool.idleObjects directly, but global-capacity blocking is served by
// the owning KeyedObjectPool's shared broadcaster (see broadcast.go).
type subPool struct {
	key any

	idleObjects *collections.LinkedBlockingDeque[*genpool.PooledObject]

	numActive     *concurrent.AtomicInteger
	numInterested *concurrent.AtomicInteger

	createCount                      *concurrent.AtomicInteger
	destroyedCount                   *concurrent.AtomicInteger
	destroyedByEvictorCount          *concurrent.AtomicInteger
	destroyedByBorrowValidationCount *concurrent.AtomicInteger

	evictionIterator collections.Iterator[*genpool.PooledObject]
}

func newSubPool(key any) *subPool {
	return &subPool{
		key:                              key,
		idleObjects:                      collections.NewDeque[*genpool.PooledObject](-1),
		numActive:                        concurrent.NewAtomicInteger(0),
		numInterested:                    concurrent.NewAtomicInteger(0),
		createCount:                      concurrent.NewAtomicInteger(0),
		destroyedCount:                   concurrent.NewAtomicInteger(0),
		destroyedByEvictorCount:          concurrent.NewAtomicInteger(0),
		destroyedByBorrowValidationCount: concurrent.NewAtomicInteger(0),
	}
}

// refCount is the sum the keyed engine checks before dropping a sub-pool
// from its table: active + idle + interested borrowers.
func (sp *subPool) refCount() int64 {
	return sp.numActive.Get() + int64(sp.idleObjects.Size()) + sp.numInterested.Get()
}
