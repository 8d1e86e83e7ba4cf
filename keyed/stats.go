package keyed

// KeyStats is a consolidated per-key counter snapshot.
type KeyStats struct {
	NumActive                        int
	NumIdle                          int
	CreatedCount                     int64
	DestroyedCount                   int64
	DestroyedByEvictorCount          int64
	DestroyedByBorrowValidationCount int64
}

// StatsForKey returns a snapshot for one key, or the zero value if the key
// has no sub-pool (nothing borrowed, added, or currently interested).
func (k *KeyedObjectPool) StatsForKey(key any) KeyStats {
	sp := k.subPoolFor(key)
	if sp == nil {
		return KeyStats{}
	}
	return KeyStats{
		NumActive:                        int(sp.numActive.Get()),
		NumIdle:                          sp.idleObjects.Size(),
		CreatedCount:                     sp.createCount.Get() + sp.destroyedCount.Get(),
		DestroyedCount:                   sp.destroyedCount.Get(),
		DestroyedByEvictorCount:          sp.destroyedByEvictorCount.Get(),
		DestroyedByBorrowValidationCount: sp.destroyedByBorrowValidationCount.Get(),
	}
}

// NumKeys returns the number of keys currently tracked (nonzero
// active+idle+interested).
func (k *KeyedObjectPool) NumKeys() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.pools)
}
