package genpool

// PoolStats is a consolidated snapshot of the counters §4.1 describes as
// individual accessors, matching the real Commons Pool lineage's
// GetStatsString (supplemented here per SPEC_FULL.md §5 since nothing in
// the Non-goals excludes an observability accessor, only a JMX/logging
// backend for it).
type PoolStats struct {
	NumActive                        int
	NumIdle                          int
	NumWaiters                       int
	CreatedCount                     int64
	DestroyedCount                   int64
	DestroyedByEvictorCount          int64
	DestroyedByBorrowValidationCount int64
}

// SwallowedErrorListener observes the factory DestroyObject errors a pool
// swallows, from background maintenance as well as from Return,
// Invalidate, Clear and Close; these never propagate to a borrower. The
// default is a no-op; a consumer wanting metrics registers its own via
// ObjectPool.SetSwallowedErrorListener.
type SwallowedErrorListener interface {
	SwallowedError(err error)
}

type noopSwallowedErrorListener struct{}

func (noopSwallowedErrorListener) SwallowedError(error) {}
