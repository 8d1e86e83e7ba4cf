package keyed

import (
	"time"

	"github.com/nandlabs-forks/genpool"
)

// removeAbandoned implements the sweeper protocol across every key: scan
// the global all-objects index for Allocated wrappers idle longer than
// RemoveAbandonedTimeout, CAS them to Abandoned, then destroy and report.
func (k *KeyedObjectPool) removeAbandoned() {
	cfg := k.Config()
	if cfg.RemoveAbandonedTimeout <= 0 {
		return
	}

	var toReclaim []*entry
	for _, ent := range k.allObjects.Values() {
		w := ent.wrapper
		if w.State() != genpool.StateAllocated {
			continue
		}
		lastActive := w.LastBorrowInstant()
		if lu := w.LastUsedInstant(); lu.After(lastActive) {
			lastActive = lu
		}
		if time.Since(lastActive) > cfg.RemoveAbandonedTimeout {
			if w.MarkAbandoned() {
				toReclaim = append(toReclaim, ent)
			}
		}
	}

	sink := cfg.Sink
	if sink == nil {
		sink = genpool.DefaultAbandonedReportSink{}
	}

	for _, ent := range toReclaim {
		sp := k.subPoolFor(ent.key)
		if cfg.LogAbandoned {
			sink.Report(genpool.AbandonedReport{
				Key:           ent.key,
				CreateInstant: ent.wrapper.CreateInstant(),
				BorrowInstant: ent.wrapper.LastBorrowInstant(),
				LastUsed:      ent.wrapper.LastUsedInstant(),
			})
		}
		k.destroy(sp, ent.wrapper, genpool.ReasonAbandoned)
		sp.numActive.DecrementAndGet()
		k.maybeDropSubPool(sp)
	}
}
