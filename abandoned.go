package genpool

import (
	"log"
	"time"
)

// AbandonedReport is the structured record emitted for a reclaimed object,
// per spec.md §6 ("a structured abandoned-object report... written to a
// configurable sink"). Key is nil for a single ObjectPool; for a keyed
// engine it holds the owning sub-pool's key.
type AbandonedReport struct {
	Key           any
	CreateInstant time.Time
	BorrowInstant time.Time
	LastUsed      time.Time
	BorrowStack   []byte
	LastUseStack  []byte
}

// AbandonedReportSink receives one AbandonedReport per object the sweeper
// reclaims. Implementations must not block the sweeper for long; Report is
// called synchronously from the sweep loop.
type AbandonedReportSink interface {
	Report(r AbandonedReport)
}

// DefaultAbandonedReportSink writes each report through the standard log
// package, so a consumer gets abandoned-object visibility without being
// forced onto a specific logging framework.
type DefaultAbandonedReportSink struct{}

func (DefaultAbandonedReportSink) Report(r AbandonedReport) {
	log.Printf("genpool: abandoned object reclaimed key=%v created=%s borrowed=%s lastUsed=%s",
		r.Key, r.CreateInstant.Format(time.RFC3339), r.BorrowInstant.Format(time.RFC3339), r.LastUsed.Format(time.RFC3339))
}

func sinkOrDefault(ac *AbandonedConfig) AbandonedReportSink {
	if ac.Sink != nil {
		return ac.Sink
	}
	return DefaultAbandonedReportSink{}
}
