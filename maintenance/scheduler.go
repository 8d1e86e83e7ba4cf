// Package maintenance hosts the single, process-wide background executor
// that every pool engine's evictor and abandoned sweeper run on. Per
// spec.md §5/§9, this scheduler is lazily started on first use and torn
// down once the last registered engine stops using it; engines never own
// a scheduler themselves, only a registration against this one.
package maintenance

import (
	"context"
	"sync"
	"time"

	"oss.nandlabs.io/golly/chrono"
)

var (
	mu        sync.Mutex
	scheduler chrono.Scheduler
	refCount  int
)

// Task is one engine's periodic maintenance body (an evictor run, a
// sweeper pass, or both chained together). It must never hold the calling
// engine's lock across a factory call, per the concurrency model in
// spec.md §5.
type Task func(ctx context.Context) error

// Registration is a live job registered against the shared scheduler.
// Callers must call Unregister exactly once, typically from the owning
// engine's Close.
type Registration struct {
	id string
}

// Register starts (if not already running) the shared scheduler and adds a
// fixed-interval job running task every period. id must be unique across
// all registrations sharing this process; engines derive it from their own
// pointer address to guarantee that.
func Register(id string, period time.Duration, task Task) *Registration {
	mu.Lock()
	defer mu.Unlock()

	if scheduler == nil {
		scheduler = chrono.New()
		_ = scheduler.Start()
	}
	refCount++

	_ = scheduler.AddIntervalJob(id, id, chrono.JobFunc(task), period)

	return &Registration{id: id}
}

// Unregister removes the job and, if this was the last registration
// sharing the scheduler, stops and discards it so no goroutine is left
// running after the last engine has closed.
func (r *Registration) Unregister() {
	mu.Lock()
	defer mu.Unlock()
	if r == nil || scheduler == nil {
		return
	}
	_ = scheduler.RemoveJob(r.id)
	refCount--
	if refCount <= 0 {
		_ = scheduler.Stop()
		scheduler = nil
		refCount = 0
	}
}
