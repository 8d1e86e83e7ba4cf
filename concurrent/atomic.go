// Package concurrent provides small atomic counters used by the pool
// engines to track creation and destruction without holding the engine
// lock across factory calls.
package concurrent

import "sync/atomic"

// AtomicInteger is a monotonic-friendly int64 counter. Zero value is ready
// to use and starts at 0.
type AtomicInteger struct {
	v int64
}

// NewAtomicInteger returns a counter initialized to n.
func NewAtomicInteger(n int64) *AtomicInteger {
	return &AtomicInteger{v: n}
}

// Get returns the current value.
func (a *AtomicInteger) Get() int64 {
	return atomic.LoadInt64(&a.v)
}

// Set stores n.
func (a *AtomicInteger) Set(n int64) {
	atomic.StoreInt64(&a.v, n)
}

// IncrementAndGet adds 1 and returns the new value.
func (a *AtomicInteger) IncrementAndGet() int64 {
	return atomic.AddInt64(&a.v, 1)
}

// DecrementAndGet subtracts 1 and returns the new value.
func (a *AtomicInteger) DecrementAndGet() int64 {
	return atomic.AddInt64(&a.v, -1)
}

// CompareAndSet atomically sets the value to update if the current value
// equals expect.
func (a *AtomicInteger) CompareAndSet(expect, update int64) bool {
	return atomic.CompareAndSwapInt64(&a.v, expect, update)
}

// AtomicBoolean is a CAS-able boolean flag.
type AtomicBoolean struct {
	v int32
}

// NewAtomicBoolean returns a flag initialized to b.
func NewAtomicBoolean(b bool) *AtomicBoolean {
	ab := &AtomicBoolean{}
	if b {
		ab.v = 1
	}
	return ab
}

// Get returns the current value.
func (a *AtomicBoolean) Get() bool {
	return atomic.LoadInt32(&a.v) == 1
}

// Set stores b.
func (a *AtomicBoolean) Set(b bool) {
	if b {
		atomic.StoreInt32(&a.v, 1)
	} else {
		atomic.StoreInt32(&a.v, 0)
	}
}

// CompareAndSet atomically sets the value to update if the current value
// equals expect.
func (a *AtomicBoolean) CompareAndSet(expect, update bool) bool {
	var e, u int32
	if expect {
		e = 1
	}
	if update {
		u = 1
	}
	return atomic.CompareAndSwapInt32(&a.v, e, u)
}
