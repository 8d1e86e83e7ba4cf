package maintenance

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestRegisterRunsTaskPeriodically(t *testing.T) {
	var calls int32
	reg := Register(t.Name(), 5*time.Millisecond, func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	defer reg.Unregister()

	deadline := time.After(time.Second)
	for atomic.LoadInt32(&calls) < 2 {
		select {
		case <-deadline:
			t.Fatalf("task ran %d times in 1s, want at least 2", atomic.LoadInt32(&calls))
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestUnregisterStopsTask(t *testing.T) {
	var calls int32
	reg := Register(t.Name(), 5*time.Millisecond, func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	time.Sleep(20 * time.Millisecond)
	reg.Unregister()
	after := atomic.LoadInt32(&calls)

	time.Sleep(30 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != after {
		t.Errorf("calls grew from %d to %d after Unregister", after, got)
	}
}

func TestMultipleRegistrationsShareScheduler(t *testing.T) {
	var calls1, calls2 int32
	reg1 := Register(t.Name()+"-1", 5*time.Millisecond, func(context.Context) error {
		atomic.AddInt32(&calls1, 1)
		return nil
	})
	reg2 := Register(t.Name()+"-2", 5*time.Millisecond, func(context.Context) error {
		atomic.AddInt32(&calls2, 1)
		return nil
	})
	defer reg1.Unregister()
	defer reg2.Unregister()

	deadline := time.After(time.Second)
	for atomic.LoadInt32(&calls1) < 1 || atomic.LoadInt32(&calls2) < 1 {
		select {
		case <-deadline:
			t.Fatalf("calls1=%d calls2=%d after 1s, want both >= 1", calls1, calls2)
		case <-time.After(5 * time.Millisecond):
		}
	}
}
