package keyed

import "sync"

// broadcaster wakes every current waiter exactly once per signal, used for
// the "blocked on global capacity, woken by any key's return" fairness rule
// in spec.md §4.2 — distinct from a sub-pool's own idle-deque waiter queue,
// which wakes a single borrower per return.
type broadcaster struct {
	mu sync.Mutex
	ch chan struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{ch: make(chan struct{})}
}

// wait returns the channel that closes on the next signal.
func (b *broadcaster) wait() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch
}

// signal wakes every goroutine currently blocked on wait().
func (b *broadcaster) signal() {
	b.mu.Lock()
	old := b.ch
	b.ch = make(chan struct{})
	b.mu.Unlock()
	close(old)
}
