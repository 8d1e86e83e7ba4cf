package genpool

// PooledObjectState is one node of the wrapper state machine described in
// the engine design: a wrapper is always in exactly one of these states.
type PooledObjectState int

const (
	// StateIdle means the wrapper is sitting in the idle deque, available
	// to be borrowed.
	StateIdle PooledObjectState = iota
	// StateAllocated means the wrapper is currently lent to a borrower.
	StateAllocated
	// StateEvicting means the evictor is examining the wrapper; it stays
	// in the idle deque while in this state, but Allocate refuses it.
	StateEvicting
	// StateEvictionReturnToHead is a narrow race window: a borrow tried to
	// take a wrapper the evictor was examining, so the evictor places it
	// back at the head instead of the tail on release.
	StateEvictionReturnToHead
	// StateReturning means a borrower has called Return and the wrapper is
	// being passivated/validated before it is either reinstated as Idle
	// or destroyed.
	StateReturning
	// StateInvalid is terminal: the wrapper is being, or has been,
	// destroyed and removed from the all-objects index.
	StateInvalid
	// StateAbandoned means the sweeper has flagged the wrapper as
	// abandoned; it is still logically "borrowed" until reclaimed or
	// returned.
	StateAbandoned
)

func (s PooledObjectState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAllocated:
		return "Allocated"
	case StateEvicting:
		return "Evicting"
	case StateEvictionReturnToHead:
		return "EvictionReturnToHead"
	case StateReturning:
		return "Returning"
	case StateInvalid:
		return "Invalid"
	case StateAbandoned:
		return "Abandoned"
	default:
		return "Unknown"
	}
}
