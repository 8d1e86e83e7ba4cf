package genpool

import (
	"errors"
	"fmt"
)

// Sentinel errors borrow surfaces. Use errors.Is against these; the
// underlying factory error, when present, is reachable with errors.Unwrap.
var (
	// ErrPoolClosed is returned by any operation (other than Return and
	// Invalidate, which always succeed against a closed pool) once Close
	// has been called.
	ErrPoolClosed = errors.New("genpool: pool is closed")
	// ErrPoolExhausted is returned by Borrow when no capacity is available
	// and the wait elapsed (or blocking is disabled).
	ErrPoolExhausted = errors.New("genpool: pool exhausted")
	// ErrCancelled is returned by Borrow when the caller's context is
	// cancelled while waiting.
	ErrCancelled = errors.New("genpool: borrow cancelled")
	// ErrValidationFailed is returned by Borrow when the ceiling on
	// consecutive activation or validation failures is reached.
	ErrValidationFailed = errors.New("genpool: validation failed repeatedly")
	// ErrUnknownObject is returned by Return/Invalidate when the object is
	// not tracked by this pool.
	ErrUnknownObject = errors.New("genpool: object not tracked by this pool")
	// ErrIllegalState is returned by Return when the object is not in a
	// state a return can act on (e.g. returned twice).
	ErrIllegalState = errors.New("genpool: illegal pooled object state")
)

// FactoryCreateError wraps a factory.Create failure (including a nil
// object, which is always a fatal creation error) so the cause survives in
// the error chain.
type FactoryCreateError struct {
	Cause error
}

func (e *FactoryCreateError) Error() string {
	return fmt.Sprintf("genpool: factory create failed: %v", e.Cause)
}

func (e *FactoryCreateError) Unwrap() error {
	return e.Cause
}

// DestroyReason is passed to Factory.Destroy so a factory can distinguish
// routine recycling from failure-driven destruction in its own logging.
type DestroyReason int

const (
	ReasonAbandoned DestroyReason = iota
	ReasonClear
	ReasonClose
	ReasonEvictorFailure
	ReasonPassivationFailure
	ReasonReturnValidationFailure
	ReasonBorrowValidationFailure
	ReasonOverCapacity
	ReasonInvalidated
)

func (r DestroyReason) String() string {
	switch r {
	case ReasonAbandoned:
		return "Abandoned"
	case ReasonClear:
		return "Clear"
	case ReasonClose:
		return "Close"
	case ReasonEvictorFailure:
		return "EvictorFailure"
	case ReasonPassivationFailure:
		return "PassivationFailure"
	case ReasonReturnValidationFailure:
		return "ReturnValidationFailure"
	case ReasonBorrowValidationFailure:
		return "BorrowValidationFailure"
	case ReasonOverCapacity:
		return "OverCapacity"
	case ReasonInvalidated:
		return "Invalidated"
	default:
		return "Unknown"
	}
}
