package genpool

// PooledObjectFactory is the external lifecycle collaborator every engine
// consumes. Implementations must never return a nil object from Create; a
// throwing Validate is not possible in Go (it returns bool), so an
// implementation that would otherwise panic must instead return false.
type PooledObjectFactory interface {
	// MakeObject produces a new underlying value, wrapped for the engine.
	// Returning (nil, nil) is treated the same as returning an error: a
	// fatal creation failure.
	MakeObject() (*PooledObject, error)
	// ActivateObject prepares p for a borrow. An error here, during
	// Borrow, causes p to be destroyed and the borrow loop to retry.
	ActivateObject(p *PooledObject) error
	// ValidateObject must not panic; a factory that cannot cleanly decide
	// should return false rather than letting a panic escape, matching the
	// "thrown validator treated as false" contract.
	ValidateObject(p *PooledObject) bool
	// PassivateObject prepares p for idle storage. An error here, during
	// Return, causes p to be destroyed instead of recycled.
	PassivateObject(p *PooledObject) error
	// DestroyObject performs best-effort cleanup. Errors should be
	// swallowed by the implementation where possible; any error returned
	// here goes to the pool's SwallowedErrorListener (and, during Clear or
	// Close, to LastDrainErrors) but is never surfaced to a borrower. The
	// pool keeps no count of these errors.
	DestroyObject(p *PooledObject, reason DestroyReason) error
}

// KeyedPooledObjectFactory is the keyed-engine analogue of
// PooledObjectFactory: every lifecycle method also receives the key so a
// factory backing several object types (or several configurations of the
// same type) can dispatch on it.
type KeyedPooledObjectFactory interface {
	MakeObject(key any) (*PooledObject, error)
	ActivateObject(key any, p *PooledObject) error
	ValidateObject(key any, p *PooledObject) bool
	PassivateObject(key any, p *PooledObject) error
	DestroyObject(key any, p *PooledObject, reason DestroyReason) error
}
