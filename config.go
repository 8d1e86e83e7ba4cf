package genpool

import "time"

// DefaultEvictionPolicyName names the built-in policy implementing the
// idle-duration plus soft-min-idle rule from the engine design.
const DefaultEvictionPolicyName = "default"

// ObjectPoolConfig is an immutable snapshot fed into an ObjectPool at
// construction. All fields are read once per maintenance cycle; changing a
// field on a config instance already handed to a running pool has no
// effect until SetConfig is called (see ObjectPool.SetConfig), matching the
// "runtime tuning takes effect next maintenance cycle, never mid-operation"
// rule.
type ObjectPoolConfig struct {
	// MaxTotal upper-bounds created-destroyed; negative means unlimited.
	MaxTotal int
	// MaxIdle upper-bounds the idle deque size; excess returns destroy.
	MaxIdle int
	// MinIdle is the floor the evictor tops idle back up to.
	MinIdle int

	// Lifo selects tail-take (true) vs head-take (false, FIFO) for borrow.
	Lifo bool
	// Fairness, when true, serves borrow waiters in strict arrival order.
	Fairness bool
	// BlockWhenExhausted selects whether Borrow blocks (true) or fails
	// immediately (false) when no capacity is available.
	BlockWhenExhausted bool
	// MaxWait is the default wait applied when Borrow is called without an
	// explicit deadline. Negative means block indefinitely; zero means do
	// not block.
	MaxWait time.Duration

	TestOnCreate bool
	TestOnBorrow bool
	TestOnReturn bool
	TestWhileIdle bool

	// TimeBetweenEvictionRuns is the evictor period; non-positive disables
	// the evictor entirely.
	TimeBetweenEvictionRuns time.Duration
	// NumTestsPerEvictionRun caps visits per evictor run when zero or
	// positive (zero visits none). When negative, a run visits
	// ceil(numIdle / |N|) wrappers — see
	// DESIGN.md for why this module keeps the source tradition's reading
	// of negative N rather than "visit all".
	NumTestsPerEvictionRun int
	MinEvictableIdleDuration     time.Duration
	SoftMinEvictableIdleDuration time.Duration
	EvictionPolicyName           string

	RemoveAbandonedOnBorrow      bool
	RemoveAbandonedOnMaintenance bool
	RemoveAbandonedTimeout       time.Duration
	LogAbandoned                 bool
	UseUsageTracking             bool
	RequireFullStackTrace        bool
}

// NewDefaultPoolConfig returns the same defaults the reference
// implementation ships: at most 8 objects in total and 8 idle, LIFO,
// block indefinitely, no eviction or abandoned tracking until explicitly
// configured.
func NewDefaultPoolConfig() *ObjectPoolConfig {
	return &ObjectPoolConfig{
		MaxTotal:                     8,
		MaxIdle:                      8,
		MinIdle:                      0,
		Lifo:                         true,
		Fairness:                     false,
		BlockWhenExhausted:           true,
		MaxWait:                      -1,
		TestOnCreate:                 false,
		TestOnBorrow:                 false,
		TestOnReturn:                 false,
		TestWhileIdle:                false,
		TimeBetweenEvictionRuns:      0,
		NumTestsPerEvictionRun:       3,
		MinEvictableIdleDuration:     30 * time.Minute,
		SoftMinEvictableIdleDuration: -1,
		EvictionPolicyName:           DefaultEvictionPolicyName,
	}
}

// AbandonedConfig enables and tunes the abandoned-object sweeper. A nil
// *AbandonedConfig on a pool disables the sweeper entirely.
type AbandonedConfig struct {
	RemoveAbandonedOnBorrow      bool
	RemoveAbandonedOnMaintenance bool
	RemoveAbandonedTimeout       time.Duration
	LogAbandoned                 bool
	UseUsageTracking             bool
	RequireFullStackTrace        bool
	// Sink receives a report for every reclaimed object when LogAbandoned
	// is set. A nil Sink with LogAbandoned true falls back to
	// DefaultAbandonedReportSink.
	Sink AbandonedReportSink
}

// EvictionConfig is the context an EvictionPolicy decides against: the
// configured idle-age thresholds plus the current idle count, so a policy
// can apply the soft-min-idle rule.
type EvictionConfig struct {
	IdleEvictDuration     time.Duration
	IdleSoftEvictDuration time.Duration
	MinIdle               int
}

// EvictionPolicy decides whether a wrapper under examination should be
// evicted. The default policy implements spec.md's rule: destroy when idle
// duration exceeds IdleEvictDuration, or when it exceeds
// IdleSoftEvictDuration and retaining it would leave numIdle above MinIdle.
type EvictionPolicy interface {
	Evict(cfg *EvictionConfig, underTest *PooledObject, idleCount int) bool
}

type defaultEvictionPolicy struct{}

func (defaultEvictionPolicy) Evict(cfg *EvictionConfig, underTest *PooledObject, idleCount int) bool {
	idle := underTest.IdleDuration()
	if cfg.IdleEvictDuration > 0 && idle > cfg.IdleEvictDuration {
		return true
	}
	if cfg.IdleSoftEvictDuration > 0 && idle > cfg.IdleSoftEvictDuration && idleCount > cfg.MinIdle {
		return true
	}
	return false
}

var evictionPolicies = map[string]EvictionPolicy{
	DefaultEvictionPolicyName: defaultEvictionPolicy{},
}

// RegisterEvictionPolicy makes a named, pluggable policy available to any
// ObjectPoolConfig.EvictionPolicyName referencing it. Intended to be called
// from an init function by a consumer that wants a custom policy.
func RegisterEvictionPolicy(name string, policy EvictionPolicy) {
	evictionPolicies[name] = policy
}

func getEvictionPolicy(name string) EvictionPolicy {
	return ResolveEvictionPolicy(name)
}

// ResolveEvictionPolicy looks up a policy registered under name, falling
// back to the default policy if none was registered under that name. It is
// exported so other engines sharing this policy registry (genpool/keyed)
// can resolve by name too.
func ResolveEvictionPolicy(name string) EvictionPolicy {
	if p, ok := evictionPolicies[name]; ok {
		return p
	}
	return evictionPolicies[DefaultEvictionPolicyName]
}
