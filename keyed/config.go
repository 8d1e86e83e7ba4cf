// Package keyed implements the per-key variant described in spec.md §4.2:
// one independent idle deque per key, sharing a single global capacity
// ceiling and a round-robin victim-eviction policy across keys.
package keyed

import (
	"time"

	"github.com/nandlabs-forks/genpool"
)

// Config is the keyed engine's immutable configuration snapshot. It
// carries the same pool-wide knobs ObjectPoolConfig does, plus
// MaxTotalPerKey.
type Config struct {
	// MaxTotal upper-bounds active+idle across every key combined;
	// negative means unlimited.
	MaxTotal int
	// MaxTotalPerKey upper-bounds active+idle for a single key; negative
	// means unlimited (still subject to MaxTotal).
	MaxTotalPerKey int
	// MaxIdlePerKey upper-bounds a single key's idle deque size.
	MaxIdlePerKey int
	// MinIdlePerKey is the floor the evictor tops each key's idle deque
	// back up to.
	MinIdlePerKey int

	Lifo               bool
	Fairness           bool
	BlockWhenExhausted bool
	MaxWait            time.Duration

	TestOnCreate  bool
	TestOnBorrow  bool
	TestOnReturn  bool
	TestWhileIdle bool

	TimeBetweenEvictionRuns      time.Duration
	NumTestsPerEvictionRun       int
	MinEvictableIdleDuration     time.Duration
	SoftMinEvictableIdleDuration time.Duration
	EvictionPolicyName           string

	RemoveAbandonedOnBorrow      bool
	RemoveAbandonedOnMaintenance bool
	RemoveAbandonedTimeout       time.Duration
	LogAbandoned                 bool
	UseUsageTracking             bool
	RequireFullStackTrace        bool
	Sink                         genpool.AbandonedReportSink
}

// NewDefaultConfig mirrors genpool.NewDefaultPoolConfig's defaults, scoped
// per key.
func NewDefaultConfig() *Config {
	return &Config{
		MaxTotal:                     -1,
		MaxTotalPerKey:               8,
		MaxIdlePerKey:                8,
		MinIdlePerKey:                0,
		Lifo:                         true,
		BlockWhenExhausted:           true,
		MaxWait:                      -1,
		NumTestsPerEvictionRun:       3,
		MinEvictableIdleDuration:     30 * time.Minute,
		SoftMinEvictableIdleDuration: -1,
		EvictionPolicyName:           genpool.DefaultEvictionPolicyName,
	}
}
