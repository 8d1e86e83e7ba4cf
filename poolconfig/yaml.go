// Package poolconfig loads ObjectPoolConfig/keyed.Config snapshots from a
// YAML document, in the spirit of golly's layered config.Configuration
// sources (oss.nandlabs.io/golly/config), using golly's own declared
// dependency gopkg.in/yaml.v3 rather than hand-rolling a parser.
package poolconfig

import (
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nandlabs-forks/genpool"
	"github.com/nandlabs-forks/genpool/keyed"
)

// yamlDoc mirrors ObjectPoolConfig's fields with plain Go types yaml.v3
// can decode directly (durations as strings, parsed below).
type yamlDoc struct {
	MaxTotal           int    `yaml:"maxTotal"`
	MaxTotalPerKey     int    `yaml:"maxTotalPerKey"`
	MaxIdle            int    `yaml:"maxIdle"`
	MinIdle            int    `yaml:"minIdle"`
	Lifo               bool   `yaml:"lifo"`
	Fairness           bool   `yaml:"fairness"`
	BlockWhenExhausted bool   `yaml:"blockWhenExhausted"`
	MaxWait            string `yaml:"maxWait"`

	TestOnCreate  bool `yaml:"testOnCreate"`
	TestOnBorrow  bool `yaml:"testOnBorrow"`
	TestOnReturn  bool `yaml:"testOnReturn"`
	TestWhileIdle bool `yaml:"testWhileIdle"`

	TimeBetweenEvictionRuns      string `yaml:"timeBetweenEvictionRuns"`
	NumTestsPerEvictionRun       int    `yaml:"numTestsPerEvictionRun"`
	MinEvictableIdleDuration     string `yaml:"minEvictableIdleDuration"`
	SoftMinEvictableIdleDuration string `yaml:"softMinEvictableIdleDuration"`
	EvictionPolicyName           string `yaml:"evictionPolicyName"`

	RemoveAbandonedOnBorrow      bool   `yaml:"removeAbandonedOnBorrow"`
	RemoveAbandonedOnMaintenance bool   `yaml:"removeAbandonedOnMaintenance"`
	RemoveAbandonedTimeout       string `yaml:"removeAbandonedTimeout"`
	LogAbandoned                 bool   `yaml:"logAbandoned"`
	UseUsageTracking             bool   `yaml:"useUsageTracking"`
	RequireFullStackTrace        bool   `yaml:"requireFullStackTrace"`
}

// FromYAML decodes a single ObjectPoolConfig snapshot from r. Duration
// fields accept any string time.ParseDuration understands (e.g. "30s",
// "5m"); a negative value (e.g. "-1ns" or simply omitted with MaxWait left
// unset and BlockWhenExhausted true) means "block indefinitely" exactly as
// it does on the Go struct.
func FromYAML(r io.Reader) (*genpool.ObjectPoolConfig, error) {
	var doc yamlDoc
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, err
	}

	cfg := genpool.NewDefaultPoolConfig()
	cfg.MaxTotal = doc.MaxTotal
	cfg.MaxIdle = doc.MaxIdle
	cfg.MinIdle = doc.MinIdle
	cfg.Lifo = doc.Lifo
	cfg.Fairness = doc.Fairness
	cfg.BlockWhenExhausted = doc.BlockWhenExhausted
	cfg.TestOnCreate = doc.TestOnCreate
	cfg.TestOnBorrow = doc.TestOnBorrow
	cfg.TestOnReturn = doc.TestOnReturn
	cfg.TestWhileIdle = doc.TestWhileIdle
	cfg.NumTestsPerEvictionRun = doc.NumTestsPerEvictionRun
	cfg.RemoveAbandonedOnBorrow = doc.RemoveAbandonedOnBorrow
	cfg.RemoveAbandonedOnMaintenance = doc.RemoveAbandonedOnMaintenance
	cfg.LogAbandoned = doc.LogAbandoned
	cfg.UseUsageTracking = doc.UseUsageTracking
	cfg.RequireFullStackTrace = doc.RequireFullStackTrace
	if doc.EvictionPolicyName != "" {
		cfg.EvictionPolicyName = doc.EvictionPolicyName
	}

	var err error
	if cfg.MaxWait, err = parseDuration(doc.MaxWait, cfg.MaxWait); err != nil {
		return nil, err
	}
	if cfg.TimeBetweenEvictionRuns, err = parseDuration(doc.TimeBetweenEvictionRuns, cfg.TimeBetweenEvictionRuns); err != nil {
		return nil, err
	}
	if cfg.MinEvictableIdleDuration, err = parseDuration(doc.MinEvictableIdleDuration, cfg.MinEvictableIdleDuration); err != nil {
		return nil, err
	}
	if cfg.SoftMinEvictableIdleDuration, err = parseDuration(doc.SoftMinEvictableIdleDuration, cfg.SoftMinEvictableIdleDuration); err != nil {
		return nil, err
	}
	if cfg.RemoveAbandonedTimeout, err = parseDuration(doc.RemoveAbandonedTimeout, cfg.RemoveAbandonedTimeout); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FromYAMLKeyed decodes a keyed.Config snapshot from the same document
// shape: maxTotalPerKey sets MaxTotalPerKey (a zero or missing value keeps
// the default), and maxIdle/minIdle set MaxIdlePerKey/MinIdlePerKey.
func FromYAMLKeyed(r io.Reader) (*keyed.Config, error) {
	var doc yamlDoc
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, err
	}

	cfg := keyed.NewDefaultConfig()
	cfg.MaxTotal = doc.MaxTotal
	if doc.MaxTotalPerKey != 0 {
		cfg.MaxTotalPerKey = doc.MaxTotalPerKey
	}
	cfg.MaxIdlePerKey = doc.MaxIdle
	cfg.MinIdlePerKey = doc.MinIdle
	cfg.Lifo = doc.Lifo
	cfg.Fairness = doc.Fairness
	cfg.BlockWhenExhausted = doc.BlockWhenExhausted
	cfg.TestOnCreate = doc.TestOnCreate
	cfg.TestOnBorrow = doc.TestOnBorrow
	cfg.TestOnReturn = doc.TestOnReturn
	cfg.TestWhileIdle = doc.TestWhileIdle
	cfg.NumTestsPerEvictionRun = doc.NumTestsPerEvictionRun
	cfg.RemoveAbandonedOnBorrow = doc.RemoveAbandonedOnBorrow
	cfg.RemoveAbandonedOnMaintenance = doc.RemoveAbandonedOnMaintenance
	cfg.LogAbandoned = doc.LogAbandoned
	cfg.UseUsageTracking = doc.UseUsageTracking
	cfg.RequireFullStackTrace = doc.RequireFullStackTrace
	if doc.EvictionPolicyName != "" {
		cfg.EvictionPolicyName = doc.EvictionPolicyName
	}

	var err error
	if cfg.MaxWait, err = parseDuration(doc.MaxWait, cfg.MaxWait); err != nil {
		return nil, err
	}
	if cfg.TimeBetweenEvictionRuns, err = parseDuration(doc.TimeBetweenEvictionRuns, cfg.TimeBetweenEvictionRuns); err != nil {
		return nil, err
	}
	if cfg.MinEvictableIdleDuration, err = parseDuration(doc.MinEvictableIdleDuration, cfg.MinEvictableIdleDuration); err != nil {
		return nil, err
	}
	if cfg.SoftMinEvictableIdleDuration, err = parseDuration(doc.SoftMinEvictableIdleDuration, cfg.SoftMinEvictableIdleDuration); err != nil {
		return nil, err
	}
	if cfg.RemoveAbandonedTimeout, err = parseDuration(doc.RemoveAbandonedTimeout, cfg.RemoveAbandonedTimeout); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}
