// Package config implements the configuration surface described in §6.3:
// recognized options, their defaults, and HOTSTUFF_-prefixed environment
// variable overrides, following the grouped-struct shape the teacher uses
// for its own node configuration (lib/config.go's MainConfig pattern).
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/hotstuffsim/hotstuffsim/types"
)

// Config is the full set of options recognized by the simulator core.
type Config struct {
	NumReplicas           int               `json:"num_replicas"`
	NumFaulty             int               `json:"num_faulty"`
	FaultType             types.FaultType   `json:"fault_type"`
	FaultyReplicas        []types.ReplicaId `json:"faulty_replicas"`
	RandomDropProbability float64           `json:"random_drop_probability"` // RANDOM_DROP's per-message p_drop
	PacemakerType         PacemakerType     `json:"pacemaker_type"`
	BaseTimeoutMs         int               `json:"base_timeout_ms"`
	NetworkLatencyMs      int               `json:"network_latency_ms"`
	NetworkJitterMs       int               `json:"network_jitter_ms"`
	DropProbability       float64           `json:"drop_probability"`
	Seed                  int64             `json:"seed"`
	MaxViews              int               `json:"max_views"`
	Chained               bool              `json:"chained"`

	Adaptive AdaptiveConfig `json:"adaptive"`
}

// PacemakerType selects between the Baseline and Adaptive pacemaker variants.
type PacemakerType string

const (
	PacemakerBaseline PacemakerType = "baseline"
	PacemakerAdaptive PacemakerType = "adaptive"
)

// AdaptiveConfig holds the tunables of the Adaptive pacemaker (§4.6).
type AdaptiveConfig struct {
	Alpha         float64 `json:"alpha"` // EMA smoothing factor, default 0.3
	K             float64 `json:"k"`     // timeout = max(delta_min, k * ema_latency)
	DeltaMinMs    int     `json:"delta_min_ms"`
	DeltaMaxMs    int     `json:"delta_max_ms"`
	BackoffFactor float64 `json:"backoff_factor"` // default 1.5
}

// DefaultConfig returns a Config with the developer-set defaults named
// throughout §4 and §6.3.
func DefaultConfig() Config {
	return Config{
		NumReplicas:           4,
		NumFaulty:             0,
		FaultType:             types.NoFault,
		RandomDropProbability: 0.5,
		PacemakerType:         PacemakerBaseline,
		BaseTimeoutMs:         1000,
		NetworkLatencyMs:      10,
		NetworkJitterMs:       0,
		DropProbability:       0,
		Seed:                  1,
		MaxViews:              0, // 0 == unbounded
		Chained:               false,
		Adaptive: AdaptiveConfig{
			Alpha:         0.3,
			K:             3,
			DeltaMinMs:    50,
			DeltaMaxMs:    10_000,
			BackoffFactor: 1.5,
		},
	}
}

// Result is returned by ApplyConfig on success, per §6.2's
// `POST config -> { quorum_size, max_faulty }` contract.
type Result struct {
	QuorumSize     int
	MaxFaulty      int
	SafetyWarning  string // non-empty when num_faulty exceeds the safety threshold
}

// Validate checks the structural well-formedness of a Config, returning a
// ConfigurationError for anything that is not merely unsafe but actually
// malformed (§7). It does not reject num_faulty > (N-1)/3: that is an
// unsafe-but-well-formed configuration, surfaced as a warning by
// ApplyConfig instead (Open Question #2 in SPEC_FULL.md).
func (c *Config) Validate() types.ErrorI {
	if c.NumReplicas < 1 {
		return types.ErrInvalidNumReplicas(c.NumReplicas)
	}
	if c.NumFaulty < 0 {
		return types.ErrInvalidNumReplicas(c.NumFaulty)
	}
	if c.BaseTimeoutMs <= 0 {
		return types.ErrInvalidTimeout(c.BaseTimeoutMs)
	}
	if c.DropProbability < 0 || c.DropProbability > 1 {
		return types.ErrInvalidDropProbability(c.DropProbability)
	}
	if c.RandomDropProbability < 0 || c.RandomDropProbability > 1 {
		return types.ErrInvalidDropProbability(c.RandomDropProbability)
	}
	if c.PacemakerType != PacemakerBaseline && c.PacemakerType != PacemakerAdaptive {
		return types.ErrUnknownPacemakerType(string(c.PacemakerType))
	}
	return nil
}

// ApplyConfig validates c and computes the derived quorum parameters,
// implementing the `POST config` contract of §6.2.
func ApplyConfig(c *Config) (*Result, types.ErrorI) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	maxFaulty := types.MaxToleratedFaults(c.NumReplicas)
	result := &Result{
		QuorumSize: types.Quorum(c.NumReplicas, c.NumFaulty),
		MaxFaulty:  maxFaulty,
	}
	if c.NumFaulty > maxFaulty {
		result.SafetyWarning = "num_faulty exceeds floor((N-1)/3); safety is not guaranteed for this configuration"
	}
	return result, nil
}

// envPrefix is the prefix recognized by LoadEnvOverrides, per §6.3.
const envPrefix = "HOTSTUFF_"

// LoadEnvOverrides mutates c in place with any HOTSTUFF_-prefixed
// environment variables that are set, leaving unset fields untouched.
func LoadEnvOverrides(c *Config) types.ErrorI {
	if v, ok := lookupInt(envPrefix + "NUM_REPLICAS"); ok {
		c.NumReplicas = v
	}
	if v, ok := lookupInt(envPrefix + "NUM_FAULTY"); ok {
		c.NumFaulty = v
	}
	if v, ok := os.LookupEnv(envPrefix + "FAULT_TYPE"); ok {
		ft, err := types.ParseFaultType(strings.ToUpper(v))
		if err != nil {
			return err
		}
		c.FaultType = ft
	}
	if v, ok := os.LookupEnv(envPrefix + "PACEMAKER_TYPE"); ok {
		pt := PacemakerType(strings.ToLower(v))
		if pt != PacemakerBaseline && pt != PacemakerAdaptive {
			return types.ErrUnknownPacemakerType(v)
		}
		c.PacemakerType = pt
	}
	if v, ok := lookupInt(envPrefix + "BASE_TIMEOUT_MS"); ok {
		c.BaseTimeoutMs = v
	}
	if v, ok := lookupInt(envPrefix + "NETWORK_LATENCY_MS"); ok {
		c.NetworkLatencyMs = v
	}
	if v, ok := lookupInt(envPrefix + "NETWORK_JITTER_MS"); ok {
		c.NetworkJitterMs = v
	}
	if v, ok := lookupFloat(envPrefix + "DROP_PROBABILITY"); ok {
		c.DropProbability = v
	}
	if v, ok := lookupFloat(envPrefix + "RANDOM_DROP_PROBABILITY"); ok {
		c.RandomDropProbability = v
	}
	if v, ok := lookupInt64(envPrefix + "SEED"); ok {
		c.Seed = v
	}
	if v, ok := lookupInt(envPrefix + "MAX_VIEWS"); ok {
		c.MaxViews = v
	}
	if v, ok := lookupBool(envPrefix + "CHAINED"); ok {
		c.Chained = v
	}
	return nil
}

func lookupInt(key string) (int, bool) {
	s, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	return v, err == nil
}

func lookupInt64(key string) (int64, bool) {
	s, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	return v, err == nil
}

func lookupFloat(key string) (float64, bool) {
	s, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}

func lookupBool(key string) (bool, bool) {
	s, ok := os.LookupEnv(key)
	if !ok {
		return false, false
	}
	v, err := strconv.ParseBool(s)
	return v, err == nil
}
