package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.Nil(t, cfg.Validate())
}

func TestValidate_RejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
	}{
		{"zero replicas", func(c *Config) { c.NumReplicas = 0 }},
		{"negative num faulty", func(c *Config) { c.NumFaulty = -1 }},
		{"zero timeout", func(c *Config) { c.BaseTimeoutMs = 0 }},
		{"drop probability above 1", func(c *Config) { c.DropProbability = 1.5 }},
		{"drop probability below 0", func(c *Config) { c.DropProbability = -0.1 }},
		{"random drop probability above 1", func(c *Config) { c.RandomDropProbability = 1.1 }},
		{"unknown pacemaker type", func(c *Config) { c.PacemakerType = "quantum" }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := DefaultConfig()
			test.mutate(&cfg)
			require.NotNil(t, cfg.Validate())
		})
	}
}

func TestApplyConfig_WarnsWhenFaultsExceedThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumReplicas = 4
	cfg.NumFaulty = 2 // floor((4-1)/3) = 1
	result, err := ApplyConfig(&cfg)
	require.Nil(t, err)
	require.NotEmpty(t, result.SafetyWarning)
	require.Equal(t, 1, result.MaxFaulty)
	require.Equal(t, 3, result.QuorumSize)
}

func TestApplyConfig_NoWarningWithinThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumReplicas = 4
	cfg.NumFaulty = 1
	result, err := ApplyConfig(&cfg)
	require.Nil(t, err)
	require.Empty(t, result.SafetyWarning)
}

func TestLoadEnvOverrides(t *testing.T) {
	os.Setenv("HOTSTUFF_NUM_REPLICAS", "7")
	os.Setenv("HOTSTUFF_CHAINED", "true")
	os.Setenv("HOTSTUFF_FAULT_TYPE", "crash")
	defer os.Unsetenv("HOTSTUFF_NUM_REPLICAS")
	defer os.Unsetenv("HOTSTUFF_CHAINED")
	defer os.Unsetenv("HOTSTUFF_FAULT_TYPE")

	cfg := DefaultConfig()
	err := LoadEnvOverrides(&cfg)
	require.Nil(t, err)
	require.Equal(t, 7, cfg.NumReplicas)
	require.True(t, cfg.Chained)
}

func TestLoadEnvOverrides_RandomDropProbability(t *testing.T) {
	os.Setenv("HOTSTUFF_RANDOM_DROP_PROBABILITY", "0.2")
	defer os.Unsetenv("HOTSTUFF_RANDOM_DROP_PROBABILITY")

	cfg := DefaultConfig()
	err := LoadEnvOverrides(&cfg)
	require.Nil(t, err)
	require.Equal(t, 0.2, cfg.RandomDropProbability)
}

func TestLoadEnvOverrides_RejectsUnknownFaultType(t *testing.T) {
	os.Setenv("HOTSTUFF_FAULT_TYPE", "NOT_A_FAULT")
	defer os.Unsetenv("HOTSTUFF_FAULT_TYPE")

	cfg := DefaultConfig()
	err := LoadEnvOverrides(&cfg)
	require.NotNil(t, err)
}

func TestLoadEnvOverrides_LeavesUnsetFieldsUntouched(t *testing.T) {
	cfg := DefaultConfig()
	original := cfg.NumReplicas
	err := LoadEnvOverrides(&cfg)
	require.Nil(t, err)
	require.Equal(t, original, cfg.NumReplicas)
}
