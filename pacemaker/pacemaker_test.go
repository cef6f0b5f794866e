package pacemaker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hotstuffsim/hotstuffsim/config"
	"github.com/hotstuffsim/hotstuffsim/types"
)

func TestBaseline_TimeoutIsFixed(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BaseTimeoutMs = 750
	b := NewBaseline(cfg)
	require.Equal(t, int64(750), b.CurrentTimeoutMs())
	require.Equal(t, int64(750), b.OnTimeout(1))
	b.OnCommit()
	require.Equal(t, int64(750), b.CurrentTimeoutMs())
}

func TestAdaptive_FloorsAtDeltaMin(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.NetworkLatencyMs = 0
	a := NewAdaptive(cfg)
	require.GreaterOrEqual(t, a.CurrentTimeoutMs(), int64(cfg.Adaptive.DeltaMinMs))
}

func TestAdaptive_BacksOffOnConsecutiveTimeouts(t *testing.T) {
	cfg := config.DefaultConfig()
	a := NewAdaptive(cfg)
	first := a.OnTimeout(1)
	second := a.OnTimeout(2)
	require.Greater(t, second, first, "each consecutive timeout must increase the armed duration")
}

func TestAdaptive_ResetsOnCommit(t *testing.T) {
	cfg := config.DefaultConfig()
	a := NewAdaptive(cfg)
	a.OnTimeout(1)
	a.OnTimeout(2)
	escalated := a.CurrentTimeoutMs()
	a.OnCommit()
	require.Less(t, a.CurrentTimeoutMs(), escalated)
}

func TestAdaptive_TracksLatencyFloor(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.NetworkLatencyMs = 0
	cfg.Adaptive.K = 4
	a := NewAdaptive(cfg)
	for i := 0; i < 50; i++ {
		a.RecordLatency(1000)
	}
	require.GreaterOrEqual(t, a.CurrentTimeoutMs(), int64(3500), "EMA should converge toward 1000ms, floor should track k*ema")
}

func TestAdaptive_ClampsToDeltaMax(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Adaptive.DeltaMaxMs = 500
	a := NewAdaptive(cfg)
	var last int64
	for i := 0; i < 20; i++ {
		last = a.OnTimeout(types.ViewNumber(i))
	}
	require.LessOrEqual(t, last, int64(500))
}
