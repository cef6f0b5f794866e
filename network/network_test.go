package network

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hotstuffsim/hotstuffsim/config"
	"github.com/hotstuffsim/hotstuffsim/types"
)

// fakeClock is a minimal, deterministic stand-in for engine.EventQueue,
// letting these tests drive time without importing the engine package.
type fakeClock struct {
	now     int64
	pending []struct {
		at int64
		cb func()
	}
}

func (c *fakeClock) Now() int64 { return c.now }
func (c *fakeClock) Schedule(at int64, cb func()) {
	c.pending = append(c.pending, struct {
		at int64
		cb func()
	}{at, cb})
}

// drain runs every pending callback in arrival order (not sorted by at),
// advancing the fake clock as it goes -- a tiny stand-in for the real event
// queue.
func (c *fakeClock) drain() {
	for len(c.pending) > 0 {
		next := c.pending[0]
		c.pending = c.pending[1:]
		c.now = next.at
		next.cb()
	}
}

func TestSendTo_SelfDeliveryIsImmediateAndNeverDropped(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DropProbability = 1 // even at 100% drop, self-delivery must survive
	clock := &fakeClock{}
	n := New(cfg, clock)

	var delivered *types.Envelope
	n.SetDeliverer(func(env *types.Envelope) { delivered = env })

	n.SendTo(0, 0, &types.Timeout{View: 1, Voter: 0})
	clock.drain()

	require.NotNil(t, delivered)
	require.Equal(t, delivered.SendTime, delivered.DeliverTime)
}

func TestSendTo_PartitionDropsBothDirections(t *testing.T) {
	cfg := config.DefaultConfig()
	clock := &fakeClock{}
	n := New(cfg, clock)
	n.SetPartition(0, 1, true)

	delivered := 0
	n.SetDeliverer(func(env *types.Envelope) { delivered++ })

	n.SendTo(0, 1, &types.Vote{View: 1, Voter: 0})
	n.SendTo(1, 0, &types.Vote{View: 1, Voter: 1})
	clock.drain()

	require.Equal(t, 0, delivered)
}

func TestSendTo_HealedPartitionDeliversAgain(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.NetworkJitterMs = 0
	clock := &fakeClock{}
	n := New(cfg, clock)
	n.SetPartition(0, 1, true)
	n.SetPartition(0, 1, false)

	delivered := 0
	n.SetDeliverer(func(env *types.Envelope) { delivered++ })
	n.SendTo(0, 1, &types.Vote{View: 1, Voter: 0})
	clock.drain()

	require.Equal(t, 1, delivered)
}

func TestSendTo_DeterministicWithSameSeed(t *testing.T) {
	run := func() []int64 {
		cfg := config.DefaultConfig()
		cfg.Seed = 42
		cfg.NetworkJitterMs = 20
		cfg.NetworkLatencyMs = 10
		clock := &fakeClock{}
		n := New(cfg, clock)
		var times []int64
		n.SetDeliverer(func(env *types.Envelope) { times = append(times, env.DeliverTime) })
		for i := 0; i < 10; i++ {
			n.SendTo(0, 1, &types.Vote{View: types.ViewNumber(i), Voter: 0})
		}
		clock.drain()
		return times
	}
	require.Equal(t, run(), run())
}

func TestRecordByzantineAction_AppendsToTrace(t *testing.T) {
	cfg := config.DefaultConfig()
	clock := &fakeClock{now: 5}
	n := New(cfg, clock)

	n.RecordByzantineAction(2, "equivocating proposal at view 3")

	trace := n.Trace()
	require.Len(t, trace, 1)
	require.Equal(t, "byzantine_action", trace[0].Kind)
	require.Equal(t, types.ReplicaId(2), trace[0].Sender)
	require.Equal(t, int64(5), trace[0].Time)
	require.Contains(t, trace[0].Detail, "view 3")
}

func TestBroadcast_ReachesEveryReplicaIncludingSelf(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.NumReplicas = 4
	clock := &fakeClock{}
	n := New(cfg, clock)
	recipients := make(map[types.ReplicaId]bool)
	n.SetDeliverer(func(env *types.Envelope) { recipients[env.Recipient] = true })
	n.Broadcast(2, &types.NewView{View: 1, SenderId: 2})
	clock.drain()
	require.Len(t, recipients, 4)
}
