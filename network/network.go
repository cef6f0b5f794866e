// Package network implements the deterministic network simulator (§4.2):
// per-edge latency and jitter, drop probability, partitions, and a seeded
// pseudo-random source so two runs with the same seed reproduce bit-for-bit.
package network

import (
	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/hotstuffsim/hotstuffsim/config"
	"github.com/hotstuffsim/hotstuffsim/types"
)

// Clock is the scheduling surface the network needs from the engine's event
// queue: the current simulated time, and the ability to arm a future
// callback. The network never advances time itself.
type Clock interface {
	Now() int64
	Schedule(at int64, cb func())
}

// Deliverer receives a message that survived the network (was not dropped)
// at its DeliverTime.
type Deliverer func(env *types.Envelope)

// Network is the sole owner of message scheduling between send and
// deliver-or-drop: a replica only receives an Envelope once it has been
// delivered, never one still in flight or dropped.
type Network struct {
	clock Clock
	rng   *rand.Rand

	latencyMs float64
	jitterMs  float64
	dropProb  float64

	jitter distuv.Normal

	partitions map[types.ReplicaId]map[types.ReplicaId]bool

	numReplicas int
	onDeliver   Deliverer

	trace     []Event
	latencies []float64
}

// Event is one line of the network's trace, used to back the trace log of
// §6.1 (send/deliver/drop/byzantine_action) without duplicating that schema
// here.
type Event struct {
	Time      int64
	Kind      string // "send", "deliver", "drop", "byzantine_action"
	Sender    types.ReplicaId
	Recipient types.ReplicaId
	MsgType   string
	View      types.ViewNumber
	Detail    string
}

func New(cfg config.Config, clock Clock) *Network {
	src := rand.New(rand.NewSource(uint64(cfg.Seed)))
	n := &Network{
		clock:       clock,
		rng:         src,
		latencyMs:   float64(cfg.NetworkLatencyMs),
		jitterMs:    float64(cfg.NetworkJitterMs),
		dropProb:    cfg.DropProbability,
		partitions:  make(map[types.ReplicaId]map[types.ReplicaId]bool),
		numReplicas: cfg.NumReplicas,
	}
	n.jitter = distuv.Normal{Mu: 0, Sigma: n.jitterMs, Src: src}
	return n
}

// SetDeliverer wires the callback invoked for every message that is not
// dropped, once its DeliverTime is reached. The engine calls this once,
// after constructing all replicas, closing the loop between network and
// consensus without the network importing the consensus package.
func (n *Network) SetDeliverer(d Deliverer) { n.onDeliver = d }

// SetPartition toggles whether messages between a and b (in both
// directions) are dropped unconditionally, independent of drop_probability.
// This is the runtime partition control supplementing §4.2's static
// partition_set, letting a scenario open and heal a partition mid-run.
func (n *Network) SetPartition(a, b types.ReplicaId, partitioned bool) {
	if n.partitions[a] == nil {
		n.partitions[a] = make(map[types.ReplicaId]bool)
	}
	if n.partitions[b] == nil {
		n.partitions[b] = make(map[types.ReplicaId]bool)
	}
	n.partitions[a][b] = partitioned
	n.partitions[b][a] = partitioned
}

func (n *Network) isPartitioned(a, b types.ReplicaId) bool {
	return n.partitions[a] != nil && n.partitions[a][b]
}

// SendTo schedules msg for delivery to a single recipient. A replica
// sending to itself is delivered immediately and is never dropped, per
// §4.2's self-delivery rule -- a replica always sees its own messages.
func (n *Network) SendTo(from, to types.ReplicaId, msg types.Message) {
	now := n.clock.Now()
	if from == to {
		env := &types.Envelope{SendTime: now, DeliverTime: now, Sender: from, Recipient: to, Message: msg}
		n.clock.Schedule(now, func() { n.deliver(env) })
		return
	}
	if n.isPartitioned(from, to) {
		n.record(now, "drop", from, to, msg.MessageType(), msg.MsgView())
		return
	}
	deliverAt := now + n.sampleLatency()
	if n.rng.Float64() < n.dropProb {
		n.record(now, "drop", from, to, msg.MessageType(), msg.MsgView())
		return
	}
	env := &types.Envelope{SendTime: now, DeliverTime: deliverAt, Sender: from, Recipient: to, Message: msg}
	n.record(now, "send", from, to, msg.MessageType(), msg.MsgView())
	n.clock.Schedule(deliverAt, func() { n.deliver(env) })
}

// Broadcast sends msg to every replica in [0, numReplicas), including the
// sender (self-delivery is immediate per SendTo).
func (n *Network) Broadcast(from types.ReplicaId, msg types.Message) {
	for id := 0; id < n.numReplicas; id++ {
		n.SendTo(from, types.ReplicaId(id), msg)
	}
}

func (n *Network) deliver(env *types.Envelope) {
	n.record(env.DeliverTime, "deliver", env.Sender, env.Recipient, env.Message.MessageType(), env.Message.MsgView())
	if env.Sender != env.Recipient {
		n.latencies = append(n.latencies, float64(env.DeliverTime-env.SendTime))
	}
	if n.onDeliver != nil {
		n.onDeliver(env)
	}
}

// Latencies returns the observed delivery latency, in simulated
// milliseconds, of every non-self message delivered so far.
func (n *Network) Latencies() []float64 { return n.latencies }

// sampleLatency draws base latency plus Normal(0, jitterMs) jitter, floored
// at zero: a network cannot deliver a message before it was sent.
func (n *Network) sampleLatency() int64 {
	d := n.latencyMs
	if n.jitterMs > 0 {
		d += n.jitter.Rand()
	}
	if d < 0 {
		d = 0
	}
	return int64(d)
}

func (n *Network) record(t int64, kind string, from, to types.ReplicaId, msgType string, view types.ViewNumber) {
	n.trace = append(n.trace, Event{Time: t, Kind: kind, Sender: from, Recipient: to, MsgType: msgType, View: view})
}

// RecordByzantineAction appends a byzantine_action row to the trace (§4.7.4):
// faulty-replica misbehavior is data, not an error, so it is logged here
// rather than surfaced through the ErrorI channel.
func (n *Network) RecordByzantineAction(replica types.ReplicaId, detail string) {
	n.trace = append(n.trace, Event{Time: n.clock.Now(), Kind: "byzantine_action", Sender: replica, Detail: detail})
}

// Trace returns every send/deliver/drop event recorded so far, in
// chronological order.
func (n *Network) Trace() []Event { return n.trace }
