// Package consensus implements the replica state machine described in
// §4.4-§4.7: safety rules, vote collection, and the two protocol variants
// (Basic and Chained HotStuff) that drive a block from proposal to commit.
package consensus

import (
	"math/rand"

	"github.com/hotstuffsim/hotstuffsim/log"
	"github.com/hotstuffsim/hotstuffsim/types"
)

// Network is the subset of the network simulator a replica needs: sending
// its own messages and recording that a Byzantine action occurred. A replica
// never reads the network's internal queue or topology directly, matching
// the teacher's Controller-callback separation between a consensus instance
// and the transport carrying its messages.
type Network interface {
	SendTo(from, to types.ReplicaId, msg types.Message)
	Broadcast(from types.ReplicaId, msg types.Message)
	RecordByzantineAction(replica types.ReplicaId, detail string)
}

// Pacemaker is the subset of the pacemaker a replica drives.
// OnTimeout returns the timeout, in simulated milliseconds, to arm for the
// view the replica is about to enter.
type Pacemaker interface {
	OnEnterView(view types.ViewNumber)
	OnCommit()
	OnTimeout(view types.ViewNumber) int64
	CurrentTimeoutMs() int64
}

// Replica is the common surface both protocol variants expose to the
// engine: message and timeout handling, and read-only inspection for
// snapshots and traces.
type Replica interface {
	ID() types.ReplicaId
	View() types.ViewNumber
	HighQC() *types.QC
	LockedQC() *types.QC
	PrepareQC() *types.QC
	HandleMessage(env *types.Envelope) types.ErrorI
	HandleTimeout(view types.ViewNumber) types.ErrorI
	Propose() types.ErrorI
	Chained() bool
	CurrentPhase() types.Phase
	CommittedCount() int
	LastVotedView() types.ViewNumber
	IsFaulty() bool
	FaultType() types.FaultType
	// DrainEvents returns and clears every ReplicaEvent recorded since the
	// last drain, in emission order.
	DrainEvents() []types.ReplicaEvent
}

// replicaCore is the state and machinery shared by BasicReplica and
// ChainedReplica: identity, chain state, the vote collector, safety rules,
// and the network/pacemaker collaborators. Both variants embed it and
// differ only in how a Proposal advances the commit rule.
type replicaCore struct {
	id                    types.ReplicaId
	numReplicas           int
	numFaulty             int
	faultType             types.FaultType
	randomDropProbability float64

	store     *types.BlockStore
	safety    *SafetyRules
	collector *VoteCollector

	network   Network
	pacemaker Pacemaker
	log       log.LoggerI
	dropRng   *rand.Rand // only consulted when faultType == RandomDrop

	view          types.ViewNumber
	highQC        *types.QC
	lockedQC      *types.QC
	prepareQC     *types.QC
	lastVotedView types.ViewNumber
	payloadSeq    uint64

	equivocated bool // BYZANTINE_EQUIVOCATE: this replica has already sent its one conflicting proposal

	events []types.ReplicaEvent
}

func newReplicaCore(id types.ReplicaId, numReplicas, numFaulty int, faultType types.FaultType, randomDropProbability float64, seed int64, net Network, pm Pacemaker, l log.LoggerI) replicaCore {
	return replicaCore{
		id:                    id,
		numReplicas:           numReplicas,
		numFaulty:             numFaulty,
		faultType:             faultType,
		randomDropProbability: randomDropProbability,
		store:                 types.NewBlockStore(),
		collector:             NewVoteCollector(),
		network:               net,
		pacemaker:             pm,
		log:                   l,
		dropRng:               rand.New(rand.NewSource(seed + int64(id) + 1)),
		highQC:                types.GenesisQC(),
		lockedQC:              types.GenesisQC(),
		lastVotedView:         0,
	}
}

func (r *replicaCore) ID() types.ReplicaId              { return r.id }
func (r *replicaCore) View() types.ViewNumber           { return r.view }
func (r *replicaCore) HighQC() *types.QC                { return r.highQC }
func (r *replicaCore) LockedQC() *types.QC              { return r.lockedQC }
func (r *replicaCore) PrepareQC() *types.QC             { return r.prepareQC }
func (r *replicaCore) LastVotedView() types.ViewNumber  { return r.lastVotedView }
func (r *replicaCore) IsFaulty() bool                   { return r.faultType != types.NoFault }
func (r *replicaCore) FaultType() types.FaultType       { return r.faultType }

// emit buffers a ReplicaEvent for the driver to drain and timestamp. The
// replica id is stamped here so callers never have to repeat it.
func (r *replicaCore) emit(ev types.ReplicaEvent) {
	ev.Replica = r.id
	r.events = append(r.events, ev)
}

// DrainEvents returns and clears every ReplicaEvent recorded since the last
// drain.
func (r *replicaCore) DrainEvents() []types.ReplicaEvent {
	out := r.events
	r.events = nil
	return out
}

func (r *replicaCore) quorum() int { return types.Quorum(r.numReplicas, r.numFaulty) }

func (r *replicaCore) isLeader() bool {
	return types.LeaderOf(r.view, r.numReplicas) == r.id
}

// silenced reports whether a fault configuration suppresses this replica's
// outbound messages entirely for this send (CRASH, SILENT), independent of
// the network's own drop_probability.
func (r *replicaCore) silenced() bool {
	return r.faultType == types.Crash || r.faultType == types.Silent
}

// dropsThisSend reports whether a RANDOM_DROP-faulty replica's independent
// per-message coin flip suppresses this particular send. Non-faulty replicas
// and replicas running any other fault type never drop here.
func (r *replicaCore) dropsThisSend() bool {
	return r.faultType == types.RandomDrop && r.dropRng.Float64() < r.randomDropProbability
}

// discardsIncoming reports whether a fault configuration discards messages
// as they arrive (CRASH, SILENT): neither variant produces further protocol
// effects from received messages once faulty.
func (r *replicaCore) discardsIncoming() bool {
	return r.faultType == types.Crash || r.faultType == types.Silent
}

// broadcast sends msg to every replica, applying fault semantics: CRASH and
// SILENT suppress the whole broadcast, RANDOM_DROP flips an independent coin
// per recipient (mirroring a lossy link out of this replica specifically,
// distinct from the network's own uniform drop_probability).
func (r *replicaCore) broadcast(msg types.Message) {
	if r.silenced() {
		return
	}
	if r.faultType != types.RandomDrop {
		r.network.Broadcast(r.id, msg)
		return
	}
	for i := 0; i < r.numReplicas; i++ {
		if r.dropsThisSend() {
			continue
		}
		r.network.SendTo(r.id, types.ReplicaId(i), msg)
	}
}

// advanceView transitions the replica into view, resetting per-view vote
// bookkeeping and re-arming the pacemaker's timer through the caller.
func (r *replicaCore) advanceView(view types.ViewNumber) {
	if view <= r.view {
		return
	}
	r.view = view
	r.collector.PruneBelow(view)
	r.safety = NewSafetyRules(r.store)
	r.pacemaker.OnEnterView(view)
	r.emit(types.ReplicaEvent{Kind: types.EventViewChange, NewView: view})
}

// vote casts a Vote message for (phase, view, blockHash) to target. Basic
// HotStuff targets the same leader across all four phases of a view;
// Chained HotStuff targets the leader of the *next* view, since that is the
// replica that needs the resulting QC to build on.
func (r *replicaCore) vote(phase types.Phase, view types.ViewNumber, blockHash types.BlockHash, target types.ReplicaId) {
	if r.silenced() || r.dropsThisSend() {
		return
	}
	v := &types.Vote{Phase: phase, View: view, BlockHash: blockHash, Voter: r.id}
	r.network.SendTo(r.id, target, v)
	if view > r.lastVotedView {
		r.lastVotedView = view
	}
	r.emit(types.ReplicaEvent{Kind: types.EventVoteSend, View: view, BlockHash: blockHash, Tag: phase.String()})
}
