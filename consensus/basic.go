package consensus

import (
	"fmt"

	"github.com/hotstuffsim/hotstuffsim/log"
	"github.com/hotstuffsim/hotstuffsim/types"
)

// BasicReplica implements Basic HotStuff (§4.7): the four phases of a view
// -- Prepare, PreCommit, Commit, Decide -- are exchanged as four separate
// proposal/vote round-trips over the same block before the view advances.
type BasicReplica struct {
	replicaCore
	expectedPhase types.Phase
	newViewsSeen  map[types.ViewNumber]map[types.ReplicaId]*types.QC
	committed     []types.BlockHash
	committedSet  map[types.BlockHash]bool

	// roundStartedAt is the simulated time this replica received the
	// round's opening Prepare-phase proposal, used to compute the commit
	// latency it reports to its own pacemaker and trace COMMIT event.
	roundStartedAt int64
}

func NewBasicReplica(id types.ReplicaId, numReplicas, numFaulty int, faultType types.FaultType, randomDropProbability float64, seed int64, net Network, pm Pacemaker, l log.LoggerI) *BasicReplica {
	r := &BasicReplica{
		replicaCore:   newReplicaCore(id, numReplicas, numFaulty, faultType, randomDropProbability, seed, net, pm, l),
		expectedPhase: types.Prepare,
		newViewsSeen:  make(map[types.ViewNumber]map[types.ReplicaId]*types.QC),
		committedSet:  make(map[types.BlockHash]bool),
	}
	r.safety = NewSafetyRules(r.store)
	return r
}

func (r *BasicReplica) Chained() bool { return false }

func (r *BasicReplica) HandleMessage(env *types.Envelope) types.ErrorI {
	if r.discardsIncoming() {
		return nil
	}
	switch msg := env.Message.(type) {
	case *types.Proposal:
		return r.onProposal(msg, env.DeliverTime)
	case *types.Vote:
		return r.onVote(msg)
	case *types.NewView:
		return r.onNewView(msg)
	}
	return nil
}

// onProposal implements §4.7.2's per-phase replica handling. r.expectedPhase
// names the phase this proposal is FOR (the one about to be voted on); the
// incoming justify_qc certifies the phase one step behind it (see
// requiredJustifyPhase): Prepare's justify is the round's opening highQC,
// PreCommit's justify is the freshly
// formed prepareQC, Commit's justify is the freshly formed precommitQC, and
// Decide's justify is the freshly formed commitQC.
func (r *BasicReplica) onProposal(p *types.Proposal, receivedAt int64) types.ErrorI {
	if p.Block.View != r.view {
		return nil // stale or premature; the timeout path will recover liveness
	}
	if want := types.LeaderOf(r.view, r.numReplicas); p.ProposerId != want {
		r.log.Debugf("%s", types.ErrWrongLeader(uint64(r.view), int(p.ProposerId), int(want)).Error())
		return nil // not from this view's leader; drop
	}
	if p.JustifyQC != nil && !p.JustifyQC.Equal(types.GenesisQC()) {
		if err := p.JustifyQC.CheckBasic(r.quorum(), requiredJustifyPhase(r.expectedPhase), r.view); err != nil {
			r.log.Debugf("dropping proposal with %s", err.Error())
			return nil // malformed justify QC from a misbehaving proposer; drop, not our own violation
		}
		if _, ok := r.store.Get(p.JustifyQC.BlockHash); !ok {
			r.log.Debugf("%s", types.ErrUnknownBlockHash(p.JustifyQC.BlockHash).Error())
			return nil // justify_qc certifies a block this replica has never seen; drop
		}
	}
	// store the block before evaluating safety: ExtendsFrom walks ancestry by
	// lookup in this replica's own store, and the proposed block itself must
	// already be resolvable there for a chain-extension check to succeed.
	r.store.Put(p.Block)
	if !r.safety.SafeToVote(p.Block, p.JustifyQC, r.lockedQC) {
		return nil
	}
	if r.expectedPhase == types.Prepare {
		r.roundStartedAt = receivedAt
	}
	switch r.expectedPhase {
	case types.PreCommit:
		r.prepareQC = p.JustifyQC
	case types.Commit:
		if err := CheckLockMonotonic(r.id, r.lockedQC, p.JustifyQC); err != nil {
			return err
		}
		r.lockedQC = p.JustifyQC
		r.emit(types.ReplicaEvent{Kind: types.EventLockUpdate, LockedView: p.JustifyQC.View, BlockHash: p.JustifyQC.BlockHash})
	case types.Decide:
		r.finalize(p.Block.Hash, receivedAt)
		return nil
	}
	r.vote(r.expectedPhase, r.view, p.Block.Hash, types.LeaderOf(r.view, r.numReplicas))
	r.expectedPhase = nextBasicPhase(r.expectedPhase)
	return nil
}

func (r *BasicReplica) onVote(v *types.Vote) types.ErrorI {
	qc := r.collector.AddVote(v, r.quorum())
	if qc == nil {
		return nil
	}
	r.emit(types.ReplicaEvent{Kind: types.EventQCFormation, View: qc.View, BlockHash: qc.BlockHash, Tag: qc.Phase.String()})
	if qc.Phase == types.Prepare && qc.View >= r.highQC.View {
		r.highQC = qc
	}
	r.rebroadcast(qc)
	return nil
}

// rebroadcast re-sends the block under vote with an updated justify QC,
// advancing every replica's expectedPhase by one step.
func (r *BasicReplica) rebroadcast(justify *types.QC) {
	block, ok := r.store.Get(justify.BlockHash)
	if !ok {
		return
	}
	r.broadcast(&types.Proposal{Block: block, JustifyQC: justify, ProposerId: r.id})
}

func (r *BasicReplica) onNewView(nv *types.NewView) types.ErrorI {
	if nv.HighestQC != nil && nv.HighestQC.View >= r.highQC.View {
		r.highQC = nv.HighestQC
	}
	if types.LeaderOf(nv.View, r.numReplicas) != r.id {
		return nil
	}
	seen, ok := r.newViewsSeen[nv.View]
	if !ok {
		seen = make(map[types.ReplicaId]*types.QC)
		r.newViewsSeen[nv.View] = seen
	}
	seen[nv.SenderId] = nv.HighestQC
	if len(seen) >= r.quorum() && nv.View == r.view {
		delete(r.newViewsSeen, nv.View)
		_ = r.Propose()
	}
	return nil
}

// finalize is reached when a replica sees a Decide-phase rebroadcast: per
// spec.md's Decide handling, the block and every one of its still-uncommitted
// ancestors become final, not just the block named in this Decide proposal --
// a dropped intermediate Decide-phase rebroadcast must not leave a gap in
// committed_chain. commitAt is the simulated time this Decide-phase proposal
// was received, closing out the commit latency this replica started timing
// at roundStartedAt for the newly-committed tip; backfilled ancestors report
// the same latency, since they became final at this same moment as far as
// this replica observed.
func (r *BasicReplica) finalize(hash types.BlockHash, commitAt int64) {
	chain := r.store.Ancestors(hash, types.GenesisHash)
	latency := commitAt - r.roundStartedAt
	committedAny := false
	for _, b := range chain {
		if r.committedSet[b.Hash] {
			continue
		}
		r.committedSet[b.Hash] = true
		r.committed = append(r.committed, b.Hash)
		committedAny = true
		r.log.Debugf("replica %d committed block %s at view %d", r.id, b.Hash, r.view)
		r.emit(types.ReplicaEvent{Kind: types.EventCommit, BlockHash: b.Hash, Height: b.Height, LatencyMs: latency})
	}
	if committedAny {
		r.pacemaker.OnCommit()
	}
	r.advanceViewAfterCommit()
}

func (r *BasicReplica) advanceViewAfterCommit() {
	r.advanceView(r.view + 1)
	r.expectedPhase = types.Prepare
	if r.isLeader() {
		_ = r.Propose()
	}
}

// Propose builds and broadcasts a new block extending the replica's highQC,
// beginning the Prepare phase of the current view. Only meaningful when
// called on the leader of r.view.
func (r *BasicReplica) Propose() types.ErrorI {
	if r.silenced() {
		return nil
	}
	block := types.NewBlock(r.highQC.BlockHash, r.view, r.nextHeight(), r.id, r.nextPayloadSeq())
	r.store.Put(block)
	if r.faultType == types.ByzantineEquivocate && !r.equivocated {
		r.equivocated = true
		conflicting := types.NewBlock(r.highQC.BlockHash, r.view, r.nextHeight(), r.id, r.nextPayloadSeq())
		r.network.RecordByzantineAction(r.id, fmt.Sprintf("equivocating proposal at view %d", r.view))
		r.broadcast(&types.Proposal{Block: conflicting, JustifyQC: r.highQC, ProposerId: r.id})
	}
	r.broadcast(&types.Proposal{Block: block, JustifyQC: r.highQC, ProposerId: r.id})
	r.emit(types.ReplicaEvent{Kind: types.EventProposal, View: r.view, BlockHash: block.Hash})
	return nil
}

func (r *BasicReplica) HandleTimeout(view types.ViewNumber) types.ErrorI {
	if view != r.view {
		return nil
	}
	next := r.pacemaker.OnTimeout(view)
	r.log.Debugf("replica %d timed out in view %d, next timeout %dms", r.id, view, next)
	r.advanceView(r.view + 1)
	r.expectedPhase = types.Prepare
	if !r.silenced() && !r.dropsThisSend() {
		r.network.SendTo(r.id, types.LeaderOf(r.view, r.numReplicas), &types.NewView{
			View: r.view, HighestQC: r.highQC, SenderId: r.id,
		})
	}
	if r.isLeader() {
		_ = r.Propose()
	}
	return nil
}

func (r *BasicReplica) Committed() []types.BlockHash { return r.committed }

func (r *BasicReplica) CurrentPhase() types.Phase { return r.expectedPhase }
func (r *BasicReplica) CommittedCount() int       { return len(r.committed) }

func (r *BasicReplica) nextHeight() uint64 {
	parent, ok := r.store.Get(r.highQC.BlockHash)
	if !ok {
		return 1
	}
	return parent.Height + 1
}

func (r *BasicReplica) nextPayloadSeq() uint64 {
	r.payloadSeq++
	return r.payloadSeq
}

func nextBasicPhase(p types.Phase) types.Phase {
	switch p {
	case types.Prepare:
		return types.PreCommit
	case types.PreCommit:
		return types.Commit
	case types.Commit:
		return types.Decide
	default:
		return types.Decide
	}
}

// requiredJustifyPhase names the phase a proposal's justify_qc must have
// been formed under to legitimately justify a vote in expected. PreCommit's
// justify must be a Prepare-formed QC, Commit's a PreCommit-formed QC, and
// Decide's a Commit-formed QC, mirroring the phase cascade one step behind
// expected; Prepare's own justify is the round's carried-over highQC, itself
// always Prepare-formed once past genesis (see onVote's highQC update),
// so it maps to itself rather than to a preceding phase.
func requiredJustifyPhase(expected types.Phase) types.Phase {
	switch expected {
	case types.PreCommit:
		return types.Prepare
	case types.Commit:
		return types.PreCommit
	case types.Decide:
		return types.Commit
	default:
		return types.Prepare
	}
}
