package consensus

import (
	"fmt"

	"github.com/hotstuffsim/hotstuffsim/log"
	"github.com/hotstuffsim/hotstuffsim/types"
)

// ChainedReplica implements Chained HotStuff (§4.7): each view carries one
// proposal and one round of votes, and the four phases are folded into
// three consecutive blocks -- a QC on block b simultaneously PREPAREs b,
// PRECOMMITs its parent, and COMMITs its grandparent when the three views
// are consecutive (ThreeChain).
type ChainedReplica struct {
	replicaCore
	newViewsSeen map[types.ViewNumber]map[types.ReplicaId]*types.QC
	committed    map[types.BlockHash]bool

	// receivedAt records the simulated time each block was first accepted,
	// so a later commit (which arrives folded into a QC on a descendant,
	// not through its own round-trip) can still report the commit latency
	// this replica observed for that block.
	receivedAt map[types.BlockHash]int64
}

func NewChainedReplica(id types.ReplicaId, numReplicas, numFaulty int, faultType types.FaultType, randomDropProbability float64, seed int64, net Network, pm Pacemaker, l log.LoggerI) *ChainedReplica {
	r := &ChainedReplica{
		replicaCore:  newReplicaCore(id, numReplicas, numFaulty, faultType, randomDropProbability, seed, net, pm, l),
		newViewsSeen: make(map[types.ViewNumber]map[types.ReplicaId]*types.QC),
		committed:    make(map[types.BlockHash]bool),
		receivedAt:   make(map[types.BlockHash]int64),
	}
	r.safety = NewSafetyRules(r.store)
	return r
}

func (r *ChainedReplica) Chained() bool { return true }

func (r *ChainedReplica) HandleMessage(env *types.Envelope) types.ErrorI {
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

func (r *ChainedReplica) onProposal(p *types.Proposal, receivedAt int64) types.ErrorI {
	if p.Block.View != r.view {
		return nil
	}
	if want := types.LeaderOf(r.view, r.numReplicas); p.ProposerId != want {
		r.log.Debugf("%s", types.ErrWrongLeader(uint64(r.view), int(p.ProposerId), int(want)).Error())
		return nil // not from this view's leader; drop
	}
	if p.JustifyQC != nil && !p.JustifyQC.Equal(types.GenesisQC()) {
		// Chained HotStuff folds every phase into one round per view, so every
		// vote (and therefore every QC) is cast under Prepare (see (r *ChainedReplica).onVote).
		if err := p.JustifyQC.CheckBasic(r.quorum(), types.Prepare, r.view); err != nil {
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
	if _, seen := r.receivedAt[p.Block.Hash]; !seen {
		r.receivedAt[p.Block.Hash] = receivedAt
	}
	if ShouldLock(p.JustifyQC, r.lockedQC) {
		r.lockedQC = p.JustifyQC
		r.emit(types.ReplicaEvent{Kind: types.EventLockUpdate, LockedView: p.JustifyQC.View, BlockHash: p.JustifyQC.BlockHash})
	}
	if p.JustifyQC != nil && p.JustifyQC.View >= r.highQC.View {
		r.highQC = p.JustifyQC
	}
	if commitBlock, ok := ThreeChain(r.store, p.Block); ok {
		r.commit(commitBlock, receivedAt)
	}
	r.vote(types.Prepare, r.view, p.Block.Hash, types.LeaderOf(r.view+1, r.numReplicas))
	r.advanceView(r.view + 1)
	return nil
}

// onVote fires only on the replica votes were actually routed to: the
// leader of the view that follows the one being certified (see
// replicaCore.vote). Reaching quorum here means this replica now holds the
// QC it needs to extend, so it proposes immediately rather than waiting on
// a separate trigger.
func (r *ChainedReplica) onVote(v *types.Vote) types.ErrorI {
	qc := r.collector.AddVote(v, r.quorum())
	if qc == nil {
		return nil
	}
	r.emit(types.ReplicaEvent{Kind: types.EventQCFormation, View: qc.View, BlockHash: qc.BlockHash, Tag: qc.Phase.String()})
	if qc.View >= r.highQC.View {
		r.highQC = qc
	}
	_ = r.Propose()
	return nil
}

func (r *ChainedReplica) onNewView(nv *types.NewView) types.ErrorI {
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

// commit marks block and every uncommitted ancestor as final, in ascending
// height order, then notifies the pacemaker (which resets its adaptive
// back-off on committed progress). nowAt is the simulated time the
// triggering proposal was received, closing out the commit latency this
// replica started timing when it first accepted each newly-committed block.
func (r *ChainedReplica) commit(block *types.Block, nowAt int64) {
	chain := r.store.Ancestors(block.Hash, types.GenesisHash)
	committedAny := false
	for _, b := range chain {
		if r.committed[b.Hash] {
			continue
		}
		r.committed[b.Hash] = true
		committedAny = true
		latency := nowAt - r.receivedAt[b.Hash]
		r.emit(types.ReplicaEvent{Kind: types.EventCommit, BlockHash: b.Hash, Height: b.Height, LatencyMs: latency})
	}
	if committedAny {
		r.log.Debugf("replica %d committed through block %s at view %d", r.id, block.Hash, r.view)
		r.pacemaker.OnCommit()
	}
}

func (r *ChainedReplica) Committed() map[types.BlockHash]bool { return r.committed }

func (r *ChainedReplica) CommittedCount() int { return len(r.committed) }

// CurrentPhase always reports Prepare: Chained HotStuff folds the four
// phases into one proposal/vote round per view rather than exchanging them
// as separate rounds, so there is no distinct sub-phase to report.
func (r *ChainedReplica) CurrentPhase() types.Phase { return types.Prepare }

// Propose builds and broadcasts a block extending the replica's highQC.
// Meaningful only when called on the leader of r.view.
func (r *ChainedReplica) Propose() types.ErrorI {
	if r.silenced() {
		return nil
	}
	parent, ok := r.store.Get(r.highQC.BlockHash)
	height := uint64(0)
	if ok {
		height = parent.Height + 1
	}
	block := types.NewBlock(r.highQC.BlockHash, r.view, height, r.id, r.nextPayloadSeq())
	r.store.Put(block)
	if r.faultType == types.ByzantineEquivocate && !r.equivocated {
		r.equivocated = true
		conflicting := types.NewBlock(r.highQC.BlockHash, r.view, height, r.id, r.nextPayloadSeq())
		r.network.RecordByzantineAction(r.id, fmt.Sprintf("equivocating proposal at view %d", r.view))
		r.broadcast(&types.Proposal{Block: conflicting, JustifyQC: r.highQC, ProposerId: r.id})
	}
	r.broadcast(&types.Proposal{Block: block, JustifyQC: r.highQC, ProposerId: r.id})
	r.emit(types.ReplicaEvent{Kind: types.EventProposal, View: r.view, BlockHash: block.Hash})
	return nil
}

func (r *ChainedReplica) HandleTimeout(view types.ViewNumber) types.ErrorI {
	if view != r.view {
		return nil
	}
	next := r.pacemaker.OnTimeout(view)
	r.log.Debugf("replica %d timed out in view %d, next timeout %dms", r.id, view, next)
	r.advanceView(r.view + 1)
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

func (r *ChainedReplica) nextPayloadSeq() uint64 {
	r.payloadSeq++
	return r.payloadSeq
}
