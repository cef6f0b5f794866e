package consensus

import "github.com/hotstuffsim/hotstuffsim/types"

// VoteCollector aggregates votes into quorum certificates. Votes are keyed
// first by view, then by phase, then by the block they target — mirroring
// the teacher's VotesByRound -> VotesByPhase -> VotesByPayload nesting, with
// "payload" narrowed here to a BlockHash since a simulated vote carries no
// signed payload beyond the block it targets.
type VoteCollector struct {
	byView map[types.ViewNumber]votesByPhase
}

type votesByPhase map[types.Phase]votesByBlock

type votesByBlock map[types.BlockHash]*voteSet

// voteSet tracks the distinct signers seen so far for one (view, phase,
// block) triple. A QC is emitted exactly once, the moment the signer count
// first reaches quorum; qcFormed guards against re-emission on later votes.
type voteSet struct {
	signers  map[types.ReplicaId]bool
	qcFormed bool
}

func NewVoteCollector() *VoteCollector {
	return &VoteCollector{byView: make(map[types.ViewNumber]votesByPhase)}
}

// AddVote records v and reports the freshly-formed QC, if v was the vote
// that pushed the (view, phase, block) triple to quorum. A duplicate vote
// from the same replica for the same triple is idempotent, not an error:
// crashed-and-recovered or retried votes are expected in an unreliable
// network, only double VOTING for different blocks in the same
// (view, phase) is a protocol violation, and that is SafetyRules' concern,
// not the collector's.
func (vc *VoteCollector) AddVote(v *types.Vote, quorum int) *types.QC {
	byPhase, ok := vc.byView[v.View]
	if !ok {
		byPhase = make(votesByPhase)
		vc.byView[v.View] = byPhase
	}
	byBlock, ok := byPhase[v.Phase]
	if !ok {
		byBlock = make(votesByBlock)
		byPhase[v.Phase] = byBlock
	}
	vs, ok := byBlock[v.BlockHash]
	if !ok {
		vs = &voteSet{signers: make(map[types.ReplicaId]bool)}
		byBlock[v.BlockHash] = vs
	}
	if vs.qcFormed {
		return nil
	}
	vs.signers[v.Voter] = true
	if len(vs.signers) < quorum {
		return nil
	}
	vs.qcFormed = true
	return &types.QC{
		Phase:     v.Phase,
		View:      v.View,
		BlockHash: v.BlockHash,
		Signers:   signersOf(vs.signers),
	}
}

func signersOf(m map[types.ReplicaId]bool) []types.ReplicaId {
	out := make([]types.ReplicaId, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}

// PruneBelow discards all bookkeeping for views strictly less than view,
// bounding the collector's memory to the active window of the run. The
// owning replica calls this on every view advance (replicaCore.advanceView).
func (vc *VoteCollector) PruneBelow(view types.ViewNumber) {
	for v := range vc.byView {
		if v < view {
			delete(vc.byView, v)
		}
	}
}
