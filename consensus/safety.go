package consensus

import "github.com/hotstuffsim/hotstuffsim/types"

// SafetyRules implements the safeNode predicate (§4.4): a replica votes for
// a proposal only when it cannot conflict with anything it has already
// locked. The predicate is a pure function of state a single replica holds
// locally, never consulted across replicas, matching the teacher's
// separation of vote-casting logic (bft package) from vote-aggregation
// logic (VoteCollector).
type SafetyRules struct {
	store *types.BlockStore
}

func NewSafetyRules(store *types.BlockStore) *SafetyRules {
	return &SafetyRules{store: store}
}

// SafeToVote decides whether a replica locked on lockedQC may vote for
// block justified by justifyQC. It is safe under either:
//
//   - the liveness rule: justifyQC's view is strictly higher than
//     lockedQC's view (the network has moved on, this proposal reflects
//     more recent agreement than the lock), or
//   - the safety rule: block extends the locked block (voting cannot
//     conflict with what is already locked).
//
// Per the resolved Open Question in DESIGN NOTES §9, this rule applies
// identically across a view change: a proposal from a new leader is judged
// against lockedQC exactly as one from the same leader would be, since
// lockedQC is chain state, not leader-scoped state.
func (s *SafetyRules) SafeToVote(block *types.Block, justifyQC, lockedQC *types.QC) bool {
	if lockedQC == nil {
		return true
	}
	livenessOK := justifyQC.View > lockedQC.View
	safetyOK := s.store.ExtendsFrom(block.Hash, lockedQC.BlockHash)
	return livenessOK || safetyOK
}

// ShouldLock reports whether a candidate QC should advance the replica's
// lockedQC; the Chained variant calls it with every accepted justify QC. HotStuff locks monotonically: a
// replica only ever locks on views at least as high as its current lock,
// never regresses. The non-strict bound matters at genesis: the sentinel
// GenesisQC and a real view's first QC both carry View 0, and the real one
// must still win.
func ShouldLock(candidate, current *types.QC) bool {
	if current == nil {
		return true
	}
	return candidate.View >= current.View
}

// CheckLockMonotonic asserts that advancing a replica's lockedQC to
// candidate never moves it backward in view relative to current. HotStuff's
// lock only ever advances (the Chained variant gates its lock update with
// ShouldLock; the Basic variant's Commit-phase update runs this check
// instead); a caller that reaches this check
// having decided to update the lock anyway, and still regresses it, has a
// bug in its own phase logic -- a ProtocolViolation (§7), not a condition to
// route around like a malformed message from another replica.
func CheckLockMonotonic(replica types.ReplicaId, current, candidate *types.QC) types.ErrorI {
	if current != nil && candidate.View < current.View {
		return types.ErrNonMonotonicLock(int(replica), uint64(current.View), uint64(candidate.View))
	}
	return nil
}

// ThreeChain checks the classic 3-chain commit rule against a block's
// direct ancestry: b'' (grandparent, Prepare-certified) <- b' (parent,
// PreCommit-certified) <- b (Commit-certified) with consecutive views. It
// is used by the Chained variant, where phases are folded into successive
// blocks rather than exchanged as separate rounds within one view.
func ThreeChain(store *types.BlockStore, b *types.Block) (commitTarget *types.Block, ok bool) {
	parent, has := store.Get(b.ParentHash)
	if !has || parent.Hash == types.GenesisHash {
		return nil, false
	}
	grandparent, has := store.Get(parent.ParentHash)
	if !has || grandparent.Hash == types.GenesisHash {
		return nil, false
	}
	consecutive := b.View == parent.View+1 && parent.View == grandparent.View+1
	if !consecutive {
		return nil, false
	}
	return grandparent, true
}
