package types

import (
	"fmt"
	"sort"
)

// QC is a Quorum Certificate: a quorum (see Quorum) of matching votes from
// distinct replicas for a (phase, view, block). Once formed it is immutable and
// shared by value — QCs are compared by content, so signer order never
// matters (see CheckBasic and Equal).
type QC struct {
	Phase     Phase       `json:"phase"`
	View      ViewNumber  `json:"view"`
	BlockHash BlockHash   `json:"block_hash"`
	Signers   []ReplicaId `json:"signers"`
}

// CheckBasic validates that a QC has the shape required to be trusted:
// correct phase, sufficient distinct signers, and a view no greater than the
// replica's own current view. Real signature verification is out of scope —
// signers are opaque identifiers, not cryptographic signatures — so this is
// the entirety of QC validation. expectedPhase is the phase this QC must
// have been formed under to justify the proposal it accompanies (see
// consensus.BasicReplica.onProposal's doc comment for the phase mapping);
// currentView is the view the receiving replica is in.
func (qc *QC) CheckBasic(quorum int, expectedPhase Phase, currentView ViewNumber) ErrorI {
	if qc == nil {
		return ErrMalformedQC("nil QC")
	}
	if qc.Phase != expectedPhase {
		return ErrMalformedQC(fmt.Sprintf("wrong phase: got %s, want %s", qc.Phase, expectedPhase))
	}
	if qc.View > currentView {
		return ErrMalformedQC(fmt.Sprintf("view %d exceeds current view %d", qc.View, currentView))
	}
	seen := make(map[ReplicaId]bool, len(qc.Signers))
	for _, s := range qc.Signers {
		if seen[s] {
			return ErrMalformedQC("duplicate signer in QC")
		}
		seen[s] = true
	}
	if len(seen) < quorum {
		return ErrMalformedQC("insufficient signers for quorum")
	}
	return nil
}

// Equal compares two QCs by content; a QC with a shuffled signer order is
// equal to the original (§8 round-trip laws).
func (qc *QC) Equal(other *QC) bool {
	if qc == nil || other == nil {
		return qc == other
	}
	if qc.Phase != other.Phase || qc.View != other.View || qc.BlockHash != other.BlockHash {
		return false
	}
	if len(qc.Signers) != len(other.Signers) {
		return false
	}
	a, b := append([]ReplicaId{}, qc.Signers...), append([]ReplicaId{}, other.Signers...)
	sort.Slice(a, func(i, j int) bool { return a[i] < a[j] })
	sort.Slice(b, func(i, j int) bool { return b[i] < b[j] })
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// GenesisQC is the well-known Commit-phase QC that justifies the genesis
// block, used to seed every replica's highQC/lockedQC before any real vote
// has been cast.
func GenesisQC() *QC {
	return &QC{Phase: Commit, View: 0, BlockHash: GenesisHash, Signers: nil}
}
