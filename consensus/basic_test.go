package consensus

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hotstuffsim/hotstuffsim/log"
	"github.com/hotstuffsim/hotstuffsim/types"
)

// fakeNetwork is a mailbox-style stand-in for *network.Network: SendTo and
// Broadcast enqueue envelopes instead of delivering them inline, and drain
// dispatches them up to a bounded number of steps. This mirrors the real
// network's separation between "sent" and "delivered" (there, by the event
// queue; here, by an explicit budget), so a replica cascading into further
// proposals after every commit cannot recurse without limit the way it
// would if SendTo called HandleMessage synchronously.
type fakeNetwork struct {
	replicas  map[types.ReplicaId]Replica
	mailbox   []*types.Envelope
	byzantine []struct {
		replica types.ReplicaId
		detail  string
	}
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{replicas: make(map[types.ReplicaId]Replica)}
}

func (n *fakeNetwork) SendTo(from, to types.ReplicaId, msg types.Message) {
	n.mailbox = append(n.mailbox, &types.Envelope{Sender: from, Recipient: to, Message: msg})
}

func (n *fakeNetwork) Broadcast(from types.ReplicaId, msg types.Message) {
	for id := 0; id < len(n.replicas); id++ {
		n.SendTo(from, types.ReplicaId(id), msg)
	}
}

func (n *fakeNetwork) RecordByzantineAction(replica types.ReplicaId, detail string) {
	n.byzantine = append(n.byzantine, struct {
		replica types.ReplicaId
		detail  string
	}{replica, detail})
}

// drain dispatches queued envelopes to their recipients, in FIFO order,
// until the mailbox empties or budget envelopes have been delivered.
func (n *fakeNetwork) drain(budget int) int {
	delivered := 0
	for delivered < budget && len(n.mailbox) > 0 {
		env := n.mailbox[0]
		n.mailbox = n.mailbox[1:]
		if rep, ok := n.replicas[env.Recipient]; ok {
			_ = rep.HandleMessage(env)
		}
		delivered++
	}
	return delivered
}

// fakePacemaker never times out on its own; tests drive timeouts explicitly.
type fakePacemaker struct{ timeoutMs int64 }

func (p *fakePacemaker) OnEnterView(types.ViewNumber)     {}
func (p *fakePacemaker) OnCommit()                        {}
func (p *fakePacemaker) OnTimeout(types.ViewNumber) int64 { return p.timeoutMs }
func (p *fakePacemaker) CurrentTimeoutMs() int64          { return p.timeoutMs }

// newBasicCluster builds n replicas sharing a single numFaulty (and
// therefore a single quorum size), with faultType applied only to the
// replicas listed in faulty -- mirroring engine.Driver's faultySet, where
// every replica agrees on N-f regardless of which specific replicas misbehave.
func newBasicCluster(n, numFaulty int, faulty map[types.ReplicaId]types.FaultType) (*fakeNetwork, map[types.ReplicaId]*BasicReplica) {
	net := newFakeNetwork()
	reps := make(map[types.ReplicaId]*BasicReplica, n)
	for i := 0; i < n; i++ {
		id := types.ReplicaId(i)
		ft := faulty[id]
		r := NewBasicReplica(id, n, numFaulty, ft, 0.5, 1, net, &fakePacemaker{timeoutMs: 1000}, log.NewNull())
		reps[id] = r
		net.replicas[id] = r
	}
	return net, reps
}

func TestBasicReplica_HappyPath_AllReplicasCommitSameBlock(t *testing.T) {
	net, reps := newBasicCluster(4, 0, nil)

	// leader of view 0 kicks off the four-phase round trip; draining a
	// generous but finite budget carries every replica through
	// Prepare -> PreCommit -> Commit -> Decide without letting the
	// post-commit re-proposal for view 1 cascade unboundedly.
	require.Nil(t, reps[0].Propose())
	net.drain(500)

	for id, r := range reps {
		require.NotEmpty(t, r.Committed(), "replica %d should have committed the Decide-phase block", id)
	}
	require.Equal(t, reps[0].Committed()[0], reps[1].Committed()[0])
}

func TestBasicReplica_CrashDiscardsIncomingAndSendsNothing(t *testing.T) {
	net, reps := newBasicCluster(4, 1, map[types.ReplicaId]types.FaultType{1: types.Crash})

	require.Nil(t, reps[0].Propose())
	net.drain(500)

	// with one of four replicas crashed, only 3 honest votes are possible
	// per phase -- exactly quorum for N=4 -- so the round can still complete.
	require.NotEmpty(t, reps[0].Committed())
	require.Empty(t, reps[1].Committed(), "the crashed replica discards incoming messages and never finalizes")
}

func TestBasicReplica_MalformedJustifyQCIsDropped(t *testing.T) {
	_, reps := newBasicCluster(4, 0, nil)

	block := types.NewBlock(types.GenesisHash, 0, 1, 0, 1)
	badQC := &types.QC{Phase: types.Prepare, View: 0, BlockHash: types.GenesisHash, Signers: []types.ReplicaId{0}} // only 1 signer, quorum is 4

	env := &types.Envelope{Sender: 0, Recipient: 1, Message: &types.Proposal{Block: block, JustifyQC: badQC, ProposerId: 0}}
	require.Nil(t, reps[1].HandleMessage(env))
	require.Equal(t, types.Prepare, reps[1].expectedPhase, "a malformed justify QC must not advance the replica's phase")
}

// TestBasicReplica_LockRegressionIsProtocolViolation exercises a Commit-phase
// proposal whose justify QC still extends the replica's locked block (so
// safeNode's safety clause passes) but carries an older view than the lock
// already held. SafeToVote's liveness-or-safety disjunction is meant to let
// this through on the safety branch; CheckLockMonotonic is the second gate
// that must still catch a lock update that would move backward in view.
func TestBasicReplica_LockRegressionIsProtocolViolation(t *testing.T) {
	_, reps := newBasicCluster(4, 0, nil)
	r := reps[1]

	lockedBlock := types.NewBlock(types.GenesisHash, 4, 4, 0, 1)
	r.store.Put(lockedBlock)
	r.lockedQC = &types.QC{Phase: types.Commit, View: 5, BlockHash: lockedBlock.Hash, Signers: []types.ReplicaId{0, 1, 2}}
	r.view = 5
	r.expectedPhase = types.Commit

	child := types.NewBlock(lockedBlock.Hash, 5, 5, 0, 2)
	staleQC := &types.QC{Phase: types.PreCommit, View: 3, BlockHash: lockedBlock.Hash, Signers: []types.ReplicaId{0, 1, 2, 3}}
	env := &types.Envelope{
		Sender: types.LeaderOf(5, 4), Recipient: 1,
		Message: &types.Proposal{Block: child, JustifyQC: staleQC, ProposerId: types.LeaderOf(5, 4)},
	}

	err := r.HandleMessage(env)
	require.NotNil(t, err)
	require.True(t, types.IsProtocolViolation(err))
	require.Equal(t, types.CodeNonMonotonicLock, err.Code())
}

func TestBasicReplica_TimeoutAdvancesViewAndSendsNewView(t *testing.T) {
	_, reps := newBasicCluster(4, 0, nil)
	r := reps[1]
	require.Equal(t, types.ViewNumber(0), r.View())

	require.Nil(t, r.HandleTimeout(0))
	require.Equal(t, types.ViewNumber(1), r.View())
}
