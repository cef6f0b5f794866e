// Package types defines the data model shared by the network, consensus,
// pacemaker and engine packages: view numbers, replica identifiers, the
// four HotStuff phases, content-addressed blocks and quorum certificates,
// and the message envelope the simulated network schedules.
package types

import "fmt"

// ViewNumber is monotonically non-decreasing per replica.
type ViewNumber uint64

// ReplicaId identifies a replica in [0, N). It is stable across a run.
type ReplicaId int

// Phase is one step of the HotStuff voting cascade.
type Phase int

const (
	NewViewPhase Phase = iota
	Prepare
	PreCommit
	Commit
	Decide
)

func (p Phase) String() string {
	switch p {
	case NewViewPhase:
		return "NewView"
	case Prepare:
		return "Prepare"
	case PreCommit:
		return "PreCommit"
	case Commit:
		return "Commit"
	case Decide:
		return "Decide"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// FaultType enumerates the ways a replica can be configured to misbehave.
type FaultType int

const (
	NoFault FaultType = iota
	Crash
	Silent
	RandomDrop
	ByzantineEquivocate
)

func (f FaultType) String() string {
	switch f {
	case NoFault:
		return "NONE"
	case Crash:
		return "CRASH"
	case Silent:
		return "SILENT"
	case RandomDrop:
		return "RANDOM_DROP"
	case ByzantineEquivocate:
		return "BYZANTINE_EQUIVOCATE"
	default:
		return fmt.Sprintf("FaultType(%d)", int(f))
	}
}

// ParseFaultType maps a config/env string onto a FaultType, per §6.3.
func ParseFaultType(s string) (FaultType, ErrorI) {
	switch s {
	case "", "NONE":
		return NoFault, nil
	case "CRASH":
		return Crash, nil
	case "SILENT":
		return Silent, nil
	case "RANDOM_DROP":
		return RandomDrop, nil
	case "BYZANTINE_EQUIVOCATE":
		return ByzantineEquivocate, nil
	default:
		return NoFault, ErrUnknownFaultType(s)
	}
}

// LeaderOf implements the Leader Scheduler (§4.3): a pure, stateless,
// deterministic mapping from view to replica, shared by all replicas and by
// the network and metrics layers that need to know who is leading a view.
func LeaderOf(view ViewNumber, numReplicas int) ReplicaId {
	return ReplicaId(uint64(view) % uint64(numReplicas))
}

// Quorum returns the minimum vote count for a QC: N - f, but never fewer
// than N - floor((N-1)/3), so a configuration with more faults than the BFT
// threshold does not shrink the quorum (N=4, f=2 still needs 3 votes).
func Quorum(numReplicas, numFaulty int) int {
	q := numReplicas - numFaulty
	if min := numReplicas - MaxToleratedFaults(numReplicas); q < min {
		return min
	}
	return q
}

// MaxToleratedFaults returns floor((N-1)/3), the safety threshold for BFT.
func MaxToleratedFaults(numReplicas int) int {
	return (numReplicas - 1) / 3
}
