package types

// ReplicaEventKind names one of the consensus-level occurrences a replica
// records for the driver to fold into a run's trace, distinct from the
// message send/receive/drop events the network records on its own.
type ReplicaEventKind string

const (
	EventVoteSend    ReplicaEventKind = "VOTE_SEND"
	EventQCFormation ReplicaEventKind = "QC_FORMATION"
	EventProposal    ReplicaEventKind = "PROPOSAL"
	EventLockUpdate  ReplicaEventKind = "LOCK_UPDATE"
	EventCommit      ReplicaEventKind = "COMMIT"
	EventViewChange  ReplicaEventKind = "VIEW_CHANGE"
)

// ReplicaEvent is one consensus-level occurrence, buffered by the replica
// that produced it until the driver drains it. A replica has no notion of
// simulated wall-clock time, so it carries no timestamp; the driver stamps
// the resulting TraceEvent at drain time.
type ReplicaEvent struct {
	Kind ReplicaEventKind

	Replica ReplicaId

	View    ViewNumber // VOTE_SEND, QC_FORMATION, PROPOSAL
	NewView ViewNumber // VIEW_CHANGE

	LockedView ViewNumber // LOCK_UPDATE

	BlockHash BlockHash // VOTE_SEND, QC_FORMATION, PROPOSAL, LOCK_UPDATE, COMMIT
	Height    uint64    // COMMIT

	// Tag carries VOTE_SEND's vote phase or QC_FORMATION's QC phase, both
	// rendered via Phase.String().
	Tag string

	// LatencyMs is the commit latency this replica itself observed: the time
	// from receiving the round's opening Proposal to reaching its own
	// COMMIT for that round. Only set on EventCommit.
	LatencyMs int64
}
