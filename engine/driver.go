// Package engine wires the network simulator, replicas, and pacemakers
// behind the single-threaded discrete-event scheduler of §4.1 and §4.8: the
// Driver is the only thing in this repository that mutates simulated time.
package engine

import (
	"sort"

	"golang.org/x/exp/maps"

	"github.com/hotstuffsim/hotstuffsim/config"
	"github.com/hotstuffsim/hotstuffsim/consensus"
	"github.com/hotstuffsim/hotstuffsim/log"
	"github.com/hotstuffsim/hotstuffsim/network"
	"github.com/hotstuffsim/hotstuffsim/pacemaker"
	"github.com/hotstuffsim/hotstuffsim/types"
)

// TraceEventType names one of the eleven event kinds §6.1 defines.
type TraceEventType string

const (
	EventMessageSend     TraceEventType = "MESSAGE_SEND"
	EventMessageReceive  TraceEventType = "MESSAGE_RECEIVE"
	EventMessageDrop     TraceEventType = "MESSAGE_DROP"
	EventVoteSend        TraceEventType = "VOTE_SEND"
	EventQCFormation     TraceEventType = "QC_FORMATION"
	EventProposal        TraceEventType = "PROPOSAL"
	EventLockUpdate      TraceEventType = "LOCK_UPDATE"
	EventCommit          TraceEventType = "COMMIT"
	EventTimeout         TraceEventType = "TIMEOUT"
	EventViewChange      TraceEventType = "VIEW_CHANGE"
	EventByzantineAction TraceEventType = "BYZANTINE_ACTION"
)

// TraceEvent is one row of the run's event log (§6.1): a flat, sparsely
// populated record whose fields are meaningful according to Type, the same
// shape network.Event already uses for its own narrower send/deliver/drop
// log.
type TraceEvent struct {
	Timestamp int64
	Type      TraceEventType

	ReplicaID   types.ReplicaId // VOTE_SEND, QC_FORMATION, PROPOSAL, LOCK_UPDATE, COMMIT, TIMEOUT, VIEW_CHANGE, BYZANTINE_ACTION
	SenderID    types.ReplicaId // MESSAGE_SEND, MESSAGE_RECEIVE, MESSAGE_DROP
	RecipientID types.ReplicaId // MESSAGE_SEND, MESSAGE_RECEIVE, MESSAGE_DROP
	MessageType string          // MESSAGE_SEND, MESSAGE_RECEIVE, MESSAGE_DROP

	View       types.ViewNumber // MESSAGE_SEND, MESSAGE_RECEIVE, VOTE_SEND, QC_FORMATION, PROPOSAL, TIMEOUT
	NewView    types.ViewNumber // VIEW_CHANGE
	LockedView types.ViewNumber // LOCK_UPDATE

	BlockHash types.BlockHash // VOTE_SEND, QC_FORMATION, PROPOSAL, LOCK_UPDATE, COMMIT
	Height    uint64          // COMMIT
	LatencyMs int64           // COMMIT

	Tag    string // VOTE_SEND's vote_type or QC_FORMATION's qc_type, both a Phase name
	Action string // BYZANTINE_ACTION
}

// Driver runs the simulation described by a config.Config to completion (or
// to a step/view budget), owning the event queue, the network, and every
// replica's state.
type Driver struct {
	cfg config.Config
	log log.LoggerI

	queue *EventQueue
	net   *network.Network

	replicas   map[types.ReplicaId]consensus.Replica
	pacemakers map[types.ReplicaId]consensus.Pacemaker

	trace       []TraceEvent
	netTraceIdx int // how much of d.net.Trace() has already been folded into d.trace

	running bool
	paused  bool

	// violation is set the moment a replica's HandleMessage/HandleTimeout
	// returns a ProtocolViolation (§7): a non-faulty replica's own logic
	// would be required to violate safety. Once set, Step/Run refuse to
	// dispatch any further event, per §7's "the step loop never raises
	// through its caller except on ProtocolViolation" -- the trace up to
	// and including the violating event is preserved, not discarded.
	violation types.ErrorI

	totalTimeouts   int
	viewChanges     int
	totalCommits    int
	commitLatencies []float64
}

// NewDriver builds a Driver from cfg and arms the initial proposal and
// timeouts, returning it ready to Step.
func NewDriver(cfg config.Config, l log.LoggerI) (*Driver, types.ErrorI) {
	d := &Driver{log: l}
	if err := d.Reset(cfg); err != nil {
		return nil, err
	}
	return d, nil
}

// Reset rebuilds the driver from scratch against cfg: a fresh queue,
// network, and replica set, with the trace and every counter cleared. Per
// §4.8's determinism guarantee, reset(config) followed by the same sequence
// of Step/Run calls reproduces the same trace as a fresh Driver built from
// the same config.
func (d *Driver) Reset(cfg config.Config) types.ErrorI {
	result, err := config.ApplyConfig(&cfg)
	if err != nil {
		return err
	}
	if result.SafetyWarning != "" {
		d.log.Warnf("%s (quorum_size=%d, max_faulty=%d, num_faulty=%d)", result.SafetyWarning, result.QuorumSize, result.MaxFaulty, cfg.NumFaulty)
	}

	d.cfg = cfg
	d.queue = NewEventQueue()
	d.replicas = make(map[types.ReplicaId]consensus.Replica, cfg.NumReplicas)
	d.pacemakers = make(map[types.ReplicaId]consensus.Pacemaker, cfg.NumReplicas)
	d.trace = nil
	d.netTraceIdx = 0
	d.running = true
	d.paused = false
	d.violation = nil
	d.totalTimeouts = 0
	d.viewChanges = 0
	d.totalCommits = 0
	d.commitLatencies = nil
	d.net = network.New(cfg, d.queue)

	faulty := faultySet(cfg)
	for i := 0; i < cfg.NumReplicas; i++ {
		id := types.ReplicaId(i)
		pm := newPacemaker(cfg)
		d.pacemakers[id] = pm

		ft := types.NoFault
		if faulty[id] {
			ft = cfg.FaultType
		}
		if cfg.Chained {
			d.replicas[id] = consensus.NewChainedReplica(id, cfg.NumReplicas, cfg.NumFaulty, ft, cfg.RandomDropProbability, cfg.Seed, d.net, pm, d.log)
		} else {
			d.replicas[id] = consensus.NewBasicReplica(id, cfg.NumReplicas, cfg.NumFaulty, ft, cfg.RandomDropProbability, cfg.Seed, d.net, pm, d.log)
		}
	}
	d.net.SetDeliverer(d.onDeliver)

	leader := types.LeaderOf(0, cfg.NumReplicas)
	if r, ok := d.replicas[leader]; ok {
		_ = r.Propose()
		d.syncNetworkTrace()
		d.drainReplicaEvents(leader, d.queue.Now())
	}
	for id, r := range d.replicas {
		d.armTimeout(id, r.View())
	}
	return nil
}

// ApplyConfig validates cfg and reports the derived quorum parameters
// without mutating the running simulation, implementing the `POST config`
// preview contract of §6.2 as distinct from actually committing to it via
// Reset.
func (d *Driver) ApplyConfig(cfg config.Config) (*config.Result, types.ErrorI) {
	return config.ApplyConfig(&cfg)
}

func newPacemaker(cfg config.Config) consensus.Pacemaker {
	if cfg.PacemakerType == config.PacemakerAdaptive {
		return pacemaker.NewAdaptive(cfg)
	}
	return pacemaker.NewBaseline(cfg)
}

// faultySet resolves which replicas run with cfg.FaultType: the explicit
// FaultyReplicas list if given, otherwise the first NumFaulty replicas by
// id, matching the leader-rotation convention of assigning low ids first.
func faultySet(cfg config.Config) map[types.ReplicaId]bool {
	out := make(map[types.ReplicaId]bool, cfg.NumFaulty)
	if len(cfg.FaultyReplicas) > 0 {
		for _, id := range cfg.FaultyReplicas {
			out[id] = true
		}
		return out
	}
	for i := 0; i < cfg.NumFaulty; i++ {
		out[types.ReplicaId(i)] = true
	}
	return out
}

func (d *Driver) onDeliver(env *types.Envelope) {
	if d.violation != nil {
		return // the run already aborted; drain no further events
	}
	d.syncNetworkTrace() // folds in the MESSAGE_RECEIVE row the network just recorded for this delivery
	rep, ok := d.replicas[env.Recipient]
	if !ok {
		return
	}
	prevView := rep.View()
	err := rep.HandleMessage(env)
	d.syncNetworkTrace() // folds in any MESSAGE_SEND/MESSAGE_DROP this delivery's handling produced
	d.drainReplicaEvents(env.Recipient, env.DeliverTime)
	if types.IsProtocolViolation(err) {
		d.abortOnViolation(err)
		return
	}
	if rep.View() > prevView {
		d.queue.CancelViewTimeouts(env.Recipient, rep.View())
		d.armTimeout(env.Recipient, rep.View())
	}
}

func (d *Driver) onTimeout(id types.ReplicaId, view types.ViewNumber) {
	if d.violation != nil {
		return
	}
	rep, ok := d.replicas[id]
	if !ok || rep.View() != view {
		return // already advanced by other means; this timeout is stale
	}
	now := d.queue.Now()
	d.trace = append(d.trace, TraceEvent{Timestamp: now, Type: EventTimeout, ReplicaID: id, View: view})
	d.totalTimeouts++
	err := rep.HandleTimeout(view)
	d.syncNetworkTrace()
	d.drainReplicaEvents(id, now)
	if types.IsProtocolViolation(err) {
		d.abortOnViolation(err)
		return
	}
	d.armTimeout(id, rep.View())
}

// abortOnViolation stops the run per §7's ProtocolViolation propagation
// policy: the trace already recorded (including the violating event's own
// rows) is preserved, but no further event is dispatched. Step/Run surface
// the violation to their caller from this point on.
func (d *Driver) abortOnViolation(err types.ErrorI) {
	d.violation = err
	d.running = false
	d.log.Errorf("protocol violation, aborting run: %s", err.Error())
}

// syncNetworkTrace folds every network.Event recorded since the last sync
// into d.trace, translated to the unified §6.1 schema. The network's own
// trace is append-only and already in real chronological order, so this
// only ever needs to consume the tail it hasn't seen yet.
func (d *Driver) syncNetworkTrace() {
	nt := d.net.Trace()
	for ; d.netTraceIdx < len(nt); d.netTraceIdx++ {
		d.trace = append(d.trace, translateNetworkEvent(nt[d.netTraceIdx]))
	}
}

func translateNetworkEvent(e network.Event) TraceEvent {
	switch e.Kind {
	case "send":
		return TraceEvent{Timestamp: e.Time, Type: EventMessageSend, SenderID: e.Sender, RecipientID: e.Recipient, MessageType: e.MsgType, View: e.View}
	case "deliver":
		return TraceEvent{Timestamp: e.Time, Type: EventMessageReceive, SenderID: e.Sender, RecipientID: e.Recipient, MessageType: e.MsgType, View: e.View}
	case "drop":
		return TraceEvent{Timestamp: e.Time, Type: EventMessageDrop, SenderID: e.Sender, RecipientID: e.Recipient, MessageType: e.MsgType}
	case "byzantine_action":
		return TraceEvent{Timestamp: e.Time, Type: EventByzantineAction, ReplicaID: e.Sender, Action: e.Detail}
	default:
		return TraceEvent{Timestamp: e.Time, Type: TraceEventType(e.Kind)}
	}
}

// drainReplicaEvents folds every ReplicaEvent id has buffered since the last
// drain into d.trace, stamping them with now (a replica has no notion of
// simulated time of its own), and feeds anything counters or the Adaptive
// pacemaker need out of them.
func (d *Driver) drainReplicaEvents(id types.ReplicaId, now int64) {
	rep, ok := d.replicas[id]
	if !ok {
		return
	}
	for _, ev := range rep.DrainEvents() {
		d.trace = append(d.trace, TraceEvent{
			Timestamp: now, Type: TraceEventType(ev.Kind), ReplicaID: ev.Replica,
			View: ev.View, NewView: ev.NewView, LockedView: ev.LockedView,
			BlockHash: ev.BlockHash, Height: ev.Height, LatencyMs: ev.LatencyMs, Tag: ev.Tag,
		})
		switch ev.Kind {
		case types.EventCommit:
			d.totalCommits++
			d.commitLatencies = append(d.commitLatencies, float64(ev.LatencyMs))
			if adaptive, ok := d.pacemakers[id].(*pacemaker.Adaptive); ok {
				adaptive.RecordLatency(float64(ev.LatencyMs))
			}
		case types.EventViewChange:
			d.viewChanges++
		}
	}
}

// armTimeout schedules the next timeout for a replica at its pacemaker's
// current timeout, unless max_views has been reached (§6.3), in which case
// no further timeout is armed and the run winds down toward exhaustion.
func (d *Driver) armTimeout(id types.ReplicaId, view types.ViewNumber) {
	if d.cfg.MaxViews > 0 && uint64(view) >= uint64(d.cfg.MaxViews) {
		return
	}
	pm := d.pacemakers[id]
	at := d.queue.Now() + pm.CurrentTimeoutMs()
	d.queue.ScheduleTimeout(id, view, at, func() { d.onTimeout(id, view) })
}

// Step runs the single next-due event, if any, and reports whether one ran.
// A paused Driver never steps: Pause is a hard gate, not merely advisory. A
// Driver that has already hit a ProtocolViolation never steps again either;
// per §7, that error is the one thing that raises through the step loop's
// caller, and it does so on every call from the violation onward, not just
// the one that produced it.
func (d *Driver) Step() (bool, types.ErrorI) {
	if d.paused || d.violation != nil {
		return false, d.violation
	}
	ran := d.queue.Step()
	return ran, d.violation
}

// Run executes up to n events, stopping early if the queue empties (the
// QueueExhausted terminal condition of §7), the Driver is paused, or a
// ProtocolViolation aborts the run. It returns how many events ran and, if
// the run was aborted by a ProtocolViolation, that error.
func (d *Driver) Run(n int) (int, types.ErrorI) {
	if d.paused || d.violation != nil {
		return 0, d.violation
	}
	ran := 0
	for ran < n && d.violation == nil && d.queue.Step() {
		ran++
	}
	return ran, d.violation
}

// Violation returns the ProtocolViolation that aborted the run, or nil if
// none has occurred.
func (d *Driver) Violation() types.ErrorI { return d.violation }

// Start marks the Driver running and clears any pause, per the `POST start`
// contract of §6.2. A freshly constructed or reset Driver already starts in
// this state; Start exists to resume one that was explicitly paused.
func (d *Driver) Start() { d.running = true; d.paused = false }

// Pause blocks further Step/Run calls from executing events until Start is
// called again.
func (d *Driver) Pause() { d.paused = true }

// Status reports the run's current state for the `GET status` contract of
// §6.2. CurrentView is the highest view any replica has reached, the
// furthest the run has collectively progressed.
type Status struct {
	IsRunning   bool
	IsPaused    bool
	CurrentTime int64
	CurrentView types.ViewNumber
}

func (d *Driver) Status() Status {
	var view types.ViewNumber
	for _, r := range d.replicas {
		if r.View() > view {
			view = r.View()
		}
	}
	return Status{IsRunning: d.running, IsPaused: d.paused, CurrentTime: d.queue.Now(), CurrentView: view}
}

// ReplicaStatus is one replica's row of the `GET replicas` contract of
// §6.2.
type ReplicaStatus struct {
	ReplicaID      types.ReplicaId
	CurrentView    types.ViewNumber
	CurrentPhase   types.Phase
	LockedQC       *types.QC
	PrepareQC      *types.QC
	CommittedCount int
	LastVotedView  types.ViewNumber
	IsLeader       bool
	IsFaulty       bool
	FaultType      types.FaultType
}

// Replicas returns every replica's status, ordered by id.
func (d *Driver) Replicas() []ReplicaStatus {
	ids := d.ReplicaIDs()
	out := make([]ReplicaStatus, 0, len(ids))
	for _, id := range ids {
		r := d.replicas[id]
		out = append(out, ReplicaStatus{
			ReplicaID:      id,
			CurrentView:    r.View(),
			CurrentPhase:   r.CurrentPhase(),
			LockedQC:       r.LockedQC(),
			PrepareQC:      r.PrepareQC(),
			CommittedCount: r.CommittedCount(),
			LastVotedView:  r.LastVotedView(),
			IsLeader:       types.LeaderOf(r.View(), d.cfg.NumReplicas) == id,
			IsFaulty:       r.IsFaulty(),
			FaultType:      r.FaultType(),
		})
	}
	return out
}

// Trace returns the run's event log so far, in execution order.
func (d *Driver) Trace() []TraceEvent { return d.trace }

// NetworkTrace exposes the network's own send/deliver/drop log, kept
// separate from Trace since it records attempts, not consensus effects.
func (d *Driver) NetworkTrace() []network.Event { return d.net.Trace() }

// Replica exposes a single replica for inspection (Snapshot, status
// endpoints); it returns nil for an out-of-range id.
func (d *Driver) Replica(id types.ReplicaId) consensus.Replica { return d.replicas[id] }

// ReplicaIDs returns every replica id in ascending order. Go map iteration
// order is randomized per-process; callers that print or trace per-replica
// state use this instead of ranging d.replicas directly, so two runs of the
// same seed produce identical output, not just identical protocol state.
func (d *Driver) ReplicaIDs() []types.ReplicaId {
	ids := maps.Keys(d.replicas)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SetPartition toggles a network partition between two replicas.
func (d *Driver) SetPartition(a, b types.ReplicaId, partitioned bool) {
	d.net.SetPartition(a, b, partitioned)
}

// Snapshot summarizes every replica's view for status reporting (§6.2).
type Snapshot struct {
	Time     int64
	Replicas map[types.ReplicaId]ReplicaSnapshot
}

type ReplicaSnapshot struct {
	View     types.ViewNumber
	HighQC   *types.QC
	LockedQC *types.QC
}

func (d *Driver) Snapshot() Snapshot {
	snap := Snapshot{Time: d.queue.Now(), Replicas: make(map[types.ReplicaId]ReplicaSnapshot, len(d.replicas))}
	for id, r := range d.replicas {
		snap.Replicas[id] = ReplicaSnapshot{View: r.View(), HighQC: r.HighQC(), LockedQC: r.LockedQC()}
	}
	return snap
}
