package types

// Message is a tagged union over the four wire message kinds. It is a
// sealed interface: messageKind() can only be implemented inside this
// package, so the set of variants a receiver's type switch (in
// consensus.Replica.HandleMessage) has to consider is closed, and dispatch
// is by type rather than by a type string. The Go compiler does not check
// such a switch for exhaustiveness; unhandled variants fall through.
type Message interface {
	messageKind()
	MessageType() string
	MsgView() ViewNumber
}

// Proposal is broadcast by the leader of a view carrying a new block and
// the QC that justifies it.
type Proposal struct {
	Block      *Block    `json:"block"`
	JustifyQC  *QC       `json:"justify_qc"`
	ProposerId ReplicaId `json:"proposer_id"`
}

func (*Proposal) messageKind()          {}
func (*Proposal) MessageType() string   { return "Proposal" }
func (p *Proposal) MsgView() ViewNumber { return p.Block.View }

// Vote is sent by a replica in response to a Proposal, addressed to the
// collecting leader's vote collector: leader_of(view) in Basic HotStuff,
// leader_of(view+1) in Chained HotStuff.
type Vote struct {
	Phase     Phase      `json:"phase"`
	View      ViewNumber `json:"view"`
	BlockHash BlockHash  `json:"block_hash"`
	Voter     ReplicaId  `json:"voter"`
}

func (*Vote) messageKind()          {}
func (*Vote) MessageType() string   { return "Vote" }
func (v *Vote) MsgView() ViewNumber { return v.View }

// NewView is sent by a replica to the leader of the next view on a timeout,
// carrying the highest QC the sender knows.
type NewView struct {
	View      ViewNumber `json:"view"`
	HighestQC *QC        `json:"highest_qc"`
	SenderId  ReplicaId  `json:"sender_id"`
}

func (*NewView) messageKind()          {}
func (*NewView) MessageType() string   { return "NewView" }
func (n *NewView) MsgView() ViewNumber { return n.View }

// Timeout is not sent over the network by the protocol: view timeouts are
// queue callbacks that call Replica.HandleTimeout directly and never build
// one. It satisfies Message so it can still be carried in an Envelope.
type Timeout struct {
	View  ViewNumber `json:"view"`
	Voter ReplicaId  `json:"voter"`
}

func (*Timeout) messageKind()          {}
func (*Timeout) MessageType() string   { return "Timeout" }
func (t *Timeout) MsgView() ViewNumber { return t.View }

// Envelope is the unit of scheduling the Network owns exclusively from
// send until deliver or drop.
type Envelope struct {
	SendTime    int64
	DeliverTime int64
	Sender      ReplicaId
	Recipient   ReplicaId
	Message     Message
	Dropped     bool
}
