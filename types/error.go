package types

import "fmt"

// ErrorI is the error taxonomy shared by every package in the simulator.
// It mirrors the module+code shape used throughout the codebase so a trace
// consumer can group failures by subsystem without parsing message strings.
type ErrorI interface {
	Code() ErrorCode
	Module() ErrorModule
	error
}

type ErrorCode uint32

type ErrorModule string

const (
	ConfigModule    ErrorModule = "config"
	ConsensusModule ErrorModule = "consensus"
	NetworkModule   ErrorModule = "network"
	EngineModule    ErrorModule = "engine"
)

// Error is the concrete ErrorI implementation.
type Error struct {
	ECode   ErrorCode
	EModule ErrorModule
	Msg     string
}

var _ ErrorI = &Error{}

func NewError(code ErrorCode, module ErrorModule, msg string) *Error {
	return &Error{ECode: code, EModule: module, Msg: msg}
}

func (e *Error) Code() ErrorCode     { return e.ECode }
func (e *Error) Module() ErrorModule { return e.EModule }
func (e *Error) Error() string {
	return fmt.Sprintf("[%s:%d] %s", e.EModule, e.ECode, e.Msg)
}

// Error classes from the error handling design (§7 of the specification).
//
// ConfigurationError codes are returned synchronously from the config
// surface and never surface from inside the step loop.
const (
	CodeInvalidNumReplicas ErrorCode = iota + 1
	CodeInvalidTimeout
	CodeInvalidDropProbability
	CodeUnknownFaultType
	CodeUnknownPacemakerType
)

func ErrInvalidNumReplicas(n int) ErrorI {
	return NewError(CodeInvalidNumReplicas, ConfigModule, fmt.Sprintf("num_replicas must be >= 1, got %d", n))
}

func ErrInvalidTimeout(ms int) ErrorI {
	return NewError(CodeInvalidTimeout, ConfigModule, fmt.Sprintf("base_timeout_ms must be > 0, got %d", ms))
}

func ErrInvalidDropProbability(p float64) ErrorI {
	return NewError(CodeInvalidDropProbability, ConfigModule, fmt.Sprintf("drop_probability must be in [0,1], got %f", p))
}

func ErrUnknownFaultType(s string) ErrorI {
	return NewError(CodeUnknownFaultType, ConfigModule, fmt.Sprintf("unknown fault_type: %s", s))
}

func ErrUnknownPacemakerType(s string) ErrorI {
	return NewError(CodeUnknownPacemakerType, ConfigModule, fmt.Sprintf("unknown pacemaker_type: %s", s))
}

// ProtocolViolation codes indicate a non-faulty replica's own logic would be
// required to violate safety. The step loop treats these as assertion
// failures: the simulation aborts and the trace is flushed, because this is
// a bug in the implementation, not a tolerated fault.
const (
	CodeUnsafeVoteRequested ErrorCode = iota + 100
	CodeDoubleVote
	CodeNonMonotonicLock
)

func ErrUnsafeVoteRequested(replica int, view uint64) ErrorI {
	return NewError(CodeUnsafeVoteRequested, ConsensusModule,
		fmt.Sprintf("replica %d asked to cast an unsafe vote in view %d", replica, view))
}

func ErrDoubleVote(replica int, view uint64) ErrorI {
	return NewError(CodeDoubleVote, ConsensusModule,
		fmt.Sprintf("replica %d attempted to vote twice for view %d with different block hashes", replica, view))
}

func ErrNonMonotonicLock(replica int, from, to uint64) ErrorI {
	return NewError(CodeNonMonotonicLock, ConsensusModule,
		fmt.Sprintf("replica %d locked_qc.view moved backward from %d to %d", replica, from, to))
}

// IsProtocolViolation reports whether err belongs to the ProtocolViolation
// class (§7): the step loop's one assertion-failure error class, distinct
// from InvalidMessage codes that are dropped silently and from
// ConfigurationErrors that never reach the step loop at all.
func IsProtocolViolation(err ErrorI) bool {
	if err == nil {
		return false
	}
	switch err.Code() {
	case CodeUnsafeVoteRequested, CodeDoubleVote, CodeNonMonotonicLock:
		return true
	default:
		return false
	}
}

// InvalidMessage codes are written to the recipient replica's logger and
// the message is discarded; they never propagate as errors. No trace row
// (MESSAGE_DROP or otherwise) is recorded for such a discard.
const (
	CodeMalformedQC ErrorCode = iota + 200
	CodeWrongLeader
	CodeUnknownBlockHash
)

func ErrMalformedQC(reason string) ErrorI {
	return NewError(CodeMalformedQC, ConsensusModule, "malformed quorum certificate: "+reason)
}

func ErrWrongLeader(view uint64, got, want int) ErrorI {
	return NewError(CodeWrongLeader, ConsensusModule,
		fmt.Sprintf("proposal for view %d came from replica %d, expected leader %d", view, got, want))
}

func ErrUnknownBlockHash(hash BlockHash) ErrorI {
	return NewError(CodeUnknownBlockHash, ConsensusModule, fmt.Sprintf("unknown block hash %s", hash))
}
