package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestError_FormatsCodeAndModule(t *testing.T) {
	err := ErrInvalidNumReplicas(0)
	require.Equal(t, CodeInvalidNumReplicas, err.Code())
	require.Equal(t, ConfigModule, err.Module())
	require.Contains(t, err.Error(), "num_replicas")
}

func TestErrorConstructors_SetExpectedModule(t *testing.T) {
	tests := []struct {
		name   string
		err    ErrorI
		module ErrorModule
	}{
		{"invalid num replicas", ErrInvalidNumReplicas(-1), ConfigModule},
		{"invalid timeout", ErrInvalidTimeout(0), ConfigModule},
		{"invalid drop probability", ErrInvalidDropProbability(2), ConfigModule},
		{"unknown fault type", ErrUnknownFaultType("X"), ConfigModule},
		{"unknown pacemaker type", ErrUnknownPacemakerType("X"), ConfigModule},
		{"unsafe vote requested", ErrUnsafeVoteRequested(0, 1), ConsensusModule},
		{"double vote", ErrDoubleVote(0, 1), ConsensusModule},
		{"non monotonic lock", ErrNonMonotonicLock(0, 2, 1), ConsensusModule},
		{"malformed qc", ErrMalformedQC("reason"), ConsensusModule},
		{"wrong leader", ErrWrongLeader(1, 2, 3), ConsensusModule},
		{"unknown block hash", ErrUnknownBlockHash("x"), ConsensusModule},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.module, test.err.Module())
			require.NotZero(t, test.err.Code())
		})
	}
}
