package seqno

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMustBeValid(t *testing.T) {
	for _, tc := range []struct {
		checkpoint int64
		panics     bool
	}{
		{checkpoint: UnassignedSeqNo, panics: true},
		{checkpoint: -5, panics: true},
		{checkpoint: NoOpsPerformed},
		{checkpoint: 0},
		{checkpoint: 42},
	} {
		if tc.panics {
			require.Panics(t, func() { MustBeValid(tc.checkpoint) }, "checkpoint %d", tc.checkpoint)
			continue
		}
		require.NotPanics(t, func() { MustBeValid(tc.checkpoint) }, "checkpoint %d", tc.checkpoint)
	}
}

func TestIsAssigned(t *testing.T) {
	require.False(t, IsAssigned(UnassignedSeqNo))
	require.True(t, IsAssigned(NoOpsPerformed))
	require.True(t, IsAssigned(7))
}

func TestMax(t *testing.T) {
	require.Equal(t, int64(3), Max(3, UnassignedSeqNo))
	require.Equal(t, NoOpsPerformed, Max(UnassignedSeqNo, NoOpsPerformed))
}
