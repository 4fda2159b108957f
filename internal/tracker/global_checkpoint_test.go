package tracker

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
	"gitlab.com/gitlab-org/shardtracker/internal/seqno"
)

func TestComputeTranslogGlobalCheckpoint(t *testing.T) {
	for _, tc := range []struct {
		desc        string
		checkpoints map[string]*CheckpointState
		expected    int64
	}{
		{
			desc: "minimum of in-sync copies",
			checkpoints: map[string]*CheckpointState{
				"p":  newCheckpointState(5, 0, true, true),
				"a1": newCheckpointState(7, 0, true, true),
				"a2": newCheckpointState(3, 0, true, true),
			},
			expected: 3,
		},
		{
			desc: "copies that are not in-sync are ignored",
			checkpoints: map[string]*CheckpointState{
				"p":  newCheckpointState(5, 0, true, true),
				"i1": newCheckpointState(1, 0, false, true),
				"i2": newUnassignedCheckpointState(false, false),
			},
			expected: 5,
		},
		{
			desc: "in-sync copy without report",
			checkpoints: map[string]*CheckpointState{
				"p":  newCheckpointState(5, 0, true, true),
				"a1": newUnassignedCheckpointState(true, true),
			},
			expected: 2,
		},
		{
			desc: "copies pending in-sync do not hold it back",
			checkpoints: map[string]*CheckpointState{
				"p":  newCheckpointState(5, 0, true, true),
				"i1": newCheckpointState(1, 0, false, true),
			},
			expected: 5,
		},
		{
			desc: "no in-sync copies",
			checkpoints: map[string]*CheckpointState{
				"p": newCheckpointState(5, 0, false, false),
			},
			expected: 2,
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			require.Equal(t, tc.expected, ComputeTranslogGlobalCheckpoint(GroupView{
				PrimaryAllocationID: "p",
				Checkpoints:         tc.checkpoints,
				Current:             2,
			}))
		})
	}
}

func TestComputeRemoteStoreGlobalCheckpoint(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("global checkpoint follows the primary alone", prop.ForAll(
		func(own int64, replicas []int64) bool {
			checkpoints := map[string]*CheckpointState{"p": newCheckpointState(own, 0, true, true)}
			for i, lc := range replicas {
				checkpoints[fmt.Sprintf("r%d", i)] = newCheckpointState(lc, 0, i%2 == 0, true)
			}

			return ComputeRemoteStoreGlobalCheckpoint(GroupView{
				PrimaryAllocationID: "p",
				Checkpoints:         checkpoints,
				Current:             seqno.NoOpsPerformed,
			}) == own
		},
		gen.Int64Range(seqno.NoOpsPerformed, 1000),
		gen.SliceOf(gen.Int64Range(seqno.UnassignedSeqNo, 1000)),
	))

	properties.TestingRun(t)

	require.Equal(t, int64(4), ComputeRemoteStoreGlobalCheckpoint(GroupView{
		PrimaryAllocationID: "p",
		Checkpoints:         map[string]*CheckpointState{"p": newUnassignedCheckpointState(true, true)},
		Current:             4,
	}), "primary without local checkpoint keeps the current value")
}

func TestReplicationTracker_globalCheckpointProperties(t *testing.T) {
	replicas := []string{"a1", "a2", "a3"}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("global checkpoint is the minimum in-sync local checkpoint and never decreases", prop.ForAll(
		func(reports []int64) bool {
			tracker := newTestPrimary(t, "p", replicas, nil, 100)
			latest := map[string]int64{
				"p":  100,
				"a1": seqno.UnassignedSeqNo,
				"a2": seqno.UnassignedSeqNo,
				"a3": seqno.UnassignedSeqNo,
			}

			previous := tracker.GlobalCheckpoint()
			for i, lc := range reports {
				id := replicas[i%len(replicas)]
				if err := tracker.UpdateLocalCheckpoint(id, lc); err != nil {
					return false
				}
				latest[id] = seqno.Max(latest[id], lc)

				current := tracker.GlobalCheckpoint()
				if current < previous {
					return false
				}
				previous = current
			}

			minimum := latest["p"]
			for _, lc := range latest {
				if lc < minimum {
					minimum = lc
				}
			}
			return previous == minimum
		},
		gen.SliceOf(gen.Int64Range(seqno.NoOpsPerformed, 100)),
	))

	properties.TestingRun(t)
}
