package tracker

import (
	"fmt"
	"time"

	"github.com/google/btree"
	"gitlab.com/gitlab-org/shardtracker/internal/segrep"
	"gitlab.com/gitlab-org/shardtracker/internal/seqno"
)

// CheckpointState is the progress the primary knows about for one shard copy.
type CheckpointState struct {
	// LocalCheckpoint is the highest sequence number the copy has applied.
	LocalCheckpoint int64
	// GlobalCheckpoint is the global checkpoint the copy knows about.
	GlobalCheckpoint int64
	// InSync marks copies that count towards the global checkpoint.
	InSync bool
	// Tracked marks copies that receive replicated operations.
	Tracked bool
	// VisibleReplicationCheckpoint is the latest segment checkpoint the copy
	// has made searchable.
	VisibleReplicationCheckpoint *segrep.Checkpoint

	checkpointTimers            *btree.BTree
	lastCompletedReplicationLag time.Duration
}

func newCheckpointState(localCheckpoint, globalCheckpoint int64, inSync, tracked bool) *CheckpointState {
	return &CheckpointState{
		LocalCheckpoint:  localCheckpoint,
		GlobalCheckpoint: globalCheckpoint,
		InSync:           inSync,
		Tracked:          tracked,
		checkpointTimers: btree.New(4),
	}
}

func newUnassignedCheckpointState(inSync, tracked bool) *CheckpointState {
	return newCheckpointState(seqno.UnassignedSeqNo, seqno.UnassignedSeqNo, inSync, tracked)
}

// Copy returns the checkpoint information of the state without its lag
// timers.
func (cps *CheckpointState) Copy() CheckpointState {
	return CheckpointState{
		LocalCheckpoint:              cps.LocalCheckpoint,
		GlobalCheckpoint:             cps.GlobalCheckpoint,
		InSync:                       cps.InSync,
		Tracked:                      cps.Tracked,
		VisibleReplicationCheckpoint: cps.VisibleReplicationCheckpoint,
	}
}

// Equal compares the checkpoint information of two states.
func (cps CheckpointState) Equal(other CheckpointState) bool {
	return cps.LocalCheckpoint == other.LocalCheckpoint &&
		cps.GlobalCheckpoint == other.GlobalCheckpoint &&
		cps.InSync == other.InSync &&
		cps.Tracked == other.Tracked
}

func (cps CheckpointState) String() string {
	return fmt.Sprintf("{lcp=%d, gcp=%d, inSync=%t, tracked=%t}",
		cps.LocalCheckpoint, cps.GlobalCheckpoint, cps.InSync, cps.Tracked)
}

func (cps *CheckpointState) timers() *btree.BTree {
	if cps.checkpointTimers == nil {
		cps.checkpointTimers = btree.New(4)
	}
	return cps.checkpointTimers
}

// lagTimer is a btree item keyed by the checkpoint it measures.
type lagTimer struct {
	checkpoint *segrep.Checkpoint
	timer      *segrep.LagTimer
}

func (lt *lagTimer) Less(than btree.Item) bool {
	return lt.checkpoint.Compare(than.(*lagTimer).checkpoint) < 0
}
