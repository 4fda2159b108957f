package tracker

import (
	"fmt"

	"gitlab.com/gitlab-org/shardtracker/internal/seqno"
)

// DurabilityMode selects where operations are made durable and with it how
// the global checkpoint is computed.
type DurabilityMode string

const (
	// DurabilityTranslog keeps operations durable in each copy's translog. The
	// global checkpoint is bounded by every in-sync copy.
	DurabilityTranslog DurabilityMode = "translog"
	// DurabilityRemoteStore keeps operations durable in a remote store written
	// by the primary. The global checkpoint follows the primary alone.
	DurabilityRemoteStore DurabilityMode = "remote_store"
)

// Validate checks that the mode is known.
func (m DurabilityMode) Validate() error {
	switch m {
	case DurabilityTranslog, DurabilityRemoteStore:
		return nil
	default:
		return fmt.Errorf("invalid durability mode: %q", m)
	}
}

// GroupView is the input of a global checkpoint computation.
type GroupView struct {
	// PrimaryAllocationID is the ID of the computing primary.
	PrimaryAllocationID string
	// Checkpoints holds the state of every member.
	Checkpoints map[string]*CheckpointState
	// Current is the current global checkpoint. It is returned whenever no
	// better value can be computed.
	Current int64
}

// GlobalCheckpointFunc computes the global checkpoint of a replication group.
// Implementations are pure functions of their input.
type GlobalCheckpointFunc func(GroupView) int64

// ComputeTranslogGlobalCheckpoint returns the minimum local checkpoint of the
// in-sync copies. It falls back to the current value while an in-sync copy has
// not reported yet.
func ComputeTranslogGlobalCheckpoint(view GroupView) int64 {
	minimum, found := int64(0), false
	for _, cps := range view.Checkpoints {
		if !cps.InSync {
			continue
		}
		if cps.LocalCheckpoint == seqno.UnassignedSeqNo {
			return view.Current
		}
		if !found || cps.LocalCheckpoint < minimum {
			minimum, found = cps.LocalCheckpoint, true
		}
	}

	if !found {
		return view.Current
	}
	return minimum
}

// ComputeRemoteStoreGlobalCheckpoint returns the primary's own local
// checkpoint. Replicas never hold it back.
func ComputeRemoteStoreGlobalCheckpoint(view GroupView) int64 {
	own, ok := view.Checkpoints[view.PrimaryAllocationID]
	if !ok || own.LocalCheckpoint == seqno.UnassignedSeqNo {
		return view.Current
	}
	return own.LocalCheckpoint
}

func (m DurabilityMode) globalCheckpointFunc() GlobalCheckpointFunc {
	if m == DurabilityRemoteStore {
		return ComputeRemoteStoreGlobalCheckpoint
	}
	return ComputeTranslogGlobalCheckpoint
}

// waitsForInSync reports whether copies must catch up with the global
// checkpoint before they are promoted to in-sync.
func (m DurabilityMode) waitsForInSync() bool {
	return m != DurabilityRemoteStore
}
