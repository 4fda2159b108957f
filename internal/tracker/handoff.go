package tracker

import (
	"fmt"

	"gitlab.com/gitlab-org/shardtracker/internal/seqno"
)

// StartRelocationHandoff snapshots the tracker state for the relocation
// target. Until the handoff is completed or aborted, checkpoint reports are
// still recorded but the global checkpoint does not advance.
func (t *ReplicationTracker) StartRelocationHandoff(targetAllocationID string) (*PrimaryContext, error) {
	t.m.Lock()
	defer t.m.Unlock()

	if err := t.checkPrimaryWithoutHandoff(); err != nil {
		return nil, err
	}

	if len(t.pendingInSync) > 0 {
		return nil, fmt.Errorf("starting handoff with %v: %w", sortedKeys(t.pendingInSync), ErrPendingInSync)
	}

	if _, ok := t.checkpoints[targetAllocationID]; !ok {
		return nil, t.unknownAllocationID(targetAllocationID)
	}

	if t.routingTable == nil {
		return nil, ErrNoRoutingTable
	}

	t.handoffInProgress = true

	checkpoints := make(map[string]CheckpointState, len(t.checkpoints))
	for id, cps := range t.checkpoints {
		state := cps.Copy()
		state.VisibleReplicationCheckpoint = nil
		checkpoints[id] = state
	}

	t.log.WithField("target_allocation_id", targetAllocationID).Info("started relocation handoff")

	return &PrimaryContext{
		ClusterStateVersion: t.appliedClusterStateVersion,
		Checkpoints:         checkpoints,
		RoutingTable:        t.routingTable.Copy(),
		ReplicationGroup:    t.replicationGroup,
	}, nil
}

// AbortRelocationHandoff resumes normal primary operation after a failed
// handoff.
func (t *ReplicationTracker) AbortRelocationHandoff() error {
	t.m.Lock()
	defer t.m.Unlock()

	if !t.handoffInProgress {
		return ErrNoHandoffInProgress
	}

	t.handoffInProgress = false
	t.updateGlobalCheckpointOnPrimary()

	t.log.Info("aborted relocation handoff")

	return nil
}

// CompleteRelocationHandoff retires the tracker once the relocation target
// took over as primary. All checkpoint knowledge is dropped.
func (t *ReplicationTracker) CompleteRelocationHandoff() error {
	t.m.Lock()
	defer t.m.Unlock()

	if !t.handoffInProgress {
		return ErrNoHandoffInProgress
	}

	t.mode = modeRelocated
	t.handoffInProgress = false
	for _, cps := range t.checkpoints {
		cps.LocalCheckpoint = seqno.UnassignedSeqNo
		cps.GlobalCheckpoint = seqno.UnassignedSeqNo
	}
	t.notifyAllWaiters()

	t.log.Info("completed relocation handoff")

	return nil
}

// ActivateWithPrimaryContext turns the relocation target into the primary
// using the state handed off by the previous primary. A membership update
// the target applied on its own during the handoff is replayed on top if it
// is newer than the one the context was taken at.
func (t *ReplicationTracker) ActivateWithPrimaryContext(pc *PrimaryContext) error {
	t.m.Lock()
	defer t.m.Unlock()

	switch t.mode {
	case modePrimary:
		return ErrPrimaryMode
	case modeRelocated:
		return ErrRelocated
	}

	ownState, ok := pc.Checkpoints[t.allocationID]
	if !ok {
		return ErrOwnCopyNotInContext
	}

	replay := t.captureMembership()
	previousGlobalCheckpoint := t.own().GlobalCheckpoint

	t.mode = modePrimary
	t.appliedClusterStateVersion = pc.ClusterStateVersion
	t.checkpoints = make(map[string]*CheckpointState, len(pc.Checkpoints))
	for id, cps := range pc.Checkpoints {
		t.admit(id, newCheckpointState(cps.LocalCheckpoint, cps.GlobalCheckpoint, cps.InSync, cps.Tracked))
	}
	t.own().GlobalCheckpoint = seqno.Max(ownState.GlobalCheckpoint, previousGlobalCheckpoint)
	t.pendingInSync = make(map[string]struct{})
	t.unacknowledgedInSync = make(map[string]struct{})

	routingTable := pc.RoutingTable.Copy()
	t.routingTable = &routingTable
	t.updateReplicationGroup()
	t.updateGlobalCheckpointOnPrimary()

	if replay != nil {
		replay()
	}

	t.addPeerRecoveryRetentionLeaseForSolePrimary()
	t.notifyAllWaiters()

	t.log.WithField("cluster_state_version", pc.ClusterStateVersion).Info("activated primary mode from primary context")

	return nil
}

// captureMembership returns a function re-applying the last membership
// update, or nil if none was applied. The caller must hold the lock, also
// when calling the returned function.
func (t *ReplicationTracker) captureMembership() func() {
	if t.routingTable == nil {
		return nil
	}

	version := t.appliedClusterStateVersion
	table := t.routingTable.Copy()
	inSync := make(map[string]struct{})
	for id, cps := range t.checkpoints {
		if cps.InSync {
			inSync[id] = struct{}{}
		}
	}

	return func() {
		t.updateFromClusterManager(version, inSync, table)
	}
}
