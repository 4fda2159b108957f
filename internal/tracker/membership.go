package tracker

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"gitlab.com/gitlab-org/shardtracker/internal/routing"
	"gitlab.com/gitlab-org/shardtracker/internal/seqno"
)

// UpdateFromClusterManager applies a membership update published by the
// cluster coordinator. inSyncAllocationIDs lists the copies the coordinator
// considers in-sync; the initializing copies are taken from the routing
// table. Updates whose version is not newer than the last applied one are
// ignored.
//
// On a primary, copies that were promoted to in-sync locally but that the
// coordinator has not listed as in-sync yet survive updates that leave them
// out. They are dropped once the coordinator lists and later omits them, or
// through RemoveAllocationID.
func (t *ReplicationTracker) UpdateFromClusterManager(version int64, inSyncAllocationIDs []string, table routing.Table) {
	t.m.Lock()
	defer t.m.Unlock()

	t.updateFromClusterManager(version, toSet(inSyncAllocationIDs), table)
}

func (t *ReplicationTracker) updateFromClusterManager(version int64, inSync map[string]struct{}, table routing.Table) {
	logger := t.log.WithFields(logrus.Fields{
		"cluster_state_version":         version,
		"applied_cluster_state_version": t.appliedClusterStateVersion,
	})

	if version <= t.appliedClusterStateVersion {
		logger.Debug("ignoring stale membership update")
		return
	}

	initializing := make(map[string]struct{})
	for _, shard := range table.InitializingShards() {
		initializing[shard.AllocationID.ID] = struct{}{}
	}

	for id := range inSync {
		delete(t.unacknowledgedInSync, id)
	}

	removed := false
	for id := range t.checkpoints {
		if id == t.allocationID {
			continue
		}

		_, listedInSync := inSync[id]
		_, listedInitializing := initializing[id]
		if listedInSync || listedInitializing {
			continue
		}

		if _, ok := t.unacknowledgedInSync[id]; ok && t.mode == modePrimary {
			logger.WithField("retained_allocation_id", id).Info("retaining in-sync shard copy not yet acknowledged by the coordinator")
			continue
		}

		t.forget(id)
		removed = true
	}

	if t.mode == modePrimary {
		for id := range initializing {
			if _, ok := t.checkpoints[id]; !ok {
				_, listedInSync := inSync[id]
				t.admit(id, newUnassignedCheckpointState(listedInSync, listedInSync))
			}
		}
		for id := range inSync {
			if _, ok := t.checkpoints[id]; !ok {
				t.admit(id, newUnassignedCheckpointState(true, true))
			}
		}
	} else {
		for id := range initializing {
			if id != t.allocationID {
				t.admit(id, newUnassignedCheckpointState(false, false))
			}
		}
		for id := range inSync {
			if id == t.allocationID {
				own := t.own()
				own.InSync = true
				own.Tracked = true
				continue
			}
			t.admit(id, newUnassignedCheckpointState(true, true))
		}
	}

	t.appliedClusterStateVersion = version
	routingTable := table.Copy()
	t.routingTable = &routingTable
	t.updateReplicationGroup()

	if t.mode == modePrimary && removed {
		t.updateGlobalCheckpointOnPrimary()
		t.notifyAllWaiters()
	}

	logger.WithFields(logrus.Fields{
		"in_sync":      len(inSync),
		"initializing": len(initializing),
		"removed":      removed,
	}).Debug("applied membership update")
}

// admit adds a copy to the replication group. The caller must hold the lock.
func (t *ReplicationTracker) admit(allocationID string, cps *CheckpointState) {
	t.checkpoints[allocationID] = cps
	t.departed.Remove(allocationID)
}

// RemoveAllocationID drops a copy from the replication group regardless of
// its state. It is how copies retained across membership updates are
// finally removed.
func (t *ReplicationTracker) RemoveAllocationID(allocationID string) error {
	t.m.Lock()
	defer t.m.Unlock()

	if allocationID == t.allocationID {
		return errors.New("cannot remove the tracker's own shard copy")
	}

	if _, ok := t.checkpoints[allocationID]; !ok {
		return t.unknownAllocationID(allocationID)
	}

	t.forget(allocationID)
	t.updateReplicationGroup()
	if t.mode == modePrimary {
		t.updateGlobalCheckpointOnPrimary()
	}
	t.notifyAllWaiters()

	t.log.WithField("removed_allocation_id", allocationID).Info("removed shard copy from the replication group")

	return nil
}

// InitiateTracking starts replicating operations to a copy admitted by an
// earlier membership update.
func (t *ReplicationTracker) InitiateTracking(allocationID string) error {
	t.m.Lock()
	defer t.m.Unlock()

	cps, ok := t.checkpoints[allocationID]
	if !ok {
		return t.unknownAllocationID(allocationID)
	}

	if err := t.checkPrimaryWithoutHandoff(); err != nil {
		return err
	}

	if !cps.Tracked {
		cps.Tracked = true
		t.updateReplicationGroup()
		t.log.WithField("tracked_allocation_id", allocationID).Debug("initiated tracking of shard copy")
	}

	return nil
}

// MarkAllocationIDAsInSync records the local checkpoint of a recovering copy
// and blocks until the global checkpoint has reached that local checkpoint.
// The copy is in-sync once the call returns without error. If the copy leaves
// the replication group while waiting, the call returns without promoting it.
//
// Cancelling ctx returns the context's error unless the global checkpoint got
// there in the meantime. The copy then stays tracked but not in-sync and the
// call may be retried.
func (t *ReplicationTracker) MarkAllocationIDAsInSync(ctx context.Context, allocationID string, localCheckpoint int64) error {
	seqno.MustBeValid(localCheckpoint)

	t.m.Lock()
	defer t.m.Unlock()

	cps, ok := t.checkpoints[allocationID]
	if !ok {
		return t.unknownAllocationID(allocationID)
	}

	if err := t.checkPrimaryWithoutHandoff(); err != nil {
		return err
	}

	t.updateLocalCheckpointState(allocationID, cps, localCheckpoint)

	if cps.InSync {
		return nil
	}

	if !t.durability.waitsForInSync() {
		t.promote(allocationID, cps)
		t.updateGlobalCheckpointOnPrimary()
		return nil
	}

	t.pendingInSync[allocationID] = struct{}{}

	for {
		done, err := t.tryPromote(allocationID, localCheckpoint)
		if done {
			return err
		}

		changed := t.checkpointChanged
		t.m.Unlock()

		select {
		case <-ctx.Done():
			t.m.Lock()

			if done, err := t.tryPromote(allocationID, localCheckpoint); done {
				return err
			}

			delete(t.pendingInSync, allocationID)
			return ctx.Err()
		case <-changed:
		}

		t.m.Lock()
	}
}

// tryPromote promotes a pending copy once the global checkpoint reached
// localCheckpoint. It returns true if waiting is over, either because the copy
// is in-sync or because it left the replication group. The caller must hold
// the lock.
func (t *ReplicationTracker) tryPromote(allocationID string, localCheckpoint int64) (bool, error) {
	cps, ok := t.checkpoints[allocationID]
	if !ok {
		delete(t.pendingInSync, allocationID)
		return true, nil
	}

	if cps.InSync {
		delete(t.pendingInSync, allocationID)
		return true, nil
	}

	if t.own().GlobalCheckpoint < localCheckpoint {
		return false, nil
	}

	delete(t.pendingInSync, allocationID)
	t.promote(allocationID, cps)

	// Updates that raced with the promotion were computed without this copy.
	t.updateGlobalCheckpointOnPrimary()

	return true, nil
}

// UpdateLocalCheckpoint records the local checkpoint a copy reported. Reports
// for copies outside the replication group are ignored, as are reports that
// do not advance the checkpoint.
func (t *ReplicationTracker) UpdateLocalCheckpoint(allocationID string, localCheckpoint int64) error {
	seqno.MustBeValid(localCheckpoint)

	t.m.Lock()
	defer t.m.Unlock()

	if t.mode != modePrimary {
		return ErrNotPrimary
	}

	cps, ok := t.checkpoints[allocationID]
	if !ok {
		t.ignoreReport(allocationID, "local_checkpoint")
		return nil
	}

	if t.updateLocalCheckpointState(allocationID, cps, localCheckpoint) {
		t.updateGlobalCheckpointOnPrimary()
	}

	return nil
}

// UpdateGlobalCheckpointForShard records the global checkpoint a copy
// reported to know about.
func (t *ReplicationTracker) UpdateGlobalCheckpointForShard(allocationID string, globalCheckpoint int64) error {
	t.m.Lock()
	defer t.m.Unlock()

	if t.mode != modePrimary {
		return ErrNotPrimary
	}

	cps, ok := t.checkpoints[allocationID]
	if !ok {
		t.ignoreReport(allocationID, "global_checkpoint")
		return nil
	}

	if globalCheckpoint > cps.GlobalCheckpoint {
		t.log.WithFields(logrus.Fields{
			"reported_allocation_id": allocationID,
			"global_checkpoint":      globalCheckpoint,
		}).Trace("updated global checkpoint of shard copy")
		cps.GlobalCheckpoint = globalCheckpoint
	}

	return nil
}

// UpdateGlobalCheckpointOnReplica applies a global checkpoint received from
// the primary. The checkpoint never moves backwards.
func (t *ReplicationTracker) UpdateGlobalCheckpointOnReplica(globalCheckpoint int64, reason string) error {
	t.m.Lock()
	defer t.m.Unlock()

	if t.mode == modePrimary {
		return ErrPrimaryMode
	}

	own := t.own()
	if globalCheckpoint <= own.GlobalCheckpoint {
		return nil
	}

	t.log.WithFields(logrus.Fields{
		"global_checkpoint":          globalCheckpoint,
		"previous_global_checkpoint": own.GlobalCheckpoint,
		"reason":                     reason,
	}).Trace("updated global checkpoint from primary")

	own.GlobalCheckpoint = globalCheckpoint
	t.onGlobalCheckpointUpdated(globalCheckpoint)

	return nil
}

// ActivatePrimaryMode turns the tracker into the tracker of a primary. The
// own copy must be in-sync according to the last membership update.
func (t *ReplicationTracker) ActivatePrimaryMode(localCheckpoint int64) error {
	seqno.MustBeValid(localCheckpoint)

	t.m.Lock()
	defer t.m.Unlock()

	switch t.mode {
	case modePrimary:
		return ErrPrimaryMode
	case modeRelocated:
		return ErrRelocated
	}

	own := t.own()
	if !own.InSync {
		return ErrNotInSync
	}

	t.mode = modePrimary
	t.updateLocalCheckpointState(t.allocationID, own, localCheckpoint)
	t.updateGlobalCheckpointOnPrimary()
	t.addPeerRecoveryRetentionLeaseForSolePrimary()

	t.log.WithField("local_checkpoint", localCheckpoint).Info("activated primary mode")

	return nil
}

// updateLocalCheckpointState raises the local checkpoint of a copy and
// reports whether it changed. The caller must hold the lock.
func (t *ReplicationTracker) updateLocalCheckpointState(allocationID string, cps *CheckpointState, localCheckpoint int64) bool {
	if localCheckpoint <= cps.LocalCheckpoint {
		return false
	}

	t.log.WithFields(logrus.Fields{
		"reported_allocation_id": allocationID,
		"local_checkpoint":       localCheckpoint,
	}).Trace("updated local checkpoint of shard copy")

	cps.LocalCheckpoint = localCheckpoint
	return true
}

// promote marks a copy in-sync. The caller must hold the lock.
func (t *ReplicationTracker) promote(allocationID string, cps *CheckpointState) {
	cps.InSync = true
	cps.Tracked = true
	t.unacknowledgedInSync[allocationID] = struct{}{}
	t.updateReplicationGroup()
	t.notifyAllWaiters()

	t.log.WithField("in_sync_allocation_id", allocationID).Debug("marked shard copy as in-sync")
}

func (t *ReplicationTracker) checkPrimaryWithoutHandoff() error {
	switch {
	case t.mode == modeRelocated:
		return ErrRelocated
	case t.mode != modePrimary:
		return ErrNotPrimary
	case t.handoffInProgress:
		return ErrHandoffInProgress
	}
	return nil
}
