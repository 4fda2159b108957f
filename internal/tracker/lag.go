package tracker

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/btree"
	"github.com/sirupsen/logrus"
	"gitlab.com/gitlab-org/shardtracker/internal/segrep"
)

// ShardStats describes how far one copy lags behind the segment checkpoints
// published by the primary.
type ShardStats struct {
	AllocationID string
	// CheckpointsBehind is the number of published checkpoints the copy has
	// not made visible yet.
	CheckpointsBehind int
	// BytesBehind is the size of the files the copy misses to reach the
	// latest checkpoint.
	BytesBehind int64
	// CurrentReplicationTime is how long the oldest missing checkpoint has
	// been replicating to the copy.
	CurrentReplicationTime time.Duration
	// CurrentReplicationLag is how long ago the oldest missing checkpoint was
	// published.
	CurrentReplicationLag time.Duration
	// LastCompletedReplicationLag is the lag of the last checkpoint the copy
	// caught up with.
	LastCompletedReplicationLag time.Duration
}

// SetLatestReplicationCheckpoint records a checkpoint the primary has just
// published and creates a lag timer for every in-sync replica behind it.
func (t *ReplicationTracker) SetLatestReplicationCheckpoint(checkpoint *segrep.Checkpoint) {
	t.m.Lock()
	defer t.m.Unlock()

	if t.lastPublishedReplicationCheckpoint != nil && checkpoint.Compare(t.lastPublishedReplicationCheckpoint) == 0 {
		return
	}

	t.latestReplicationCheckpoint = checkpoint
	if t.mode != modePrimary {
		return
	}

	for id, cps := range t.checkpoints {
		if !t.lagTracked(id, cps) || !checkpoint.IsAheadOf(cps.VisibleReplicationCheckpoint) {
			continue
		}

		item := &lagTimer{checkpoint: checkpoint}
		if cps.timers().Has(item) {
			continue
		}
		item.timer = segrep.NewLagTimer(t.now)
		cps.timers().ReplaceOrInsert(item)
	}

	t.log.WithField("replication_checkpoint", checkpoint.String()).Trace("set latest replication checkpoint")
}

// StartReplicationLagTimers starts the timers of checkpoint once it is sent
// to the replicas. Starting the timers of the last published checkpoint
// again does nothing.
func (t *ReplicationTracker) StartReplicationLagTimers(checkpoint *segrep.Checkpoint) {
	t.m.Lock()
	defer t.m.Unlock()

	if t.lastPublishedReplicationCheckpoint != nil && checkpoint.Compare(t.lastPublishedReplicationCheckpoint) == 0 {
		return
	}
	t.lastPublishedReplicationCheckpoint = checkpoint

	for id, cps := range t.checkpoints {
		if !t.lagTracked(id, cps) {
			continue
		}
		if item := cps.timers().Get(&lagTimer{checkpoint: checkpoint}); item != nil {
			item.(*lagTimer).timer.Start()
		}
	}
}

// UpdateVisibleCheckpointForShard records that a replica made checkpoint
// searchable. Timers of every checkpoint up to it are stopped and dropped.
// Reporting the tracker's own copy is a programming error and panics.
func (t *ReplicationTracker) UpdateVisibleCheckpointForShard(allocationID string, checkpoint *segrep.Checkpoint) {
	if allocationID == t.allocationID {
		panic(fmt.Sprintf("visible replication checkpoint reported for own shard copy %q", allocationID))
	}

	t.m.Lock()
	defer t.m.Unlock()

	cps, ok := t.checkpoints[allocationID]
	if !ok {
		t.ignoreReport(allocationID, "visible_checkpoint")
		t.log.WithFields(logrus.Fields{
			"reported_allocation_id": allocationID,
			"replication_checkpoint": checkpoint.String(),
		}).Warn("ignoring visible replication checkpoint of unknown shard copy")
		return
	}

	var caughtUp []btree.Item
	cps.timers().AscendLessThan(&lagTimer{checkpoint: checkpoint}, func(item btree.Item) bool {
		caughtUp = append(caughtUp, item)
		return true
	})
	if item := cps.timers().Get(&lagTimer{checkpoint: checkpoint}); item != nil {
		caughtUp = append(caughtUp, item)
	}

	var lastCompleted time.Duration
	for _, item := range caughtUp {
		lt := cps.timers().Delete(item).(*lagTimer)
		lt.timer.Stop()
		if elapsed := lt.timer.TotalElapsed(); elapsed > lastCompleted {
			lastCompleted = elapsed
		}
	}
	if len(caughtUp) > 0 {
		cps.lastCompletedReplicationLag = lastCompleted
	}

	cps.VisibleReplicationCheckpoint = checkpoint

	t.log.WithFields(logrus.Fields{
		"reported_allocation_id": allocationID,
		"replication_checkpoint": checkpoint.String(),
		"caught_up":              len(caughtUp),
	}).Trace("updated visible replication checkpoint of shard copy")
}

// SegmentReplicationStats returns the lag of every in-sync replica, sorted by
// allocation ID. Only a primary tracks lag.
func (t *ReplicationTracker) SegmentReplicationStats() ([]ShardStats, error) {
	t.m.Lock()
	defer t.m.Unlock()

	if t.mode != modePrimary {
		return nil, ErrNotPrimary
	}

	var stats []ShardStats
	for id, cps := range t.checkpoints {
		if !t.lagTracked(id, cps) {
			continue
		}
		stats = append(stats, t.shardStats(id, cps))
	}

	sort.Slice(stats, func(i, j int) bool {
		return stats[i].AllocationID < stats[j].AllocationID
	})

	return stats, nil
}

func (t *ReplicationTracker) shardStats(allocationID string, cps *CheckpointState) ShardStats {
	stats := ShardStats{
		AllocationID:                allocationID,
		CheckpointsBehind:           cps.timers().Len(),
		LastCompletedReplicationLag: cps.lastCompletedReplicationLag,
	}

	if t.latestReplicationCheckpoint != nil {
		stats.BytesBehind = t.latestReplicationCheckpoint.BytesBehind(cps.VisibleReplicationCheckpoint)
	}

	if stats.BytesBehind > 0 {
		if oldest := cps.timers().Min(); oldest != nil {
			timer := oldest.(*lagTimer).timer
			stats.CurrentReplicationTime = timer.Time()
			stats.CurrentReplicationLag = timer.TotalElapsed()
		}
	}

	return stats
}

// lagTracked reports whether a copy's segment replication lag is measured.
// The caller must hold the lock.
func (t *ReplicationTracker) lagTracked(allocationID string, cps *CheckpointState) bool {
	if allocationID == t.allocationID || !cps.InSync {
		return false
	}
	return t.replicationGroup == nil || !t.replicationGroup.IsUnavailableInSync(allocationID)
}
