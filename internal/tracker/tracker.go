// Package tracker implements the replication tracker of a shard. On the
// primary it decides which copies are in-sync, computes the global
// checkpoint, owns the retention leases and hands its state over when the
// primary relocates. On replicas it follows the global checkpoint and leases
// published by the primary.
package tracker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
	"gitlab.com/gitlab-org/shardtracker/internal/helper"
	"gitlab.com/gitlab-org/shardtracker/internal/retention"
	"gitlab.com/gitlab-org/shardtracker/internal/routing"
	"gitlab.com/gitlab-org/shardtracker/internal/segrep"
	"gitlab.com/gitlab-org/shardtracker/internal/seqno"
)

const (
	// DefaultRetentionLeasePeriod is how long a lease survives without renewal.
	DefaultRetentionLeasePeriod = 12 * time.Hour
	// DefaultDepartedCopiesMemory is how many removed copies are remembered.
	DefaultDepartedCopiesMemory = 128
)

// RetentionLeaseSyncer publishes retention leases to the replicas. done must
// be called once the publication finished.
type RetentionLeaseSyncer func(leases retention.Leases, done func(error))

// Config configures a ReplicationTracker.
type Config struct {
	// ShardID identifies the shard in logs and metrics.
	ShardID string
	// AllocationID is the ID of the copy the tracker runs on.
	AllocationID string
	// PrimaryTerm is the operation primary term used for retention leases.
	PrimaryTerm int64
	// GlobalCheckpoint is the global checkpoint the copy starts with.
	GlobalCheckpoint int64
	// Durability selects the global checkpoint computation.
	Durability DurabilityMode
	// RetentionLeasePeriod is how long leases survive without renewal.
	RetentionLeasePeriod time.Duration
	// LeaseExpiryPolicy selects when leases of unassigned copies expire.
	LeaseExpiryPolicy LeaseExpiryPolicy
	// DepartedCopiesMemory bounds the number of removed copies remembered to
	// tell late reports of departed copies apart from bogus ones.
	DepartedCopiesMemory int
	// Clock defaults to the system clock.
	Clock helper.Clock
	// OnGlobalCheckpointUpdated is called synchronously whenever the global
	// checkpoint advances. It must not block nor call back into the tracker.
	OnGlobalCheckpointUpdated func(globalCheckpoint int64)
	// OnSyncRetentionLeases is called after retention leases changed.
	OnSyncRetentionLeases RetentionLeaseSyncer
}

type mode int

const (
	modeReplica mode = iota
	modePrimary
	modeRelocated
)

func (m mode) String() string {
	switch m {
	case modeReplica:
		return "replica"
	case modePrimary:
		return "primary"
	case modeRelocated:
		return "relocated"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ReplicationTracker tracks the progress of the copies of a single shard. All
// of its state is guarded by a single lock and every exported method is safe
// for concurrent use.
type ReplicationTracker struct {
	log                       logrus.FieldLogger
	shardID                   string
	allocationID              string
	operationPrimaryTerm      int64
	durability                DurabilityMode
	computeGlobalCheckpoint   GlobalCheckpointFunc
	retentionLeasePeriod      time.Duration
	leaseExpiryPolicy         LeaseExpiryPolicy
	now                       helper.Clock
	onGlobalCheckpointUpdated func(int64)
	onSyncRetentionLeases     RetentionLeaseSyncer
	departed                  *lru.Cache

	m                                  sync.Mutex
	mode                               mode
	handoffInProgress                  bool
	appliedClusterStateVersion         int64
	checkpoints                        map[string]*CheckpointState
	pendingInSync                      map[string]struct{}
	unacknowledgedInSync               map[string]struct{}
	routingTable                       *routing.Table
	replicationGroup                   *ReplicationGroup
	retentionLeases                    retention.Leases
	latestReplicationCheckpoint        *segrep.Checkpoint
	lastPublishedReplicationCheckpoint *segrep.Checkpoint
	ignoredReports                     map[string]uint64
	// checkpointChanged is closed and replaced whenever a checkpoint or the
	// membership changes to wake up copies waiting to become in-sync.
	checkpointChanged chan struct{}
}

// New returns a tracker in replica mode. Its own copy is unknown to the
// replication group until the first membership update lists it.
func New(logger logrus.FieldLogger, cfg Config) (*ReplicationTracker, error) {
	if cfg.AllocationID == "" {
		return nil, errors.New("allocation id must be set")
	}

	if cfg.Durability == "" {
		cfg.Durability = DurabilityTranslog
	}
	if err := cfg.Durability.Validate(); err != nil {
		return nil, err
	}

	if cfg.LeaseExpiryPolicy == "" {
		cfg.LeaseExpiryPolicy = ExpireWhenFullyActive
	}
	if err := cfg.LeaseExpiryPolicy.Validate(); err != nil {
		return nil, err
	}

	if cfg.GlobalCheckpoint != seqno.UnassignedSeqNo && cfg.GlobalCheckpoint < seqno.NoOpsPerformed {
		return nil, fmt.Errorf("invalid initial global checkpoint %d", cfg.GlobalCheckpoint)
	}

	if cfg.PrimaryTerm == 0 {
		cfg.PrimaryTerm = 1
	}
	if cfg.PrimaryTerm < 0 {
		return nil, fmt.Errorf("invalid primary term %d", cfg.PrimaryTerm)
	}

	if cfg.RetentionLeasePeriod == 0 {
		cfg.RetentionLeasePeriod = DefaultRetentionLeasePeriod
	}
	if cfg.DepartedCopiesMemory == 0 {
		cfg.DepartedCopiesMemory = DefaultDepartedCopiesMemory
	}
	if cfg.Clock == nil {
		cfg.Clock = helper.SystemClock
	}
	if cfg.OnGlobalCheckpointUpdated == nil {
		cfg.OnGlobalCheckpointUpdated = func(int64) {}
	}
	if cfg.OnSyncRetentionLeases == nil {
		cfg.OnSyncRetentionLeases = func(_ retention.Leases, done func(error)) { done(nil) }
	}

	departed, err := lru.New(cfg.DepartedCopiesMemory)
	if err != nil {
		return nil, fmt.Errorf("departed copies memory: %w", err)
	}

	t := &ReplicationTracker{
		log: logger.WithFields(logrus.Fields{
			"component":     "replication_tracker",
			"shard_id":      cfg.ShardID,
			"allocation_id": cfg.AllocationID,
		}),
		shardID:                    cfg.ShardID,
		allocationID:               cfg.AllocationID,
		operationPrimaryTerm:       cfg.PrimaryTerm,
		durability:                 cfg.Durability,
		computeGlobalCheckpoint:    cfg.Durability.globalCheckpointFunc(),
		retentionLeasePeriod:       cfg.RetentionLeasePeriod,
		leaseExpiryPolicy:          cfg.LeaseExpiryPolicy,
		now:                        cfg.Clock,
		onGlobalCheckpointUpdated:  cfg.OnGlobalCheckpointUpdated,
		onSyncRetentionLeases:      cfg.OnSyncRetentionLeases,
		departed:                   departed,
		mode:                       modeReplica,
		appliedClusterStateVersion: -1,
		checkpoints:                make(map[string]*CheckpointState),
		pendingInSync:              make(map[string]struct{}),
		unacknowledgedInSync:       make(map[string]struct{}),
		retentionLeases:            retention.Empty(),
		ignoredReports:             make(map[string]uint64),
		checkpointChanged:          make(chan struct{}),
	}

	t.checkpoints[t.allocationID] = newCheckpointState(seqno.UnassignedSeqNo, cfg.GlobalCheckpoint, false, false)

	return t, nil
}

// ShardID returns the ID of the tracked shard.
func (t *ReplicationTracker) ShardID() string { return t.shardID }

// AllocationID returns the ID of the copy the tracker runs on.
func (t *ReplicationTracker) AllocationID() string { return t.allocationID }

// Durability returns the configured durability mode.
func (t *ReplicationTracker) Durability() DurabilityMode { return t.durability }

// GlobalCheckpoint returns the global checkpoint known to this copy.
func (t *ReplicationTracker) GlobalCheckpoint() int64 {
	t.m.Lock()
	defer t.m.Unlock()
	return t.own().GlobalCheckpoint
}

// IsPrimaryMode returns true if the tracker runs on the primary.
func (t *ReplicationTracker) IsPrimaryMode() bool {
	t.m.Lock()
	defer t.m.Unlock()
	return t.mode == modePrimary
}

// IsRelocated returns true once the primary has been handed off.
func (t *ReplicationTracker) IsRelocated() bool {
	t.m.Lock()
	defer t.m.Unlock()
	return t.mode == modeRelocated
}

// IsHandoffInProgress returns true while a relocation handoff is ongoing.
func (t *ReplicationTracker) IsHandoffInProgress() bool {
	t.m.Lock()
	defer t.m.Unlock()
	return t.handoffInProgress
}

// AppliedClusterStateVersion returns the version of the last applied
// membership update.
func (t *ReplicationTracker) AppliedClusterStateVersion() int64 {
	t.m.Lock()
	defer t.m.Unlock()
	return t.appliedClusterStateVersion
}

// GetCheckpointState returns a copy of the state of the given copy.
func (t *ReplicationTracker) GetCheckpointState(allocationID string) (CheckpointState, bool) {
	t.m.Lock()
	defer t.m.Unlock()

	cps, ok := t.checkpoints[allocationID]
	if !ok {
		return CheckpointState{}, false
	}
	return cps.Copy(), true
}

// Checkpoints returns a copy of the state of every member.
func (t *ReplicationTracker) Checkpoints() map[string]CheckpointState {
	t.m.Lock()
	defer t.m.Unlock()
	return t.copyCheckpoints()
}

// InSyncGlobalCheckpoints returns the global checkpoints last reported by the
// in-sync copies. Only a primary knows them.
func (t *ReplicationTracker) InSyncGlobalCheckpoints() (map[string]int64, error) {
	t.m.Lock()
	defer t.m.Unlock()

	if t.mode != modePrimary {
		return nil, ErrNotPrimary
	}

	checkpoints := make(map[string]int64)
	for id, cps := range t.checkpoints {
		if cps.InSync {
			checkpoints[id] = cps.GlobalCheckpoint
		}
	}
	return checkpoints, nil
}

// TrackedLocalCheckpointsNeedSync returns true if a tracked copy lags behind
// the global checkpoint it should know about.
func (t *ReplicationTracker) TrackedLocalCheckpointsNeedSync() bool {
	t.m.Lock()
	defer t.m.Unlock()

	if t.mode != modePrimary {
		return false
	}

	globalCheckpoint := t.own().GlobalCheckpoint
	for _, cps := range t.checkpoints {
		if cps.Tracked && cps.GlobalCheckpoint < globalCheckpoint {
			return true
		}
	}
	return false
}

// ReplicationGroup returns the current replication group. It is nil until
// the first membership update was applied.
func (t *ReplicationTracker) ReplicationGroup() *ReplicationGroup {
	t.m.Lock()
	defer t.m.Unlock()
	return t.replicationGroup
}

// PendingInSync returns the sorted IDs of copies waiting to become in-sync.
func (t *ReplicationTracker) PendingInSync() []string {
	t.m.Lock()
	defer t.m.Unlock()
	return sortedKeys(t.pendingInSync)
}

// IgnoredReports returns how many progress reports were ignored because they
// named copies outside the replication group, by reason.
func (t *ReplicationTracker) IgnoredReports() map[string]uint64 {
	t.m.Lock()
	defer t.m.Unlock()

	reports := make(map[string]uint64, len(t.ignoredReports))
	for reason, count := range t.ignoredReports {
		reports[reason] = count
	}
	return reports
}

func (t *ReplicationTracker) own() *CheckpointState {
	return t.checkpoints[t.allocationID]
}

func (t *ReplicationTracker) copyCheckpoints() map[string]CheckpointState {
	checkpoints := make(map[string]CheckpointState, len(t.checkpoints))
	for id, cps := range t.checkpoints {
		checkpoints[id] = cps.Copy()
	}
	return checkpoints
}

// updateGlobalCheckpointOnPrimary recomputes the global checkpoint and
// publishes it if it advanced. The caller must hold the lock.
func (t *ReplicationTracker) updateGlobalCheckpointOnPrimary() {
	if t.mode != modePrimary || t.handoffInProgress {
		return
	}

	own := t.own()
	computed := t.computeGlobalCheckpoint(GroupView{
		PrimaryAllocationID: t.allocationID,
		Checkpoints:         t.checkpoints,
		Current:             own.GlobalCheckpoint,
	})
	if computed <= own.GlobalCheckpoint {
		return
	}

	t.log.WithFields(logrus.Fields{
		"global_checkpoint":          computed,
		"previous_global_checkpoint": own.GlobalCheckpoint,
	}).Trace("global checkpoint advanced")

	own.GlobalCheckpoint = computed
	t.onGlobalCheckpointUpdated(computed)
	t.notifyAllWaiters()
}

// updateReplicationGroup recomputes the replication group from the current
// membership. The caller must hold the lock.
func (t *ReplicationTracker) updateReplicationGroup() {
	if t.routingTable == nil {
		return
	}

	var inSync, tracked []string
	for id, cps := range t.checkpoints {
		if cps.InSync {
			inSync = append(inSync, id)
		}
		if cps.Tracked {
			tracked = append(tracked, id)
		}
	}

	var version int64
	if t.replicationGroup != nil {
		version = t.replicationGroup.Version() + 1
	}

	t.replicationGroup = NewReplicationGroup(*t.routingTable, inSync, tracked, version)
}

// notifyAllWaiters wakes up every copy waiting to become in-sync. The caller
// must hold the lock.
func (t *ReplicationTracker) notifyAllWaiters() {
	close(t.checkpointChanged)
	t.checkpointChanged = make(chan struct{})
}

// forget drops all state of a copy. The caller must hold the lock.
func (t *ReplicationTracker) forget(allocationID string) {
	delete(t.checkpoints, allocationID)
	delete(t.pendingInSync, allocationID)
	delete(t.unacknowledgedInSync, allocationID)
	t.departed.Add(allocationID, struct{}{})
}

func (t *ReplicationTracker) unknownAllocationID(allocationID string) error {
	return UnknownAllocationIDError{AllocationID: allocationID, Departed: t.departed.Contains(allocationID)}
}

// ignoreReport records a report about a copy outside the replication group.
// The caller must hold the lock.
func (t *ReplicationTracker) ignoreReport(allocationID, report string) {
	reason := "unknown_copy"
	if t.departed.Contains(allocationID) {
		reason = "departed_copy"
	}
	t.ignoredReports[reason]++

	t.log.WithFields(logrus.Fields{
		"reported_allocation_id": allocationID,
		"report":                 report,
		"reason":                 reason,
	}).Debug("ignoring report for shard copy outside of the replication group")
}

func (t *ReplicationTracker) nowMillis() int64 {
	return t.now().UnixNano() / int64(time.Millisecond)
}
