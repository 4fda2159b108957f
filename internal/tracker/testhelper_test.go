package tracker

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gitlab.com/gitlab-org/shardtracker/internal/helper"
	"gitlab.com/gitlab-org/shardtracker/internal/retention"
	"gitlab.com/gitlab-org/shardtracker/internal/routing"
	"gitlab.com/gitlab-org/shardtracker/internal/seqno"
	"gitlab.com/gitlab-org/shardtracker/internal/testhelper"
)

func TestMain(m *testing.M) {
	testhelper.Run(m)
}

const testShardID = "index/0"

var testEpoch = time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)

func nodeID(allocationID string) string { return "node-" + allocationID }

// testTable returns a routing table with a started primary, started replicas
// and initializing replicas, each on its own node.
func testTable(primary string, active, initializing []string) routing.Table {
	table := routing.Table{ShardID: testShardID}
	table.Shards = append(table.Shards, routing.NewStartedShard(routing.AllocationID{ID: primary}, nodeID(primary), true))
	for _, id := range active {
		table.Shards = append(table.Shards, routing.NewStartedShard(routing.AllocationID{ID: id}, nodeID(id), false))
	}
	for _, id := range initializing {
		table.Shards = append(table.Shards, routing.NewInitializingShard(routing.AllocationID{ID: id}, nodeID(id), false))
	}
	return table
}

type testTracker struct {
	*ReplicationTracker
	clock *helper.ManualClock

	m                 sync.Mutex
	globalCheckpoints []int64
	published         []retention.Leases
	publishErr        error
}

func (tt *testTracker) publishedGlobalCheckpoints() []int64 {
	tt.m.Lock()
	defer tt.m.Unlock()
	return append([]int64(nil), tt.globalCheckpoints...)
}

func (tt *testTracker) publishedLeases() []retention.Leases {
	tt.m.Lock()
	defer tt.m.Unlock()
	return append([]retention.Leases(nil), tt.published...)
}

func (tt *testTracker) failPublication(err error) {
	tt.m.Lock()
	defer tt.m.Unlock()
	tt.publishErr = err
}

type trackerOption func(*Config)

func withDurability(mode DurabilityMode) trackerOption {
	return func(cfg *Config) { cfg.Durability = mode }
}

func withExpiryPolicy(policy LeaseExpiryPolicy) trackerOption {
	return func(cfg *Config) { cfg.LeaseExpiryPolicy = policy }
}

// onGlobalCheckpoint calls fn after every recorded global checkpoint change.
func onGlobalCheckpoint(fn func(int64)) trackerOption {
	return func(cfg *Config) {
		record := cfg.OnGlobalCheckpointUpdated
		cfg.OnGlobalCheckpointUpdated = func(globalCheckpoint int64) {
			record(globalCheckpoint)
			fn(globalCheckpoint)
		}
	}
}

func newTestTracker(t testing.TB, allocationID string, opts ...trackerOption) *testTracker {
	return newTestTrackerWithLogger(t, testhelper.NewDiscardingLogger(t), allocationID, opts...)
}

func newTestTrackerWithLogger(t testing.TB, logger logrus.FieldLogger, allocationID string, opts ...trackerOption) *testTracker {
	t.Helper()

	tt := &testTracker{clock: helper.NewManualClock(testEpoch)}

	cfg := Config{
		ShardID:          testShardID,
		AllocationID:     allocationID,
		PrimaryTerm:      1,
		GlobalCheckpoint: seqno.UnassignedSeqNo,
		Clock:            tt.clock.Now,
		OnGlobalCheckpointUpdated: func(globalCheckpoint int64) {
			tt.m.Lock()
			defer tt.m.Unlock()
			tt.globalCheckpoints = append(tt.globalCheckpoints, globalCheckpoint)
		},
		OnSyncRetentionLeases: func(leases retention.Leases, done func(error)) {
			tt.m.Lock()
			tt.published = append(tt.published, leases)
			err := tt.publishErr
			tt.m.Unlock()
			done(err)
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	tracker, err := New(logger, cfg)
	require.NoError(t, err)
	tt.ReplicationTracker = tracker

	return tt
}

// newTestPrimary returns a tracker that became primary of a group whose
// active copies are in-sync and whose initializing copies are not tracked yet.
func newTestPrimary(t testing.TB, primary string, active, initializing []string, localCheckpoint int64, opts ...trackerOption) *testTracker {
	t.Helper()

	tt := newTestTracker(t, primary, opts...)
	tt.UpdateFromClusterManager(1, append([]string{primary}, active...), testTable(primary, active, initializing))
	require.NoError(t, tt.ActivatePrimaryMode(localCheckpoint))

	return tt
}
