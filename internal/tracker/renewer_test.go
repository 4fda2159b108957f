package tracker

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"gitlab.com/gitlab-org/shardtracker/internal/helper"
	"gitlab.com/gitlab-org/shardtracker/internal/retention"
	"gitlab.com/gitlab-org/shardtracker/internal/testhelper"
	"golang.org/x/sync/errgroup"
)

type recordingLeaseStore struct {
	written chan retention.Leases
}

func (s recordingLeaseStore) Load() (retention.Leases, error) { return retention.Empty(), nil }

func (s recordingLeaseStore) Write(leases retention.Leases) (bool, error) {
	s.written <- leases
	return true, nil
}

func TestLeaseRenewer(t *testing.T) {
	for _, tc := range []struct {
		desc     string
		tracker  func(t *testing.T) *testTracker
		expected []string
		result   string
	}{
		{
			desc: "primary",
			tracker: func(t *testing.T) *testTracker {
				return newTestPrimary(t, "p", []string{"a1"}, nil, 0)
			},
			expected: []string{"peer_recovery/node-a1", "peer_recovery/node-p"},
			result:   "renewed",
		},
		{
			desc: "replica",
			tracker: func(t *testing.T) *testTracker {
				return newTestTracker(t, "a1")
			},
			result: "skipped",
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			tracker := tc.tracker(t)
			store := recordingLeaseStore{written: make(chan retention.Leases)}
			renewer := NewLeaseRenewer(testhelper.NewDiscardingLogger(t), tracker.ReplicationTracker, store)

			ctx, cancel := testhelper.Context(testhelper.ContextWithTimeout(10 * time.Second))
			defer cancel()

			resets := make(chan struct{}, 8)
			ticker := helper.NewManualTicker()
			ticker.ResetFunc = func() { resets <- struct{}{} }

			var g errgroup.Group
			g.Go(func() error { return renewer.Run(ctx, ticker) })

			<-resets
			ticker.Tick()

			var persisted retention.Leases
			select {
			case persisted = <-store.written:
			case <-ctx.Done():
				require.FailNow(t, "leases were not persisted")
			}

			var ids []string
			for _, lease := range persisted.All() {
				ids = append(ids, lease.ID)
			}
			require.Equal(t, tc.expected, ids)

			<-resets
			cancel()
			require.Equal(t, context.Canceled, g.Wait())

			require.NoError(t, testutil.CollectAndCompare(renewer, strings.NewReader(fmt.Sprintf(`
# HELP shardtracker_lease_renewals_total Number of peer recovery retention lease renewal passes by result.
# TYPE shardtracker_lease_renewals_total counter
shardtracker_lease_renewals_total{result=%q} 1
`, tc.result))))
		})
	}
}
