package tracker

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	descGlobalCheckpoint = prometheus.NewDesc(
		"shardtracker_global_checkpoint",
		"Global checkpoint known to the shard copy.",
		[]string{"shard_id"},
		nil,
	)

	descCopies = prometheus.NewDesc(
		"shardtracker_copies",
		"Number of shard copies in the replication group by state.",
		[]string{"shard_id", "state"},
		nil,
	)

	descRetentionLeases = prometheus.NewDesc(
		"shardtracker_retention_leases",
		"Number of retention leases held on the shard.",
		[]string{"shard_id"},
		nil,
	)

	descRetentionLeasesVersion = prometheus.NewDesc(
		"shardtracker_retention_leases_version",
		"Version of the retention leases of the shard.",
		[]string{"shard_id"},
		nil,
	)

	descIgnoredReports = prometheus.NewDesc(
		"shardtracker_ignored_reports_total",
		"Number of progress reports ignored because they named copies outside of the replication group.",
		[]string{"shard_id", "reason"},
		nil,
	)

	descCheckpointsBehind = prometheus.NewDesc(
		"shardtracker_replication_checkpoints_behind",
		"Number of segment replication checkpoints a replica has not made visible yet.",
		[]string{"shard_id", "allocation_id"},
		nil,
	)

	descBytesBehind = prometheus.NewDesc(
		"shardtracker_replication_bytes_behind",
		"Number of bytes a replica misses to reach the latest segment replication checkpoint.",
		[]string{"shard_id", "allocation_id"},
		nil,
	)

	descReplicationLag = prometheus.NewDesc(
		"shardtracker_replication_lag_seconds",
		"Time since the oldest segment replication checkpoint a replica misses was published.",
		[]string{"shard_id", "allocation_id"},
		nil,
	)

	descLastCompletedReplicationLag = prometheus.NewDesc(
		"shardtracker_replication_last_completed_lag_seconds",
		"Lag of the last segment replication checkpoint a replica caught up with.",
		[]string{"shard_id", "allocation_id"},
		nil,
	)
)

// Collector exposes the state of a ReplicationTracker as Prometheus metrics.
type Collector struct {
	tracker *ReplicationTracker
}

// NewCollector returns a collector of the given tracker.
func NewCollector(tracker *ReplicationTracker) *Collector {
	return &Collector{tracker: tracker}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	shardID := c.tracker.ShardID()

	ch <- prometheus.MustNewConstMetric(descGlobalCheckpoint, prometheus.GaugeValue, float64(c.tracker.GlobalCheckpoint()), shardID)

	var inSync, tracked int
	for _, cps := range c.tracker.Checkpoints() {
		if cps.InSync {
			inSync++
		}
		if cps.Tracked {
			tracked++
		}
	}
	ch <- prometheus.MustNewConstMetric(descCopies, prometheus.GaugeValue, float64(inSync), shardID, "in_sync")
	ch <- prometheus.MustNewConstMetric(descCopies, prometheus.GaugeValue, float64(tracked), shardID, "tracked")
	ch <- prometheus.MustNewConstMetric(descCopies, prometheus.GaugeValue, float64(len(c.tracker.PendingInSync())), shardID, "pending_in_sync")

	_, leases := c.tracker.GetRetentionLeases(false)
	ch <- prometheus.MustNewConstMetric(descRetentionLeases, prometheus.GaugeValue, float64(leases.Len()), shardID)
	ch <- prometheus.MustNewConstMetric(descRetentionLeasesVersion, prometheus.GaugeValue, float64(leases.Version()), shardID)

	for reason, count := range c.tracker.IgnoredReports() {
		ch <- prometheus.MustNewConstMetric(descIgnoredReports, prometheus.CounterValue, float64(count), shardID, reason)
	}

	stats, err := c.tracker.SegmentReplicationStats()
	if errors.Is(err, ErrNotPrimary) {
		return
	}

	for _, s := range stats {
		ch <- prometheus.MustNewConstMetric(descCheckpointsBehind, prometheus.GaugeValue, float64(s.CheckpointsBehind), shardID, s.AllocationID)
		ch <- prometheus.MustNewConstMetric(descBytesBehind, prometheus.GaugeValue, float64(s.BytesBehind), shardID, s.AllocationID)
		ch <- prometheus.MustNewConstMetric(descReplicationLag, prometheus.GaugeValue, s.CurrentReplicationLag.Seconds(), shardID, s.AllocationID)
		ch <- prometheus.MustNewConstMetric(descLastCompletedReplicationLag, prometheus.GaugeValue, s.LastCompletedReplicationLag.Seconds(), shardID, s.AllocationID)
	}
}
