package main

import (
	"io"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"gitlab.com/gitlab-org/shardtracker/internal/retention"
	"gitlab.com/gitlab-org/shardtracker/internal/routing"
	"gitlab.com/gitlab-org/shardtracker/internal/tracker"
)

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader(header)
	return table
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }

func renderCheckpoints(w io.Writer, checkpoints map[string]tracker.CheckpointState) {
	ids := make([]string, 0, len(checkpoints))
	for id := range checkpoints {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	table := newTable(w, "allocation id", "local checkpoint", "global checkpoint", "in sync", "tracked")
	for _, id := range ids {
		cps := checkpoints[id]
		table.Append([]string{
			id,
			itoa(cps.LocalCheckpoint),
			itoa(cps.GlobalCheckpoint),
			strconv.FormatBool(cps.InSync),
			strconv.FormatBool(cps.Tracked),
		})
	}
	table.Render()
}

func renderRoutingTable(w io.Writer, routingTable routing.Table) {
	table := newTable(w, "allocation id", "relocation id", "node", "relocating node", "primary", "state")
	for _, shard := range routingTable.Shards {
		table.Append([]string{
			shard.AllocationID.ID,
			shard.AllocationID.RelocationID,
			shard.NodeID,
			shard.RelocatingNodeID,
			strconv.FormatBool(shard.Primary),
			shard.State.String(),
		})
	}
	table.Render()
}

func renderLeases(w io.Writer, leases retention.Leases) {
	table := newTable(w, "lease id", "retaining seq no", "timestamp", "source")
	for _, lease := range leases.All() {
		table.Append([]string{
			lease.ID,
			itoa(lease.RetainingSequenceNumber),
			itoa(lease.Timestamp),
			lease.Source,
		})
	}
	table.Render()
}

func renderReplicationStats(w io.Writer, stats []tracker.ShardStats) {
	table := newTable(w, "allocation id", "checkpoints behind", "bytes behind", "replication time", "replication lag", "last completed lag")
	for _, s := range stats {
		table.Append([]string{
			s.AllocationID,
			strconv.Itoa(s.CheckpointsBehind),
			itoa(s.BytesBehind),
			s.CurrentReplicationTime.String(),
			s.CurrentReplicationLag.String(),
			s.LastCompletedReplicationLag.String(),
		})
	}
	table.Render()
}
