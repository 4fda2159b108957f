package tracker

import (
	"sort"

	"gitlab.com/gitlab-org/shardtracker/internal/routing"
)

// ReplicationGroup is an immutable snapshot of the copies that operations are
// replicated to. A new group is computed on every membership change.
type ReplicationGroup struct {
	routingTable            routing.Table
	inSyncAllocationIDs     map[string]struct{}
	trackedAllocationIDs    map[string]struct{}
	unavailableInSyncShards map[string]struct{}
	replicationTargets      []routing.ShardRouting
	skippedShards           []routing.ShardRouting
	version                 int64
}

// NewReplicationGroup derives the replication targets and skipped shards of
// the routing table from the given membership.
func NewReplicationGroup(table routing.Table, inSync, tracked []string, version int64) *ReplicationGroup {
	group := &ReplicationGroup{
		routingTable:            table.Copy(),
		inSyncAllocationIDs:     toSet(inSync),
		trackedAllocationIDs:    toSet(tracked),
		unavailableInSyncShards: make(map[string]struct{}),
		version:                 version,
	}

	assigned := table.AllAllocationIDs()
	for id := range group.inSyncAllocationIDs {
		if _, ok := assigned[id]; !ok {
			group.unavailableInSyncShards[id] = struct{}{}
		}
	}

	for _, shard := range table.Shards {
		if !shard.Assigned() {
			group.skippedShards = append(group.skippedShards, shard)
			continue
		}

		group.classify(shard)
		if target, ok := shard.TargetRelocatingShard(); ok {
			group.classify(target)
		}
	}

	return group
}

func (g *ReplicationGroup) classify(shard routing.ShardRouting) {
	if _, ok := g.trackedAllocationIDs[shard.AllocationID.ID]; ok {
		g.replicationTargets = append(g.replicationTargets, shard)
		return
	}
	g.skippedShards = append(g.skippedShards, shard)
}

// RoutingTable returns the routing table the group was computed from.
func (g *ReplicationGroup) RoutingTable() routing.Table { return g.routingTable.Copy() }

// InSyncAllocationIDs returns the sorted IDs of the in-sync copies.
func (g *ReplicationGroup) InSyncAllocationIDs() []string { return sortedKeys(g.inSyncAllocationIDs) }

// TrackedAllocationIDs returns the sorted IDs of the tracked copies.
func (g *ReplicationGroup) TrackedAllocationIDs() []string { return sortedKeys(g.trackedAllocationIDs) }

// UnavailableInSyncShards returns the sorted IDs of in-sync copies that have
// no routing entry.
func (g *ReplicationGroup) UnavailableInSyncShards() []string {
	return sortedKeys(g.unavailableInSyncShards)
}

// IsUnavailableInSync returns true if the in-sync copy has no routing entry.
func (g *ReplicationGroup) IsUnavailableInSync(allocationID string) bool {
	_, ok := g.unavailableInSyncShards[allocationID]
	return ok
}

// ReplicationTargets returns the assigned routing entries of tracked copies.
func (g *ReplicationGroup) ReplicationTargets() []routing.ShardRouting {
	return append([]routing.ShardRouting(nil), g.replicationTargets...)
}

// SkippedShards returns the routing entries that do not receive operations.
func (g *ReplicationGroup) SkippedShards() []routing.ShardRouting {
	return append([]routing.ShardRouting(nil), g.skippedShards...)
}

// Version increases every time the tracker recomputes its group.
func (g *ReplicationGroup) Version() int64 { return g.version }

// Equal compares routing table and membership. Versions are ignored.
func (g *ReplicationGroup) Equal(other *ReplicationGroup) bool {
	if g == nil || other == nil {
		return g == other
	}
	return g.routingTable.Equal(other.routingTable) &&
		setsEqual(g.inSyncAllocationIDs, other.inSyncAllocationIDs) &&
		setsEqual(g.trackedAllocationIDs, other.trackedAllocationIDs)
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func setsEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for key := range a {
		if _, ok := b[key]; !ok {
			return false
		}
	}
	return true
}
