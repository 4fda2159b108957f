// Package routing describes where the copies of a shard live, as published by
// the cluster coordinator.
package routing

import (
	"errors"
	"fmt"
)

// ShardState is the lifecycle state of a single shard copy.
type ShardState int

const (
	// Unassigned copies have no node.
	Unassigned ShardState = iota
	// Initializing copies are being recovered on their node.
	Initializing
	// Started copies are active.
	Started
	// Relocating copies are active and are being copied to another node.
	Relocating
)

func (s ShardState) String() string {
	switch s {
	case Unassigned:
		return "UNASSIGNED"
	case Initializing:
		return "INITIALIZING"
	case Started:
		return "STARTED"
	case Relocating:
		return "RELOCATING"
	default:
		return fmt.Sprintf("ShardState(%d)", int(s))
	}
}

// ShardRouting is the routing entry of one shard copy.
type ShardRouting struct {
	AllocationID     AllocationID
	NodeID           string
	RelocatingNodeID string
	Primary          bool
	State            ShardState
}

// NewStartedShard returns the routing entry of an active copy.
func NewStartedShard(allocationID AllocationID, nodeID string, primary bool) ShardRouting {
	return ShardRouting{AllocationID: allocationID, NodeID: nodeID, Primary: primary, State: Started}
}

// NewInitializingShard returns the routing entry of a copy under recovery.
func NewInitializingShard(allocationID AllocationID, nodeID string, primary bool) ShardRouting {
	return ShardRouting{AllocationID: allocationID, NodeID: nodeID, Primary: primary, State: Initializing}
}

// NewRelocatingShard returns the routing entry of an active copy that moves to
// targetNodeID. A relocation target ID is created if none is set.
func NewRelocatingShard(allocationID AllocationID, nodeID, targetNodeID string, primary bool) ShardRouting {
	if !allocationID.IsRelocating() {
		allocationID = NewRelocation(allocationID)
	}
	return ShardRouting{
		AllocationID:     allocationID,
		NodeID:           nodeID,
		RelocatingNodeID: targetNodeID,
		Primary:          primary,
		State:            Relocating,
	}
}

// Active returns true for started and relocating copies.
func (s ShardRouting) Active() bool {
	return s.State == Started || s.State == Relocating
}

// Assigned returns true if the copy has a node.
func (s ShardRouting) Assigned() bool {
	return s.State != Unassigned && s.NodeID != ""
}

// Initializing returns true if the copy is under recovery.
func (s ShardRouting) Initializing() bool {
	return s.State == Initializing
}

// Relocating returns true if the copy is being moved.
func (s ShardRouting) Relocating() bool {
	return s.State == Relocating
}

// TargetRelocatingShard returns the initializing entry of the copy being built
// on the relocation target. The second return value is false if the copy is
// not relocating.
func (s ShardRouting) TargetRelocatingShard() (ShardRouting, bool) {
	if !s.Relocating() {
		return ShardRouting{}, false
	}

	return ShardRouting{
		AllocationID:     AllocationID{ID: s.AllocationID.RelocationID, RelocationID: s.AllocationID.ID},
		NodeID:           s.RelocatingNodeID,
		RelocatingNodeID: s.NodeID,
		Primary:          s.Primary,
		State:            Initializing,
	}, true
}

// ErrNoPrimary is returned when a routing table does not have exactly one primary.
var ErrNoPrimary = errors.New("routing table must have exactly one primary")

// Table is the routing table of a single shard.
type Table struct {
	ShardID string
	Shards  []ShardRouting
}

// Validate checks that the table has exactly one primary entry.
func (t Table) Validate() error {
	primaries := 0
	for _, shard := range t.Shards {
		if shard.Primary {
			primaries++
		}
	}

	if primaries != 1 {
		return fmt.Errorf("shard %q has %d primaries: %w", t.ShardID, primaries, ErrNoPrimary)
	}

	return nil
}

// Primary returns the primary's routing entry.
func (t Table) Primary() (ShardRouting, bool) {
	for _, shard := range t.Shards {
		if shard.Primary {
			return shard, true
		}
	}
	return ShardRouting{}, false
}

// ActiveShards returns started and relocating copies.
func (t Table) ActiveShards() []ShardRouting {
	var active []ShardRouting
	for _, shard := range t.Shards {
		if shard.Active() {
			active = append(active, shard)
		}
	}
	return active
}

// InitializingShards returns the copies under recovery including the targets
// of relocating copies.
func (t Table) InitializingShards() []ShardRouting {
	var initializing []ShardRouting
	for _, shard := range t.Shards {
		if shard.Initializing() {
			initializing = append(initializing, shard)
		}
		if target, ok := shard.TargetRelocatingShard(); ok {
			initializing = append(initializing, target)
		}
	}
	return initializing
}

// AssignedShards returns every copy that has a node, including relocation
// targets.
func (t Table) AssignedShards() []ShardRouting {
	var assigned []ShardRouting
	for _, shard := range t.Shards {
		if !shard.Assigned() {
			continue
		}
		assigned = append(assigned, shard)
		if target, ok := shard.TargetRelocatingShard(); ok {
			assigned = append(assigned, target)
		}
	}
	return assigned
}

// AllShardsStarted returns true if every copy is in the started state.
func (t Table) AllShardsStarted() bool {
	for _, shard := range t.Shards {
		if shard.State != Started {
			return false
		}
	}
	return len(t.Shards) > 0
}

// AllAllocationIDs returns the allocation IDs of all assigned copies and of
// all relocation targets.
func (t Table) AllAllocationIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(t.Shards))
	for _, shard := range t.AssignedShards() {
		ids[shard.AllocationID.ID] = struct{}{}
	}
	return ids
}

// Lookup returns the routing entry with the given allocation ID. Relocation
// targets are found as well.
func (t Table) Lookup(allocationID string) (ShardRouting, bool) {
	for _, shard := range t.AssignedShards() {
		if shard.AllocationID.ID == allocationID {
			return shard, true
		}
	}
	return ShardRouting{}, false
}

// Copy returns a table that shares no memory with t.
func (t Table) Copy() Table {
	shards := make([]ShardRouting, len(t.Shards))
	copy(shards, t.Shards)
	return Table{ShardID: t.ShardID, Shards: shards}
}

// Equal compares two tables entry by entry.
func (t Table) Equal(other Table) bool {
	if t.ShardID != other.ShardID || len(t.Shards) != len(other.Shards) {
		return false
	}
	for i := range t.Shards {
		if t.Shards[i] != other.Shards[i] {
			return false
		}
	}
	return true
}
