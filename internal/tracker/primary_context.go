package tracker

import (
	"fmt"
	"sort"

	"gitlab.com/gitlab-org/shardtracker/internal/routing"
	"google.golang.org/protobuf/encoding/protowire"
)

// PrimaryContext is the tracker state an outgoing primary hands to its
// relocation target.
type PrimaryContext struct {
	ClusterStateVersion int64
	Checkpoints         map[string]CheckpointState
	RoutingTable        routing.Table
	ReplicationGroup    *ReplicationGroup
}

// Equal compares version, checkpoints, routing table and replication group.
func (pc *PrimaryContext) Equal(other *PrimaryContext) bool {
	if pc.ClusterStateVersion != other.ClusterStateVersion ||
		len(pc.Checkpoints) != len(other.Checkpoints) ||
		!pc.RoutingTable.Equal(other.RoutingTable) ||
		!pc.ReplicationGroup.Equal(other.ReplicationGroup) {
		return false
	}

	for id, cps := range pc.Checkpoints {
		theirs, ok := other.Checkpoints[id]
		if !ok || !cps.Equal(theirs) {
			return false
		}
	}
	return true
}

func (pc *PrimaryContext) String() string {
	return fmt.Sprintf("PrimaryContext{clusterStateVersion=%d, checkpoints=%v, routingTable=%v}",
		pc.ClusterStateVersion, pc.Checkpoints, pc.RoutingTable)
}

// MarshalBinary encodes the context as a sequence of protobuf wire
// primitives: the cluster state version, the checkpoints ordered by
// allocation ID, the routing table and the replication group.
func (pc *PrimaryContext) MarshalBinary() ([]byte, error) {
	var e encoder

	e.int64(pc.ClusterStateVersion)

	ids := make([]string, 0, len(pc.Checkpoints))
	for id := range pc.Checkpoints {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	e.uint64(uint64(len(ids)))
	for _, id := range ids {
		cps := pc.Checkpoints[id]
		e.string(id)
		e.int64(cps.LocalCheckpoint)
		e.int64(cps.GlobalCheckpoint)
		e.bool(cps.InSync)
		e.bool(cps.Tracked)
	}

	e.routingTable(pc.RoutingTable)

	e.bool(pc.ReplicationGroup != nil)
	if pc.ReplicationGroup != nil {
		e.int64(pc.ReplicationGroup.Version())
		e.strings(pc.ReplicationGroup.InSyncAllocationIDs())
		e.strings(pc.ReplicationGroup.TrackedAllocationIDs())
	}

	return e.b, nil
}

// UnmarshalBinary decodes a context encoded by MarshalBinary.
func (pc *PrimaryContext) UnmarshalBinary(data []byte) error {
	d := decoder{b: data}

	version := d.int64()

	count := d.count()
	checkpoints := make(map[string]CheckpointState, count)
	for i := 0; i < count && d.err == nil; i++ {
		id := d.string()
		checkpoints[id] = CheckpointState{
			LocalCheckpoint:  d.int64(),
			GlobalCheckpoint: d.int64(),
			InSync:           d.bool(),
			Tracked:          d.bool(),
		}
	}

	table := d.routingTable()

	var group *ReplicationGroup
	if d.bool() {
		groupVersion := d.int64()
		inSync := d.strings()
		tracked := d.strings()
		group = NewReplicationGroup(table, inSync, tracked, groupVersion)
	}

	if d.err == nil && len(d.b) > 0 {
		d.err = fmt.Errorf("%d trailing bytes", len(d.b))
	}
	if d.err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPrimaryContext, d.err)
	}

	*pc = PrimaryContext{
		ClusterStateVersion: version,
		Checkpoints:         checkpoints,
		RoutingTable:        table,
		ReplicationGroup:    group,
	}
	return nil
}

// DecodePrimaryContext decodes a context encoded by MarshalBinary.
func DecodePrimaryContext(data []byte) (*PrimaryContext, error) {
	pc := &PrimaryContext{}
	if err := pc.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return pc, nil
}

type encoder struct {
	b []byte
}

func (e *encoder) uint64(v uint64) { e.b = protowire.AppendVarint(e.b, v) }

func (e *encoder) int64(v int64) { e.uint64(protowire.EncodeZigZag(v)) }

func (e *encoder) bool(v bool) { e.uint64(protowire.EncodeBool(v)) }

func (e *encoder) string(v string) { e.b = protowire.AppendString(e.b, v) }

func (e *encoder) strings(vs []string) {
	e.uint64(uint64(len(vs)))
	for _, v := range vs {
		e.string(v)
	}
}

func (e *encoder) routingTable(table routing.Table) {
	e.string(table.ShardID)
	e.uint64(uint64(len(table.Shards)))
	for _, shard := range table.Shards {
		e.string(shard.AllocationID.ID)
		e.string(shard.AllocationID.RelocationID)
		e.string(shard.NodeID)
		e.string(shard.RelocatingNodeID)
		e.bool(shard.Primary)
		e.uint64(uint64(shard.State))
	}
}

// decoder consumes wire primitives. The first error sticks and turns every
// later read into a no-op returning zero values.
type decoder struct {
	b   []byte
	err error
}

func (d *decoder) uint64() uint64 {
	if d.err != nil {
		return 0
	}
	v, n := protowire.ConsumeVarint(d.b)
	if n < 0 {
		d.err = protowire.ParseError(n)
		return 0
	}
	d.b = d.b[n:]
	return v
}

func (d *decoder) int64() int64 { return protowire.DecodeZigZag(d.uint64()) }

func (d *decoder) bool() bool { return protowire.DecodeBool(d.uint64()) }

// count reads a collection length. Every element takes at least one byte,
// which bounds the length by the remaining input.
func (d *decoder) count() int {
	n := d.uint64()
	if d.err == nil && n > uint64(len(d.b)) {
		d.err = fmt.Errorf("collection of %d elements exceeds remaining %d bytes", n, len(d.b))
		return 0
	}
	return int(n)
}

func (d *decoder) string() string {
	if d.err != nil {
		return ""
	}
	v, n := protowire.ConsumeString(d.b)
	if n < 0 {
		d.err = protowire.ParseError(n)
		return ""
	}
	d.b = d.b[n:]
	return v
}

func (d *decoder) strings() []string {
	count := d.count()
	vs := make([]string, 0, count)
	for i := 0; i < count && d.err == nil; i++ {
		vs = append(vs, d.string())
	}
	return vs
}

func (d *decoder) routingTable() routing.Table {
	table := routing.Table{ShardID: d.string()}

	count := d.count()
	for i := 0; i < count && d.err == nil; i++ {
		shard := routing.ShardRouting{
			AllocationID: routing.AllocationID{
				ID:           d.string(),
				RelocationID: d.string(),
			},
			NodeID:           d.string(),
			RelocatingNodeID: d.string(),
			Primary:          d.bool(),
		}

		state := d.uint64()
		if state > uint64(routing.Relocating) {
			d.err = fmt.Errorf("invalid shard state %d", state)
			break
		}
		shard.State = routing.ShardState(state)

		table.Shards = append(table.Shards, shard)
	}

	return table
}
