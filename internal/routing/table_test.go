package routing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTable(t *testing.T) {
	primary := NewAllocationID()
	replica := NewAllocationID()
	recovering := NewAllocationID()
	relocating := NewRelocation(NewAllocationID())

	table := Table{
		ShardID: "index-1[0]",
		Shards: []ShardRouting{
			NewStartedShard(primary, "node-1", true),
			NewStartedShard(replica, "node-2", false),
			NewInitializingShard(recovering, "node-3", false),
			NewRelocatingShard(relocating, "node-4", "node-5", false),
			{AllocationID: NewAllocationID(), State: Unassigned},
		},
	}

	t.Run("validate", func(t *testing.T) {
		require.NoError(t, table.Validate())
		require.True(t, errors.Is(Table{ShardID: "x"}.Validate(), ErrNoPrimary))
	})

	t.Run("primary", func(t *testing.T) {
		shard, ok := table.Primary()
		require.True(t, ok)
		require.Equal(t, primary, shard.AllocationID)
	})

	t.Run("active shards", func(t *testing.T) {
		var ids []string
		for _, shard := range table.ActiveShards() {
			ids = append(ids, shard.AllocationID.ID)
		}
		require.Equal(t, []string{primary.ID, replica.ID, relocating.ID}, ids)
	})

	t.Run("initializing shards include relocation targets", func(t *testing.T) {
		initializing := table.InitializingShards()
		require.Len(t, initializing, 2)
		require.Equal(t, recovering.ID, initializing[0].AllocationID.ID)
		require.Equal(t, relocating.RelocationID, initializing[1].AllocationID.ID)
		require.Equal(t, relocating.ID, initializing[1].AllocationID.RelocationID)
		require.Equal(t, "node-5", initializing[1].NodeID)
	})

	t.Run("assigned shards", func(t *testing.T) {
		ids := table.AllAllocationIDs()
		require.Len(t, ids, 5)
		require.Contains(t, ids, relocating.RelocationID)

		_, ok := table.Lookup(relocating.RelocationID)
		require.True(t, ok)
		_, ok = table.Lookup("unknown")
		require.False(t, ok)
	})

	t.Run("all shards started", func(t *testing.T) {
		require.False(t, table.AllShardsStarted())
		require.True(t, Table{Shards: []ShardRouting{NewStartedShard(primary, "node-1", true)}}.AllShardsStarted())
		require.False(t, Table{}.AllShardsStarted())
	})

	t.Run("copy", func(t *testing.T) {
		copied := table.Copy()
		require.True(t, table.Equal(copied))
		copied.Shards[0].NodeID = "elsewhere"
		require.False(t, table.Equal(copied))
	})
}

func TestAllocationID(t *testing.T) {
	id := NewAllocationID()
	require.False(t, id.IsRelocating())

	relocating := NewRelocation(id)
	require.True(t, relocating.IsRelocating())
	require.Equal(t, id.ID, relocating.ID)

	require.Equal(t, id, CancelRelocation(relocating))
	require.Equal(t, AllocationID{ID: relocating.RelocationID}, FinishRelocation(relocating))
	require.Equal(t, "[id=a, rId=b]", AllocationID{ID: "a", RelocationID: "b"}.String())
}
