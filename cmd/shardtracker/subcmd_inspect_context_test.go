package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"gitlab.com/gitlab-org/shardtracker/internal/config"
	"gitlab.com/gitlab-org/shardtracker/internal/routing"
	"gitlab.com/gitlab-org/shardtracker/internal/tracker"
)

func TestInspectContextSubcommand(t *testing.T) {
	table := routing.Table{
		ShardID: "index/0",
		Shards: []routing.ShardRouting{
			routing.NewRelocatingShard(routing.AllocationID{ID: "p", RelocationID: "p2"}, "node-p", "node-p2", true),
			routing.NewStartedShard(routing.AllocationID{ID: "a1"}, "node-a1", false),
		},
	}

	pc := &tracker.PrimaryContext{
		ClusterStateVersion: 7,
		Checkpoints: map[string]tracker.CheckpointState{
			"p":  {LocalCheckpoint: 10, GlobalCheckpoint: 9, InSync: true, Tracked: true},
			"a1": {LocalCheckpoint: 9, GlobalCheckpoint: 9, InSync: true, Tracked: true},
			"p2": {LocalCheckpoint: 10, GlobalCheckpoint: 9, InSync: true, Tracked: true},
		},
		RoutingTable:     table,
		ReplicationGroup: tracker.NewReplicationGroup(table, []string{"a1", "p", "p2"}, []string{"a1", "p", "p2"}, 7),
	}

	data, err := pc.MarshalBinary()
	require.NoError(t, err)

	for _, tc := range []struct {
		desc     string
		content  []byte
		expected []string
		err      error
	}{
		{
			desc:    "valid context",
			content: data,
			expected: []string{
				"cluster state version: 7\n",
				"shard: index/0\n",
				"local checkpoint",
				"node-p2",
				"RELOCATING",
				"replication group version 7\n",
				"  in sync: a1, p, p2\n",
			},
		},
		{
			desc:    "truncated context",
			content: data[:len(data)-1],
			err:     tracker.ErrMalformedPrimaryContext,
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			var output bytes.Buffer
			cmd := newInspectContextSubcommand(&output)
			flags := cmd.FlagSet()
			require.NoError(t, flags.Parse([]string{"-file", writeFile(t, "context.bin", tc.content)}))

			err := cmd.Exec(flags, config.Default())
			if tc.err != nil {
				require.True(t, errors.Is(err, tc.err), "unexpected error: %v", err)
				return
			}

			require.NoError(t, err)
			for _, expected := range tc.expected {
				require.Contains(t, output.String(), expected)
			}
		})
	}
}

func TestInspectContextSubcommand_missingFile(t *testing.T) {
	cmd := newInspectContextSubcommand(&bytes.Buffer{})

	flags := cmd.FlagSet()
	require.NoError(t, flags.Parse(nil))
	require.EqualError(t, cmd.Exec(flags, config.Default()), "inspect-context: -file must be set")
}
