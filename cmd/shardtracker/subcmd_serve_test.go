package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gitlab.com/gitlab-org/shardtracker/internal/config"
	"gitlab.com/gitlab-org/shardtracker/internal/retention"
	"gitlab.com/gitlab-org/shardtracker/internal/testhelper"
)

func TestServe(t *testing.T) {
	for _, tc := range []struct {
		desc       string
		listenAddr string
	}{
		{desc: "without metrics listener"},
		{desc: "with metrics listener", listenAddr: "127.0.0.1:0"},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			cfg := config.Default()
			cfg.ShardID = "index/0"
			cfg.AllocationID = "p"
			cfg.StateDir = t.TempDir()
			cfg.PrometheusListenAddr = tc.listenAddr

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			require.NoError(t, serve(ctx, testhelper.NewDiscardingLogEntry(t), cfg, "node-1"))

			leases, err := retention.NewStateStore(cfg.StateDir).Load()
			require.NoError(t, err)
			require.True(t, leases.Contains(retention.PeerRecoveryLeaseID("node-1")))
		})
	}
}

func TestServeSubcommand_invalidConfig(t *testing.T) {
	cmd := newServeSubcommand()
	flags := cmd.FlagSet()
	require.NoError(t, flags.Parse(nil))

	cfg := config.Default()
	cfg.ShardID = "index/0"

	require.EqualError(t, cmd.Exec(flags, cfg), "invalid configuration: no state directory configured")
}
