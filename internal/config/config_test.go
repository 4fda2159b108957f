package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gitlab.com/gitlab-org/shardtracker/internal/seqno"
	"gitlab.com/gitlab-org/shardtracker/internal/tracker"
)

func setEnv(t *testing.T, key, value string) {
	t.Helper()

	previous, ok := os.LookupEnv(key)
	require.NoError(t, os.Setenv(key, value))
	t.Cleanup(func() {
		if ok {
			require.NoError(t, os.Setenv(key, previous))
			return
		}
		require.NoError(t, os.Unsetenv(key))
	})
}

func TestLoad(t *testing.T) {
	for _, tc := range []struct {
		desc     string
		content  string
		env      map[string]string
		expected func() Config
		err      string
	}{
		{
			desc:     "empty file",
			expected: Default,
		},
		{
			desc: "all settings",
			content: `
shard_id = "index/0"
allocation_id = "abc"
primary_term = 3
state_dir = "/var/lib/shardtracker"
prometheus_listen_addr = "localhost:9236"

[logging]
dir = "/var/log/shardtracker"
format = "json"
level = "debug"

[tracker]
durability = "remote_store"
retention_lease_period = "1h"
lease_expiry_policy = "interval"
departed_copies_memory = 16

[renewal]
interval = "10s"
`,
			expected: func() Config {
				return Config{
					ShardID:              "index/0",
					AllocationID:         "abc",
					PrimaryTerm:          3,
					StateDir:             "/var/lib/shardtracker",
					PrometheusListenAddr: "localhost:9236",
					Logging:              Logging{Dir: "/var/log/shardtracker", Format: "json", Level: "debug"},
					Tracker: Tracker{
						Durability:           tracker.DurabilityRemoteStore,
						RetentionLeasePeriod: Duration(time.Hour),
						LeaseExpiryPolicy:    tracker.ExpireAfterInterval,
						DepartedCopiesMemory: 16,
					},
					Renewal: Renewal{Interval: Duration(10 * time.Second)},
				}
			},
		},
		{
			desc:    "environment overrides",
			content: "shard_id = \"index/0\"\n[logging]\nlevel = \"debug\"\n",
			env: map[string]string{
				"SHARDTRACKER_ALLOCATION_ID":                  "from-env",
				"SHARDTRACKER_LOGGING_LEVEL":                  "warn",
				"SHARDTRACKER_TRACKER_RETENTION_LEASE_PERIOD": "2h",
			},
			expected: func() Config {
				cfg := Default()
				cfg.ShardID = "index/0"
				cfg.AllocationID = "from-env"
				cfg.Logging.Level = "warn"
				cfg.Tracker.RetentionLeasePeriod = Duration(2 * time.Hour)
				return cfg
			},
		},
		{
			desc:    "invalid duration",
			content: "[renewal]\ninterval = \"soon\"\n",
			err:     "load toml",
		},
		{
			desc:    "invalid toml",
			content: "shard_id = ",
			err:     "load toml",
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			for key, value := range tc.env {
				setEnv(t, key, value)
			}

			cfg, err := Load(strings.NewReader(tc.content))
			if tc.err != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.expected(), cfg)
		})
	}
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`shard_id = "index/1"`), 0o644))

	cfg, err := FromFile(path)
	require.NoError(t, err)
	require.Equal(t, "index/1", cfg.ShardID)

	_, err = FromFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.True(t, os.IsNotExist(err))
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.ShardID = "index/0"
		cfg.AllocationID = "abc"
		cfg.StateDir = "/var/lib/shardtracker"
		return cfg
	}

	for _, tc := range []struct {
		desc   string
		modify func(*Config)
		err    string
	}{
		{desc: "valid", modify: func(*Config) {}},
		{desc: "no shard id", modify: func(cfg *Config) { cfg.ShardID = "" }, err: errNoShardID.Error()},
		{desc: "no allocation id", modify: func(cfg *Config) { cfg.AllocationID = "" }, err: errNoAllocationID.Error()},
		{desc: "no state dir", modify: func(cfg *Config) { cfg.StateDir = "" }, err: errNoStateDir.Error()},
		{desc: "primary term", modify: func(cfg *Config) { cfg.PrimaryTerm = 0 }, err: errInvalidPrimaryTerm.Error()},
		{desc: "lease period", modify: func(cfg *Config) { cfg.Tracker.RetentionLeasePeriod = 0 }, err: errInvalidLeasePeriod.Error()},
		{desc: "departed copies", modify: func(cfg *Config) { cfg.Tracker.DepartedCopiesMemory = 0 }, err: errInvalidCopiesMemory.Error()},
		{desc: "durability", modify: func(cfg *Config) { cfg.Tracker.Durability = "paper" }, err: `invalid durability mode: "paper"`},
		{desc: "expiry policy", modify: func(cfg *Config) { cfg.Tracker.LeaseExpiryPolicy = "never" }, err: `invalid lease expiry policy: "never"`},
		{
			desc:   "renewal interval",
			modify: func(cfg *Config) { cfg.Renewal.Interval = Duration(time.Millisecond) },
			err:    "renewal interval 1ms is below the minimum of 1s",
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			cfg := valid()
			tc.modify(&cfg)

			err := cfg.Validate()
			if tc.err == "" {
				require.NoError(t, err)
				return
			}
			require.EqualError(t, err, tc.err)
		})
	}
}

func TestConfig_TrackerConfig(t *testing.T) {
	cfg := Default()
	cfg.ShardID = "index/0"
	cfg.AllocationID = "abc"

	require.Equal(t, tracker.Config{
		ShardID:              "index/0",
		AllocationID:         "abc",
		PrimaryTerm:          1,
		GlobalCheckpoint:     seqno.UnassignedSeqNo,
		Durability:           tracker.DurabilityTranslog,
		RetentionLeasePeriod: tracker.DefaultRetentionLeasePeriod,
		LeaseExpiryPolicy:    tracker.ExpireWhenFullyActive,
		DepartedCopiesMemory: tracker.DefaultDepartedCopiesMemory,
	}, cfg.TrackerConfig())
}

func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	require.Equal(t, 90*time.Second, d.Duration())

	text, err := d.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "1m30s", string(text))

	require.Error(t, d.Decode("later"))
}
