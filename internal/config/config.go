// Package config loads the configuration of the shardtracker daemon.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml"
	"gitlab.com/gitlab-org/shardtracker/internal/seqno"
	"gitlab.com/gitlab-org/shardtracker/internal/tracker"
)

const (
	// EnvPrefix prefixes the environment variables overriding file settings.
	EnvPrefix = "shardtracker"

	defaultRenewalInterval = 30 * time.Second
	minimalRenewalInterval = time.Second
)

// Duration is a trick to let our TOML library parse durations from strings.
type Duration time.Duration

// UnmarshalText parses a duration like "12h" or "30s".
func (d *Duration) UnmarshalText(text []byte) error {
	td, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(td)
	return nil
}

// MarshalText formats the duration the way UnmarshalText expects it.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Decode lets envconfig parse durations from environment variables.
func (d *Duration) Decode(value string) error {
	return d.UnmarshalText([]byte(value))
}

// Duration returns the value as a time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Logging configures the log output.
type Logging struct {
	// Dir is the directory the log file is written to. Logs go to stdout if
	// it is empty.
	Dir    string `toml:"dir"`
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Tracker configures the replication tracker.
type Tracker struct {
	Durability           tracker.DurabilityMode    `toml:"durability"`
	RetentionLeasePeriod Duration                  `toml:"retention_lease_period" split_words:"true"`
	LeaseExpiryPolicy    tracker.LeaseExpiryPolicy `toml:"lease_expiry_policy" split_words:"true"`
	DepartedCopiesMemory int                       `toml:"departed_copies_memory" split_words:"true"`
}

// Renewal configures the periodic retention lease renewal.
type Renewal struct {
	Interval Duration `toml:"interval"`
}

// Config is a container for everything found in the TOML config file.
type Config struct {
	ShardID              string  `toml:"shard_id" split_words:"true"`
	AllocationID         string  `toml:"allocation_id" split_words:"true"`
	PrimaryTerm          int64   `toml:"primary_term" split_words:"true"`
	StateDir             string  `toml:"state_dir" split_words:"true"`
	PrometheusListenAddr string  `toml:"prometheus_listen_addr" split_words:"true"`
	Logging              Logging `toml:"logging" envconfig:"logging"`
	Tracker              Tracker `toml:"tracker" envconfig:"tracker"`
	Renewal              Renewal `toml:"renewal" envconfig:"renewal"`
}

// Default returns the configuration used for every setting the file leaves
// out.
func Default() Config {
	return Config{
		PrimaryTerm: 1,
		Logging: Logging{
			Format: "text",
			Level:  "info",
		},
		Tracker: Tracker{
			Durability:           tracker.DurabilityTranslog,
			RetentionLeasePeriod: Duration(tracker.DefaultRetentionLeasePeriod),
			LeaseExpiryPolicy:    tracker.ExpireWhenFullyActive,
			DepartedCopiesMemory: tracker.DefaultDepartedCopiesMemory,
		},
		Renewal: Renewal{
			Interval: Duration(defaultRenewalInterval),
		},
	}
}

// Load reads the configuration from file and then from the environment.
// Environment variables take precedence over the file.
func Load(file io.Reader) (Config, error) {
	cfg := Default()

	if err := toml.NewDecoder(file).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("load toml: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("envconfig: %w", err)
	}

	return cfg, nil
}

// FromFile loads the config for the passed file path.
func FromFile(filePath string) (Config, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()

	return Load(f)
}

var (
	errNoShardID           = errors.New("no shard id configured")
	errNoAllocationID      = errors.New("no allocation id configured")
	errNoStateDir          = errors.New("no state directory configured")
	errInvalidPrimaryTerm  = errors.New("primary term must be positive")
	errInvalidLeasePeriod  = errors.New("retention lease period must be positive")
	errInvalidCopiesMemory = errors.New("departed copies memory must be positive")
)

// Validate establishes if the config is valid.
func (cfg Config) Validate() error {
	switch {
	case cfg.ShardID == "":
		return errNoShardID
	case cfg.AllocationID == "":
		return errNoAllocationID
	case cfg.StateDir == "":
		return errNoStateDir
	case cfg.PrimaryTerm < 1:
		return errInvalidPrimaryTerm
	case cfg.Tracker.RetentionLeasePeriod <= 0:
		return errInvalidLeasePeriod
	case cfg.Tracker.DepartedCopiesMemory < 1:
		return errInvalidCopiesMemory
	}

	if err := cfg.Tracker.Durability.Validate(); err != nil {
		return err
	}

	if err := cfg.Tracker.LeaseExpiryPolicy.Validate(); err != nil {
		return err
	}

	if interval := cfg.Renewal.Interval.Duration(); interval < minimalRenewalInterval {
		return fmt.Errorf("renewal interval %s is below the minimum of %s", interval, minimalRenewalInterval)
	}

	return nil
}

// TrackerConfig returns the tracker settings. Callbacks and the clock are
// left for the caller to set.
func (cfg Config) TrackerConfig() tracker.Config {
	return tracker.Config{
		ShardID:              cfg.ShardID,
		AllocationID:         cfg.AllocationID,
		PrimaryTerm:          cfg.PrimaryTerm,
		GlobalCheckpoint:     seqno.UnassignedSeqNo,
		Durability:           cfg.Tracker.Durability,
		RetentionLeasePeriod: cfg.Tracker.RetentionLeasePeriod.Duration(),
		LeaseExpiryPolicy:    cfg.Tracker.LeaseExpiryPolicy,
		DepartedCopiesMemory: cfg.Tracker.DepartedCopiesMemory,
	}
}
