package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/sirupsen/logrus"
	"gitlab.com/gitlab-org/shardtracker/internal/config"
	"gitlab.com/gitlab-org/shardtracker/internal/helper"
	"gitlab.com/gitlab-org/shardtracker/internal/log"
	"gitlab.com/gitlab-org/shardtracker/internal/routing"
	"gitlab.com/gitlab-org/shardtracker/internal/segrep"
	"gitlab.com/gitlab-org/shardtracker/internal/tracker"
)

const (
	simulateCmdName = "simulate"

	defaultInSyncTimeout = time.Second
)

var simulationEpoch = time.Date(2021, time.January, 1, 0, 0, 0, 0, time.UTC)

// scenario is a sequence of events applied to a single tracker. Settings left
// empty fall back to the configuration.
type scenario struct {
	ShardID       string          `toml:"shard_id"`
	AllocationID  string          `toml:"allocation_id"`
	Durability    string          `toml:"durability"`
	InSyncTimeout config.Duration `toml:"in_sync_timeout"`
	Steps         []scenarioStep  `toml:"step"`
}

type scenarioStep struct {
	Action       string           `toml:"action"`
	AllocationID string           `toml:"allocation_id"`
	Checkpoint   int64            `toml:"checkpoint"`
	Version      int64            `toml:"version"`
	InSync       []string         `toml:"in_sync"`
	Shards       []scenarioShard  `toml:"shard"`
	LeaseID      string           `toml:"lease_id"`
	Source       string           `toml:"source"`
	Advance      config.Duration  `toml:"advance"`
	Segments     map[string]int64 `toml:"segments"`
}

type scenarioShard struct {
	AllocationID   string `toml:"allocation_id"`
	RelocationID   string `toml:"relocation_id"`
	Node           string `toml:"node"`
	RelocatingNode string `toml:"relocating_node"`
	Primary        bool   `toml:"primary"`
	State          string `toml:"state"`
}

var shardStates = map[string]routing.ShardState{
	"unassigned":   routing.Unassigned,
	"initializing": routing.Initializing,
	"started":      routing.Started,
	"relocating":   routing.Relocating,
}

func (s scenarioShard) toRouting() (routing.ShardRouting, error) {
	state, ok := shardStates[s.State]
	if !ok {
		return routing.ShardRouting{}, fmt.Errorf("unknown shard state %q", s.State)
	}

	return routing.ShardRouting{
		AllocationID:     routing.AllocationID{ID: s.AllocationID, RelocationID: s.RelocationID},
		NodeID:           s.Node,
		RelocatingNodeID: s.RelocatingNode,
		Primary:          s.Primary,
		State:            state,
	}, nil
}

type simulateSubcommand struct {
	output   io.Writer
	scenario string
}

func newSimulateSubcommand(output io.Writer) *simulateSubcommand {
	return &simulateSubcommand{output: output}
}

func (cmd *simulateSubcommand) FlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet(simulateCmdName, flag.ContinueOnError)
	fs.StringVar(&cmd.scenario, "scenario", "", "path of the TOML scenario to replay")
	return fs
}

func (cmd *simulateSubcommand) Exec(flags *flag.FlagSet, cfg config.Config) error {
	if flags.NArg() > 0 {
		return unexpectedPositionalArgsError{Command: flags.Name()}
	}

	if cmd.scenario == "" {
		return fmt.Errorf("%s: -scenario must be set", simulateCmdName)
	}

	f, err := os.Open(cmd.scenario)
	if err != nil {
		return fmt.Errorf("open scenario: %w", err)
	}
	defer f.Close()

	var sc scenario
	if err := toml.NewDecoder(f).Decode(&sc); err != nil {
		return fmt.Errorf("decode scenario: %w", err)
	}

	return newSimulation(log.Default(), cfg, sc).run(context.Background(), cmd.output)
}

// simulation replays a scenario against a tracker driven by a manual clock.
type simulation struct {
	log       logrus.FieldLogger
	cfg       tracker.Config
	scenario  scenario
	clock     *helper.ManualClock
	published map[int64]*segrep.Checkpoint
}

func newSimulation(logger logrus.FieldLogger, cfg config.Config, sc scenario) *simulation {
	trackerCfg := cfg.TrackerConfig()
	if sc.ShardID != "" {
		trackerCfg.ShardID = sc.ShardID
	}
	if sc.AllocationID != "" {
		trackerCfg.AllocationID = sc.AllocationID
	}
	if sc.Durability != "" {
		trackerCfg.Durability = tracker.DurabilityMode(sc.Durability)
	}
	if sc.InSyncTimeout == 0 {
		sc.InSyncTimeout = config.Duration(defaultInSyncTimeout)
	}

	clock := helper.NewManualClock(simulationEpoch)
	trackerCfg.Clock = clock.Now

	return &simulation{
		log:       logger.WithField("component", "simulation"),
		cfg:       trackerCfg,
		scenario:  sc,
		clock:     clock,
		published: make(map[int64]*segrep.Checkpoint),
	}
}

func (s *simulation) run(ctx context.Context, w io.Writer) error {
	t, err := tracker.New(s.log, s.cfg)
	if err != nil {
		return err
	}

	for i, step := range s.scenario.Steps {
		if err := s.apply(ctx, t, step); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, step.Action, err)
		}
	}

	s.render(w, t)
	return nil
}

func (s *simulation) apply(ctx context.Context, t *tracker.ReplicationTracker, step scenarioStep) error {
	switch step.Action {
	case "cluster_state":
		table := routing.Table{ShardID: s.cfg.ShardID}
		for _, shard := range step.Shards {
			entry, err := shard.toRouting()
			if err != nil {
				return err
			}
			table.Shards = append(table.Shards, entry)
		}
		if err := table.Validate(); err != nil {
			return err
		}
		t.UpdateFromClusterManager(step.Version, step.InSync, table)
		return nil
	case "activate":
		return t.ActivatePrimaryMode(step.Checkpoint)
	case "initiate_tracking":
		return t.InitiateTracking(step.AllocationID)
	case "mark_in_sync":
		ctx, cancel := context.WithTimeout(ctx, s.scenario.InSyncTimeout.Duration())
		defer cancel()
		return t.MarkAllocationIDAsInSync(ctx, step.AllocationID, step.Checkpoint)
	case "local_checkpoint":
		return t.UpdateLocalCheckpoint(step.AllocationID, step.Checkpoint)
	case "global_checkpoint":
		if step.AllocationID == "" {
			return t.UpdateGlobalCheckpointOnReplica(step.Checkpoint, "simulation")
		}
		return t.UpdateGlobalCheckpointForShard(step.AllocationID, step.Checkpoint)
	case "remove_copy":
		return t.RemoveAllocationID(step.AllocationID)
	case "add_lease":
		_, err := t.AddRetentionLease(step.LeaseID, step.Checkpoint, step.Source, nil)
		return err
	case "renew_lease":
		_, err := t.RenewRetentionLease(step.LeaseID, step.Checkpoint, step.Source)
		return err
	case "remove_lease":
		return t.RemoveRetentionLease(step.LeaseID, nil)
	case "renew_peer_recovery_leases":
		_, err := t.RenewPeerRecoveryRetentionLeases()
		return err
	case "advance":
		s.clock.Advance(step.Advance.Duration())
		return nil
	case "publish_checkpoint":
		checkpoint := s.checkpoint(step)
		s.published[step.Version] = checkpoint
		t.SetLatestReplicationCheckpoint(checkpoint)
		t.StartReplicationLagTimers(checkpoint)
		return nil
	case "visible_checkpoint":
		checkpoint, ok := s.published[step.Version]
		if !ok {
			return fmt.Errorf("checkpoint version %d was never published", step.Version)
		}
		if step.AllocationID == t.AllocationID() {
			return errors.New("the primary's own copy has no visible checkpoint to report")
		}
		t.UpdateVisibleCheckpointForShard(step.AllocationID, checkpoint)
		return nil
	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}
}

// checkpoint builds a segment checkpoint from the step. Segments keep their
// length as checksum so that equally named segments of equal length match.
func (s *simulation) checkpoint(step scenarioStep) *segrep.Checkpoint {
	checkpoint := &segrep.Checkpoint{
		ShardID:             s.cfg.ShardID,
		PrimaryTerm:         s.cfg.PrimaryTerm,
		SegmentsGen:         step.Version,
		SegmentInfosVersion: step.Version,
		Metadata:            make(map[string]segrep.FileMetadata, len(step.Segments)),
		CreatedAt:           s.clock.Now(),
	}

	for name, length := range step.Segments {
		checkpoint.Metadata[name] = segrep.FileMetadata{Length: length, Checksum: itoa(length)}
		checkpoint.Length += length
	}

	return checkpoint
}

func (s *simulation) render(w io.Writer, t *tracker.ReplicationTracker) {
	mode := "replica"
	switch {
	case t.IsRelocated():
		mode = "relocated"
	case t.IsPrimaryMode():
		mode = "primary"
	}

	fmt.Fprintf(w, "shard %s, copy %s, mode %s\n", t.ShardID(), t.AllocationID(), mode)
	fmt.Fprintf(w, "global checkpoint: %d\n", t.GlobalCheckpoint())
	fmt.Fprintf(w, "cluster state version: %d\n\n", t.AppliedClusterStateVersion())

	renderCheckpoints(w, t.Checkpoints())

	if _, leases := t.GetRetentionLeases(false); leases.Len() > 0 {
		fmt.Fprintf(w, "\nretention leases (version %d)\n", leases.Version())
		renderLeases(w, leases)
	}

	stats, err := t.SegmentReplicationStats()
	if errors.Is(err, tracker.ErrNotPrimary) || len(stats) == 0 {
		return
	}
	fmt.Fprintln(w, "\nsegment replication")
	renderReplicationStats(w, stats)
}
