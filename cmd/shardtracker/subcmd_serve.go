package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gitlab.com/gitlab-org/shardtracker/internal/config"
	"gitlab.com/gitlab-org/shardtracker/internal/helper"
	"gitlab.com/gitlab-org/shardtracker/internal/log"
	"gitlab.com/gitlab-org/shardtracker/internal/retention"
	"gitlab.com/gitlab-org/shardtracker/internal/routing"
	"gitlab.com/gitlab-org/shardtracker/internal/seqno"
	"gitlab.com/gitlab-org/shardtracker/internal/tracker"
	"gitlab.com/gitlab-org/shardtracker/internal/version"
	"golang.org/x/sync/errgroup"
)

const (
	serveCmdName = "serve"

	logFileName     = "shardtracker.log"
	shutdownTimeout = 10 * time.Second
)

type serveSubcommand struct {
	nodeID string
}

func newServeSubcommand() *serveSubcommand {
	return &serveSubcommand{}
}

func (cmd *serveSubcommand) FlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet(serveCmdName, flag.ContinueOnError)
	fs.StringVar(&cmd.nodeID, "node", "", "node the copy runs on, defaults to the host name")
	return fs
}

func (cmd *serveSubcommand) Exec(flags *flag.FlagSet, cfg config.Config) error {
	if flags.NArg() > 0 {
		return unexpectedPositionalArgsError{Command: flags.Name()}
	}

	logger := log.Default()

	if cfg.AllocationID == "" {
		cfg.AllocationID = routing.NewAllocationID().ID
		logger.WithField("allocation_id", cfg.AllocationID).Info("generated allocation id")
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Logging.Dir != "" {
		closeLog, err := log.RedirectToFile(log.Loggers, filepath.Join(cfg.Logging.Dir, logFileName))
		if err != nil {
			return err
		}
		defer closeLog()
	}

	if cmd.nodeID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("node id: %w", err)
		}
		cmd.nodeID = hostname
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, logger, cfg, cmd.nodeID)
}

// serve runs the tracker of a single-copy primary until ctx is cancelled.
func serve(ctx context.Context, logger logrus.FieldLogger, cfg config.Config, nodeID string) error {
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	store := retention.NewStateStore(cfg.StateDir)

	t, err := tracker.New(logger, cfg.TrackerConfig())
	if err != nil {
		return err
	}

	if err := t.LoadRetentionLeases(store); err != nil {
		return err
	}

	table := routing.Table{
		ShardID: cfg.ShardID,
		Shards: []routing.ShardRouting{
			routing.NewStartedShard(routing.AllocationID{ID: cfg.AllocationID}, nodeID, true),
		},
	}
	t.UpdateFromClusterManager(1, []string{cfg.AllocationID}, table)

	if err := t.ActivatePrimaryMode(seqno.NoOpsPerformed); err != nil {
		return fmt.Errorf("activate primary mode: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"version":    version.GetVersion(),
		"build_time": version.GetBuildTime(),
		"node":       nodeID,
	}).Info("starting " + progname)

	renewer := tracker.NewLeaseRenewer(logger, t, store)

	registry := prometheus.NewRegistry()
	registry.MustRegister(tracker.NewCollector(t), renewer)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return renewer.Run(ctx, helper.NewTimerTicker(cfg.Renewal.Interval.Duration()))
	})

	if cfg.PrometheusListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: cfg.PrometheusListenAddr, Handler: mux}

		g.Go(func() error {
			logger.WithField("address", cfg.PrometheusListenAddr).Info("starting prometheus listener")
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("prometheus listener: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()

	if persistErr := t.PersistRetentionLeases(store); persistErr != nil {
		logger.WithError(persistErr).Error("persisting retention leases on shutdown")
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
