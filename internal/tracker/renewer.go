package tracker

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gitlab.com/gitlab-org/shardtracker/internal/helper"
)

// LeaseRenewer periodically renews the peer recovery retention leases of a
// primary and persists the leases of any copy.
type LeaseRenewer struct {
	log      logrus.FieldLogger
	tracker  *ReplicationTracker
	store    LeaseStore
	renewals *prometheus.CounterVec
}

// NewLeaseRenewer returns a renewer of the given tracker's leases.
func NewLeaseRenewer(log logrus.FieldLogger, tracker *ReplicationTracker, store LeaseStore) *LeaseRenewer {
	renewals := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardtracker_lease_renewals_total",
			Help: "Number of peer recovery retention lease renewal passes by result.",
		},
		[]string{"result"},
	)

	return &LeaseRenewer{
		log:      log.WithField("component", "lease_renewer"),
		tracker:  tracker,
		store:    store,
		renewals: renewals,
	}
}

// Describe implements prometheus.Collector.
func (r *LeaseRenewer) Describe(ch chan<- *prometheus.Desc) {
	r.renewals.Describe(ch)
}

// Collect implements prometheus.Collector.
func (r *LeaseRenewer) Collect(ch chan<- prometheus.Metric) {
	r.renewals.Collect(ch)
}

// Run renews the leases on every tick until ctx is cancelled. Failures are
// logged and retried on the next tick.
func (r *LeaseRenewer) Run(ctx context.Context, ticker helper.Ticker) error {
	r.log.Info("lease renewer started")
	defer r.log.Info("lease renewer stopped")

	defer ticker.Stop()

	for {
		ticker.Reset()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			r.renew()
		}
	}
}

func (r *LeaseRenewer) renew() {
	renewed, err := r.tracker.RenewPeerRecoveryRetentionLeases()
	switch {
	case errors.Is(err, ErrNotPrimary), errors.Is(err, ErrNoRoutingTable):
		r.renewals.WithLabelValues("skipped").Inc()
	case err != nil:
		r.renewals.WithLabelValues("failed").Inc()
		r.log.WithError(err).Error("renewing peer recovery retention leases")
	case renewed:
		r.renewals.WithLabelValues("renewed").Inc()
		r.log.Debug("peer recovery retention leases changed")
	default:
		r.renewals.WithLabelValues("unchanged").Inc()
	}

	if err := r.tracker.PersistRetentionLeases(r.store); err != nil {
		r.renewals.WithLabelValues("persist_failed").Inc()
		r.log.WithError(err).Error("persisting retention leases")
	}
}
