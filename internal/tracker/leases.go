package tracker

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gitlab.com/gitlab-org/shardtracker/internal/retention"
	"gitlab.com/gitlab-org/shardtracker/internal/routing"
	"gitlab.com/gitlab-org/shardtracker/internal/seqno"
)

// LeaseExpiryPolicy decides when the peer recovery leases of copies that are
// no longer assigned expire.
type LeaseExpiryPolicy string

const (
	// ExpireWhenFullyActive expires the leases of unassigned copies as soon as
	// every copy of the shard is started, and after the lease period otherwise.
	ExpireWhenFullyActive LeaseExpiryPolicy = "fully_active"
	// ExpireAfterInterval expires every lease only after the lease period.
	ExpireAfterInterval LeaseExpiryPolicy = "interval"
)

// Validate checks that the policy is known.
func (p LeaseExpiryPolicy) Validate() error {
	switch p {
	case ExpireWhenFullyActive, ExpireAfterInterval:
		return nil
	default:
		return fmt.Errorf("invalid lease expiry policy: %q", p)
	}
}

// LeaseStore persists retention leases.
type LeaseStore interface {
	Load() (retention.Leases, error)
	Write(retention.Leases) (bool, error)
}

// AddRetentionLease adds a new lease and publishes the leases. done is called
// once the publication finished.
func (t *ReplicationTracker) AddRetentionLease(id string, retainingSequenceNumber int64, source string, done func(error)) (retention.Lease, error) {
	t.m.Lock()

	if t.mode != modePrimary {
		t.m.Unlock()
		return retention.Lease{}, ErrNotPrimary
	}

	lease, err := t.addRetentionLease(id, retainingSequenceNumber, source)
	if err != nil {
		t.m.Unlock()
		return retention.Lease{}, err
	}
	leases := t.retentionLeases

	t.m.Unlock()

	t.onSyncRetentionLeases(leases, t.completionListener(done))
	return lease, nil
}

// RenewRetentionLease renews an existing lease and publishes the leases. The
// retaining sequence number must not decrease.
func (t *ReplicationTracker) RenewRetentionLease(id string, retainingSequenceNumber int64, source string) (retention.Lease, error) {
	t.m.Lock()

	if t.mode != modePrimary {
		t.m.Unlock()
		return retention.Lease{}, ErrNotPrimary
	}

	lease, err := t.renewRetentionLease(id, retainingSequenceNumber, source)
	if err != nil {
		t.m.Unlock()
		return retention.Lease{}, err
	}
	leases := t.retentionLeases

	t.m.Unlock()

	t.onSyncRetentionLeases(leases, t.completionListener(nil))
	return lease, nil
}

// RemoveRetentionLease removes a lease and publishes the leases.
func (t *ReplicationTracker) RemoveRetentionLease(id string, done func(error)) error {
	t.m.Lock()

	if t.mode != modePrimary {
		t.m.Unlock()
		return ErrNotPrimary
	}

	if !t.retentionLeases.Contains(id) {
		t.m.Unlock()
		return retention.LeaseError{ID: id, Err: retention.ErrLeaseNotFound}
	}

	t.retentionLeases = t.retentionLeases.Without(id).Bump(t.operationPrimaryTerm)
	leases := t.retentionLeases

	t.m.Unlock()

	t.log.WithField("lease_id", id).Debug("removed retention lease")
	t.onSyncRetentionLeases(leases, t.completionListener(done))
	return nil
}

// AddPeerRecoveryRetentionLease adds the lease of the copy on nodeID,
// retaining all operations above globalCheckpoint.
func (t *ReplicationTracker) AddPeerRecoveryRetentionLease(nodeID string, globalCheckpoint int64, done func(error)) error {
	_, err := t.AddRetentionLease(retention.PeerRecoveryLeaseID(nodeID), globalCheckpoint+1, retention.PeerRecoverySource, done)
	return err
}

// RemovePeerRecoveryRetentionLease removes the lease of the copy on nodeID.
func (t *ReplicationTracker) RemovePeerRecoveryRetentionLease(nodeID string, done func(error)) error {
	return t.RemoveRetentionLease(retention.PeerRecoveryLeaseID(nodeID), done)
}

// RenewPeerRecoveryRetentionLeases keeps the peer recovery leases of assigned
// copies alive. Once any of them is older than half the lease period, or
// retains operations its copy already knows to be globally checkpointed, all
// of them are renewed. Missing leases of assigned copies are created and
// expired leases are dropped. Changed leases are published and true is
// returned. A call that changes nothing leaves the version untouched.
func (t *ReplicationTracker) RenewPeerRecoveryRetentionLeases() (bool, error) {
	t.m.Lock()

	if t.mode != modePrimary {
		t.m.Unlock()
		return false, ErrNotPrimary
	}
	if t.routingTable == nil {
		t.m.Unlock()
		return false, ErrNoRoutingTable
	}

	now := t.nowMillis()
	leases := t.retentionLeases
	changed := false

	assigned := t.assignedCopies()

	renewalThreshold := now - t.retentionLeasePeriod.Milliseconds()/2
	renewalNeeded := false
	for _, shard := range assigned {
		lease, ok := leases.Get(retention.PeerRecoveryLeaseID(shard.NodeID))
		if !ok {
			continue
		}
		if lease.Timestamp <= renewalThreshold {
			renewalNeeded = true
			break
		}
		if cps, ok := t.checkpoints[shard.AllocationID.ID]; ok && lease.RetainingSequenceNumber <= cps.GlobalCheckpoint {
			renewalNeeded = true
			break
		}
	}

	for _, shard := range assigned {
		id := retention.PeerRecoveryLeaseID(shard.NodeID)
		retaining := t.peerRecoveryRetainingSeqNo(shard)

		lease, ok := leases.Get(id)
		switch {
		case !ok:
			if _, member := t.checkpoints[shard.AllocationID.ID]; !member {
				continue
			}
			leases = leases.With(retention.Lease{ID: id, RetainingSequenceNumber: retaining, Timestamp: now, Source: retention.PeerRecoverySource})
			changed = true
			t.log.WithField("lease_id", id).Debug("created missing peer recovery retention lease")
		case renewalNeeded && lease.RetainingSequenceNumber <= retaining:
			leases = leases.With(retention.Lease{ID: id, RetainingSequenceNumber: retaining, Timestamp: now, Source: retention.PeerRecoverySource})
			changed = true
		}
	}

	var expired []retention.Lease
	leases, expired = t.expireLeases(leases, now)
	if len(expired) > 0 {
		changed = true
	}

	if !changed {
		t.m.Unlock()
		return false, nil
	}

	t.retentionLeases = leases.Bump(t.operationPrimaryTerm)
	published := t.retentionLeases

	t.m.Unlock()

	t.log.WithFields(logrus.Fields{
		"leases_version": published.Version(),
		"expired":        len(expired),
		"renewed":        renewalNeeded,
	}).Debug("renewed peer recovery retention leases")

	t.onSyncRetentionLeases(published, t.completionListener(nil))
	return true, nil
}

// GetRetentionLeases returns the current leases. If expire is set and the
// tracker runs on a primary, expired leases are removed first; the returned
// flag reports whether any lease expired.
func (t *ReplicationTracker) GetRetentionLeases(expire bool) (bool, retention.Leases) {
	t.m.Lock()
	defer t.m.Unlock()

	if !expire || t.mode != modePrimary || t.routingTable == nil {
		return false, t.retentionLeases
	}

	leases, expired := t.expireLeases(t.retentionLeases, t.nowMillis())
	if len(expired) == 0 {
		return false, t.retentionLeases
	}

	t.retentionLeases = leases.Bump(t.operationPrimaryTerm)
	return true, t.retentionLeases
}

// UpdateRetentionLeasesOnReplica adopts leases published by the primary if
// they supersede the known ones.
func (t *ReplicationTracker) UpdateRetentionLeasesOnReplica(leases retention.Leases) error {
	t.m.Lock()
	defer t.m.Unlock()

	if t.mode == modePrimary {
		return ErrPrimaryMode
	}

	if leases.Supersedes(t.retentionLeases) {
		t.retentionLeases = leases
	}
	return nil
}

// PersistRetentionLeases writes the current leases to store.
func (t *ReplicationTracker) PersistRetentionLeases(store LeaseStore) error {
	t.m.Lock()
	leases := t.retentionLeases
	t.m.Unlock()

	written, err := store.Write(leases)
	if err != nil {
		return fmt.Errorf("persist retention leases: %w", err)
	}

	if written {
		t.log.WithField("leases_version", leases.Version()).Debug("persisted retention leases")
	}
	return nil
}

// LoadRetentionLeases adopts the leases persisted in store if they supersede
// the known ones.
func (t *ReplicationTracker) LoadRetentionLeases(store LeaseStore) error {
	leases, err := store.Load()
	if err != nil {
		return fmt.Errorf("load retention leases: %w", err)
	}

	t.m.Lock()
	defer t.m.Unlock()

	if leases.Supersedes(t.retentionLeases) {
		t.retentionLeases = leases
	}
	return nil
}

func (t *ReplicationTracker) addRetentionLease(id string, retainingSequenceNumber int64, source string) (retention.Lease, error) {
	if t.retentionLeases.Contains(id) {
		return retention.Lease{}, retention.LeaseError{ID: id, Err: retention.ErrLeaseAlreadyExists}
	}

	lease, err := retention.NewLease(id, retainingSequenceNumber, t.nowMillis(), source)
	if err != nil {
		return retention.Lease{}, err
	}

	t.retentionLeases = t.retentionLeases.With(lease).Bump(t.operationPrimaryTerm)
	t.log.WithField("lease_id", id).Debug("added retention lease")

	return lease, nil
}

func (t *ReplicationTracker) renewRetentionLease(id string, retainingSequenceNumber int64, source string) (retention.Lease, error) {
	existing, ok := t.retentionLeases.Get(id)
	if !ok {
		return retention.Lease{}, retention.LeaseError{ID: id, Err: retention.ErrLeaseNotFound}
	}

	if retainingSequenceNumber < existing.RetainingSequenceNumber {
		return retention.Lease{}, retention.LeaseError{
			ID: id,
			Err: fmt.Errorf("renewing from %d to %d: %w",
				existing.RetainingSequenceNumber, retainingSequenceNumber, retention.ErrRetainingSeqNoRegression),
		}
	}

	lease, err := retention.NewLease(id, retainingSequenceNumber, t.nowMillis(), source)
	if err != nil {
		return retention.Lease{}, err
	}

	t.retentionLeases = t.retentionLeases.With(lease).Bump(t.operationPrimaryTerm)
	return lease, nil
}

// addPeerRecoveryRetentionLeaseForSolePrimary adds the lease of the primary's
// own copy if it has none. No publication is needed as no other copy exists
// yet that could track it. The caller must hold the lock.
func (t *ReplicationTracker) addPeerRecoveryRetentionLeaseForSolePrimary() {
	if t.routingTable == nil {
		return
	}

	primary, ok := t.routingTable.Primary()
	if !ok || primary.AllocationID.ID != t.allocationID || !primary.Assigned() {
		return
	}

	id := retention.PeerRecoveryLeaseID(primary.NodeID)
	if t.retentionLeases.Contains(id) {
		return
	}

	retaining := seqno.Max(0, t.own().GlobalCheckpoint+1)
	if _, err := t.addRetentionLease(id, retaining, retention.PeerRecoverySource); err != nil {
		t.log.WithError(err).Error("adding peer recovery retention lease of primary")
	}
}

// assignedCopies returns the routing entries whose leases are kept alive.
// The caller must hold the lock.
func (t *ReplicationTracker) assignedCopies() []routing.ShardRouting {
	var assigned []routing.ShardRouting
	for _, shard := range t.routingTable.Shards {
		if shard.Assigned() {
			assigned = append(assigned, shard)
		}
	}
	return assigned
}

func (t *ReplicationTracker) peerRecoveryRetainingSeqNo(shard routing.ShardRouting) int64 {
	globalCheckpoint := seqno.UnassignedSeqNo
	if cps, ok := t.checkpoints[shard.AllocationID.ID]; ok {
		globalCheckpoint = cps.GlobalCheckpoint
	}
	return seqno.Max(0, globalCheckpoint+1)
}

// expireLeases splits off the leases that expired at now. The caller must
// hold the lock.
func (t *ReplicationTracker) expireLeases(leases retention.Leases, now int64) (retention.Leases, []retention.Lease) {
	currentPeers := make(map[string]struct{})
	for _, shard := range t.routingTable.AssignedShards() {
		currentPeers[retention.PeerRecoveryLeaseID(shard.NodeID)] = struct{}{}
	}

	expireUnassignedPeers := t.leaseExpiryPolicy == ExpireWhenFullyActive && t.routingTable.AllShardsStarted()
	minimumTimestamp := now - t.retentionLeasePeriod.Milliseconds()

	var expired []retention.Lease
	for _, lease := range leases.All() {
		if lease.IsPeerRecovery() {
			if _, ok := currentPeers[lease.ID]; ok {
				continue
			}
			if expireUnassignedPeers {
				expired = append(expired, lease)
				continue
			}
		}
		if lease.Timestamp < minimumTimestamp {
			expired = append(expired, lease)
		}
	}

	for _, lease := range expired {
		leases = leases.Without(lease.ID)
		t.log.WithField("lease_id", lease.ID).Debug("retention lease expired")
	}

	return leases, expired
}

func (t *ReplicationTracker) completionListener(done func(error)) func(error) {
	return func(err error) {
		if err != nil {
			t.log.WithError(err).Warn("publishing retention leases failed")
		}
		if done != nil {
			done(err)
		}
	}
}
