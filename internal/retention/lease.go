// Package retention implements retention leases. A lease prevents the
// operation history starting at its retaining sequence number from being
// discarded so that a copy can later recover from that point.
package retention

import (
	"fmt"
	"strings"
)

const (
	// PeerRecoverySource is the source of the leases owned by shard copies.
	PeerRecoverySource = "peer recovery"

	peerRecoveryPrefix = "peer_recovery/"
)

// PeerRecoveryLeaseID returns the ID of the peer recovery lease of the copy
// hosted on nodeID.
func PeerRecoveryLeaseID(nodeID string) string {
	return peerRecoveryPrefix + nodeID
}

// Lease is a single retention lease. Timestamp is in milliseconds since the
// Unix epoch.
type Lease struct {
	ID                      string `json:"id"`
	RetainingSequenceNumber int64  `json:"retaining_seq_no"`
	Timestamp               int64  `json:"timestamp"`
	Source                  string `json:"source"`
}

// NewLease validates and returns a lease.
func NewLease(id string, retainingSequenceNumber, timestamp int64, source string) (Lease, error) {
	lease := Lease{
		ID:                      id,
		RetainingSequenceNumber: retainingSequenceNumber,
		Timestamp:               timestamp,
		Source:                  source,
	}
	if err := lease.Validate(); err != nil {
		return Lease{}, err
	}
	return lease, nil
}

// Validate checks the lease fields.
func (l Lease) Validate() error {
	switch {
	case l.ID == "":
		return fmt.Errorf("empty id: %w", ErrInvalidLease)
	case l.Source == "":
		return LeaseError{ID: l.ID, Err: fmt.Errorf("empty source: %w", ErrInvalidLease)}
	case l.RetainingSequenceNumber < 0:
		return LeaseError{ID: l.ID, Err: fmt.Errorf("retaining sequence number %d: %w", l.RetainingSequenceNumber, ErrInvalidLease)}
	case l.Timestamp < 0:
		return LeaseError{ID: l.ID, Err: fmt.Errorf("timestamp %d: %w", l.Timestamp, ErrInvalidLease)}
	case strings.ContainsAny(l.ID, ":;,"):
		return LeaseError{ID: l.ID, Err: fmt.Errorf("id contains a separator: %w", ErrInvalidLease)}
	}
	return nil
}

// IsPeerRecovery returns true if the lease belongs to a shard copy.
func (l Lease) IsPeerRecovery() bool {
	return l.Source == PeerRecoverySource
}

func (l Lease) String() string {
	return fmt.Sprintf("RetentionLease{id=%q, retainingSequenceNumber=%d, timestamp=%d, source=%q}",
		l.ID, l.RetainingSequenceNumber, l.Timestamp, l.Source)
}
