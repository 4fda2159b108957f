package retention

import (
	"errors"
	"fmt"
)

var (
	// ErrLeaseAlreadyExists is returned when adding a lease whose ID is taken.
	ErrLeaseAlreadyExists = errors.New("retention lease already exists")
	// ErrLeaseNotFound is returned when renewing or removing a missing lease.
	ErrLeaseNotFound = errors.New("retention lease not found")
	// ErrRetainingSeqNoRegression is returned when a renewal would retain less
	// history than the lease currently does.
	ErrRetainingSeqNoRegression = errors.New("retaining sequence number must not go backwards")
	// ErrInvalidLease is returned for malformed leases.
	ErrInvalidLease = errors.New("invalid retention lease")
	// ErrDuplicateLease is returned when a lease collection holds an ID twice.
	ErrDuplicateLease = errors.New("duplicate retention lease")
)

// LeaseError attaches the lease ID to an error.
type LeaseError struct {
	ID  string
	Err error
}

func (e LeaseError) Error() string {
	return fmt.Sprintf("retention lease %q: %v", e.ID, e.Err)
}

// Unwrap returns the underlying error.
func (e LeaseError) Unwrap() error { return e.Err }
