package tracker

import (
	"errors"
	"fmt"
)

var (
	// ErrNotPrimary is returned by operations that require primary mode.
	ErrNotPrimary = errors.New("replication tracker is not in primary mode")
	// ErrPrimaryMode is returned by replica-only operations called on a primary.
	ErrPrimaryMode = errors.New("replication tracker is in primary mode")
	// ErrRelocated is returned once the primary has been handed off.
	ErrRelocated = errors.New("replication tracker has relocated")
	// ErrHandoffInProgress is returned while a relocation handoff is ongoing.
	ErrHandoffInProgress = errors.New("relocation handoff in progress")
	// ErrNoHandoffInProgress is returned when aborting or completing a handoff that never started.
	ErrNoHandoffInProgress = errors.New("no relocation handoff in progress")
	// ErrPendingInSync is returned when a handoff starts while copies wait to become in-sync.
	ErrPendingInSync = errors.New("shard copies are pending in-sync")
	// ErrNotInSync is returned when activating a primary whose own copy is not in-sync.
	ErrNotInSync = errors.New("own shard copy is not in-sync")
	// ErrNoRoutingTable is returned by operations that need a routing table before any
	// membership update was applied.
	ErrNoRoutingTable = errors.New("no membership update applied yet")
	// ErrOwnCopyNotInContext is returned when a primary context does not know the copy
	// that is about to adopt it.
	ErrOwnCopyNotInContext = errors.New("primary context does not contain own shard copy")
	// ErrMalformedPrimaryContext is returned when a primary context cannot be decoded.
	ErrMalformedPrimaryContext = errors.New("malformed primary context")
)

// UnknownAllocationIDError is returned when an operation names a shard copy that is
// not a member of the replication group.
type UnknownAllocationIDError struct {
	AllocationID string
	// Departed is set if the copy was a member earlier and has since been removed.
	Departed bool
}

// Is checks whether the other errors is of the same type.
func (err UnknownAllocationIDError) Is(other error) bool {
	//nolint:errorlint
	_, ok := other.(UnknownAllocationIDError)
	return ok
}

// Error returns the errors message.
func (err UnknownAllocationIDError) Error() string {
	if err.Departed {
		return fmt.Sprintf("shard copy %q is no longer part of the replication group", err.AllocationID)
	}
	return fmt.Sprintf("shard copy %q was never admitted to the replication group", err.AllocationID)
}
