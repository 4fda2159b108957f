// Package seqno holds the sequence number constants shared by the checkpoint
// tracking packages.
package seqno

import "fmt"

const (
	// UnassignedSeqNo marks a checkpoint about which nothing is known yet.
	UnassignedSeqNo int64 = -2
	// NoOpsPerformed marks a copy that is known to have applied no operations.
	NoOpsPerformed int64 = -1
)

// IsAssigned returns true if the checkpoint carries information.
func IsAssigned(checkpoint int64) bool {
	return checkpoint != UnassignedSeqNo
}

// MustBeValid panics if the checkpoint is below NoOpsPerformed. Such values
// can only come from a caller bug.
func MustBeValid(checkpoint int64) {
	if checkpoint < NoOpsPerformed {
		panic(fmt.Sprintf("checkpoint must be at least %d but was %d", NoOpsPerformed, checkpoint))
	}
}

// Max returns the larger of the two checkpoints.
func Max(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
