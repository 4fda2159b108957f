package routing

import (
	"fmt"

	"github.com/google/uuid"
)

// AllocationID identifies one copy of a shard independently of the node that
// currently hosts it. While a copy relocates, RelocationID identifies the
// copy being built on the target node.
type AllocationID struct {
	ID           string
	RelocationID string
}

// NewAllocationID returns a fresh allocation ID.
func NewAllocationID() AllocationID {
	return AllocationID{ID: uuid.New().String()}
}

// NewRelocation returns the allocation ID of a copy that starts relocating.
func NewRelocation(a AllocationID) AllocationID {
	return AllocationID{ID: a.ID, RelocationID: uuid.New().String()}
}

// CancelRelocation drops the relocation target.
func CancelRelocation(a AllocationID) AllocationID {
	return AllocationID{ID: a.ID}
}

// FinishRelocation returns the allocation ID the relocation target keeps once
// it took over from the source.
func FinishRelocation(a AllocationID) AllocationID {
	return AllocationID{ID: a.RelocationID}
}

// IsRelocating returns true if a relocation target is attached.
func (a AllocationID) IsRelocating() bool {
	return a.RelocationID != ""
}

func (a AllocationID) String() string {
	if a.IsRelocating() {
		return fmt.Sprintf("[id=%s, rId=%s]", a.ID, a.RelocationID)
	}
	return fmt.Sprintf("[id=%s]", a.ID)
}
