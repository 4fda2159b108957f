package retention

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Leases is an immutable, versioned collection of retention leases ordered
// by ID. Every modification returns a new collection so that references
// handed out earlier stay consistent.
type Leases struct {
	primaryTerm int64
	version     int64
	leases      []Lease
}

// Empty returns the collection a new primary starts with.
func Empty() Leases {
	return Leases{primaryTerm: 1}
}

// New returns a collection holding the given leases.
func New(primaryTerm, version int64, leases ...Lease) (Leases, error) {
	if primaryTerm <= 0 {
		return Leases{}, fmt.Errorf("primary term must be positive but was %d", primaryTerm)
	}
	if version < 0 {
		return Leases{}, fmt.Errorf("version must be non-negative but was %d", version)
	}

	sorted := make([]Lease, len(leases))
	copy(sorted, leases)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for i := range sorted {
		if i > 0 && sorted[i].ID == sorted[i-1].ID {
			return Leases{}, LeaseError{ID: sorted[i].ID, Err: ErrDuplicateLease}
		}
	}

	return Leases{primaryTerm: primaryTerm, version: version, leases: sorted}, nil
}

// PrimaryTerm returns the term of the primary that last modified the leases.
func (l Leases) PrimaryTerm() int64 { return l.primaryTerm }

// Version returns the version of the collection.
func (l Leases) Version() int64 { return l.version }

// Len returns the number of leases.
func (l Leases) Len() int { return len(l.leases) }

// All returns a copy of the leases ordered by ID.
func (l Leases) All() []Lease {
	leases := make([]Lease, len(l.leases))
	copy(leases, l.leases)
	return leases
}

// Get returns the lease with the given ID.
func (l Leases) Get(id string) (Lease, bool) {
	i := l.search(id)
	if i < len(l.leases) && l.leases[i].ID == id {
		return l.leases[i], true
	}
	return Lease{}, false
}

// Contains returns true if a lease with the given ID exists.
func (l Leases) Contains(id string) bool {
	_, ok := l.Get(id)
	return ok
}

// With returns a collection in which lease replaces any lease of the same
// ID. Term and version are left unchanged.
func (l Leases) With(lease Lease) Leases {
	i := l.search(lease.ID)
	leases := make([]Lease, 0, len(l.leases)+1)
	leases = append(leases, l.leases[:i]...)
	leases = append(leases, lease)
	if i < len(l.leases) && l.leases[i].ID == lease.ID {
		i++
	}
	leases = append(leases, l.leases[i:]...)

	return Leases{primaryTerm: l.primaryTerm, version: l.version, leases: leases}
}

// Without returns a collection without the lease of the given ID.
func (l Leases) Without(id string) Leases {
	leases := make([]Lease, 0, len(l.leases))
	for _, lease := range l.leases {
		if lease.ID != id {
			leases = append(leases, lease)
		}
	}

	return Leases{primaryTerm: l.primaryTerm, version: l.version, leases: leases}
}

// Bump returns the same leases under the given term with the version
// incremented by one.
func (l Leases) Bump(primaryTerm int64) Leases {
	return Leases{primaryTerm: primaryTerm, version: l.version + 1, leases: l.leases}
}

// Supersedes returns true if l was produced after other: either by a
// primary of a higher term or by the same primary at a higher version.
func (l Leases) Supersedes(other Leases) bool {
	return l.primaryTerm > other.primaryTerm ||
		(l.primaryTerm == other.primaryTerm && l.version > other.version)
}

// Equal compares term, version and every lease.
func (l Leases) Equal(other Leases) bool {
	if l.primaryTerm != other.primaryTerm || l.version != other.version || len(l.leases) != len(other.leases) {
		return false
	}
	for i := range l.leases {
		if l.leases[i] != other.leases[i] {
			return false
		}
	}
	return true
}

func (l Leases) String() string {
	return fmt.Sprintf("RetentionLeases{primaryTerm=%d, version=%d, leases=%v}", l.primaryTerm, l.version, l.leases)
}

func (l Leases) search(id string) int {
	return sort.Search(len(l.leases), func(i int) bool { return l.leases[i].ID >= id })
}

type leasesJSON struct {
	PrimaryTerm int64   `json:"primary_term"`
	Version     int64   `json:"version"`
	Leases      []Lease `json:"leases"`
}

// MarshalJSON implements json.Marshaler.
func (l Leases) MarshalJSON() ([]byte, error) {
	leases := l.leases
	if leases == nil {
		leases = []Lease{}
	}
	return json.Marshal(leasesJSON{PrimaryTerm: l.primaryTerm, Version: l.version, Leases: leases})
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *Leases) UnmarshalJSON(data []byte) error {
	var decoded leasesJSON
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}

	for _, lease := range decoded.Leases {
		if err := lease.Validate(); err != nil {
			return err
		}
	}

	leases, err := New(decoded.PrimaryTerm, decoded.Version, decoded.Leases...)
	if err != nil {
		return err
	}

	*l = leases
	return nil
}
