package retention

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustLease(t testing.TB, id string, retaining, timestamp int64, source string) Lease {
	t.Helper()
	lease, err := NewLease(id, retaining, timestamp, source)
	require.NoError(t, err)
	return lease
}

func TestNewLease(t *testing.T) {
	for _, tc := range []struct {
		desc      string
		id        string
		retaining int64
		timestamp int64
		source    string
		valid     bool
	}{
		{desc: "valid", id: "lease", retaining: 0, timestamp: 0, source: "backup", valid: true},
		{desc: "empty id", source: "backup"},
		{desc: "empty source", id: "lease"},
		{desc: "negative retaining", id: "lease", retaining: -1, source: "backup"},
		{desc: "negative timestamp", id: "lease", timestamp: -1, source: "backup"},
		{desc: "separator in id", id: "a:b", source: "backup"},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := NewLease(tc.id, tc.retaining, tc.timestamp, tc.source)
			if tc.valid {
				require.NoError(t, err)
				return
			}
			require.True(t, errors.Is(err, ErrInvalidLease))
		})
	}
}

func TestPeerRecoveryLease(t *testing.T) {
	lease := mustLease(t, PeerRecoveryLeaseID("node-1"), 5, 0, PeerRecoverySource)
	require.Equal(t, "peer_recovery/node-1", lease.ID)
	require.True(t, lease.IsPeerRecovery())
	require.False(t, mustLease(t, "other", 0, 0, "backup").IsPeerRecovery())
}

func TestLeases(t *testing.T) {
	a := mustLease(t, "a", 1, 10, "test")
	b := mustLease(t, "b", 2, 20, "test")
	c := mustLease(t, "c", 3, 30, "test")

	leases, err := New(1, 3, c, a)
	require.NoError(t, err)

	t.Run("ordered by id", func(t *testing.T) {
		require.Equal(t, []Lease{a, c}, leases.All())
		require.Equal(t, 2, leases.Len())
	})

	t.Run("get", func(t *testing.T) {
		lease, ok := leases.Get("c")
		require.True(t, ok)
		require.Equal(t, c, lease)
		require.False(t, leases.Contains("b"))
	})

	t.Run("with inserts and replaces without touching the original", func(t *testing.T) {
		withB := leases.With(b)
		require.Equal(t, []Lease{a, b, c}, withB.All())
		require.Equal(t, []Lease{a, c}, leases.All())

		renewed := mustLease(t, "a", 5, 50, "test")
		replaced := withB.With(renewed)
		require.Equal(t, []Lease{renewed, b, c}, replaced.All())
		require.Equal(t, int64(3), replaced.Version())
	})

	t.Run("without", func(t *testing.T) {
		require.Equal(t, []Lease{c}, leases.Without("a").All())
		require.Equal(t, leases.All(), leases.Without("missing").All())
	})

	t.Run("bump", func(t *testing.T) {
		bumped := leases.Bump(2)
		require.Equal(t, int64(2), bumped.PrimaryTerm())
		require.Equal(t, int64(4), bumped.Version())
		require.Equal(t, int64(3), leases.Version())
	})

	t.Run("duplicates", func(t *testing.T) {
		_, err := New(1, 0, a, a)
		require.True(t, errors.Is(err, ErrDuplicateLease))
	})

	t.Run("invalid term", func(t *testing.T) {
		_, err := New(0, 0)
		require.Error(t, err)
	})
}

func TestLeases_Supersedes(t *testing.T) {
	for _, tc := range []struct {
		desc               string
		term, version      int64
		otherTerm, otherV  int64
		expectedSupersedes bool
	}{
		{desc: "higher term lower version", term: 2, version: 1, otherTerm: 1, otherV: 5, expectedSupersedes: true},
		{desc: "same term higher version", term: 1, version: 2, otherTerm: 1, otherV: 1, expectedSupersedes: true},
		{desc: "same term same version", term: 1, version: 1, otherTerm: 1, otherV: 1},
		{desc: "lower term", term: 1, version: 9, otherTerm: 2, otherV: 0},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			this, err := New(tc.term, tc.version)
			require.NoError(t, err)
			other, err := New(tc.otherTerm, tc.otherV)
			require.NoError(t, err)
			require.Equal(t, tc.expectedSupersedes, this.Supersedes(other))
		})
	}
}

func TestLeases_JSON(t *testing.T) {
	leases, err := New(3, 7, mustLease(t, "b", 2, 20, "test"), mustLease(t, "a", 1, 10, "test"))
	require.NoError(t, err)

	data, err := json.Marshal(leases)
	require.NoError(t, err)

	var decoded Leases
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.True(t, leases.Equal(decoded))

	require.Error(t, json.Unmarshal([]byte(`{"primary_term":1,"version":0,"leases":[{"id":"","source":"x"}]}`), &decoded))
}
