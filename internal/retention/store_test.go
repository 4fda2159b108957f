package retention

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateStore(t *testing.T) {
	store := NewStateStore(t.TempDir())

	t.Run("missing state file", func(t *testing.T) {
		leases, err := store.Load()
		require.NoError(t, err)
		require.True(t, Empty().Equal(leases))
	})

	first, err := New(1, 1, mustLease(t, "a", 1, 10, "test"))
	require.NoError(t, err)
	second := first.With(mustLease(t, "b", 2, 20, "test")).Bump(1)

	t.Run("write and load", func(t *testing.T) {
		written, err := store.Write(second)
		require.NoError(t, err)
		require.True(t, written)

		loaded, err := store.Load()
		require.NoError(t, err)
		require.True(t, second.Equal(loaded))
	})

	t.Run("stale leases are not written", func(t *testing.T) {
		written, err := store.Write(first)
		require.NoError(t, err)
		require.False(t, written)

		written, err = store.Write(second)
		require.NoError(t, err)
		require.False(t, written)

		loaded, err := store.Load()
		require.NoError(t, err)
		require.True(t, second.Equal(loaded))
	})

	t.Run("newer term wins", func(t *testing.T) {
		newTerm, err := New(2, 0)
		require.NoError(t, err)

		written, err := store.Write(newTerm)
		require.NoError(t, err)
		require.True(t, written)
	})

	t.Run("corrupt state file", func(t *testing.T) {
		require.NoError(t, os.WriteFile(store.Path(), []byte("{"), 0o644))
		_, err := store.Load()
		require.Error(t, err)
	})
}
