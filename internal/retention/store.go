package retention

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gitlab.com/gitlab-org/shardtracker/internal/safe"
)

// StateFileName is the name of the file the leases are persisted to.
const StateFileName = "retention-leases.json"

// StateStore persists retention leases to a directory so that a restarted
// copy can resume with the leases it last knew about.
type StateStore struct {
	m    sync.Mutex
	path string
}

// NewStateStore returns a store that keeps its state file in dir.
func NewStateStore(dir string) *StateStore {
	return &StateStore{path: filepath.Join(dir, StateFileName)}
}

// Path returns the location of the state file.
func (s *StateStore) Path() string { return s.path }

// Load reads the persisted leases. Empty leases are returned if nothing has
// been persisted yet.
func (s *StateStore) Load() (Leases, error) {
	s.m.Lock()
	defer s.m.Unlock()

	return s.load()
}

// Write persists leases unless the persisted state supersedes them. It
// returns whether the state file was written.
func (s *StateStore) Write(leases Leases) (bool, error) {
	s.m.Lock()
	defer s.m.Unlock()

	current, err := s.load()
	if err != nil {
		return false, err
	}

	if current.Supersedes(leases) || current.Equal(leases) {
		return false, nil
	}

	data, err := json.Marshal(leases)
	if err != nil {
		return false, fmt.Errorf("marshal leases: %w", err)
	}

	if err := safe.WriteFile(s.path, data, 0o644); err != nil {
		return false, fmt.Errorf("write leases: %w", err)
	}

	return true, nil
}

func (s *StateStore) load() (Leases, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Empty(), nil
		}
		return Leases{}, fmt.Errorf("read leases: %w", err)
	}

	var leases Leases
	if err := json.Unmarshal(data, &leases); err != nil {
		return Leases{}, fmt.Errorf("decode leases %q: %w", s.path, err)
	}

	return leases, nil
}
