package transfer

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// DefaultStateFile is where simulated external holdings live when no path is configured.
const DefaultStateFile = "./wal/transfer/holdings.json"

// StateStore persists simulated external holdings so restarts keep them.
type StateStore struct {
	path string
}

// State is the persisted holdings snapshot: holder -> asset -> amount.
// Custody is recorded under the custody holder key.
type State struct {
	Holdings map[string]map[string]string `json:"holdings"`
}

// NewStateStore creates a store writing to path. An empty path disables persistence.
func NewStateStore(path string) (*StateStore, error) {
	if path == "" {
		return &StateStore{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create transfer state dir")
	}
	return &StateStore{path: path}, nil
}

// Load reads holdings from disk. A missing or empty file yields nil state.
func (s *StateStore) Load() (*State, error) {
	if s == nil || s.path == "" {
		return nil, nil
	}

	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read transfer state")
	}
	if len(payload) == 0 {
		return nil, nil
	}

	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, errors.Wrap(err, "decode transfer state")
	}
	return &state, nil
}

// Save writes holdings to disk atomically via temp file.
func (s *StateStore) Save(state State) error {
	if s == nil || s.path == "" {
		return nil
	}

	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode transfer state")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(err, "write transfer state temp file")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "persist transfer state")
	}
	return nil
}
