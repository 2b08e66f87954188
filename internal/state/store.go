package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fakeyudi/afk/internal/lockfile"
)

const (
	stateFile = "state.json"
	lockName  = "state.lock"
)

// Store persists the slot table under a data directory. Every mutation runs
// under an exclusive file lock so concurrent hook processes and the daemon
// never interleave a read-modify-write.
type Store struct {
	path     string
	lockPath string
}

// NewStore returns a Store rooted at dir, creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &Store{
		path:     filepath.Join(dir, stateFile),
		lockPath: filepath.Join(dir, lockName),
	}, nil
}

// Load reads the current table. A missing or empty file yields an empty
// table, never an error: first activation starts from nothing.
func (s *Store) Load() (*Table, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewTable(), nil
		}
		return nil, fmt.Errorf("failed to read slot table: %w", err)
	}
	if len(data) == 0 {
		return NewTable(), nil
	}

	var t Table
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse slot table: %w", err)
	}
	if t.Slots == nil {
		t.Slots = make(map[int]Slot)
	}
	return &t, nil
}

// save marshals t and writes it atomically via a temp file + os.Rename so a
// crash mid-write never corrupts the prior state.
func (s *Store) save(t *Table) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to persist slot table: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "state-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to persist slot table: %w", err)
	}
	tmpName := tmp.Name()

	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to persist slot table: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to persist slot table: %w", err)
	}
	if err = os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to persist slot table: %w", err)
	}
	return nil
}

// Mutate loads the table, applies fn, and saves the result, all under the
// store's exclusive lock. If fn returns an error the table is not saved and
// the error is returned unchanged so callers can match it with errors.Is.
func (s *Store) Mutate(fn func(*Table) error) error {
	lock, err := lockfile.Acquire(s.lockPath)
	if err != nil {
		return fmt.Errorf("locking slot table: %w", err)
	}
	defer lock.Release()

	t, err := s.Load()
	if err != nil {
		return err
	}
	if err := fn(t); err != nil {
		return err
	}
	return s.save(t)
}

// Path returns the location of the state file (for diagnostics).
func (s *Store) Path() string {
	return s.path
}
