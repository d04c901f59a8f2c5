package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	stateFileMode = os.FileMode(0o600)
	stateDirMode  = os.FileMode(0o700)
)

// Store is the crash-consistent home of one mission's RecoveryState.
// All mutations funnel through Update, which persists before returning,
// so an acknowledged change is never lost to a crash.
type Store interface {
	// Initialize creates and persists a fresh state. It fails if a
	// state file already exists.
	Initialize(source, destination string) (*RecoveryState, error)

	// Load returns the persisted state, or (nil, nil) when none exists
	// yet. An unreadable file yields ErrCorruptState.
	Load() (*RecoveryState, error)

	// Update applies mutate to the current state and persists the
	// result atomically. The returned snapshot is a private copy.
	Update(mutate func(*RecoveryState) error) (*RecoveryState, error)
}

type store struct {
	path string

	// rename swaps the temp file into place. Tests inject a failing
	// implementation to simulate a crash between write and rename.
	rename func(oldpath, newpath string) error

	mu      sync.Mutex
	current *RecoveryState
}

var _ Store = (*store)(nil)

// NewStore builds a Store persisting to path.
func NewStore(path string) Store {
	return &store{
		path:   path,
		rename: os.Rename,
	}
}

func (s *store) Initialize(source, destination string) (*RecoveryState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); err == nil {
		return nil, fmt.Errorf("recovery state already exists at %s", s.path)
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	st := newRecoveryState(source, destination)
	if err := s.persist(st); err != nil {
		return nil, err
	}

	s.current = st
	return st.clone(), nil
}

func (s *store) Load() (*RecoveryState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadLocked()
	if err != nil || st == nil {
		return nil, err
	}
	return st.clone(), nil
}

func (s *store) loadLocked() (*RecoveryState, error) {
	if s.current != nil {
		return s.current, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var st RecoveryState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}

	s.current = &st
	return s.current, nil
}

func (s *store) Update(mutate func(*RecoveryState) error) (*RecoveryState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("recovery state not initialized at %s", s.path)
	}

	next := st.clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.LastUpdate = time.Now().UTC()

	if err := s.persist(next); err != nil {
		return nil, err
	}

	s.current = next
	return next.clone(), nil
}

// persist writes the state to a temp file in the same directory and
// renames it over the target, so readers only ever see a complete file.
func (s *store) persist(st *RecoveryState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, stateDirMode); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(stateFileMode); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return s.rename(tmp.Name(), s.path)
}
