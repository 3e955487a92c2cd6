// Package checkpoint persists the committed source position of a pipeline.
//
// Each pipeline owns one state file. The file is rewritten atomically
// (temp file + rename) after every successfully written batch window, so a
// restart resumes right after the last fully committed window.
package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotFound is returned by Load when no checkpoint was ever committed
var ErrNotFound = errors.New("checkpoint: not found")

// FileStore keeps a State in a single file
type FileStore struct {
	path string
}

// NewFileStore creates the checkpoint directory and returns a store for
// <dir>/<name>.state
func NewFileStore(dir, name string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &FileStore{path: filepath.Join(dir, name+".state")}, nil
}

// Path returns the state file location
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the committed state. It returns ErrNotFound on a cold start.
func (s *FileStore) Load() (*State, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open checkpoint: %w", err)
	}
	defer f.Close()

	state, err := ParseState(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint %s: %w", s.path, err)
	}
	return state, nil
}

// Commit durably replaces the stored state
func (s *FileStore) Commit(state *State) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := WriteState(tmp, state); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}
	return nil
}

// Reset removes the stored state; the next start is a cold start
func (s *FileStore) Reset() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove checkpoint: %w", err)
	}
	return nil
}
