package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/afero"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONFile stores choices as a flat JSON object in one file. The whole
// file is rewritten on every change.
type JSONFile struct {
	fs   afero.Fs
	path string

	mu    sync.Mutex
	state map[string]bool
}

// NewJSONFile returns a store backed by path on fsys.
func NewJSONFile(fsys afero.Fs, path string) *JSONFile {
	return &JSONFile{fs: fsys, path: path, state: make(map[string]bool)}
}

// Path returns the backing file path.
func (s *JSONFile) Path() string { return s.path }

// Load implements Store. A missing file is an empty map.
func (s *JSONFile) Load(_ context.Context) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.state = make(map[string]bool)
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read enabled state: %w", err)
	}

	state := make(map[string]bool)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &state); err != nil {
			s.state = make(map[string]bool)
			return map[string]bool{}, fmt.Errorf("%w: %s: %w", ErrCorrupt, s.path, err)
		}
	}
	s.state = state
	return maps.Clone(state), nil
}

// Set implements Store.
func (s *JSONFile) Set(_ context.Context, id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.state[id]
	s.state[id] = enabled
	if err := s.flush(); err != nil {
		if had {
			s.state[id] = prev
		} else {
			delete(s.state, id)
		}
		return err
	}
	return nil
}

// Delete implements Store.
func (s *JSONFile) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.state[id]
	if !had {
		return nil
	}
	delete(s.state, id)
	if err := s.flush(); err != nil {
		s.state[id] = prev
		return err
	}
	return nil
}

// Close implements Store.
func (s *JSONFile) Close() error { return nil }

// flush writes the map through a temp file and rename. Caller holds s.mu.
func (s *JSONFile) flush() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode enabled state: %w", err)
	}
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write enabled state: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("failed to replace enabled state: %w", err)
	}
	return nil
}
