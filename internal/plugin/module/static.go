package module

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
)

// Factory builds the exports of a Go-native module.
type Factory func() (*Exports, error)

// Static serves modules compiled into the host. Each path maps to a
// factory whose result is cached until invalidated.
type Static struct {
	mu        sync.Mutex
	factories map[string]Factory
	cache     map[string]*Exports
	loads     map[string]int
}

// NewStatic creates an empty Static loader.
func NewStatic() *Static {
	return &Static{
		factories: make(map[string]Factory),
		cache:     make(map[string]*Exports),
		loads:     make(map[string]int),
	}
}

// Register maps path to f.
func (s *Static) Register(path string, f Factory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path = filepath.Clean(path)
	s.factories[path] = f
	delete(s.cache, path)
}

// Load implements Loader.
func (s *Static) Load(_ context.Context, path string) (*Exports, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path = filepath.Clean(path)
	if ex, ok := s.cache[path]; ok {
		return ex, nil
	}
	f, ok := s.factories[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, path)
	}
	ex, err := f()
	if err != nil {
		return nil, fmt.Errorf("failed to build module %s: %w", path, err)
	}
	if ex == nil {
		ex = &Exports{}
	}
	s.cache[path] = ex
	s.loads[path]++
	return ex, nil
}

// Invalidate implements Loader.
func (s *Static) Invalidate(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, filepath.Clean(path))
}

// Loads returns how many times the factory for path has run.
func (s *Static) Loads(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads[filepath.Clean(path)]
}
