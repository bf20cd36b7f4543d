package module

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// Mux dispatches to a Loader chosen by the entry point's file extension.
type Mux struct {
	mu      sync.RWMutex
	loaders map[string]Loader
}

// NewMux creates an empty Mux.
func NewMux() *Mux {
	return &Mux{loaders: make(map[string]Loader)}
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// Handle registers l for files ending in ext, e.g. ".lua".
func (m *Mux) Handle(ext string, l Loader) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaders[normalizeExt(ext)] = l
}

// Extensions returns the registered extensions, sorted.
func (m *Mux) Extensions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	exts := make([]string, 0, len(m.loaders))
	for ext := range m.loaders {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}

func (m *Mux) loaderFor(path string) (Loader, error) {
	ext := normalizeExt(filepath.Ext(path))
	m.mu.RLock()
	l, ok := m.loaders[ext]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEntryPoint, path)
	}
	return l, nil
}

// Load implements Loader.
func (m *Mux) Load(ctx context.Context, path string) (*Exports, error) {
	l, err := m.loaderFor(path)
	if err != nil {
		return nil, err
	}
	return l.Load(ctx, path)
}

// Invalidate implements Loader.
func (m *Mux) Invalidate(path string) {
	if l, err := m.loaderFor(path); err == nil {
		l.Invalidate(path)
	}
}
