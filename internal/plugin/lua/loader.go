package lua

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/dshills/plughost/internal/plugin/module"
)

// Entry point globals a Lua module may define.
const (
	ActivateFunc   = "activate"
	DeactivateFunc = "deactivate"
)

// Loader loads Lua entry points. Each path gets its own State, kept until
// Invalidate or Close.
type Loader struct {
	fs     afero.Fs
	logger *zap.Logger

	mu     sync.Mutex
	states map[string]*State
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLoaderLogger sets the logger used for print output and diagnostics.
func WithLoaderLogger(l *zap.Logger) LoaderOption {
	return func(ld *Loader) {
		if l != nil {
			ld.logger = l
		}
	}
}

// NewLoader creates a Loader reading sources from fs.
func NewLoader(fs afero.Fs, opts ...LoaderOption) *Loader {
	l := &Loader{
		fs:     fs,
		logger: zap.NewNop(),
		states: make(map[string]*State),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.Named("lua")
	return l
}

// Load implements module.Loader. The chunk runs once per State; activate
// and deactivate are looked up when called.
func (l *Loader) Load(ctx context.Context, path string) (*module.Exports, error) {
	path = filepath.Clean(path)

	l.mu.Lock()
	s, ok := l.states[path]
	l.mu.Unlock()
	if !ok {
		var err error
		if s, err = l.open(ctx, path); err != nil {
			return nil, err
		}
		l.mu.Lock()
		if existing, raced := l.states[path]; raced {
			_ = s.Close()
			s = existing
		} else {
			l.states[path] = s
		}
		l.mu.Unlock()
	}

	return exportsFor(s), nil
}

func (l *Loader) open(ctx context.Context, path string) (*State, error) {
	code, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", module.ErrModuleNotFound, path, err)
	}
	s := NewState(
		WithModuleRoot(l.fs, filepath.Dir(path)),
		WithLogger(l.logger.With(zap.String("module", path))),
	)
	if err := s.DoString(ctx, filepath.Base(path), string(code)); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func exportsFor(s *State) *module.Exports {
	return &module.Exports{
		Activate: func(ctx context.Context, pctx *module.Context) error {
			if s.IsClosed() {
				return ErrStateClosed
			}
			if !s.HasGlobalFunc(ActivateFunc) {
				return nil
			}
			s.mu.Lock()
			t := contextTable(s, pctx)
			s.mu.Unlock()
			_, err := s.CallGlobal(ctx, ActivateFunc, t)
			return err
		},
		Deactivate: func(ctx context.Context) error {
			if s.IsClosed() || !s.HasGlobalFunc(DeactivateFunc) {
				return nil
			}
			_, err := s.CallGlobal(ctx, DeactivateFunc)
			return err
		},
	}
}

// Invalidate implements module.Loader by closing the State for path.
func (l *Loader) Invalidate(path string) {
	path = filepath.Clean(path)
	l.mu.Lock()
	s, ok := l.states[path]
	delete(l.states, path)
	l.mu.Unlock()
	if ok {
		_ = s.Close()
	}
}

// Close closes every cached State.
func (l *Loader) Close() error {
	l.mu.Lock()
	states := l.states
	l.states = make(map[string]*State)
	l.mu.Unlock()
	for _, s := range states {
		_ = s.Close()
	}
	return nil
}
