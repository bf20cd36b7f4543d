package lua

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/afero"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// State wraps a gopher-lua state for one plugin module.
//
// gopher-lua's LState is not goroutine-safe; every entry into Lua goes
// through the State mutex, so command handlers may be called from any
// goroutine. A call must not re-enter the same State.
type State struct {
	L *lua.LState

	mu     sync.Mutex
	closed bool
}

type stateConfig struct {
	fs      afero.Fs
	baseDir string
	logger  *zap.Logger
}

// StateOption configures a State.
type StateOption func(*stateConfig)

// WithModuleRoot lets require load "<name>.lua" files below dir on fs.
func WithModuleRoot(fs afero.Fs, dir string) StateOption {
	return func(c *stateConfig) {
		c.fs = fs
		c.baseDir = dir
	}
}

// WithLogger routes print output to l.
func WithLogger(l *zap.Logger) StateOption {
	return func(c *stateConfig) {
		c.logger = l
	}
}

// NewState creates a state with only the base, table, string and math
// libraries opened.
func NewState(opts ...StateOption) *State {
	cfg := stateConfig{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	restrictGlobals(L)
	installPrint(L, cfg.logger)
	installRequire(L, cfg.fs, cfg.baseDir)

	return &State{L: L}
}

// DoString runs a chunk. name appears in error messages.
func (s *State) DoString(ctx context.Context, name, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}
	fn, err := s.L.Load(strings.NewReader(code), name)
	if err != nil {
		return &ScriptError{Chunk: name, Err: err}
	}
	_, err = s.pcall(ctx, fn, nil)
	if err != nil {
		return &ScriptError{Chunk: name, Err: err}
	}
	return nil
}

// HasGlobalFunc reports whether name is a global function.
func (s *State) HasGlobalFunc(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	_, ok := s.L.GetGlobal(name).(*lua.LFunction)
	return ok
}

// CallGlobal calls the global function name. Missing functions are an error.
func (s *State) CallGlobal(ctx context.Context, name string, args ...any) ([]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStateClosed
	}
	fn, ok := s.L.GetGlobal(name).(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("global function %q not defined", name)
	}
	return s.pcall(ctx, fn, args)
}

// CallFunction calls fn with Go arguments and returns its results as Go values.
func (s *State) CallFunction(ctx context.Context, fn *lua.LFunction, args ...any) ([]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStateClosed
	}
	return s.pcall(ctx, fn, args)
}

// pcall runs fn. The caller holds s.mu.
func (s *State) pcall(ctx context.Context, fn *lua.LFunction, args []any) (results []any, err error) {
	if ctx != nil && ctx.Done() != nil {
		s.L.SetContext(ctx)
		defer s.L.RemoveContext()
	}

	top := s.L.GetTop()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
		if err != nil {
			s.L.SetTop(top)
			if ctx != nil && ctx.Err() != nil {
				err = fmt.Errorf("%w: %w", ctx.Err(), err)
			}
		}
	}()

	s.L.Push(fn)
	for _, a := range args {
		s.L.Push(ToLua(s.L, a))
	}
	if err := s.L.PCall(len(args), lua.MultRet, nil); err != nil {
		return nil, err
	}

	n := s.L.GetTop() - top
	results = make([]any, 0, n)
	for i := 1; i <= n; i++ {
		results = append(results, ToGo(s.L.Get(top+i)))
	}
	s.L.SetTop(top)
	return results, nil
}

// IsClosed reports whether Close has been called.
func (s *State) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the Lua state. It is safe to call more than once.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.L.Close()
	s.closed = true
	return nil
}
