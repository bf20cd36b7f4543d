package module

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dshills/plughost/internal/plugin/manifest"
	"github.com/dshills/plughost/internal/plugin/registry"
)

func newTestContext(t *testing.T, reg *registry.Registry) (*Context, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	return NewContext(ContextConfig{
		PluginID:     "hello",
		PluginPath:   "/plugins/hello",
		ActivationID: "act-1",
		HostVersion:  "1.0.0",
		Permissions:  []string{"network"},
		Logger:       zap.New(core),
		Registry:     reg,
	}), logs
}

func TestContextDisposeRunsEveryDisposer(t *testing.T) {
	c, logs := newTestContext(t, registry.New())

	var order []int
	c.Subscribe(func() error { order = append(order, 1); return nil })
	c.Subscribe(func() error { order = append(order, 2); return errors.New("second failed") })
	c.Subscribe(func() error { panic("third panicked") })
	c.Subscribe(func() error { order = append(order, 4); return nil })
	assert.Equal(t, 4, c.Subscriptions())

	err := c.Dispose()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "second failed")
	assert.Contains(t, err.Error(), "third panicked")
	assert.Equal(t, []int{4, 2, 1}, order)
	assert.Equal(t, 2, logs.FilterMessage("disposer failed").Len())
	assert.Zero(t, c.Subscriptions())

	assert.NoError(t, c.Dispose(), "second dispose is a no-op")

	ran := false
	c.Subscribe(func() error { ran = true; return nil })
	assert.True(t, ran, "subscribing after dispose runs immediately")
}

func TestContextRegistrationsAreDisposed(t *testing.T) {
	reg := registry.New()
	reg.RegisterCommand("hello", manifest.Command{ID: "hello.say", Title: "Say Hello"}, nil)
	c, _ := newTestContext(t, reg)

	c.RegisterCommand("hello.say", "", func(context.Context, ...any) (any, error) { return "hi", nil })
	c.RegisterTaskValidator("hello.tv", func(context.Context, registry.Task) ([]registry.Issue, error) { return nil, nil })
	c.RegisterTaskAnalyzer("hello.ta", func(context.Context, registry.Task) (any, error) { return nil, nil })
	c.RegisterContextProvider("hello.cp", 7, func(context.Context) (any, error) { return "ctx", nil })
	require.NoError(t, c.RegisterHook(registry.HookPreGenerate, 1, func(context.Context, ...any) (any, error) { return "gen", nil }))
	assert.ErrorIs(t, c.RegisterHook(registry.Hook("nope"), 0, func(context.Context, ...any) (any, error) { return nil, nil }), registry.ErrUnknownHook)
	assert.Equal(t, []any{"gen"}, reg.TriggerHook(context.Background(), registry.HookPreGenerate))

	cmd, ok := reg.Command("hello.say")
	require.True(t, ok)
	assert.Equal(t, "Say Hello", cmd.Title)

	got, err := c.ExecuteCommand(context.Background(), "hello.say")
	require.NoError(t, err)
	assert.Equal(t, "hi", got)

	cp, ok := reg.ContextProvider("hello.cp")
	require.True(t, ok)
	assert.Equal(t, 7, cp.Priority)

	require.NoError(t, c.Dispose())
	for kind, n := range reg.Counts() {
		assert.Zero(t, n, kind)
	}
}

func TestContextDisposerDoesNotRemoveOtherOwner(t *testing.T) {
	reg := registry.New()
	c, _ := newTestContext(t, reg)
	c.RegisterCommand("shared", "Shared", func(context.Context, ...any) (any, error) { return nil, nil })
	reg.RegisterCommand("other", manifest.Command{ID: "shared", Title: "Other"}, nil)

	require.NoError(t, c.Dispose())
	cmd, ok := reg.Command("shared")
	require.True(t, ok)
	assert.Equal(t, "other", cmd.PluginID)
}

func TestContextHasPermission(t *testing.T) {
	c, _ := newTestContext(t, registry.New())
	assert.True(t, c.HasPermission(manifest.PermissionNetwork))
	assert.False(t, c.HasPermission(manifest.PermissionShell))
}

func TestStaticLoaderCachesUntilInvalidated(t *testing.T) {
	s := NewStatic()
	s.Register("/plugins/hello/main.go", func() (*Exports, error) {
		return &Exports{Activate: func(context.Context, *Context) error { return nil }}, nil
	})

	ctx := context.Background()
	first, err := s.Load(ctx, "/plugins/hello/main.go")
	require.NoError(t, err)
	second, err := s.Load(ctx, "/plugins/hello/./main.go")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, s.Loads("/plugins/hello/main.go"))

	s.Invalidate("/plugins/hello/main.go")
	third, err := s.Load(ctx, "/plugins/hello/main.go")
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, 2, s.Loads("/plugins/hello/main.go"))

	_, err = s.Load(ctx, "/plugins/missing/main.go")
	assert.ErrorIs(t, err, ErrModuleNotFound)

	s.Register("/plugins/bad/main.go", func() (*Exports, error) { return nil, errors.New("boom") })
	_, err = s.Load(ctx, "/plugins/bad/main.go")
	assert.ErrorContains(t, err, "boom")
}

type recordingLoader struct {
	loaded      []string
	invalidated []string
}

func (r *recordingLoader) Load(_ context.Context, path string) (*Exports, error) {
	r.loaded = append(r.loaded, path)
	return &Exports{}, nil
}

func (r *recordingLoader) Invalidate(path string) {
	r.invalidated = append(r.invalidated, path)
}

func TestMuxDispatchesByExtension(t *testing.T) {
	lua := &recordingLoader{}
	wasm := &recordingLoader{}
	m := NewMux()
	m.Handle(".lua", lua)
	m.Handle("wasm", wasm)
	assert.Equal(t, []string{".lua", ".wasm"}, m.Extensions())

	ctx := context.Background()
	_, err := m.Load(ctx, "/p/a/main.lua")
	require.NoError(t, err)
	_, err = m.Load(ctx, "/p/b/plugin.WASM")
	require.NoError(t, err)
	_, err = m.Load(ctx, "/p/c/index.js")
	assert.ErrorIs(t, err, ErrUnsupportedEntryPoint)

	m.Invalidate("/p/a/main.lua")
	m.Invalidate("/p/c/index.js")

	assert.Equal(t, []string{"/p/a/main.lua"}, lua.loaded)
	assert.Equal(t, []string{"/p/b/plugin.WASM"}, wasm.loaded)
	assert.Equal(t, []string{"/p/a/main.lua"}, lua.invalidated)
}
