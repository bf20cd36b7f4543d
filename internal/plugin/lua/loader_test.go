package lua

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dshills/plughost/internal/plugin/manifest"
	"github.com/dshills/plughost/internal/plugin/module"
	"github.com/dshills/plughost/internal/plugin/registry"
)

const helloMain = `
local greet = require("lib.greet")

activated = 0

function activate(ctx)
  activated = activated + 1
  ctx.registerCommand("hello.say", function(name)
    return greet.message(name)
  end)
  ctx:registerTaskValidator("hello.title", function(task)
    if task.title == nil or task.title == "" then
      return {{field = "title", message = "title is required"}}
    end
    return {}
  end)
  ctx.registerContextProvider("hello.ctx", 5, function()
    return {plugin = ctx.pluginId, host = ctx.hostVersion}
  end)
  ctx.subscribe(function()
    print("disposed", ctx.pluginId)
  end)
  ctx.log("info", "activated " .. ctx.pluginId)
end

function deactivate()
  print("deactivating")
end
`

const greetLib = `
local M = {}
function M.message(name)
  return "Hello, " .. (name or "world")
end
return M
`

func writeFiles(t *testing.T, fs afero.Fs, files map[string]string) {
	t.Helper()
	for name, content := range files {
		require.NoError(t, fs.MkdirAll(filepath.Dir(name), 0o755))
		require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0o644))
	}
}

func newPluginContext(reg *registry.Registry, logger *zap.Logger) *module.Context {
	return module.NewContext(module.ContextConfig{
		PluginID:    "hello",
		PluginPath:  "/plugins/hello",
		HostVersion: "1.2.3",
		Logger:      logger,
		Registry:    reg,
	})
}

func TestLoaderActivateRegistersContributions(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/plugins/hello/main.lua":      helloMain,
		"/plugins/hello/lib/greet.lua": greetLib,
	})
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	ld := NewLoader(fs, WithLoaderLogger(logger))
	defer ld.Close()

	ctx := context.Background()
	exports, err := ld.Load(ctx, "/plugins/hello/main.lua")
	require.NoError(t, err)

	reg := registry.New()
	reg.RegisterCommand("hello", manifest.Command{ID: "hello.say", Title: "Say Hello"}, nil)
	pctx := newPluginContext(reg, logger)
	require.NoError(t, exports.Activate(ctx, pctx))

	got, err := reg.ExecuteCommand(ctx, "hello.say", "Ada")
	require.NoError(t, err)
	assert.Equal(t, "Hello, Ada", got)

	got, err = reg.ExecuteCommand(ctx, "hello.say")
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", got)

	cmd, _ := reg.Command("hello.say")
	assert.Equal(t, "Say Hello", cmd.Title, "declared title is kept")

	report := reg.ValidateTask(ctx, registry.Task{"title": ""})
	assert.False(t, report.Valid)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, "title", report.Issues[0].Field)
	assert.True(t, reg.ValidateTask(ctx, registry.Task{"title": "ok"}).Valid)

	entries := reg.CollectContext(ctx)
	require.Len(t, entries, 1)
	assert.Equal(t, map[string]any{"plugin": "hello", "host": "1.2.3"}, entries[0].Data)

	assert.Equal(t, 1, logs.FilterMessage("activated hello").Len())

	require.NoError(t, exports.Deactivate(ctx))
	require.NoError(t, pctx.Dispose())
	assert.Equal(t, 1, logs.FilterMessage("deactivating").Len())
	assert.Equal(t, 1, logs.FilterMessage("disposed\thello").Len())

	_, ok := reg.Command("hello.say")
	assert.False(t, ok)
}

const pipelineMain = `
function activate(ctx)
  ctx.registerTaskAnalyzer("pipeline.size", function(task)
    return {chars = #task.title}
  end)
  ctx:registerHook("pre_build", function(data, suffix)
    return data .. suffix
  end, 10)
  ctx.registerHook("pre_build", function(data)
    return string.upper(data)
  end)
end
`

func TestLoaderActivateRegistersAnalyzerAndHooks(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{"/plugins/pipeline/main.lua": pipelineMain})

	ld := NewLoader(fs)
	defer ld.Close()

	ctx := context.Background()
	exports, err := ld.Load(ctx, "/plugins/pipeline/main.lua")
	require.NoError(t, err)

	reg := registry.New()
	pctx := newPluginContext(reg, zap.NewNop())
	require.NoError(t, exports.Activate(ctx, pctx))

	got, err := reg.AnalyzeTask(ctx, "pipeline.size", registry.Task{"title": "abcd"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"chars": int64(4)}, got)

	hooks := reg.HookRegistrations(registry.HookPreBuild)
	require.Len(t, hooks, 2)
	assert.Equal(t, 10, hooks[0].Priority)
	assert.Equal(t, "PLAN!", reg.TriggerTransform(ctx, registry.HookPreBuild, "plan", "!"))

	require.NoError(t, pctx.Dispose())
	assert.Empty(t, reg.HookRegistrations(registry.HookPreBuild))
	_, ok := reg.TaskAnalyzer("pipeline.size")
	assert.False(t, ok)
}

func TestLoaderRegisterUnknownHookFails(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{"/plugins/bad/main.lua": `
function activate(ctx)
  ctx.registerHook("on_lunch", function() end)
end
`})
	ld := NewLoader(fs)
	defer ld.Close()

	ctx := context.Background()
	exports, err := ld.Load(ctx, "/plugins/bad/main.lua")
	require.NoError(t, err)

	err = exports.Activate(ctx, newPluginContext(registry.New(), zap.NewNop()))
	assert.ErrorContains(t, err, "unknown hook")
}

func TestLoaderCachesStateUntilInvalidated(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/plugins/counter/main.lua": `loads = (loads or 0) + 1
function activate(ctx)
  ctx.registerCommand("counter.loads", function() return loads end)
end`,
	})
	ld := NewLoader(fs)
	defer ld.Close()
	ctx := context.Background()
	reg := registry.New()

	run := func() any {
		ex, err := ld.Load(ctx, "/plugins/counter/main.lua")
		require.NoError(t, err)
		pctx := newPluginContext(reg, nil)
		require.NoError(t, ex.Activate(ctx, pctx))
		got, err := reg.ExecuteCommand(ctx, "counter.loads")
		require.NoError(t, err)
		require.NoError(t, pctx.Dispose())
		return got
	}

	assert.Equal(t, int64(1), run())
	assert.Equal(t, int64(1), run(), "cached state does not rerun the chunk")

	ld.Invalidate("/plugins/counter/main.lua")
	assert.Equal(t, int64(1), run(), "fresh state after invalidation")
}

func TestLoaderInvalidateClosesHandlers(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/p/x/main.lua": `function activate(ctx) ctx.registerCommand("x.run", function() return 1 end) end`,
	})
	ld := NewLoader(fs)
	ctx := context.Background()
	reg := registry.New()

	ex, err := ld.Load(ctx, "/p/x/main.lua")
	require.NoError(t, err)
	require.NoError(t, ex.Activate(ctx, newPluginContext(reg, nil)))

	ld.Invalidate("/p/x/main.lua")
	_, err = reg.ExecuteCommand(ctx, "x.run")
	assert.ErrorIs(t, err, ErrStateClosed)
	assert.ErrorIs(t, ex.Activate(ctx, newPluginContext(reg, nil)), ErrStateClosed)
}

func TestLoaderErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/p/syntax/main.lua":    `function activate(ctx`,
		"/p/runtime/main.lua":   `error("exploded at load")`,
		"/p/throws/main.lua":    `function activate(ctx) error("activation failed") end`,
		"/p/noexports/main.lua": `x = 1`,
	})
	ld := NewLoader(fs)
	defer ld.Close()
	ctx := context.Background()

	_, err := ld.Load(ctx, "/p/missing/main.lua")
	assert.ErrorIs(t, err, module.ErrModuleNotFound)

	_, err = ld.Load(ctx, "/p/syntax/main.lua")
	var se *ScriptError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "main.lua", se.Chunk)

	_, err = ld.Load(ctx, "/p/runtime/main.lua")
	assert.ErrorContains(t, err, "exploded at load")

	ex, err := ld.Load(ctx, "/p/throws/main.lua")
	require.NoError(t, err)
	err = ex.Activate(ctx, newPluginContext(registry.New(), nil))
	assert.ErrorContains(t, err, "activation failed")

	ex, err = ld.Load(ctx, "/p/noexports/main.lua")
	require.NoError(t, err)
	assert.NoError(t, ex.Activate(ctx, newPluginContext(registry.New(), nil)))
	assert.NoError(t, ex.Deactivate(ctx))
}

func TestLoaderActivationHonoursContext(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/p/spin/main.lua": `function activate(ctx) while true do end end`,
	})
	ld := NewLoader(fs)
	defer ld.Close()

	ex, err := ld.Load(context.Background(), "/p/spin/main.lua")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = ex.Activate(ctx, newPluginContext(registry.New(), nil))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
