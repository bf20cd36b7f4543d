package lua

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestStateRestrictsLibraries(t *testing.T) {
	s := NewState()
	defer s.Close()
	ctx := context.Background()

	for _, name := range []string{"io", "os", "debug", "dofile", "loadfile", "load", "loadstring", "module"} {
		assert.Equal(t, lua.LNil, s.L.GetGlobal(name), name)
	}
	require.NoError(t, s.DoString(ctx, "libs", `x = string.upper("a") .. math.floor(2.5) .. table.concat({"b"})`))
	assert.Equal(t, lua.LString("A2b"), s.L.GetGlobal("x"))
}

func TestStateCallGlobal(t *testing.T) {
	s := NewState()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.DoString(ctx, "funcs", `
function pair(a, b) return a + b, a .. "-" .. b end
function none() end
`))
	assert.True(t, s.HasGlobalFunc("pair"))
	assert.False(t, s.HasGlobalFunc("missing"))

	got, err := s.CallGlobal(ctx, "pair", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(3), "1-2"}, got)

	got, err = s.CallGlobal(ctx, "none")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = s.CallGlobal(ctx, "missing")
	assert.Error(t, err)
	assert.Zero(t, s.L.GetTop(), "stack is balanced")
}

func TestNewStateStartsWithEmptyStack(t *testing.T) {
	s := NewState()
	defer s.Close()

	assert.Zero(t, s.L.GetTop())
	for _, name := range []string{"table", "string", "math"} {
		assert.Equal(t, lua.LTTable, s.L.GetGlobal(name).Type(), name)
	}
}

func TestStateErrorsLeaveStackBalanced(t *testing.T) {
	s := NewState()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.DoString(ctx, "fail", `function fail() error("nope") end`))
	_, err := s.CallGlobal(ctx, "fail")
	assert.ErrorContains(t, err, "nope")
	assert.Zero(t, s.L.GetTop())

	err = s.DoString(ctx, "bad", `this is not lua`)
	var se *ScriptError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "bad", se.Chunk)
}

func TestStateClose(t *testing.T) {
	s := NewState()
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.True(t, s.IsClosed())
	assert.ErrorIs(t, s.DoString(context.Background(), "x", "x = 1"), ErrStateClosed)
	_, err := s.CallGlobal(context.Background(), "x")
	assert.ErrorIs(t, err, ErrStateClosed)
	assert.False(t, s.HasGlobalFunc("x"))
}

func TestPrintGoesToLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s := NewState(WithLogger(zap.New(core)))
	defer s.Close()

	require.NoError(t, s.DoString(context.Background(), "print", `print("a", 1, true)`))
	assert.Equal(t, 1, logs.FilterMessage("a\t1\ttrue").Len())
}

func TestRequire(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/mods/util/strings.lua", []byte(`
count = (count or 0) + 1
return { shout = function(s) return string.upper(s) end }`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/mods/flag.lua", []byte(`flag = true`), 0o644))

	s := NewState(WithModuleRoot(fs, "/mods"))
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.DoString(ctx, "req", `
local u = require("util.strings")
local again = require("util.strings")
shouted = u.shout("hi")
same = (u == again)
flagged = require("flag")
`))
	assert.Equal(t, lua.LString("HI"), s.L.GetGlobal("shouted"))
	assert.Equal(t, lua.LTrue, s.L.GetGlobal("same"))
	assert.Equal(t, lua.LNumber(1), s.L.GetGlobal("count"))
	assert.Equal(t, lua.LTrue, s.L.GetGlobal("flagged"))

	assert.ErrorContains(t, s.DoString(ctx, "missing", `require("nope")`), `module "nope" not found`)
	assert.ErrorContains(t, s.DoString(ctx, "escape", `require("../etc/passwd")`), "invalid module name")
	assert.ErrorContains(t, s.DoString(ctx, "empty", `require("a..b")`), "invalid module name")

	bare := NewState()
	defer bare.Close()
	assert.ErrorContains(t, bare.DoString(ctx, "bare", `require("x")`), "require is disabled")
}
