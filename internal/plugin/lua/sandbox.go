package lua

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// removedGlobals load code from outside the plugin module tree.
var removedGlobals = []string{"dofile", "loadfile", "load", "loadstring", "module"}

func restrictGlobals(L *lua.LState) {
	for _, name := range removedGlobals {
		L.SetGlobal(name, lua.LNil)
	}
}

// installPrint replaces print with a logger-backed version.
func installPrint(L *lua.LState, logger *zap.Logger) {
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, describe(L, L.Get(i)))
		}
		logger.Info(strings.Join(parts, "\t"))
		return 0
	}))
}

// installRequire resolves require("a.b") to "<dir>/a/b.lua" on fs. Modules
// run once; later calls return the cached value. Without fs, require fails.
func installRequire(L *lua.LState, fs afero.Fs, dir string) {
	loaded := L.NewTable()
	L.SetGlobal("require", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		if v := loaded.RawGetString(name); v != lua.LNil {
			L.Push(v)
			return 1
		}
		if fs == nil {
			L.RaiseError("module %q not found: require is disabled", name)
			return 0
		}
		rel, ok := modulePath(name)
		if !ok {
			L.RaiseError("invalid module name %q", name)
			return 0
		}
		data, err := afero.ReadFile(fs, filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			L.RaiseError("module %q not found", name)
			return 0
		}
		fn, err := L.Load(bytes.NewReader(data), rel)
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		L.Push(fn)
		L.Call(0, 1)
		ret := L.Get(-1)
		L.Pop(1)
		if ret == lua.LNil {
			ret = lua.LTrue
		}
		loaded.RawSetString(name, ret)
		L.Push(ret)
		return 1
	}))
}

// modulePath maps a dotted module name to a relative file path.
func modulePath(name string) (string, bool) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", false
	}
	segments := strings.Split(name, ".")
	for _, seg := range segments {
		if seg == "" {
			return "", false
		}
	}
	return strings.Join(segments, "/") + ".lua", true
}
