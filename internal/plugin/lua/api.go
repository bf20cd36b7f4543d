package lua

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/dshills/plughost/internal/plugin/module"
	"github.com/dshills/plughost/internal/plugin/registry"
)

// contextTable builds the table passed to a plugin's activate function.
//
// It carries the plugin's identity plus the register* functions, subscribe
// and log.
// Lua callbacks are invoked later through s, never while activate holds it.
func contextTable(s *State, pctx *module.Context) *lua.LTable {
	L := s.L
	t := L.NewTable()
	t.RawSetString("pluginId", lua.LString(pctx.PluginID))
	t.RawSetString("pluginPath", lua.LString(pctx.PluginPath))
	t.RawSetString("storagePath", lua.LString(pctx.StoragePath))
	t.RawSetString("hostVersion", lua.LString(pctx.HostVersion))
	t.RawSetString("activationId", lua.LString(pctx.ActivationID))
	perms := L.NewTable()
	for _, p := range pctx.Permissions {
		perms.Append(lua.LString(p))
	}
	t.RawSetString("permissions", perms)

	// Functions accept an optional leading self so both ctx.fn() and
	// ctx:fn() work.
	argBase := func(L *lua.LState) int {
		if L.Get(1) == t {
			return 2
		}
		return 1
	}

	t.RawSetString("registerCommand", L.NewFunction(func(L *lua.LState) int {
		b := argBase(L)
		id := L.CheckString(b)
		fn := L.CheckFunction(b + 1)
		title := L.OptString(b+2, "")
		pctx.RegisterCommand(id, title, func(ctx context.Context, args ...any) (any, error) {
			results, err := s.CallFunction(ctx, fn, args...)
			if err != nil {
				return nil, err
			}
			if len(results) == 0 {
				return nil, nil
			}
			return results[0], nil
		})
		return 0
	}))

	t.RawSetString("registerTaskValidator", L.NewFunction(func(L *lua.LState) int {
		b := argBase(L)
		id := L.CheckString(b)
		fn := L.CheckFunction(b + 1)
		pctx.RegisterTaskValidator(id, func(ctx context.Context, task registry.Task) ([]registry.Issue, error) {
			results, err := s.CallFunction(ctx, fn, map[string]any(task))
			if err != nil {
				return nil, err
			}
			if len(results) == 0 {
				return nil, nil
			}
			return issuesFrom(results[0])
		})
		return 0
	}))

	t.RawSetString("registerTaskAnalyzer", L.NewFunction(func(L *lua.LState) int {
		b := argBase(L)
		id := L.CheckString(b)
		fn := L.CheckFunction(b + 1)
		pctx.RegisterTaskAnalyzer(id, func(ctx context.Context, task registry.Task) (any, error) {
			results, err := s.CallFunction(ctx, fn, map[string]any(task))
			if err != nil || len(results) == 0 {
				return nil, err
			}
			return results[0], nil
		})
		return 0
	}))

	t.RawSetString("registerHook", L.NewFunction(func(L *lua.LState) int {
		b := argBase(L)
		hook := registry.Hook(L.CheckString(b))
		fn := L.CheckFunction(b + 1)
		priority := L.OptInt(b+2, 0)
		err := pctx.RegisterHook(hook, priority, func(ctx context.Context, args ...any) (any, error) {
			results, err := s.CallFunction(ctx, fn, args...)
			if err != nil || len(results) == 0 {
				return nil, err
			}
			return results[0], nil
		})
		if err != nil {
			L.RaiseError("%s", err.Error())
		}
		return 0
	}))

	t.RawSetString("registerContextProvider", L.NewFunction(func(L *lua.LState) int {
		b := argBase(L)
		id := L.CheckString(b)
		priority := L.CheckInt(b + 1)
		fn := L.CheckFunction(b + 2)
		pctx.RegisterContextProvider(id, priority, func(ctx context.Context) (any, error) {
			results, err := s.CallFunction(ctx, fn)
			if err != nil || len(results) == 0 {
				return nil, err
			}
			return results[0], nil
		})
		return 0
	}))

	t.RawSetString("subscribe", L.NewFunction(func(L *lua.LState) int {
		fn := L.CheckFunction(argBase(L))
		pctx.Subscribe(func() error {
			_, err := s.CallFunction(context.Background(), fn)
			return err
		})
		return 0
	}))

	t.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		b := argBase(L)
		level := L.CheckString(b)
		msg := describe(L, L.Get(b+1))
		logAt(pctx.Logger, level, msg)
		return 0
	}))

	return t
}

func logAt(l *zap.Logger, level, msg string) {
	switch level {
	case "debug":
		l.Debug(msg)
	case "warn", "warning":
		l.Warn(msg)
	case "error":
		l.Error(msg)
	default:
		l.Info(msg)
	}
}

// issuesFrom converts a Lua array of {field, message, severity} tables.
func issuesFrom(v any) ([]registry.Issue, error) {
	if v == nil {
		return nil, nil
	}
	if m, ok := v.(map[string]any); ok && len(m) == 0 {
		// An empty Lua table is indistinguishable from an empty list.
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("validator must return a list of issues, got %T", v)
	}
	issues := make([]registry.Issue, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("issue must be a table, got %T", item)
		}
		is := registry.Issue{}
		is.Field, _ = m["field"].(string)
		is.Message, _ = m["message"].(string)
		if sev, ok := m["severity"].(string); ok {
			is.Severity = registry.Severity(sev)
		}
		issues = append(issues, is)
	}
	return issues, nil
}
