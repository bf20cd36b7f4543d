package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constHook(v any) HookFunc {
	return func(context.Context, ...any) (any, error) { return v, nil }
}

func TestRegisterHookOrdersByPriority(t *testing.T) {
	r := New()
	_, err := r.RegisterHook("a", HookPostParse, 0, constHook("a0"))
	require.NoError(t, err)
	_, err = r.RegisterHook("b", HookPostParse, 5, constHook("b5"))
	require.NoError(t, err)
	_, err = r.RegisterHook("c", HookPostParse, 0, constHook("c0"))
	require.NoError(t, err)
	_, err = r.RegisterHook("a", HookPreParse, 0, constHook("other"))
	require.NoError(t, err)

	results := r.TriggerHook(context.Background(), HookPostParse)
	assert.Equal(t, []any{"b5", "a0", "c0"}, results)
	assert.Empty(t, r.TriggerHook(context.Background(), HookPostBuild))
}

func TestRegisterHookRejectsUnknownHook(t *testing.T) {
	r := New()
	_, err := r.RegisterHook("a", Hook("on_lunch"), 0, constHook(nil))
	assert.ErrorIs(t, err, ErrUnknownHook)

	_, err = r.RegisterHook("a", HookPreBuild, 0, nil)
	assert.Error(t, err)
	assert.Empty(t, r.HookRegistrations(HookPreBuild))
}

func TestTriggerHookSkipsFailures(t *testing.T) {
	r, logs, _ := newObserved(t)
	_, _ = r.RegisterHook("bad", HookPreBuild, 10, func(context.Context, ...any) (any, error) {
		return nil, errors.New("boom")
	})
	_, _ = r.RegisterHook("panics", HookPreBuild, 5, func(context.Context, ...any) (any, error) {
		panic("oops")
	})
	_, _ = r.RegisterHook("good", HookPreBuild, 0, func(_ context.Context, args ...any) (any, error) {
		return args[0], nil
	})

	results := r.TriggerHook(context.Background(), HookPreBuild, "task-1")
	assert.Equal(t, []any{"task-1"}, results)
	assert.Equal(t, 2, logs.FilterMessage("hook failed").Len())
}

func TestTriggerTransformChains(t *testing.T) {
	r := New()
	appendArg := func(_ context.Context, args ...any) (any, error) {
		return args[0].(string) + args[1].(string), nil
	}
	_, _ = r.RegisterHook("a", HookPostGenerate, 1, appendArg)
	_, _ = r.RegisterHook("b", HookPostGenerate, 2, func(_ context.Context, args ...any) (any, error) {
		return "[" + args[0].(string) + "]", nil
	})
	_, _ = r.RegisterHook("c", HookPostGenerate, 0, func(context.Context, ...any) (any, error) {
		return nil, errors.New("ignored")
	})

	got := r.TriggerTransform(context.Background(), HookPostGenerate, "plan", "+")
	assert.Equal(t, "[plan]+", got)
}

func TestPluginHooksEnableDisable(t *testing.T) {
	r := New()
	_, _ = r.RegisterHook("a", HookPreSubtask, 0, constHook("a"))
	_, _ = r.RegisterHook("b", HookPreSubtask, 0, constHook("b"))

	assert.Equal(t, 1, r.SetPluginHooksEnabled("a", false))
	assert.Equal(t, []any{"b"}, r.TriggerHook(context.Background(), HookPreSubtask))
	assert.Len(t, r.HookRegistrations(HookPreSubtask), 2, "disabled hooks stay registered")

	r.SetPluginHooksEnabled("a", true)
	assert.Equal(t, []any{"a", "b"}, r.TriggerHook(context.Background(), HookPreSubtask))
}

func TestUnregisterHooks(t *testing.T) {
	r := New()
	var changes []Change
	r.Subscribe(KindHook, func(c Change) error {
		changes = append(changes, c)
		return nil
	})

	first, _ := r.RegisterHook("a", HookPreSpecCreate, 0, constHook(1))
	_, _ = r.RegisterHook("a", HookPreSpecCreate, 0, constHook(2))
	_, _ = r.RegisterHook("a", HookPostSpecCreate, 0, constHook(3))
	_, _ = r.RegisterHook("b", HookPreSpecCreate, 0, constHook(4))

	assert.True(t, r.UnregisterHook(first.ID))
	assert.False(t, r.UnregisterHook(first.ID))
	assert.Equal(t, 1, r.UnregisterHooks(HookPreSpecCreate, "a"))
	assert.Equal(t, []any{4}, r.TriggerHook(context.Background(), HookPreSpecCreate))

	assert.Equal(t, 1, r.UnregisterAll("a"))
	assert.Empty(t, r.HookRegistrations(HookPostSpecCreate))
	assert.Equal(t, 1, r.Counts()[KindHook])

	require.Len(t, changes, 7)
	assert.Equal(t, ChangeUnregistered, changes[len(changes)-1].Type)

	r.Clear()
	assert.Zero(t, r.Counts()[KindHook])
}
