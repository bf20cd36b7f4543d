package registry

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"
)

// Hook names a point in the host's task pipeline where plugin callbacks run.
type Hook string

// Hook points.
const (
	HookPreParse       Hook = "pre_parse"
	HookPostParse      Hook = "post_parse"
	HookPreValidate    Hook = "pre_validate"
	HookPostValidate   Hook = "post_validate"
	HookPreGenerate    Hook = "pre_generate"
	HookPostGenerate   Hook = "post_generate"
	HookPreSpecCreate  Hook = "pre_spec_create"
	HookPostSpecCreate Hook = "post_spec_create"
	HookPreBuild       Hook = "pre_build"
	HookPostBuild      Hook = "post_build"
	HookPreSubtask     Hook = "pre_subtask"
	HookPostSubtask    Hook = "post_subtask"
)

// Hooks lists every hook point in pipeline order.
var Hooks = []Hook{
	HookPreParse, HookPostParse,
	HookPreValidate, HookPostValidate,
	HookPreGenerate, HookPostGenerate,
	HookPreSpecCreate, HookPostSpecCreate,
	HookPreBuild, HookPostBuild,
	HookPreSubtask, HookPostSubtask,
}

// IsKnownHook reports whether h is one of Hooks.
func IsKnownHook(h Hook) bool {
	return slices.Contains(Hooks, h)
}

// HookFunc is a plugin callback. For TriggerTransform the current data is
// passed as the first argument and the return value replaces it.
type HookFunc func(ctx context.Context, args ...any) (any, error)

// HookRegistration is one callback attached to a hook point.
type HookRegistration struct {
	ID       uint64
	Hook     Hook
	PluginID string
	Priority int
	Enabled  bool
	Fn       HookFunc
}

// RegisterHook attaches fn to hook. Higher priorities run first; equal
// priorities run in registration order.
func (r *Registry) RegisterHook(pluginID string, hook Hook, priority int, fn HookFunc) (HookRegistration, error) {
	if !IsKnownHook(hook) {
		return HookRegistration{}, fmt.Errorf("%w: %q", ErrUnknownHook, hook)
	}
	if fn == nil {
		return HookRegistration{}, fmt.Errorf("hook %s: nil callback", hook)
	}

	r.mu.Lock()
	r.nextHook++
	reg := HookRegistration{
		ID:       r.nextHook,
		Hook:     hook,
		PluginID: pluginID,
		Priority: priority,
		Enabled:  true,
		Fn:       fn,
	}
	r.hooks.add(reg)
	r.mu.Unlock()

	r.notify(Change{Kind: KindHook, Type: ChangeRegistered, ID: string(hook), PluginID: pluginID})
	return reg, nil
}

// UnregisterHook removes one registration by id.
func (r *Registry) UnregisterHook(id uint64) bool {
	r.mu.Lock()
	var removed *HookRegistration
	for i, h := range r.hooks.items {
		if h.ID == id {
			removed = &h
			r.hooks.items = slices.Delete(r.hooks.items, i, i+1)
			break
		}
	}
	r.mu.Unlock()

	if removed == nil {
		return false
	}
	r.notify(Change{Kind: KindHook, Type: ChangeUnregistered, ID: string(removed.Hook), PluginID: removed.PluginID})
	return true
}

// UnregisterHooks removes pluginID's callbacks for one hook point and
// returns how many were removed.
func (r *Registry) UnregisterHooks(hook Hook, pluginID string) int {
	r.mu.Lock()
	n := len(r.hooks.items)
	r.hooks.items = slices.DeleteFunc(r.hooks.items, func(h HookRegistration) bool {
		return h.Hook == hook && h.PluginID == pluginID
	})
	n -= len(r.hooks.items)
	r.mu.Unlock()

	if n > 0 {
		r.notify(Change{Kind: KindHook, Type: ChangeUnregistered, ID: string(hook), PluginID: pluginID})
	}
	return n
}

// SetPluginHooksEnabled switches every callback of pluginID on or off
// without removing it. It returns the number of registrations touched.
func (r *Registry) SetPluginHooksEnabled(pluginID string, enabled bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for i := range r.hooks.items {
		if r.hooks.items[i].PluginID == pluginID {
			r.hooks.items[i].Enabled = enabled
			n++
		}
	}
	return n
}

// HookRegistrations returns the callbacks for hook in run order.
func (r *Registry) HookRegistrations(hook Hook) []HookRegistration {
	r.mu.RLock()
	var out []HookRegistration
	for _, h := range r.hooks.items {
		if h.Hook == hook {
			out = append(out, h)
		}
	}
	r.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b HookRegistration) int {
		return b.Priority - a.Priority
	})
	return out
}

// TriggerHook calls every enabled callback for hook with args and returns
// their results in run order. A failing callback is logged and skipped.
func (r *Registry) TriggerHook(ctx context.Context, hook Hook, args ...any) []any {
	var results []any
	for _, h := range r.HookRegistrations(hook) {
		if !h.Enabled {
			continue
		}
		out, err := r.callHook(ctx, h, args)
		if err != nil {
			continue
		}
		results = append(results, out)
	}
	return results
}

// TriggerTransform threads data through every enabled callback for hook.
// Each callback receives the previous result followed by args. A failing
// callback is logged and leaves data unchanged.
func (r *Registry) TriggerTransform(ctx context.Context, hook Hook, data any, args ...any) any {
	for _, h := range r.HookRegistrations(hook) {
		if !h.Enabled {
			continue
		}
		out, err := r.callHook(ctx, h, append([]any{data}, args...))
		if err != nil {
			continue
		}
		data = out
	}
	return data
}

func (r *Registry) callHook(ctx context.Context, h HookRegistration, args []any) (out any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("hook %s panicked: %v", h.Hook, p)
		}
		if err != nil {
			r.logger.Warn("hook failed",
				zap.String("hook", string(h.Hook)),
				zap.String("plugin", h.PluginID),
				zap.Error(err))
		}
	}()
	return h.Fn(ctx, args...)
}
