package plugin

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dshills/plughost/internal/plugin/manifest"
	"github.com/dshills/plughost/internal/plugin/registry"
)

// HandleActivationEvent activates every enabled plugin in the loaded or
// inactive state that lists event (or "*"). Plugins in the error state
// are left alone until activated explicitly. Per-plugin failures are
// logged. The ids that became active are returned.
func (m *Manager) HandleActivationEvent(ctx context.Context, event string) []string {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.RLock()
	var candidates []*Record
	for _, id := range m.order {
		rec := m.records[id]
		if !rec.Enabled || rec.invalid || (rec.State != StateLoaded && rec.State != StateInactive) {
			continue
		}
		if rec.Manifest.ActivatesOn(event) {
			candidates = append(candidates, rec)
		}
	}
	m.mu.RUnlock()

	var activated []string
	for _, rec := range candidates {
		if err := m.activateLocked(ctx, rec); err != nil {
			m.logger.Warn("activation event failed",
				zap.String("event", event),
				zap.String("plugin", rec.ID()),
				zap.Error(err))
			continue
		}
		activated = append(activated, rec.ID())
	}
	return activated
}

// ExecuteCommand fires the command's activation event, then runs it.
func (m *Manager) ExecuteCommand(ctx context.Context, id string, args ...any) (any, error) {
	if !m.isInitialized() {
		return nil, ErrNotInitialized
	}
	m.HandleActivationEvent(ctx, manifest.CommandEvent(id))

	result, err := m.registry.ExecuteCommand(ctx, id, args...)
	if err != nil {
		return nil, fmt.Errorf("command %s: %w", id, err)
	}
	return result, nil
}

// Commands returns every registered command.
func (m *Manager) Commands() []registry.Command {
	return m.registry.Commands()
}

// SidebarPanels returns every registered sidebar panel by order.
func (m *Manager) SidebarPanels() []registry.SidebarPanel {
	return m.registry.SidebarPanels()
}

// SettingsSections returns registered settings grouped into sections.
func (m *Manager) SettingsSections() []registry.SettingsSection {
	return m.registry.SettingsSections()
}

// TriggerHook runs the enabled callbacks attached to hook.
func (m *Manager) TriggerHook(ctx context.Context, hook registry.Hook, args ...any) []any {
	return m.registry.TriggerHook(ctx, hook, args...)
}

// TriggerTransform threads data through the callbacks attached to hook.
func (m *Manager) TriggerTransform(ctx context.Context, hook registry.Hook, data any, args ...any) any {
	return m.registry.TriggerTransform(ctx, hook, data, args...)
}

// Subscribe registers a listener for registry changes of one kind.
func (m *Manager) Subscribe(kind registry.Kind, l registry.Listener) func() {
	return m.registry.Subscribe(kind, l)
}
