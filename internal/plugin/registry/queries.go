package registry

import (
	"cmp"
	"slices"

	"github.com/dshills/plughost/internal/plugin/manifest"
)

// DefaultSection is the settings section used when none is declared.
const DefaultSection = "General"

// Command returns the command registered under id.
func (r *Registry) Command(id string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.commands.get(id)
}

// Commands returns all commands ordered by title, then id.
func (r *Registry) Commands() []Command {
	r.mu.RLock()
	out := r.commands.values()
	r.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b Command) int {
		return cmp.Or(cmp.Compare(a.Title, b.Title), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// SidebarPanel returns the panel registered under id.
func (r *Registry) SidebarPanel(id string) (SidebarPanel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sidebarPanels.get(id)
}

// SidebarPanels returns panels in ascending order; ties keep registration order.
func (r *Registry) SidebarPanels() []SidebarPanel {
	r.mu.RLock()
	out := r.sidebarPanels.values()
	r.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b SidebarPanel) int {
		return cmp.Compare(manifest.OrderValue(a.Order), manifest.OrderValue(b.Order))
	})
	return out
}

// Setting returns the setting registered under id.
func (r *Registry) Setting(id string) (Setting, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings.get(id)
}

// Settings returns settings in ascending order.
func (r *Registry) Settings() []Setting {
	r.mu.RLock()
	out := r.settings.values()
	r.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b Setting) int {
		return cmp.Compare(manifest.OrderValue(a.Order), manifest.OrderValue(b.Order))
	})
	return out
}

// SettingsSections groups settings by section. Sections are sorted by
// title and the settings inside each keep ascending order.
func (r *Registry) SettingsSections() []SettingsSection {
	bySection := make(map[string][]Setting)
	for _, s := range r.Settings() {
		title := s.Section
		if title == "" {
			title = DefaultSection
		}
		bySection[title] = append(bySection[title], s)
	}

	sections := make([]SettingsSection, 0, len(bySection))
	for title, settings := range bySection {
		sections = append(sections, SettingsSection{Title: title, Settings: settings})
	}
	slices.SortFunc(sections, func(a, b SettingsSection) int {
		return cmp.Compare(a.Title, b.Title)
	})
	return sections
}

// KanbanAction returns the kanban action registered under id.
func (r *Registry) KanbanAction(id string) (KanbanAction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.kanbanActions.get(id)
}

// KanbanActions returns kanban actions in registration order.
func (r *Registry) KanbanActions() []KanbanAction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.kanbanActions.values()
}

// TaskValidator returns the validator registered under id.
func (r *Registry) TaskValidator(id string) (TaskValidator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.taskValidators.get(id)
}

// TaskValidators returns validators in registration order.
func (r *Registry) TaskValidators() []TaskValidator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.taskValidators.values()
}

// TaskAnalyzer returns the analyzer registered under id.
func (r *Registry) TaskAnalyzer(id string) (TaskAnalyzer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.taskAnalyzers.get(id)
}

// TaskAnalyzers returns analyzers in registration order.
func (r *Registry) TaskAnalyzers() []TaskAnalyzer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.taskAnalyzers.values()
}

// ContextProvider returns the provider registered under id.
func (r *Registry) ContextProvider(id string) (ContextProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.contextProviders.get(id)
}

// ContextProviders returns providers by descending priority.
func (r *Registry) ContextProviders() []ContextProvider {
	r.mu.RLock()
	out := r.contextProviders.values()
	r.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b ContextProvider) int {
		return cmp.Compare(b.Priority, a.Priority)
	})
	return out
}

// Keybindings returns key bindings in ascending order.
func (r *Registry) Keybindings() []Keybinding {
	r.mu.RLock()
	out := r.keybindings.values()
	r.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b Keybinding) int {
		return cmp.Compare(manifest.OrderValue(a.Order), manifest.OrderValue(b.Order))
	})
	return out
}

// MenuItems returns the items of menu in ascending order. An empty menu
// returns every item.
func (r *Registry) MenuItems(menu string) []MenuItem {
	r.mu.RLock()
	all := r.menuItems.values()
	r.mu.RUnlock()

	out := all[:0]
	for _, mi := range all {
		if menu == "" || mi.Menu == menu {
			out = append(out, mi)
		}
	}
	slices.SortStableFunc(out, func(a, b MenuItem) int {
		return cmp.Compare(manifest.OrderValue(a.Order), manifest.OrderValue(b.Order))
	})
	return out
}
