// Package registry holds the live extension points contributed by plugins.
//
// Each contribution kind has its own store. Commands, sidebar panels,
// settings, kanban actions, task validators, task analyzers and context
// providers are keyed by id; keybindings, menu items and hook callbacks
// are append-only lists. Every entry records the plugin that contributed it so a plugin's
// contributions can be swept in one call when it deactivates.
//
// Listeners subscribe per kind and are invoked synchronously, after the
// registry lock is released, so a listener may query the registry.
package registry

import (
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/plughost/internal/metrics"
	"github.com/dshills/plughost/internal/plugin/manifest"
)

// Registry stores plugin contributions.
type Registry struct {
	mu sync.RWMutex

	commands         *keyedStore[Command]
	sidebarPanels    *keyedStore[SidebarPanel]
	settings         *keyedStore[Setting]
	kanbanActions    *keyedStore[KanbanAction]
	taskValidators   *keyedStore[TaskValidator]
	taskAnalyzers    *keyedStore[TaskAnalyzer]
	contextProviders *keyedStore[ContextProvider]
	keybindings      *listStore[Keybinding]
	menuItems        *listStore[MenuItem]
	hooks            *listStore[HookRegistration]
	nextHook         uint64

	listenersMu  sync.RWMutex
	listeners    map[Kind]map[uint64]Listener
	nextListener uint64

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics sets the metrics sink for conflict and command counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		commands:         newKeyedStore(func(c Command) string { return c.PluginID }),
		sidebarPanels:    newKeyedStore(func(p SidebarPanel) string { return p.PluginID }),
		settings:         newKeyedStore(func(s Setting) string { return s.PluginID }),
		kanbanActions:    newKeyedStore(func(a KanbanAction) string { return a.PluginID }),
		taskValidators:   newKeyedStore(func(v TaskValidator) string { return v.PluginID }),
		taskAnalyzers:    newKeyedStore(func(a TaskAnalyzer) string { return a.PluginID }),
		contextProviders: newKeyedStore(func(p ContextProvider) string { return p.PluginID }),
		keybindings:      newListStore(func(k Keybinding) string { return k.PluginID }),
		menuItems:        newListStore(func(m MenuItem) string { return m.PluginID }),
		hooks:            newListStore(func(h HookRegistration) string { return h.PluginID }),
		listeners:        make(map[Kind]map[uint64]Listener),
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("registry")
	return r
}

// conflict logs an overwrite of an existing id.
func (r *Registry) conflict(kind Kind, id, previousOwner, newOwner string) {
	r.logger.Warn("contribution id already registered, overwriting",
		zap.String("kind", string(kind)),
		zap.String("id", id),
		zap.String("previous_plugin", previousOwner),
		zap.String("plugin", newOwner))
	r.metrics.IncConflict(string(kind))
}

// putKeyed stores v and logs a conflict when the id was already taken.
func putKeyed[T any](r *Registry, s *keyedStore[T], kind Kind, id, pluginID string, v T) Change {
	r.mu.Lock()
	prev, exists := s.put(id, v)
	r.mu.Unlock()
	if exists {
		r.conflict(kind, id, s.owner(prev), pluginID)
	}
	return Change{Kind: kind, Type: ChangeRegistered, ID: id, PluginID: pluginID}
}

// RegisterCommand registers a command with an optional handler.
func (r *Registry) RegisterCommand(pluginID string, cmd manifest.Command, handler CommandHandler) {
	c := Command{Command: cmd, PluginID: pluginID, Handler: handler}
	r.notify(putKeyed(r, r.commands, KindCommand, cmd.ID, pluginID, c))
}

// bindKeyed attaches a runtime implementation to id. An entry already
// declared by pluginID keeps its declaration and goes through attach;
// anything else is replaced by fresh, which counts as a conflict when
// another plugin owned the id.
func bindKeyed[T any](r *Registry, s *keyedStore[T], kind Kind, id, pluginID string, fresh T, attach func(T) T) {
	r.mu.Lock()
	if existing, ok := s.get(id); ok && s.owner(existing) == pluginID {
		s.put(id, attach(existing))
		r.mu.Unlock()
		r.notify(Change{Kind: kind, Type: ChangeRegistered, ID: id, PluginID: pluginID})
		return
	}
	r.mu.Unlock()
	r.notify(putKeyed(r, s, kind, id, pluginID, fresh))
}

// BindCommandHandler attaches handler to a command. A command already
// declared by the same plugin keeps its declaration and only gains the
// handler; otherwise the command is registered with title as its title.
func (r *Registry) BindCommandHandler(pluginID, id, title string, handler CommandHandler) {
	if title == "" {
		title = id
	}
	fresh := Command{Command: manifest.Command{ID: id, Title: title}, PluginID: pluginID, Handler: handler}
	bindKeyed(r, r.commands, KindCommand, id, pluginID, fresh, func(c Command) Command {
		c.Handler = handler
		return c
	})
}

// BindTaskValidator attaches fn to task validator id, keeping the
// plugin's own declaration when there is one.
func (r *Registry) BindTaskValidator(pluginID, id string, fn TaskValidateFunc) {
	fresh := TaskValidator{TaskValidator: manifest.TaskValidator{ID: id}, PluginID: pluginID, Validate: fn}
	bindKeyed(r, r.taskValidators, KindTaskValidator, id, pluginID, fresh, func(v TaskValidator) TaskValidator {
		v.Validate = fn
		return v
	})
}

// BindTaskAnalyzer attaches fn to task analyzer id, keeping the plugin's
// own declaration when there is one.
func (r *Registry) BindTaskAnalyzer(pluginID, id string, fn TaskAnalyzeFunc) {
	fresh := TaskAnalyzer{TaskAnalyzer: manifest.TaskAnalyzer{ID: id}, PluginID: pluginID, Analyze: fn}
	bindKeyed(r, r.taskAnalyzers, KindTaskAnalyzer, id, pluginID, fresh, func(a TaskAnalyzer) TaskAnalyzer {
		a.Analyze = fn
		return a
	})
}

// BindContextProvider attaches fn to context provider id. A declared
// provider keeps its declared priority.
func (r *Registry) BindContextProvider(pluginID, id string, priority int, fn ContextProvideFunc) {
	fresh := ContextProvider{ContextProvider: manifest.ContextProvider{ID: id, Priority: priority}, PluginID: pluginID, Provide: fn}
	bindKeyed(r, r.contextProviders, KindContextProvider, id, pluginID, fresh, func(p ContextProvider) ContextProvider {
		p.Provide = fn
		return p
	})
}

// RegisterSidebarPanel registers a sidebar panel.
func (r *Registry) RegisterSidebarPanel(pluginID string, p manifest.SidebarPanel) {
	v := SidebarPanel{SidebarPanel: p, PluginID: pluginID}
	r.notify(putKeyed(r, r.sidebarPanels, KindSidebarPanel, p.ID, pluginID, v))
}

// RegisterSetting registers a setting.
func (r *Registry) RegisterSetting(pluginID string, s manifest.Setting) {
	if s.Section == "" {
		s.Section = DefaultSection
	}
	v := Setting{Setting: s, PluginID: pluginID}
	r.notify(putKeyed(r, r.settings, KindSetting, s.ID, pluginID, v))
}

// RegisterKanbanAction registers a kanban action.
func (r *Registry) RegisterKanbanAction(pluginID string, a manifest.KanbanAction) {
	v := KanbanAction{KanbanAction: a, PluginID: pluginID}
	r.notify(putKeyed(r, r.kanbanActions, KindKanbanAction, a.ID, pluginID, v))
}

// RegisterTaskValidator registers a task validator. fn may be nil for a
// declaration without runtime behaviour.
func (r *Registry) RegisterTaskValidator(pluginID string, tv manifest.TaskValidator, fn TaskValidateFunc) {
	v := TaskValidator{TaskValidator: tv, PluginID: pluginID, Validate: fn}
	r.notify(putKeyed(r, r.taskValidators, KindTaskValidator, tv.ID, pluginID, v))
}

// RegisterTaskAnalyzer registers a task analyzer.
func (r *Registry) RegisterTaskAnalyzer(pluginID string, ta manifest.TaskAnalyzer, fn TaskAnalyzeFunc) {
	v := TaskAnalyzer{TaskAnalyzer: ta, PluginID: pluginID, Analyze: fn}
	r.notify(putKeyed(r, r.taskAnalyzers, KindTaskAnalyzer, ta.ID, pluginID, v))
}

// RegisterContextProvider registers a context provider.
func (r *Registry) RegisterContextProvider(pluginID string, cp manifest.ContextProvider, fn ContextProvideFunc) {
	v := ContextProvider{ContextProvider: cp, PluginID: pluginID, Provide: fn}
	r.notify(putKeyed(r, r.contextProviders, KindContextProvider, cp.ID, pluginID, v))
}

// RegisterKeybinding appends a key binding.
func (r *Registry) RegisterKeybinding(pluginID string, kb manifest.Keybinding) {
	r.mu.Lock()
	r.keybindings.add(Keybinding{Keybinding: kb, PluginID: pluginID})
	r.mu.Unlock()
	r.notify(Change{Kind: KindKeybinding, Type: ChangeRegistered, ID: kb.Key, PluginID: pluginID})
}

// RegisterMenuItem appends a menu item.
func (r *Registry) RegisterMenuItem(pluginID string, mi manifest.MenuItem) {
	r.mu.Lock()
	r.menuItems.add(MenuItem{MenuItem: mi, PluginID: pluginID})
	r.mu.Unlock()
	r.notify(Change{Kind: KindMenuItem, Type: ChangeRegistered, ID: mi.Command, PluginID: pluginID})
}

// RegisterContributions registers every static contribution declared in c.
func (r *Registry) RegisterContributions(pluginID string, c manifest.Contributes) {
	for _, v := range c.Commands {
		r.RegisterCommand(pluginID, v, nil)
	}
	for _, v := range c.SidebarPanels {
		r.RegisterSidebarPanel(pluginID, v)
	}
	for _, v := range c.Settings {
		r.RegisterSetting(pluginID, v)
	}
	for _, v := range c.KanbanActions {
		r.RegisterKanbanAction(pluginID, v)
	}
	for _, v := range c.TaskValidators {
		r.RegisterTaskValidator(pluginID, v, nil)
	}
	for _, v := range c.TaskAnalyzers {
		r.RegisterTaskAnalyzer(pluginID, v, nil)
	}
	for _, v := range c.ContextProviders {
		r.RegisterContextProvider(pluginID, v, nil)
	}
	for _, v := range c.Keybindings {
		r.RegisterKeybinding(pluginID, v)
	}
	for _, v := range c.MenuItems {
		r.RegisterMenuItem(pluginID, v)
	}
}

func removeIfOwned[T any](s *keyedStore[T], id, pluginID string) bool {
	v, ok := s.get(id)
	if !ok || (pluginID != "" && s.owner(v) != pluginID) {
		return false
	}
	return s.remove(id)
}

// Unregister removes the keyed contribution id of the given kind. When
// pluginID is non-empty the entry is removed only if that plugin still owns
// it, so a stale disposer cannot remove another plugin's overwrite.
func (r *Registry) Unregister(kind Kind, id, pluginID string) (bool, error) {
	r.mu.Lock()
	var removed bool
	switch kind {
	case KindCommand:
		removed = removeIfOwned(r.commands, id, pluginID)
	case KindSidebarPanel:
		removed = removeIfOwned(r.sidebarPanels, id, pluginID)
	case KindSetting:
		removed = removeIfOwned(r.settings, id, pluginID)
	case KindKanbanAction:
		removed = removeIfOwned(r.kanbanActions, id, pluginID)
	case KindTaskValidator:
		removed = removeIfOwned(r.taskValidators, id, pluginID)
	case KindTaskAnalyzer:
		removed = removeIfOwned(r.taskAnalyzers, id, pluginID)
	case KindContextProvider:
		removed = removeIfOwned(r.contextProviders, id, pluginID)
	default:
		r.mu.Unlock()
		return false, fmt.Errorf("kind %q is not keyed by id", kind)
	}
	r.mu.Unlock()

	if removed {
		r.notify(Change{Kind: kind, Type: ChangeUnregistered, ID: id, PluginID: pluginID})
	}
	return removed, nil
}

// UnregisterAll removes every contribution owned by pluginID and returns
// the number removed. Listeners are notified once per affected kind.
func (r *Registry) UnregisterAll(pluginID string) int {
	r.mu.Lock()
	removed := map[Kind]int{
		KindCommand:         len(r.commands.removeOwned(pluginID)),
		KindSidebarPanel:    len(r.sidebarPanels.removeOwned(pluginID)),
		KindSetting:         len(r.settings.removeOwned(pluginID)),
		KindKanbanAction:    len(r.kanbanActions.removeOwned(pluginID)),
		KindTaskValidator:   len(r.taskValidators.removeOwned(pluginID)),
		KindTaskAnalyzer:    len(r.taskAnalyzers.removeOwned(pluginID)),
		KindContextProvider: len(r.contextProviders.removeOwned(pluginID)),
		KindKeybinding:      r.keybindings.removeOwned(pluginID),
		KindMenuItem:        r.menuItems.removeOwned(pluginID),
		KindHook:            r.hooks.removeOwned(pluginID),
	}
	r.mu.Unlock()

	total := 0
	for _, kind := range Kinds {
		if n := removed[kind]; n > 0 {
			total += n
			r.notify(Change{Kind: kind, Type: ChangeUnregistered, PluginID: pluginID})
		}
	}
	return total
}

// Clear removes every contribution without notifying listeners.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.commands.reset()
	r.sidebarPanels.reset()
	r.settings.reset()
	r.kanbanActions.reset()
	r.taskValidators.reset()
	r.taskAnalyzers.reset()
	r.contextProviders.reset()
	r.keybindings.reset()
	r.menuItems.reset()
	r.hooks.reset()
}

// Counts returns the number of entries per kind.
func (r *Registry) Counts() map[Kind]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[Kind]int{
		KindCommand:         r.commands.len(),
		KindSidebarPanel:    r.sidebarPanels.len(),
		KindSetting:         r.settings.len(),
		KindKanbanAction:    r.kanbanActions.len(),
		KindTaskValidator:   r.taskValidators.len(),
		KindTaskAnalyzer:    r.taskAnalyzers.len(),
		KindContextProvider: r.contextProviders.len(),
		KindKeybinding:      r.keybindings.len(),
		KindMenuItem:        r.menuItems.len(),
		KindHook:            r.hooks.len(),
	}
}

// Subscribe registers a listener for changes to kind and returns a function
// that removes it.
func (r *Registry) Subscribe(kind Kind, l Listener) func() {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()

	r.nextListener++
	id := r.nextListener
	if r.listeners[kind] == nil {
		r.listeners[kind] = make(map[uint64]Listener)
	}
	r.listeners[kind][id] = l

	var once sync.Once
	return func() {
		once.Do(func() {
			r.listenersMu.Lock()
			delete(r.listeners[kind], id)
			r.listenersMu.Unlock()
		})
	}
}

// notify delivers c to every listener of its kind, in subscription order.
func (r *Registry) notify(c Change) {
	r.listenersMu.RLock()
	subs := r.listeners[c.Kind]
	ids := make([]uint64, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	ls := make([]Listener, 0, len(ids))
	for _, id := range ids {
		ls = append(ls, subs[id])
	}
	r.listenersMu.RUnlock()

	for _, l := range ls {
		r.callListener(l, c)
	}
}

func (r *Registry) callListener(l Listener, c Change) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("registry listener panicked",
				zap.String("kind", string(c.Kind)),
				zap.Any("panic", p))
		}
	}()
	if err := l(c); err != nil {
		r.logger.Error("registry listener failed",
			zap.String("kind", string(c.Kind)),
			zap.Error(err))
	}
}
