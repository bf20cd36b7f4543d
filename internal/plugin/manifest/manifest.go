// Package manifest defines the plugin.json schema and its validation rules.
package manifest

import (
	"fmt"
	"slices"

	"github.com/creasty/defaults"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/afero"
)

// FileName is the fixed manifest name inside every plugin directory.
const FileName = "plugin.json"

// DefaultOrder is the order assigned to contributions that do not declare one.
const DefaultOrder = 100

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Manifest describes a plugin's identity, entry points and contributions.
type Manifest struct {
	// Identity
	ID          string   `json:"id" validate:"required,plugin_id"`
	Name        string   `json:"name" validate:"required"`
	Version     string   `json:"version" validate:"required,plugin_version"`
	Description string   `json:"description,omitempty"`
	Author      string   `json:"author,omitempty"`
	Repository  string   `json:"repository,omitempty"`
	Homepage    string   `json:"homepage,omitempty"`
	License     string   `json:"license,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`

	// Requirements
	Engines      Engines           `json:"engines,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`

	// Entry points, relative to the plugin directory
	Main     string `json:"main,omitempty"`
	Renderer string `json:"renderer,omitempty"`

	Contributes      Contributes `json:"contributes,omitempty"`
	ActivationEvents []string    `json:"activationEvents,omitempty"`

	// Permissions are declarative only; nothing enforces them.
	Permissions []string `json:"permissions,omitempty"`

	EnabledByDefault *bool `json:"enabledByDefault,omitempty" default:"true"`
}

// Engines holds host version requirements.
type Engines struct {
	// Host is a minimum version requirement such as ">=1.4.0".
	Host string `json:"host,omitempty"`
}

// Contributes lists the extension points a plugin declares statically.
type Contributes struct {
	Commands         []Command         `json:"commands,omitempty" validate:"dive"`
	SidebarPanels    []SidebarPanel    `json:"sidebarPanels,omitempty" validate:"dive"`
	Settings         []Setting         `json:"settings,omitempty" validate:"dive"`
	KanbanActions    []KanbanAction    `json:"kanbanActions,omitempty" validate:"dive"`
	TaskValidators   []TaskValidator   `json:"taskValidators,omitempty" validate:"dive"`
	TaskAnalyzers    []TaskAnalyzer    `json:"taskAnalyzers,omitempty" validate:"dive"`
	ContextProviders []ContextProvider `json:"contextProviders,omitempty" validate:"dive"`
	Keybindings      []Keybinding      `json:"keybindings,omitempty" validate:"dive"`
	MenuItems        []MenuItem        `json:"menuItems,omitempty" validate:"dive"`
}

// Count returns the total number of declared contributions.
func (c Contributes) Count() int {
	return len(c.Commands) + len(c.SidebarPanels) + len(c.Settings) +
		len(c.KanbanActions) + len(c.TaskValidators) + len(c.TaskAnalyzers) +
		len(c.ContextProviders) + len(c.Keybindings) + len(c.MenuItems)
}

// Command declares a command.
type Command struct {
	ID          string `json:"id" validate:"required"`
	Title       string `json:"title" validate:"required"`
	Category    string `json:"category,omitempty"`
	Description string `json:"description,omitempty"`
	Icon        string `json:"icon,omitempty"`
	When        string `json:"when,omitempty"`
}

// SidebarPanel declares a sidebar panel.
type SidebarPanel struct {
	ID    string `json:"id" validate:"required"`
	Title string `json:"title,omitempty"`
	Icon  string `json:"icon" validate:"required"`
	When  string `json:"when,omitempty"`
	Order *int   `json:"order,omitempty" default:"100"`
}

// Setting declares a user-facing setting.
type Setting struct {
	ID          string   `json:"id" validate:"required"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Type        string   `json:"type" validate:"required"`
	Default     any      `json:"default,omitempty"`
	Options     []string `json:"options,omitempty"`
	Section     string   `json:"section,omitempty" default:"General"`
	Order       *int     `json:"order,omitempty" default:"100"`
}

// SettingTypes are the setting types hosts know how to render. Other
// types are accepted with a warning.
var SettingTypes = []string{"string", "number", "boolean", "select", "array", "object"}

// IsKnownSettingType reports whether t is one of SettingTypes.
func IsKnownSettingType(t string) bool {
	return slices.Contains(SettingTypes, t)
}

// KanbanAction declares an action shown on kanban cards.
type KanbanAction struct {
	ID      string `json:"id" validate:"required"`
	Title   string `json:"title" validate:"required"`
	Icon    string `json:"icon,omitempty"`
	Command string `json:"command,omitempty"`
	When    string `json:"when,omitempty"`
}

// TaskValidator declares a task validator.
type TaskValidator struct {
	ID          string `json:"id" validate:"required"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// TaskAnalyzer declares a task analyzer.
type TaskAnalyzer struct {
	ID          string `json:"id" validate:"required"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// ContextProvider declares a context provider. Higher priority runs first.
type ContextProvider struct {
	ID          string `json:"id" validate:"required"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Priority    int    `json:"priority,omitempty"`
}

// Keybinding declares a default key binding for a command.
type Keybinding struct {
	Key     string `json:"key" validate:"required"`
	Command string `json:"command" validate:"required"`
	Mac     string `json:"mac,omitempty"`
	When    string `json:"when,omitempty"`
	Order   *int   `json:"order,omitempty" default:"100"`
}

// MenuItem declares an entry in a host menu.
type MenuItem struct {
	Menu    string `json:"menu" validate:"required"`
	Command string `json:"command" validate:"required"`
	Title   string `json:"title,omitempty"`
	Group   string `json:"group,omitempty"`
	When    string `json:"when,omitempty"`
	Order   *int   `json:"order,omitempty" default:"100"`
}

// OrderValue dereferences an order field, falling back to DefaultOrder.
func OrderValue(p *int) int {
	if p == nil {
		return DefaultOrder
	}
	return *p
}

// Parse decodes a manifest and applies field defaults.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	// Defaults run after decoding so that contribution slices are populated.
	if err := defaults.Set(&m); err != nil {
		return nil, fmt.Errorf("failed to apply manifest defaults: %w", err)
	}
	return &m, nil
}

// ReadFile reads and parses the manifest at path.
func ReadFile(fsys afero.Fs, path string) (*Manifest, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return Parse(data)
}

// IsEnabledByDefault reports the manifest default, which is true when unset.
func (m *Manifest) IsEnabledByDefault() bool {
	return m.EnabledByDefault == nil || *m.EnabledByDefault
}

// HasPermission reports whether the manifest declares p.
func (m *Manifest) HasPermission(p Permission) bool {
	for _, declared := range m.Permissions {
		if Permission(declared) == p {
			return true
		}
	}
	return false
}

// String returns "Name vVersion".
func (m *Manifest) String() string {
	name := m.Name
	if name == "" {
		name = m.ID
	}
	return fmt.Sprintf("%s v%s", name, m.Version)
}

// Clone returns a deep copy of the slices and maps a caller could mutate.
func (m *Manifest) Clone() *Manifest {
	clone := *m
	clone.Keywords = append([]string(nil), m.Keywords...)
	clone.ActivationEvents = append([]string(nil), m.ActivationEvents...)
	clone.Permissions = append([]string(nil), m.Permissions...)
	if m.Dependencies != nil {
		clone.Dependencies = make(map[string]string, len(m.Dependencies))
		for k, v := range m.Dependencies {
			clone.Dependencies[k] = v
		}
	}
	c := m.Contributes
	clone.Contributes = Contributes{
		Commands:         append([]Command(nil), c.Commands...),
		SidebarPanels:    append([]SidebarPanel(nil), c.SidebarPanels...),
		Settings:         append([]Setting(nil), c.Settings...),
		KanbanActions:    append([]KanbanAction(nil), c.KanbanActions...),
		TaskValidators:   append([]TaskValidator(nil), c.TaskValidators...),
		TaskAnalyzers:    append([]TaskAnalyzer(nil), c.TaskAnalyzers...),
		ContextProviders: append([]ContextProvider(nil), c.ContextProviders...),
		Keybindings:      append([]Keybinding(nil), c.Keybindings...),
		MenuItems:        append([]MenuItem(nil), c.MenuItems...),
	}
	return &clone
}
