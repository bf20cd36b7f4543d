package registry

import (
	"context"

	"github.com/dshills/plughost/internal/plugin/manifest"
)

// Kind identifies a contribution store.
type Kind string

// Contribution kinds.
const (
	KindCommand         Kind = "commands"
	KindSidebarPanel    Kind = "sidebarPanels"
	KindSetting         Kind = "settings"
	KindKanbanAction    Kind = "kanbanActions"
	KindTaskValidator   Kind = "taskValidators"
	KindTaskAnalyzer    Kind = "taskAnalyzers"
	KindContextProvider Kind = "contextProviders"
	KindKeybinding      Kind = "keybindings"
	KindMenuItem        Kind = "menuItems"
	KindHook            Kind = "hooks"
)

// Kinds lists every contribution kind in a stable order.
var Kinds = []Kind{
	KindCommand,
	KindSidebarPanel,
	KindSetting,
	KindKanbanAction,
	KindTaskValidator,
	KindTaskAnalyzer,
	KindContextProvider,
	KindKeybinding,
	KindMenuItem,
	KindHook,
}

// CommandHandler runs a command.
type CommandHandler func(ctx context.Context, args ...any) (any, error)

// Task is the opaque task payload passed to validators and analyzers.
type Task map[string]any

// Severity classifies a validation issue.
type Severity string

// Issue severities.
const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Issue is a single finding reported by a task validator.
type Issue struct {
	ValidatorID string   `json:"validatorId"`
	Field       string   `json:"field,omitempty"`
	Message     string   `json:"message"`
	Severity    Severity `json:"severity"`
}

// TaskValidateFunc checks a task and reports issues.
type TaskValidateFunc func(ctx context.Context, task Task) ([]Issue, error)

// TaskAnalyzeFunc produces an analysis of a task.
type TaskAnalyzeFunc func(ctx context.Context, task Task) (any, error)

// ContextProvideFunc produces context data for downstream consumers.
type ContextProvideFunc func(ctx context.Context) (any, error)

// Command is a registered command.
type Command struct {
	manifest.Command
	PluginID string
	Handler  CommandHandler
}

// SidebarPanel is a registered sidebar panel.
type SidebarPanel struct {
	manifest.SidebarPanel
	PluginID string
}

// Setting is a registered setting.
type Setting struct {
	manifest.Setting
	PluginID string
}

// SettingsSection groups settings under a section title.
type SettingsSection struct {
	Title    string
	Settings []Setting
}

// KanbanAction is a registered kanban card action.
type KanbanAction struct {
	manifest.KanbanAction
	PluginID string
}

// TaskValidator is a registered task validator.
type TaskValidator struct {
	manifest.TaskValidator
	PluginID string
	Validate TaskValidateFunc
}

// TaskAnalyzer is a registered task analyzer.
type TaskAnalyzer struct {
	manifest.TaskAnalyzer
	PluginID string
	Analyze  TaskAnalyzeFunc
}

// ContextProvider is a registered context provider.
type ContextProvider struct {
	manifest.ContextProvider
	PluginID string
	Provide  ContextProvideFunc
}

// Keybinding is a registered key binding.
type Keybinding struct {
	manifest.Keybinding
	PluginID string
}

// MenuItem is a registered menu item.
type MenuItem struct {
	manifest.MenuItem
	PluginID string
}

// ChangeType describes what happened to a contribution.
type ChangeType string

// Change types.
const (
	ChangeRegistered   ChangeType = "registered"
	ChangeUnregistered ChangeType = "unregistered"
)

// Change is delivered to listeners after a store of their kind changes.
type Change struct {
	Kind     Kind
	Type     ChangeType
	ID       string
	PluginID string
}

// Listener observes changes to one contribution kind.
type Listener func(Change) error
