package manifest

import "strings"

// Activation events.
const (
	// EventAll activates the plugin for every event, including startup.
	EventAll = "*"

	// EventStartup activates the plugin when the host starts.
	EventStartup = "onStartup"
)

// Prefixes of parameterised activation events.
const (
	EventPrefixCommand           = "onCommand:"
	EventPrefixView              = "onView:"
	EventPrefixLanguage          = "onLanguage:"
	EventPrefixFileSystem        = "onFileSystem:"
	EventPrefixWorkspaceContains = "workspaceContains:"
)

var eventPrefixes = []string{
	EventPrefixCommand,
	EventPrefixView,
	EventPrefixLanguage,
	EventPrefixFileSystem,
	EventPrefixWorkspaceContains,
}

// CommandEvent returns the activation event fired before a command runs.
func CommandEvent(commandID string) string {
	return EventPrefixCommand + commandID
}

// ViewEvent returns the activation event fired when a view opens.
func ViewEvent(viewID string) string {
	return EventPrefixView + viewID
}

// IsKnownActivationEvent reports whether e belongs to the recognised set.
func IsKnownActivationEvent(e string) bool {
	if e == EventAll || e == EventStartup {
		return true
	}
	for _, prefix := range eventPrefixes {
		if strings.HasPrefix(e, prefix) && len(e) > len(prefix) {
			return true
		}
	}
	return false
}

// ActivatesOnStartup reports whether the plugin starts with the host:
// it lists onStartup or "*", or it declares no activation events at all.
func (m *Manifest) ActivatesOnStartup() bool {
	if len(m.ActivationEvents) == 0 {
		return true
	}
	return m.ActivatesOn(EventStartup)
}

// ActivatesOn reports whether the plugin listens for event.
func (m *Manifest) ActivatesOn(event string) bool {
	for _, e := range m.ActivationEvents {
		if e == event || e == EventAll {
			return true
		}
	}
	return false
}

// Permission names a capability a plugin declares it needs.
type Permission string

// Declarable permissions.
const (
	PermissionFileRead      Permission = "filesystem.read"
	PermissionFileWrite     Permission = "filesystem.write"
	PermissionNetwork       Permission = "network"
	PermissionShell         Permission = "shell"
	PermissionClipboard     Permission = "clipboard"
	PermissionProcess       Permission = "process.spawn"
	PermissionNotifications Permission = "notifications"
	PermissionSettings      Permission = "settings"
	PermissionTasksRead     Permission = "tasks.read"
	PermissionTasksWrite    Permission = "tasks.write"
)

var knownPermissions = map[Permission]bool{
	PermissionFileRead:      true,
	PermissionFileWrite:     true,
	PermissionNetwork:       true,
	PermissionShell:         true,
	PermissionClipboard:     true,
	PermissionProcess:       true,
	PermissionNotifications: true,
	PermissionSettings:      true,
	PermissionTasksRead:     true,
	PermissionTasksWrite:    true,
}

// IsKnownPermission reports whether p is in the declarable set.
func IsKnownPermission(p Permission) bool {
	return knownPermissions[p]
}
