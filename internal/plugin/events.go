package plugin

// EventType is the type of a manager lifecycle event.
type EventType int

const (
	// EventPluginLoaded is emitted when a record is added or reloaded.
	EventPluginLoaded EventType = iota
	// EventPluginActivated is emitted when a plugin becomes active.
	EventPluginActivated
	// EventPluginDeactivated is emitted when a plugin becomes inactive.
	EventPluginDeactivated
	// EventPluginUninstalled is emitted when a record is removed.
	EventPluginUninstalled
	// EventPluginError is emitted when a plugin enters the error state.
	EventPluginError
)

// String returns a string representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventPluginLoaded:
		return "loaded"
	case EventPluginActivated:
		return "activated"
	case EventPluginDeactivated:
		return "deactivated"
	case EventPluginUninstalled:
		return "uninstalled"
	case EventPluginError:
		return "error"
	default:
		return "unknown"
	}
}

// Event describes a lifecycle change.
type Event struct {
	Type     EventType
	PluginID string
	State    State
	Err      error
}

// EventHandler handles manager events.
// Handlers run synchronously while a manager operation is in progress, so
// they must not call back into the Manager. Panics are recovered.
type EventHandler func(Event)

// OnEvent registers h and returns a function that removes it.
func (m *Manager) OnEvent(h EventHandler) func() {
	if h == nil {
		return func() {}
	}

	m.mu.Lock()
	m.nextHandler++
	id := m.nextHandler
	m.eventHandlers[id] = h
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.eventHandlers, id)
		m.mu.Unlock()
	}
}

func (m *Manager) emit(e Event) {
	m.mu.RLock()
	handlers := make([]EventHandler, 0, len(m.eventHandlers))
	for _, h := range m.eventHandlers {
		handlers = append(handlers, h)
	}
	m.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if p := recover(); p != nil {
					m.logger.Error("event handler panicked", zapPanic(p))
				}
			}()
			h(e)
		}()
	}
}
