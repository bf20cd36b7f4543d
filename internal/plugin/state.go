package plugin

import "fmt"

// State represents the lifecycle state of a plugin.
type State int

// Plugin states.
const (
	// StateInstalled - Plugin directory exists but its manifest has not been read.
	StateInstalled State = iota

	// StateLoaded - Manifest read and validated, plugin not yet activated.
	StateLoaded

	// StateActivating - Activation in progress.
	StateActivating

	// StateActive - Contributions registered and plugin code running.
	StateActive

	// StateDeactivating - Deactivation in progress.
	StateDeactivating

	// StateInactive - Plugin was active and has been deactivated.
	StateInactive

	// StateError - Validation, activation or deactivation failed.
	StateError
)

// AllStates lists every state in lifecycle order.
var AllStates = []State{
	StateInstalled,
	StateLoaded,
	StateActivating,
	StateActive,
	StateDeactivating,
	StateInactive,
	StateError,
}

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateInstalled:
		return "installed"
	case StateLoaded:
		return "loaded"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateDeactivating:
		return "deactivating"
	case StateInactive:
		return "inactive"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state as its name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for _, st := range AllStates {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown plugin state %q", b)
}

// IsTransitional returns true while an activation or deactivation runs.
func (s State) IsTransitional() bool {
	return s == StateActivating || s == StateDeactivating
}

// CanActivate returns true if an activation may start from s.
func (s State) CanActivate() bool {
	return CanTransition(s, StateActivating)
}

// transitions lists the legal edges of the lifecycle. Any state may
// move to StateError.
var transitions = map[State][]State{
	StateInstalled:    {StateLoaded},
	StateLoaded:       {StateActivating},
	StateActivating:   {StateActive},
	StateActive:       {StateDeactivating},
	StateDeactivating: {StateInactive},
	StateInactive:     {StateActivating, StateLoaded},
	StateError:        {StateActivating, StateLoaded},
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to State) bool {
	if to == StateError {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
