package plugin

import (
	"errors"
	"fmt"
)

// Plugin system errors.
var (
	// ErrManifestMissing is returned when a directory has no readable manifest.
	ErrManifestMissing = errors.New("plugin manifest missing")

	// ErrManifestInvalid is returned when a manifest fails validation.
	ErrManifestInvalid = errors.New("plugin manifest invalid")

	// ErrPluginNotFound is returned when no record exists for an id.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrDuplicatePlugin is returned when installing an id that is already known.
	ErrDuplicatePlugin = errors.New("plugin already installed")

	// ErrEngineIncompatible is returned when the host is older than a plugin requires.
	ErrEngineIncompatible = errors.New("plugin requires a newer host")

	// ErrNotInitialized is returned by operations called before Initialize
	// or after Shutdown.
	ErrNotInitialized = errors.New("plugin manager not initialized")

	// ErrIllegalTransition is returned when a lifecycle step would take a
	// record along an edge CanTransition rejects.
	ErrIllegalTransition = errors.New("illegal plugin state transition")
)

// EngineIncompatibleError carries the unmet host requirement.
type EngineIncompatibleError struct {
	PluginID    string
	Required    string
	HostVersion string
}

func (e *EngineIncompatibleError) Error() string {
	return fmt.Sprintf("plugin %q requires host %s, running %s", e.PluginID, e.Required, e.HostVersion)
}

func (e *EngineIncompatibleError) Unwrap() error {
	return ErrEngineIncompatible
}

// ActivationError reports a failed activation.
type ActivationError struct {
	PluginID string
	Err      error
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("failed to activate plugin %q: %v", e.PluginID, e.Err)
}

func (e *ActivationError) Unwrap() error {
	return e.Err
}

// DeactivationError reports a failed deactivate export. Disposers and
// contribution cleanup still ran.
type DeactivationError struct {
	PluginID string
	Err      error
}

func (e *DeactivationError) Error() string {
	return fmt.Sprintf("failed to deactivate plugin %q: %v", e.PluginID, e.Err)
}

func (e *DeactivationError) Unwrap() error {
	return e.Err
}
