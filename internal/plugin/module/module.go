// Package module defines how plugin code is loaded and what it sees when
// it runs.
//
// A Loader turns an entry point path into Exports. The plugin manager calls
// Exports.Activate with a Context scoped to one activation; everything the
// plugin registers through that Context is disposed when it deactivates.
package module

import (
	"context"
	"errors"
)

var (
	// ErrModuleNotFound is returned when no module exists at a path.
	ErrModuleNotFound = errors.New("module not found")

	// ErrUnsupportedEntryPoint is returned when no loader handles a path.
	ErrUnsupportedEntryPoint = errors.New("unsupported entry point")
)

// ActivateFunc is a plugin's activate export.
type ActivateFunc func(ctx context.Context, pctx *Context) error

// DeactivateFunc is a plugin's deactivate export.
type DeactivateFunc func(ctx context.Context) error

// Exports holds the lifecycle functions a module provides. Either may be nil.
type Exports struct {
	Activate   ActivateFunc
	Deactivate DeactivateFunc
}

// Loader loads plugin modules by entry point path.
type Loader interface {
	// Load returns the exports of the module at path. Implementations may
	// cache by path until Invalidate is called.
	Load(ctx context.Context, path string) (*Exports, error)

	// Invalidate drops any cached state for path.
	Invalidate(path string)
}
