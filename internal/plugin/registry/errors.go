package registry

import "errors"

var (
	// ErrCommandNotFound is returned when executing an unknown command.
	ErrCommandNotFound = errors.New("command not found")

	// ErrCommandHasNoHandler is returned when a command is declared but no
	// handler is bound to it.
	ErrCommandHasNoHandler = errors.New("command has no handler")

	// ErrUnknownHook is returned when registering a callback for a hook
	// point that does not exist.
	ErrUnknownHook = errors.New("unknown hook")
)
