package wasm

import (
	"errors"
	"fmt"
)

// ErrClosed is returned when calling into an invalidated module.
var ErrClosed = errors.New("wasm module is closed")

// ExitError reports a non-zero return code from an export, with the
// plugin's error message when it set one.
type ExitError struct {
	Export string
	Code   uint32
	Err    error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wasm export %s returned exit code %d: %v", e.Export, e.Code, e.Err)
	}
	return fmt.Sprintf("wasm export %s returned exit code %d", e.Export, e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}
