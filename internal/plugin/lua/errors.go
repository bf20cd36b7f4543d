package lua

import (
	"errors"
	"fmt"
)

// ErrStateClosed is returned when operating on a closed state.
var ErrStateClosed = errors.New("lua state is closed")

// ScriptError reports a failure loading or running a chunk.
type ScriptError struct {
	Chunk string
	Err   error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("lua chunk %s: %v", e.Chunk, e.Err)
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}
