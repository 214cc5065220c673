package tools

import (
	"errors"
	"fmt"
)

// ErrDuplicateTool is returned when a tool name is registered twice.
// The registry keeps the first registration.
var ErrDuplicateTool = errors.New("tool already registered")

// ErrUnknownTool is returned when invoking a name the registry has never seen.
var ErrUnknownTool = errors.New("unknown tool")

// ArgumentError reports arguments that do not satisfy a tool's declared
// schema. Validation is strict: no coercion beyond JSON's number handling.
type ArgumentError struct {
	Tool   string
	Param  string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("tool %s: argument %q: %s", e.Tool, e.Param, e.Reason)
}

// ExecutionError wraps whatever a tool executor returned. It marks a failure
// that belongs to the tool call itself, not to the orchestration loop.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
