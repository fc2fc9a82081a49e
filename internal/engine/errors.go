package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/chainharness/internal/fault"
)

// ErrAlreadyRun is returned when Run is called on a worker that has
// already left the Created state.
var ErrAlreadyRun = errors.New("worker already run")

// Frame is one stack frame of a script error, after source mapping.
type Frame struct {
	// Function is the function name, empty for anonymous code.
	Function string `json:"function,omitempty"`

	// File is the module specifier or path.
	File string `json:"file"`

	// Line and Column are 1-based. Zero for native frames.
	Line   int `json:"line,omitempty"`
	Column int `json:"column,omitempty"`

	// Native marks frames inside host functions.
	Native bool `json:"native,omitempty"`

	// Mapped is true when the position was rewritten through a source map.
	Mapped bool `json:"mapped,omitempty"`
}

// String renders the frame in the engine's "at fn (file:line:col)" form.
func (f Frame) String() string {
	loc := "native"
	if !f.Native {
		loc = fmt.Sprintf("%s:%d:%d", f.File, f.Line, f.Column)
	}
	if f.Function == "" {
		return loc
	}
	return fmt.Sprintf("%s (%s)", f.Function, loc)
}

// ScriptError is an uncaught exception raised by script code, with its
// stack rewritten to original source positions.
type ScriptError struct {
	// Worker names the execution context the error escaped from.
	Worker string

	// Message is the thrown value rendered as a string, e.g. "Error: boom".
	Message string

	// Frames are the source-mapped stack frames, innermost first.
	Frames []Frame
}

// Error implements the error interface.
func (e *ScriptError) Error() string {
	if len(e.Frames) > 0 {
		return fmt.Sprintf("%s: %s at %s", fault.CodeScript, e.Message, e.Frames[0])
	}
	return fmt.Sprintf("%s: %s", fault.CodeScript, e.Message)
}

// FaultCode implements fault.Coder.
func (e *ScriptError) FaultCode() fault.Code {
	return fault.CodeScript
}

// Stack renders the message followed by one "at" line per frame.
func (e *ScriptError) Stack() string {
	var b strings.Builder
	b.WriteString(e.Message)
	for _, f := range e.Frames {
		b.WriteString("\n    at ")
		b.WriteString(f.String())
	}
	return b.String()
}

// IsScriptError reports whether err is or wraps a ScriptError.
func IsScriptError(err error) bool {
	var se *ScriptError
	return errors.As(err, &se)
}

// PermissionError reports a capability the worker was not granted.
type PermissionError struct {
	// Capability is "read" or "env".
	Capability string

	// Target is the denied path or variable name.
	Target string
}

// Error implements the error interface.
func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: %s access to %q", e.Capability, e.Target)
}
