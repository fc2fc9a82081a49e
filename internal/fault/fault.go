// Package fault defines the error taxonomy shared by every layer of the
// harness.
//
// Each error carries a Code that survives wrapping, so callers on either
// side of the script boundary can branch on the category:
//
//   - ConfigError: missing or malformed manifest or chain settings,
//     unreadable contract source, invalid account fields
//   - SessionNotFound: unknown session id
//   - ArgumentError: malformed host-call arguments
//   - SimulatorError: chain-state failure during a call
//   - ScriptError: uncaught exception inside test code
//
// Use CodeOf to classify an arbitrary error; it uses errors.As and so
// sees through fmt.Errorf("%w") chains.
package fault

import (
	"errors"
	"fmt"
)

// Code categorizes harness errors. The string values are part of the
// host-call wire contract.
type Code string

const (
	// CodeConfig indicates a configuration or project layout problem.
	CodeConfig Code = "ConfigError"

	// CodeSessionNotFound indicates an unknown session id.
	CodeSessionNotFound Code = "SessionNotFound"

	// CodeArgument indicates malformed host-call arguments.
	CodeArgument Code = "ArgumentError"

	// CodeSimulator indicates an internal chain simulator failure.
	CodeSimulator Code = "SimulatorError"

	// CodeScript indicates an uncaught exception in script code.
	CodeScript Code = "ScriptError"

	// CodeUnknown is returned by CodeOf for errors outside the taxonomy.
	CodeUnknown Code = "Error"
)

// Coder is implemented by errors that belong to the taxonomy but carry
// their own structure (for example engine.ScriptError).
type Coder interface {
	FaultCode() Code
}

// Error is the structured error used by the config, session, chain and
// hostcall packages.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// SessionID identifies the affected session, when there is one.
	SessionID *uint64

	// Err is the underlying cause (optional).
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.SessionID != nil {
		msg = fmt.Sprintf("%s (session=%d)", msg, *e.SessionID)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// FaultCode implements Coder.
func (e *Error) FaultCode() Code {
	return e.Code
}

// Config creates a ConfigError.
func Config(err error, format string, args ...any) *Error {
	return &Error{Code: CodeConfig, Message: fmt.Sprintf(format, args...), Err: err}
}

// SessionNotFound creates a SessionNotFound error for id.
func SessionNotFound(id uint64) *Error {
	return &Error{Code: CodeSessionNotFound, Message: "session not found", SessionID: &id}
}

// Argument creates an ArgumentError.
func Argument(err error, format string, args ...any) *Error {
	return &Error{Code: CodeArgument, Message: fmt.Sprintf(format, args...), Err: err}
}

// Simulator creates a SimulatorError for the given session.
func Simulator(id uint64, err error, format string, args ...any) *Error {
	return &Error{Code: CodeSimulator, Message: fmt.Sprintf(format, args...), SessionID: &id, Err: err}
}

// CodeOf returns the taxonomy code of err, or CodeUnknown.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var c Coder
	if errors.As(err, &c) {
		return c.FaultCode()
	}
	return CodeUnknown
}

// Is reports whether err (or anything it wraps) has the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
