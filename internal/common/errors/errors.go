// Package errors provides the error taxonomy for the mcp-nexus server.
//
// Every failure that crosses a component boundary is an *AppError carrying a
// Kind. Low-level I/O errors are wrapped at the debugger driver boundary;
// nothing above the driver sees raw stream errors.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for dispatch and for JSON-RPC surfacing.
type Kind string

const (
	KindInvalidArgument   Kind = "INVALID_ARGUMENT"
	KindConfigInvalid     Kind = "CONFIG_INVALID"
	KindSessionNotFound   Kind = "SESSION_NOT_FOUND"
	KindSessionClosing    Kind = "SESSION_CLOSING"
	KindCapacityExceeded  Kind = "CAPACITY_EXCEEDED"
	KindCommandTimeout    Kind = "COMMAND_TIMEOUT"
	KindCancelled         Kind = "CANCELLED"
	KindStartupFailed     Kind = "STARTUP_FAILED"
	KindStartupTimeout    Kind = "STARTUP_TIMEOUT"
	KindProcessDied       Kind = "PROCESS_DIED"
	KindNotActive         Kind = "NOT_ACTIVE"
	KindDisposed          Kind = "DISPOSED"
	KindNotFound          Kind = "NOT_FOUND"
	KindInternal          Kind = "INTERNAL"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// AppError is an application error with a Kind and optional wrapped cause.
type AppError struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates an AppError with the given kind and message.
func New(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

// Newf creates an AppError with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an AppError wrapping an underlying cause.
func Wrap(kind Kind, message string, err error) *AppError {
	return &AppError{Kind: kind, Message: message, Err: err}
}

// InvalidArgument creates an invalid-argument error.
func InvalidArgument(message string) *AppError {
	return New(KindInvalidArgument, message)
}

// ConfigInvalid creates a configuration error.
func ConfigInvalid(message string) *AppError {
	return New(KindConfigInvalid, message)
}

// SessionNotFound creates a session-not-found error.
func SessionNotFound(sessionID string) *AppError {
	return Newf(KindSessionNotFound, "session %q not found", sessionID)
}

// SessionClosing indicates the session is disposing and rejects new work.
func SessionClosing(sessionID string) *AppError {
	return Newf(KindSessionClosing, "session %q is closing", sessionID)
}

// CapacityExceeded indicates the session table is at its configured cap.
func CapacityExceeded(max int) *AppError {
	return Newf(KindCapacityExceeded, "maximum of %d concurrent sessions reached", max)
}

// CommandTimeout indicates a debugger command exceeded its deadline.
func CommandTimeout(message string) *AppError {
	return New(KindCommandTimeout, message)
}

// Cancelled indicates a command was cancelled by the caller or by shutdown.
func Cancelled(message string) *AppError {
	return New(KindCancelled, message)
}

// ProcessDied indicates the debugger subprocess exited unexpectedly.
func ProcessDied(message string, err error) *AppError {
	return Wrap(KindProcessDied, message, err)
}

// NotFound creates a generic lookup failure (commands, resources).
func NotFound(what, id string) *AppError {
	return Newf(KindNotFound, "%s %q not found", what, id)
}

// Internal wraps an unexpected failure.
func Internal(message string, err error) *AppError {
	return Wrap(KindInternal, message, err)
}

// KindOf returns the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// JSONRPCCode maps an error to the JSON-RPC code it is surfaced with.
// Argument-shape problems are invalid-params; everything else a tool can
// fail with is an internal error carrying a readable message.
func JSONRPCCode(err error) int {
	switch KindOf(err) {
	case KindInvalidArgument:
		return CodeInvalidParams
	default:
		return CodeInternalError
	}
}
