package errors

import (
	stderr "errors"
	"fmt"
	"time"

	"go.lsp.dev/protocol"
)

// SpawnError indicates that a language server subprocess could not be started.
type SpawnError struct {
	Command []string
	Err     error
}

// Error is an implementation of the error interface.
func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawning %q: %v", e.Command, e.Err)
}

// Unwrap returns the underlying launch failure.
func (e *SpawnError) Unwrap() error {
	return e.Err
}

// NotReadyError indicates that an operation was attempted outside the Ready state.
type NotReadyError struct {
	State fmt.Stringer
}

// Error is an implementation of the error interface.
func (e *NotReadyError) Error() string {
	return fmt.Sprintf("session is %s, not ready", e.State)
}

// CallTimeoutError indicates that a request's local deadline elapsed before a
// response arrived. The remote server may still reply later; such replies are
// dropped.
type CallTimeoutError struct {
	Method  string
	Timeout time.Duration
}

// Error is an implementation of the error interface.
func (e *CallTimeoutError) Error() string {
	return fmt.Sprintf("request %q timed out after %v", e.Method, e.Timeout)
}

// ConnClosedError indicates that the transport closed while requests were in flight.
type ConnClosedError struct {
	Err error
}

// Error is an implementation of the error interface.
func (e *ConnClosedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connection closed: %v", e.Err)
	}
	return "connection closed"
}

// Unwrap returns the close reason, if any.
func (e *ConnClosedError) Unwrap() error {
	return e.Err
}

// IsConnClosed reports whether a ConnClosedError is part of the error chain.
func IsConnClosed(e error) bool {
	var cc *ConnClosedError
	return stderr.As(e, &cc)
}

// UnknownLanguageError indicates that no server command is configured for a language.
type UnknownLanguageError struct {
	Language protocol.LanguageIdentifier
}

// Error is an implementation of the error interface.
func (e *UnknownLanguageError) Error() string {
	return fmt.Sprintf("no language server configured for %q", e.Language)
}
