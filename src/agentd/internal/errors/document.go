package errors

import (
	"fmt"

	"go.lsp.dev/uri"
)

// DocumentNotOpenError indicates that a feature operation referenced a
// document that was never opened on the session. Callers must open documents
// explicitly; the session does not auto-open.
type DocumentNotOpenError struct {
	URI uri.URI
}

// Error is an implementation of the error interface.
func (e *DocumentNotOpenError) Error() string {
	return fmt.Sprintf("document %q is not open", e.URI)
}

// DocumentAlreadyOpenError indicates a duplicate open of the same URI.
type DocumentAlreadyOpenError struct {
	URI uri.URI
}

// Error is an implementation of the error interface.
func (e *DocumentAlreadyOpenError) Error() string {
	return fmt.Sprintf("document %q is already open", e.URI)
}
