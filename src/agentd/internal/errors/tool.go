package errors

import (
	stderr "errors"
	"fmt"
)

// UnknownToolError indicates a tools/call for a name that is not registered.
type UnknownToolError struct {
	Name string
}

// Error is an implementation of the error interface.
func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

// UnknownTool returns the requested name and true if an UnknownToolError is
// part of the error chain.
func UnknownTool(e error) (_ string, ok bool) {
	var ut *UnknownToolError
	if !stderr.As(e, &ut) {
		return "", false
	}
	return ut.Name, true
}
