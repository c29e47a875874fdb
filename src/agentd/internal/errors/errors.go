package errors

import stderr "errors"

// New returns an error that formats as the given text.
// Each call to New returns a distinct error value even if the text is identical.
func New(msg string) error {
	return stderr.New(msg)
}

// TransportClosedError reports that the underlying stream has closed.
var TransportClosedError = New("transport closed")

// IsClosed reports whether the error indicates a closed transport.
func IsClosed(e error) bool {
	return stderr.Is(e, TransportClosedError)
}
