package octoprint

import (
	"errors"
	"fmt"
)

// Domain errors for the OctoPrint bridge package.
var (
	// ErrTransport wraps every network, timeout or protocol failure.
	ErrTransport = errors.New("octoprint: transport failure")

	// ErrTransportClosed is returned by a Transport after Close.
	ErrTransportClosed = errors.New("octoprint: transport closed")

	// ErrNotInitialized is carried by command outcomes issued before
	// Initialize or after Dispose.
	ErrNotInitialized = errors.New("octoprint: bridge not initialized")

	// ErrAlreadyInitialized is returned by Initialize on a running bridge.
	ErrAlreadyInitialized = errors.New("octoprint: bridge already initialized")

	// ErrUnsupportedValue is returned when a command value is neither a
	// string nor a number.
	ErrUnsupportedValue = errors.New("octoprint: unsupported command value")

	// ErrInvalidConnection is returned for a connection without endpoint or key.
	ErrInvalidConnection = errors.New("octoprint: invalid connection")
)

// TransportError describes a request that did not produce an HTTP response.
//
// It matches both ErrTransport and the underlying cause with errors.Is.
type TransportError struct {
	Method string
	Route  string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("octoprint: %s %s: %v", e.Method, e.Route, e.Err)
}

// Unwrap exposes ErrTransport and the cause.
func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}
