package backend

import (
	"errors"
	"fmt"
)

// Standard errors returned by the backend client.
var (
	// ErrNotConnected indicates a request was attempted while the
	// client socket is not connected or the worker is not running.
	ErrNotConnected = errors.New("client socket not connected or worker not started")

	// ErrAlreadyStarted indicates the client is already started.
	ErrAlreadyStarted = errors.New("backend client already started")

	// ErrShutdown indicates the client has been closed.
	ErrShutdown = errors.New("backend client closed")
)

// ErrorKind classifies errors surfaced through the error handler so
// the embedding application can tell fatal failures from transient
// ones.
type ErrorKind int

const (
	// ErrorSpawn means the worker executable could not be started.
	// Fatal; surfaced synchronously by Start as well.
	ErrorSpawn ErrorKind = iota
	// ErrorSocket means a transport error other than connection
	// refusal; the connection is dropped.
	ErrorSocket
	// ErrorRetryExhausted means every connection attempt was refused.
	// Fatal; the client will not retry further.
	ErrorRetryExhausted
	// ErrorMalformed means an inbound payload could not be decoded.
	// The connection keeps framing from the next header boundary.
	ErrorMalformed
	// ErrorProcess means a worker process failure (crash, read
	// failure, termination timeout).
	ErrorProcess
)

// String returns a human-readable kind name.
func (k ErrorKind) String() string {
	switch k {
	case ErrorSpawn:
		return "spawn"
	case ErrorSocket:
		return "socket"
	case ErrorRetryExhausted:
		return "retry exhausted"
	case ErrorMalformed:
		return "malformed message"
	case ErrorProcess:
		return "process"
	default:
		return "unknown"
	}
}

// InvalidScriptError reports that the worker script path passed to
// Start does not exist.
type InvalidScriptError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *InvalidScriptError) Error() string {
	return fmt.Sprintf("invalid worker script %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *InvalidScriptError) Unwrap() error { return e.Err }

// SocketError reports a transport failure other than connection
// refusal.
type SocketError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *SocketError) Error() string {
	return fmt.Sprintf("socket %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *SocketError) Unwrap() error { return e.Err }

// RetryExhaustedError reports that the connection was refused on every
// attempt. It is fatal: the client stops retrying and requests fail
// with ErrNotConnected until the client is restarted.
type RetryExhaustedError struct {
	Attempts int
}

// Error implements the error interface.
func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("failed to connect to the worker after %d unsuccessful attempts", e.Attempts)
}

// MalformedMessageError reports an inbound payload that framed
// correctly but could not be decoded. Framing is unaffected.
type MalformedMessageError struct {
	Err error
}

// Error implements the error interface.
func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("malformed message: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *MalformedMessageError) Unwrap() error { return e.Err }
