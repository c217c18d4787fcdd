package controller

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrNotConnected is returned by Send* without a trusted connection.
	ErrNotConnected = errors.New("controller not connected")
	// ErrClientExited is the cause recorded when the client exits while
	// the controller is still connecting.
	ErrClientExited = errors.New("client exited")
	// ErrInvalidState is returned when an operation does not apply to the
	// current state.
	ErrInvalidState = errors.New("invalid controller state")
)

// SpawnError reports that neither client executable could be started.
type SpawnError struct {
	Err error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn client: %v", e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ConnectError reports that the endpoint never accepted a connection.
type ConnectError struct {
	Endpoint string
	Attempts int
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to %s failed after %d attempt(s): %v", e.Endpoint, e.Attempts, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// TrustError reports an endpoint owned by someone other than the current
// user. It may indicate a local process impersonating the client.
type TrustError struct {
	Endpoint string
}

func (e *TrustError) Error() string {
	return fmt.Sprintf("endpoint %s is not owned by the current user", e.Endpoint)
}

// WriteError reports a configuration message that was not fully written.
type WriteError struct {
	Message string
	Written int
	Size    int
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("send %s: wrote %d of %d bytes: %v", e.Message, e.Written, e.Size, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ErrorKind classifies controller failures.
type ErrorKind string

// Error kinds.
const (
	KindNone    ErrorKind = ""
	KindSpawn   ErrorKind = "spawn"
	KindConnect ErrorKind = "connect"
	KindTrust   ErrorKind = "trust"
	KindWrite   ErrorKind = "write"
	KindOther   ErrorKind = "other"
)

// Kind returns the kind of the first controller error found in err's chain.
func Kind(err error) ErrorKind {
	var (
		spawnErr   *SpawnError
		connectErr *ConnectError
		trustErr   *TrustError
		writeErr   *WriteError
	)
	switch {
	case err == nil:
		return KindNone
	case errors.As(err, &trustErr):
		return KindTrust
	case errors.As(err, &spawnErr):
		return KindSpawn
	case errors.As(err, &connectErr):
		return KindConnect
	case errors.As(err, &writeErr):
		return KindWrite
	default:
		return KindOther
	}
}
