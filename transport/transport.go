// Package transport owns the private endpoint between the controller and
// the remote client: a Unix domain socket on Unix systems and a named pipe
// on Windows. The client creates and listens on the endpoint; the
// controller only connects to it.
package transport

import "errors"

// Environment variables the spawned client reads to find its endpoint.
const (
	EnvSocket    = "SPICE_XPI_SOCKET"
	EnvNamedPipe = "SPICE_XPI_NAMEDPIPE"
)

// ErrRetryable marks connect failures caused by an endpoint that does not
// accept connections yet. Any other connect error is fatal.
var ErrRetryable = errors.New("endpoint not ready")

// ErrNoEndpoint is returned by Connect before SetupControllerPipe.
var ErrNoEndpoint = errors.New("no endpoint configured")

// ErrNotConnected is returned by Write without an established connection.
var ErrNotConnected = errors.New("transport not connected")

// Transport is one concrete controller endpoint.
type Transport interface {
	// Name identifies the transport variant ("unix" or "named-pipe").
	Name() string
	// Endpoint returns the endpoint address, empty before setup.
	Endpoint() string
	// SetupControllerPipe chooses the endpoint and records it in env,
	// which becomes part of the spawned client's environment.
	SetupControllerPipe(env map[string]string) error
	// Connect attempts one connection. Already connected is success.
	// Errors wrapping ErrRetryable may be retried.
	Connect() error
	// CheckPipe reports whether the connected peer can be trusted.
	// An untrusted transport is closed before CheckPipe returns.
	CheckPipe() bool
	// Write sends p. A short write returns the partial count and an error.
	Write(p []byte) (int, error)
	// Disconnect closes the connection and removes the endpoint. Idempotent.
	Disconnect() error
}

// IsRetryable reports whether a Connect error may be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRetryable)
}
