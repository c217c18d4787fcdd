//go:build unix

package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// SocketName is the socket file name inside the per-session directory.
const SocketName = "spice-xpi"

// dialTimeout bounds a single connect attempt; the retry loop owns waiting.
const dialTimeout = time.Second

// maxSocketPath is the longest path that fits sockaddr_un.sun_path with its NUL.
var maxSocketPath = len(unix.RawSockaddrUnix{}.Path) - 1

// UnixSocket connects to a stream socket the client listens on inside a
// private temporary directory.
type UnixSocket struct {
	tempRoot string
	dir      string
	path     string
	conn     net.Conn
}

// NewUnixSocket creates a transport whose session directory is created
// under tempRoot (os.TempDir() when empty).
func NewUnixSocket(tempRoot string) *UnixSocket {
	return &UnixSocket{tempRoot: tempRoot}
}

// New returns the platform transport.
func New(tempRoot string) Transport {
	return NewUnixSocket(tempRoot)
}

// Name implements Transport.
func (s *UnixSocket) Name() string { return "unix" }

// Endpoint implements Transport.
func (s *UnixSocket) Endpoint() string { return s.path }

// SetupControllerPipe creates a 0700 directory spicec-XXXXXX and points
// SPICE_XPI_SOCKET at the socket path inside it.
func (s *UnixSocket) SetupControllerPipe(env map[string]string) error {
	if s.dir == "" {
		dir, err := os.MkdirTemp(s.tempRoot, "spicec-")
		if err != nil {
			return fmt.Errorf("create socket directory: %w", err)
		}
		s.dir = dir
		s.path = filepath.Join(dir, SocketName)
	}
	env[EnvSocket] = s.path
	return nil
}

// Connect implements Transport. A missing socket file or a refused
// connection means the client has not started listening yet.
func (s *UnixSocket) Connect() error {
	if s.path == "" {
		return ErrNoEndpoint
	}
	if s.conn != nil {
		return nil
	}
	if len(s.path) > maxSocketPath {
		return fmt.Errorf("socket path %q exceeds %d bytes", s.path, maxSocketPath)
	}

	conn, err := net.DialTimeout("unix", s.path, dialTimeout)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) ||
			errors.Is(err, unix.ECONNREFUSED) ||
			errors.Is(err, unix.EAGAIN) {
			return fmt.Errorf("%w: %v", ErrRetryable, err)
		}
		return fmt.Errorf("controller connect %s: %w", s.path, err)
	}

	s.conn = conn
	return nil
}

// CheckPipe implements Transport. The socket lives in a directory only the
// current user can enter, so the peer is always trusted.
func (s *UnixSocket) CheckPipe() bool {
	return true
}

// Write implements Transport.
func (s *UnixSocket) Write(p []byte) (int, error) {
	if s.conn == nil {
		return 0, ErrNotConnected
	}
	n, err := s.conn.Write(p)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return n, fmt.Errorf("incomplete send, %d of %d bytes: %w", n, len(p), err)
	}
	return n, nil
}

// Disconnect implements Transport. It closes the socket and removes both
// the socket file and its directory.
func (s *UnixSocket) Disconnect() error {
	var errs []error
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close socket: %w", err))
		}
		s.conn = nil
	}
	if s.path != "" {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove socket: %w", err))
		}
		s.path = ""
	}
	if s.dir != "" {
		if err := os.Remove(s.dir); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove socket directory: %w", err))
		}
		s.dir = ""
	}
	return errors.Join(errs...)
}
