//go:build windows

package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/Microsoft/go-winio"
	"github.com/google/uuid"
	"golang.org/x/sys/windows"
)

// pipePrefix is prepended to a random suffix so concurrent sessions never collide.
const pipePrefix = `\\.\pipe\SpiceController-`

// dialTimeout bounds waiting on a busy pipe within a single attempt.
const dialTimeout = time.Second

// NamedPipe connects to a named pipe the client creates.
type NamedPipe struct {
	name string
	conn net.Conn
}

// NewNamedPipe creates a named-pipe transport.
func NewNamedPipe() *NamedPipe {
	return &NamedPipe{}
}

// New returns the platform transport. tempRoot is unused on Windows.
func New(_ string) Transport {
	return NewNamedPipe()
}

// Name implements Transport.
func (p *NamedPipe) Name() string { return "named-pipe" }

// Endpoint implements Transport.
func (p *NamedPipe) Endpoint() string { return p.name }

// SetupControllerPipe picks a random pipe name and exports it as
// SPICE_XPI_NAMEDPIPE.
func (p *NamedPipe) SetupControllerPipe(env map[string]string) error {
	if p.name == "" {
		p.name = pipePrefix + uuid.NewString()
	}
	env[EnvNamedPipe] = p.name
	return nil
}

// Connect implements Transport. A pipe that does not exist yet or has no
// free instance is retryable.
func (p *NamedPipe) Connect() error {
	if p.name == "" {
		return ErrNoEndpoint
	}
	if p.conn != nil {
		return nil
	}

	timeout := dialTimeout
	conn, err := winio.DialPipe(p.name, &timeout)
	if err != nil {
		if errors.Is(err, windows.ERROR_FILE_NOT_FOUND) ||
			errors.Is(err, windows.ERROR_PIPE_BUSY) ||
			errors.Is(err, winio.ErrTimeout) {
			return fmt.Errorf("%w: %v", ErrRetryable, err)
		}
		return fmt.Errorf("open pipe %s: %w", p.name, err)
	}

	p.conn = conn
	return nil
}

// CheckPipe verifies that the pipe's kernel object is owned by the same
// user as the current process. Any other owner may be a local process
// impersonating the client, so the pipe is closed.
func (p *NamedPipe) CheckPipe() bool {
	if p.conn == nil {
		return false
	}

	fd, ok := p.conn.(interface{ Fd() uintptr })
	if !ok {
		_ = p.closeConn()
		return false
	}

	same, err := isSameUser(windows.Handle(fd.Fd()))
	if err != nil || !same {
		_ = p.closeConn()
		return false
	}
	return true
}

// Write implements Transport.
func (p *NamedPipe) Write(b []byte) (int, error) {
	if p.conn == nil {
		return 0, ErrNotConnected
	}
	n, err := p.conn.Write(b)
	if err == nil && n < len(b) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return n, fmt.Errorf("partial write, %d of %d bytes: %w", n, len(b), err)
	}
	return n, nil
}

// Disconnect implements Transport. The pipe object itself belongs to the
// client and disappears with its last handle.
func (p *NamedPipe) Disconnect() error {
	err := p.closeConn()
	p.name = ""
	return err
}

func (p *NamedPipe) closeConn() error {
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}

// isSameUser reports whether handle is owned by the owner of the current process.
func isSameUser(handle windows.Handle) (bool, error) {
	pipeOwner, err := ownerSID(handle)
	if err != nil {
		return false, fmt.Errorf("pipe owner: %w", err)
	}
	processOwner, err := ownerSID(windows.CurrentProcess())
	if err != nil {
		return false, fmt.Errorf("process owner: %w", err)
	}
	return pipeOwner.Equals(processOwner), nil
}

func ownerSID(handle windows.Handle) (*windows.SID, error) {
	sd, err := windows.GetSecurityInfo(handle, windows.SE_KERNEL_OBJECT, windows.OWNER_SECURITY_INFORMATION)
	if err != nil {
		return nil, err
	}
	owner, _, err := sd.Owner()
	if err != nil {
		return nil, err
	}
	if owner == nil || !owner.IsValid() {
		return nil, errors.New("invalid owner SID")
	}
	return owner, nil
}
