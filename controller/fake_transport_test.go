package controller

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/acidburn0zzz/spice-xpi/transport"
)

// fakeTransport records everything the controller does to its endpoint.
type fakeTransport struct {
	mu sync.Mutex

	endpoint     string
	failAttempts int   // retryable failures before Connect succeeds; -1 never succeeds
	fatalErr     error // returned by every Connect when set
	untrusted    bool
	shortWriteAt int // 1-based write index that is cut short; 0 disables

	connectCalls int
	connected    bool
	writes       int
	buf          bytes.Buffer
	disconnects  int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{endpoint: "fake-endpoint"}
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Endpoint() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endpoint
}

func (f *fakeTransport) SetupControllerPipe(env map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	env[transport.EnvSocket] = f.endpoint
	return nil
}

func (f *fakeTransport) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	if f.fatalErr != nil {
		return f.fatalErr
	}
	if f.connected {
		return nil
	}
	if f.failAttempts < 0 || f.connectCalls <= f.failAttempts {
		return fmt.Errorf("%w: attempt %d", transport.ErrRetryable, f.connectCalls)
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) CheckPipe() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.untrusted {
		f.connected = false
		return false
	}
	return true
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return 0, transport.ErrNotConnected
	}
	f.writes++
	if f.writes == f.shortWriteAt {
		n := len(p) / 2
		f.buf.Write(p[:n])
		return n, io.ErrShortWrite
	}
	return f.buf.Write(p)
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.connected = false
	return nil
}

func (f *fakeTransport) stats() (connectCalls, writes, disconnects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls, f.writes, f.disconnects
}

func (f *fakeTransport) bytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.buf.Bytes()...)
}

var errFatalConnect = errors.New("permission denied")
