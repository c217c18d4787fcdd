package process

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/acidburn0zzz/spice-xpi/log"
)

// StatusUnknown is reported when the exit status cannot be determined,
// e.g. the child was killed by a signal or reaped elsewhere.
const StatusUnknown = -1

// ErrNoClient is returned when neither client command line could be started.
var ErrNoClient = errors.New("no client executable could be started")

// ErrEmptyCommand is returned by Spawn for an empty argument vector.
var ErrEmptyCommand = errors.New("empty command line")

// ExitEvent reports a child's termination. It is produced exactly once per
// spawned process.
type ExitEvent struct {
	PID    int
	Status int
}

// Supervisor spawns clients and hands out their exit events.
type Supervisor struct {
	// Resolver supplies primary and fallback command lines.
	Resolver Resolver
	// Logger receives spawn and exit diagnostics. May be nil.
	Logger *log.Logger
	// Stdout and Stderr receive the client's output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer
}

// Process is a running client.
type Process struct {
	cmd      *exec.Cmd
	argv     []string
	fallback bool

	watchOnce sync.Once
	events    chan ExitEvent
	done      chan struct{}

	mu         sync.Mutex
	exited     bool
	terminated bool
}

// PID returns the operating system process id.
func (p *Process) PID() int { return p.cmd.Process.Pid }

// Argv returns the command line the process was started with.
func (p *Process) Argv() []string { return append([]string(nil), p.argv...) }

// Fallback reports whether the fallback client was started.
func (p *Process) Fallback() bool { return p.fallback }

// Start spawns the primary client, or the fallback client when the
// primary is unavailable or fails to start.
func (s *Supervisor) Start(env []string) (*Process, error) {
	var errs []error

	if argv := s.Resolver.ClientPath(); len(argv) > 0 {
		p, err := s.Spawn(argv, env)
		if err == nil {
			return p, nil
		}
		s.Logger.Warn("primary client failed to start", map[string]any{
			"argv":  strings.Join(argv, " "),
			"error": err.Error(),
		})
		errs = append(errs, fmt.Errorf("primary: %w", err))
	}

	if argv := s.Resolver.FallbackClientPath(); len(argv) > 0 {
		p, err := s.Spawn(argv, env)
		if err == nil {
			p.fallback = true
			return p, nil
		}
		errs = append(errs, fmt.Errorf("fallback: %w", err))
	}

	if len(errs) == 0 {
		return nil, ErrNoClient
	}
	return nil, fmt.Errorf("%w: %w", ErrNoClient, errors.Join(errs...))
}

// Spawn starts argv with env and returns as soon as the process exists.
func (s *Supervisor) Spawn(argv []string, env []string) (*Process, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, ErrEmptyCommand
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = env
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr
	setProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", argv[0], err)
	}

	s.Logger.Info("client started", map[string]any{
		"pid":  cmd.Process.Pid,
		"argv": strings.Join(argv, " "),
	})

	return &Process{
		cmd:    cmd,
		argv:   append([]string(nil), argv...),
		events: make(chan ExitEvent, 1),
		done:   make(chan struct{}),
	}, nil
}

// WaitForExit starts the exit watcher on first use and returns its event
// channel. The channel delivers one ExitEvent and is then closed. Repeated
// calls return the same channel.
func (p *Process) WaitForExit() <-chan ExitEvent {
	p.watchOnce.Do(func() {
		go p.watch()
	})
	return p.events
}

// Done is closed once the process has been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

func (p *Process) watch() {
	// Terminate must not signal a pid that has been reaped. Where the
	// platform can wait without reaping, exited is set first.
	early := waitExited(p.cmd.Process.Pid)
	if early {
		p.markExited()
	}

	status := StatusUnknown
	err := p.cmd.Wait()
	if state := p.cmd.ProcessState; state != nil {
		status = state.ExitCode()
	} else if err == nil {
		status = 0
	}

	if !early {
		p.markExited()
	}
	close(p.done)

	p.events <- ExitEvent{PID: p.cmd.Process.Pid, Status: status}
	close(p.events)
}

func (p *Process) markExited() {
	p.mu.Lock()
	p.exited = true
	p.mu.Unlock()
}

// Terminate forcibly stops the process. Calling it after the process has
// exited, or more than once, is a no-op.
func (p *Process) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited || p.terminated {
		return nil
	}
	p.terminated = true
	return terminate(p.cmd)
}
