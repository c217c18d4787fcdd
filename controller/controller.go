// Package controller drives a remote-desktop client through its private
// control endpoint: it spawns the client, connects with bounded retries,
// verifies the endpoint owner, streams configuration messages and reports
// the client's exit.
package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/acidburn0zzz/spice-xpi/ipc"
	"github.com/acidburn0zzz/spice-xpi/log"
	"github.com/acidburn0zzz/spice-xpi/metrics"
	"github.com/acidburn0zzz/spice-xpi/process"
	"github.com/acidburn0zzz/spice-xpi/transport"
)

// errDisconnected cancels a running connect loop from Disconnect. The
// client is left running.
var errDisconnected = fmt.Errorf("%w: disconnect requested", context.Canceled)

// EnvDebug keeps the endpoint in place after the client exits when set.
const EnvDebug = "SPICE_XPI_DEBUG"

// State is the controller lifecycle state.
type State int

// Controller states.
const (
	StateIdle State = iota
	StateSpawning
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpawning:
		return "spawning"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures a Controller.
type Options struct {
	// Transport is the endpoint implementation. Required.
	Transport transport.Transport
	// Supervisor spawns the client. Required for StartClient.
	Supervisor *process.Supervisor
	// Logger may be nil.
	Logger *log.Logger
	// Metrics may be nil.
	Metrics *metrics.Collector
	// Retry shapes the wait between connect attempts. The zero value
	// selects DefaultRetryPolicy.
	Retry RetryPolicy
	// Proxy is exported to the client as SPICE_PROXY when non-empty.
	Proxy string
	// Debug keeps the endpoint after the client exits.
	Debug bool
	// BaseEnv is the environment the client inherits; nil means os.Environ().
	BaseEnv []string
	// OnExit receives the normalized result exactly once per spawned client.
	// It runs on the exit goroutine, never on the caller's goroutine.
	OnExit func(ResultCode)
	// OnUntrusted is called when the endpoint fails the ownership check.
	OnUntrusted func()
}

// Controller owns one client process and its endpoint. Methods other than
// State, Result, Done and Wait are meant to be called from one goroutine.
type Controller struct {
	transport   transport.Transport
	supervisor  *process.Supervisor
	logger      *log.Logger
	metrics     *metrics.Collector
	retry       RetryPolicy
	proxy       string
	debug       bool
	baseEnv     []string
	onExit      func(ResultCode)
	onUntrusted func()

	mu            sync.Mutex
	state         State
	proc          *process.Process
	connectCancel context.CancelCauseFunc
	result        ResultCode
	exited        bool
	done          chan struct{}
	doneOnce      sync.Once
}

// New creates an idle controller.
func New(opts Options) *Controller {
	retry := opts.Retry
	if retry == (RetryPolicy{}) {
		retry = DefaultRetryPolicy()
	}
	return &Controller{
		transport:   opts.Transport,
		supervisor:  opts.Supervisor,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		retry:       retry,
		proxy:       opts.Proxy,
		debug:       opts.Debug || os.Getenv(EnvDebug) != "",
		baseEnv:     opts.BaseEnv,
		onExit:      opts.OnExit,
		onUntrusted: opts.OnUntrusted,
		done:        make(chan struct{}),
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Endpoint returns the transport endpoint address.
func (c *Controller) Endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport.Endpoint()
}

// Process returns the spawned client, nil before StartClient succeeds.
func (c *Controller) Process() *process.Process {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proc
}

// StartClient sets up the endpoint, spawns the client (falling back to
// the secondary command line) and starts watching for its exit. When no
// client can be started the exit result is ResultInternalError.
func (c *Controller) StartClient() error {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: start client while %s", ErrInvalidState, state)
	}
	if c.supervisor == nil {
		c.mu.Unlock()
		return errors.New("controller has no supervisor")
	}
	c.state = StateSpawning

	overrides := make(map[string]string, 2)
	err := c.transport.SetupControllerPipe(overrides)
	if err != nil {
		return c.failSpawnLocked(fmt.Errorf("setup endpoint: %w", err))
	}
	if c.proxy != "" {
		overrides[process.EnvProxy] = c.proxy
	}

	base := c.baseEnv
	if base == nil {
		base = os.Environ()
	}

	proc, err := c.supervisor.Start(process.BuildEnv(base, overrides))
	if err != nil {
		return c.failSpawnLocked(err)
	}

	c.proc = proc
	c.mu.Unlock()

	c.metrics.IncSpawnSuccess()
	if proc.Fallback() {
		c.metrics.IncFallbackSpawn()
		c.logger.Warn("fallback client started", map[string]any{
			"pid": proc.PID(),
		})
	}

	go c.handleExit(proc.WaitForExit())
	return nil
}

// failSpawnLocked is called with c.mu held and releases it.
func (c *Controller) failSpawnLocked(err error) error {
	c.state = StateFailed
	c.result = ResultInternalError
	_ = c.transport.Disconnect()
	c.mu.Unlock()

	c.metrics.IncSpawnFailure()
	c.logger.Error("client spawn failed", map[string]any{
		"error": err.Error(),
	})
	c.finish(ResultInternalError)

	return &SpawnError{Err: err}
}

// Connect tries to connect to the endpoint up to maxRetries times, waiting
// between attempts per the retry policy, then verifies the endpoint owner.
// The loop stops early when ctx is done or the client exits.
func (c *Controller) Connect(ctx context.Context, maxRetries int) error {
	if maxRetries < 1 {
		maxRetries = 1
	}

	c.mu.Lock()
	if c.exited {
		endpoint := c.transport.Endpoint()
		c.mu.Unlock()
		return &ConnectError{Endpoint: endpoint, Err: ErrClientExited}
	}
	switch c.state {
	case StateConnected:
		c.mu.Unlock()
		return nil
	case StateIdle, StateSpawning:
	default:
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: connect while %s", ErrInvalidState, state)
	}
	c.state = StateConnecting
	ctx, cancel := context.WithCancelCause(ctx)
	c.connectCancel = cancel
	endpoint := c.transport.Endpoint()
	c.mu.Unlock()
	defer cancel(nil)

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		c.metrics.IncConnectAttempt()

		c.mu.Lock()
		err := c.transport.Connect()
		c.mu.Unlock()

		if err != nil && !transport.IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(c.retry.BackOff()),
		backoff.WithMaxTries(uint(maxRetries)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug("controller connect retry", map[string]any{
				"attempt": attempts,
				"wait":    next.String(),
				"error":   err.Error(),
			})
		}),
	)

	c.mu.Lock()
	if err == nil && c.state != StateConnecting {
		err = errDisconnected
		if c.exited {
			err = ErrClientExited
		}
	}
	if err != nil {
		return c.failConnectLocked(endpoint, attempts, err)
	}

	if !c.transport.CheckPipe() {
		return c.failTrustLocked(endpoint)
	}

	c.state = StateConnected
	c.connectCancel = nil
	c.mu.Unlock()

	c.metrics.IncConnectSuccess()
	c.logger.Info("controller connected", map[string]any{
		"endpoint": endpoint,
		"attempts": attempts,
	})
	return nil
}

// failConnectLocked is called with c.mu held and releases it.
func (c *Controller) failConnectLocked(endpoint string, attempts int, err error) error {
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}

	if c.state == StateConnecting {
		c.state = StateFailed
	}
	c.connectCancel = nil
	proc := c.proc
	c.mu.Unlock()

	c.metrics.IncConnectFailure()
	if errors.Is(err, errDisconnected) {
		c.logger.Info("controller connect abandoned", map[string]any{
			"endpoint": endpoint,
			"attempts": attempts,
		})
		return &ConnectError{Endpoint: endpoint, Attempts: attempts, Err: err}
	}
	c.logger.Error("controller connect failed", map[string]any{
		"endpoint": endpoint,
		"attempts": attempts,
		"error":    err.Error(),
	})
	c.terminate(proc)

	return &ConnectError{Endpoint: endpoint, Attempts: attempts, Err: err}
}

// failTrustLocked is called with c.mu held and releases it.
func (c *Controller) failTrustLocked(endpoint string) error {
	c.state = StateFailed
	c.connectCancel = nil
	_ = c.transport.Disconnect()
	proc := c.proc
	c.mu.Unlock()

	c.metrics.IncTrustFailure()
	c.logger.Warn("controller endpoint not trusted", map[string]any{
		"event":    "trust_failure",
		"endpoint": endpoint,
	})
	c.terminate(proc)
	if c.onUntrusted != nil {
		c.onUntrusted()
	}

	return &TrustError{Endpoint: endpoint}
}

// SendInit opens the configuration session.
func (c *Controller) SendInit(flags uint32) error {
	return c.SendMsg(ipc.NewInit(flags))
}

// SendValue sends a numeric parameter. Zero is not sent.
func (c *Controller) SendValue(id ipc.MessageID, value uint32) error {
	if value == 0 {
		c.metrics.IncMessageElided()
		return nil
	}
	return c.SendMsg(ipc.NewValue(id, value))
}

// SendBool sends a flag. False is not sent; the client treats an absent
// flag as false.
func (c *Controller) SendBool(id ipc.MessageID, value bool) error {
	if !value {
		c.metrics.IncMessageElided()
		return nil
	}
	return c.SendMsg(ipc.NewBool(id, value))
}

// SendStr sends a string parameter. The empty string is not sent.
func (c *Controller) SendStr(id ipc.MessageID, value string) error {
	if value == "" {
		c.metrics.IncMessageElided()
		return nil
	}
	return c.SendMsg(ipc.NewStr(id, value))
}

// SendMsg encodes m and writes it to the endpoint. It fails with
// ErrNotConnected unless the connection has been established and trusted.
func (c *Controller) SendMsg(m ipc.Message) error {
	data, err := m.MarshalBinary()
	if err != nil {
		return &WriteError{Message: m.ID.String(), Size: int(m.Size()), Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected {
		return ErrNotConnected
	}

	n, err := c.transport.Write(data)
	if err != nil {
		if n > 0 {
			c.metrics.AddShortWrite(n)
		} else {
			c.metrics.IncWriteFailure()
		}
		c.logger.Warn("incomplete controller message", map[string]any{
			"message": m.String(),
			"written": n,
			"size":    len(data),
			"error":   err.Error(),
		})
		return &WriteError{Message: m.ID.String(), Written: n, Size: len(data), Err: err}
	}

	c.metrics.AddMessageSent(n)
	return nil
}

// Show asks the client to bring its window to the front.
func (c *Controller) Show() error {
	return c.SendMsg(ipc.NewCommand(ipc.MsgShow))
}

// Disconnect releases the endpoint. The client keeps running; StopClient
// is the way to end it.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connectCancel != nil {
		c.connectCancel(errDisconnected)
		c.connectCancel = nil
	}
	c.state = StateDisconnected
	return c.transport.Disconnect()
}

// StopClient terminates the client's process group. Calling it again, or
// after the client exited, does nothing.
func (c *Controller) StopClient() error {
	c.mu.Lock()
	proc := c.proc
	c.mu.Unlock()

	if proc == nil {
		return nil
	}
	return c.terminate(proc)
}

func (c *Controller) terminate(proc *process.Process) error {
	if proc == nil {
		return nil
	}
	select {
	case <-proc.Done():
		return nil
	default:
	}

	c.metrics.IncTermination()
	if err := proc.Terminate(); err != nil {
		c.logger.Warn("client terminate failed", map[string]any{
			"pid":   proc.PID(),
			"error": err.Error(),
		})
		return err
	}
	return nil
}

// handleExit consumes the single exit event of the client. It is the only
// path by which the exit goroutine touches controller state.
func (c *Controller) handleExit(events <-chan process.ExitEvent) {
	ev, ok := <-events
	if !ok {
		ev.Status = process.StatusUnknown
	}
	result := TranslateExitCode(ev.Status)

	c.mu.Lock()
	c.exited = true
	c.result = result
	if c.state != StateFailed {
		c.state = StateDisconnected
	}
	if c.connectCancel != nil {
		c.connectCancel(ErrClientExited)
	}
	if !c.debug {
		if err := c.transport.Disconnect(); err != nil {
			c.logger.Warn("endpoint cleanup failed", map[string]any{
				"error": err.Error(),
			})
		}
	}
	c.mu.Unlock()

	c.metrics.IncClientExit(result.String())
	c.logger.Info("client exited", map[string]any{
		"pid":    ev.PID,
		"status": ev.Status,
		"result": result.String(),
	})

	c.finish(result)
}

// finish reports result to OnExit and releases waiters, once.
func (c *Controller) finish(result ResultCode) {
	c.doneOnce.Do(func() {
		if c.onExit != nil {
			c.onExit(result)
		}
		close(c.done)
	})
}

// Done is closed after the exit result has been delivered.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Result returns the normalized exit result and whether it is available.
func (c *Controller) Result() (ResultCode, bool) {
	select {
	case <-c.done:
	default:
		return 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, true
}

// Wait blocks until the exit result is available or ctx is done.
func (c *Controller) Wait(ctx context.Context) (ResultCode, error) {
	select {
	case <-c.done:
		r, _ := c.Result()
		return r, nil
	case <-ctx.Done():
		return 0, context.Cause(ctx)
	}
}
