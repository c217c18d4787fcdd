package controller

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/acidburn0zzz/spice-xpi/ipc"
	"github.com/acidburn0zzz/spice-xpi/metrics"
	"github.com/acidburn0zzz/spice-xpi/process"
	"github.com/acidburn0zzz/spice-xpi/transport"
	"github.com/acidburn0zzz/spice-xpi/types"
)

var fastRetry = RetryPolicy{Attempts: 5, Schedule: ScheduleConstant, Interval: 0}

func newTestController(ft *fakeTransport, opts Options) *Controller {
	opts.Transport = ft
	if opts.Retry == (RetryPolicy{}) {
		opts.Retry = fastRetry
	}
	return New(opts)
}

func decodeAll(t *testing.T, data []byte) []ipc.Message {
	t.Helper()
	dec := ipc.NewDecoder(bytes.NewReader(data))
	var msgs []ipc.Message
	for {
		msg, err := dec.ReadMessage()
		if errors.Is(err, io.EOF) {
			return msgs
		}
		if err != nil {
			t.Fatalf("ReadMessage: %v", err)
		}
		msgs = append(msgs, *msg)
	}
}

func waitResult(t *testing.T, c *Controller) ResultCode {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	r, err := c.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return r
}

func TestConnect_Attempts(t *testing.T) {
	tests := []struct {
		name         string
		failAttempts int
		maxRetries   int
		wantCalls    int
		wantErr      bool
	}{
		{"never succeeds", -1, 4, 4, true},
		{"single attempt budget", -1, 1, 1, true},
		{"first attempt", 0, 5, 1, false},
		{"third attempt", 2, 5, 3, false},
		{"last attempt", 4, 5, 5, false},
		{"budget below one", -1, 0, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := newFakeTransport()
			ft.failAttempts = tt.failAttempts
			m := metrics.NewCollector("fake", "s1")
			c := newTestController(ft, Options{Metrics: m})

			err := c.Connect(context.Background(), tt.maxRetries)
			calls, _, _ := ft.stats()
			if calls != tt.wantCalls {
				t.Errorf("connect calls = %d, want %d", calls, tt.wantCalls)
			}
			if snap := m.Snapshot(); snap.ConnectAttempts != int64(tt.wantCalls) {
				t.Errorf("ConnectAttempts = %d, want %d", snap.ConnectAttempts, tt.wantCalls)
			}

			if tt.wantErr {
				var connErr *ConnectError
				if !errors.As(err, &connErr) {
					t.Fatalf("Connect() = %v, want *ConnectError", err)
				}
				if connErr.Attempts != tt.wantCalls {
					t.Errorf("ConnectError.Attempts = %d, want %d", connErr.Attempts, tt.wantCalls)
				}
				if !transport.IsRetryable(err) {
					t.Errorf("last error should be the retryable transport error, got %v", err)
				}
				if c.State() != StateFailed {
					t.Errorf("State() = %s, want failed", c.State())
				}
				return
			}
			if err != nil {
				t.Fatalf("Connect() = %v", err)
			}
			if c.State() != StateConnected {
				t.Errorf("State() = %s, want connected", c.State())
			}
		})
	}
}

func TestConnect_FatalErrorStopsImmediately(t *testing.T) {
	ft := newFakeTransport()
	ft.fatalErr = errFatalConnect
	c := newTestController(ft, Options{})

	err := c.Connect(context.Background(), 5)
	if !errors.Is(err, errFatalConnect) {
		t.Fatalf("Connect() = %v, want wrapped errFatalConnect", err)
	}
	if Kind(err) != KindConnect {
		t.Errorf("Kind() = %q, want connect", Kind(err))
	}
	if calls, _, _ := ft.stats(); calls != 1 {
		t.Errorf("connect calls = %d, want 1", calls)
	}
}

func TestConnect_AlreadyConnected(t *testing.T) {
	ft := newFakeTransport()
	c := newTestController(ft, Options{})

	if err := c.Connect(context.Background(), 3); err != nil {
		t.Fatal(err)
	}
	if err := c.Connect(context.Background(), 3); err != nil {
		t.Fatalf("second Connect() = %v", err)
	}
	if calls, _, _ := ft.stats(); calls != 1 {
		t.Errorf("connect calls = %d, want 1", calls)
	}
}

func TestConnect_ContextCanceled(t *testing.T) {
	ft := newFakeTransport()
	ft.failAttempts = -1
	c := newTestController(ft, Options{Retry: RetryPolicy{Attempts: 100, Schedule: ScheduleConstant, Interval: time.Hour}})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := c.Connect(ctx, 100)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Connect() = %v, want context.Canceled", err)
	}
	if calls, _, _ := ft.stats(); calls != 1 {
		t.Errorf("connect calls = %d, want 1", calls)
	}
}

func TestDisconnect_DuringConnectKeepsClient(t *testing.T) {
	ft := newFakeTransport()
	ft.failAttempts = -1
	c := newTestController(ft, Options{
		Supervisor: helperSupervisor("sleep"),
		BaseEnv:    helperEnv(),
		Retry:      RetryPolicy{Attempts: 1000, Schedule: ScheduleConstant, Interval: time.Hour},
	})
	if err := c.StartClient(); err != nil {
		t.Fatalf("StartClient: %v", err)
	}
	t.Cleanup(func() { _ = c.StopClient() })

	errCh := make(chan error, 1)
	go func() { errCh <- c.Connect(context.Background(), 1000) }()

	deadline := time.Now().Add(5 * time.Second)
	for c.State() != StateConnecting {
		if time.Now().After(deadline) {
			t.Fatalf("State() = %s, want connecting", c.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Connect() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Connect did not return after Disconnect")
	}
	if c.State() != StateDisconnected {
		t.Errorf("State() = %s, want disconnected", c.State())
	}

	select {
	case <-c.Process().Done():
		t.Fatal("client exited after Disconnect")
	case <-time.After(200 * time.Millisecond):
	}

	if err := c.StopClient(); err != nil {
		t.Fatalf("StopClient: %v", err)
	}
	waitResult(t, c)
}

func TestConnect_Untrusted(t *testing.T) {
	ft := newFakeTransport()
	ft.untrusted = true
	m := metrics.NewCollector("fake", "s1")

	var untrusted atomic.Int32
	c := newTestController(ft, Options{
		Metrics:     m,
		OnUntrusted: func() { untrusted.Add(1) },
	})

	err := c.Connect(context.Background(), 3)
	var trustErr *TrustError
	if !errors.As(err, &trustErr) {
		t.Fatalf("Connect() = %v, want *TrustError", err)
	}
	if Kind(err) != KindTrust {
		t.Errorf("Kind() = %q, want trust", Kind(err))
	}
	if untrusted.Load() != 1 {
		t.Errorf("OnUntrusted calls = %d, want 1", untrusted.Load())
	}
	if c.State() != StateFailed {
		t.Errorf("State() = %s, want failed", c.State())
	}

	if err := c.SendInit(ipc.InitFlagExclusive); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendInit() = %v, want ErrNotConnected", err)
	}
	if err := c.SendStr(ipc.MsgHost, "10.0.0.5"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendStr() = %v, want ErrNotConnected", err)
	}
	if err := c.Configure(&types.ConnectionParams{Host: "h", Port: "5900"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Configure() = %v, want ErrNotConnected", err)
	}

	_, writes, disconnects := ft.stats()
	if writes != 0 {
		t.Errorf("writes = %d, want 0", writes)
	}
	if disconnects == 0 {
		t.Error("transport not torn down after trust failure")
	}
	snap := m.Snapshot()
	if snap.TrustFailure != 1 || snap.ConnectFailure != 0 {
		t.Errorf("TrustFailure = %d, ConnectFailure = %d, want 1 and 0", snap.TrustFailure, snap.ConnectFailure)
	}
}

func TestSend_BeforeConnect(t *testing.T) {
	ft := newFakeTransport()
	c := newTestController(ft, Options{})

	if err := c.SendValue(ipc.MsgPort, 5900); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendValue() = %v, want ErrNotConnected", err)
	}
	if err := c.Show(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Show() = %v, want ErrNotConnected", err)
	}
	if _, writes, _ := ft.stats(); writes != 0 {
		t.Errorf("writes = %d, want 0", writes)
	}
}

func TestSend_ZeroValuesElided(t *testing.T) {
	ft := newFakeTransport()
	m := metrics.NewCollector("fake", "s1")
	c := newTestController(ft, Options{Metrics: m})
	if err := c.Connect(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	if err := c.SendValue(ipc.MsgSecurePort, 0); err != nil {
		t.Errorf("SendValue(0) = %v", err)
	}
	if err := c.SendBool(ipc.MsgEnableSmartcard, false); err != nil {
		t.Errorf("SendBool(false) = %v", err)
	}
	if err := c.SendStr(ipc.MsgPassword, ""); err != nil {
		t.Errorf("SendStr(\"\") = %v", err)
	}

	if _, writes, _ := ft.stats(); writes != 0 {
		t.Errorf("writes = %d, want 0", writes)
	}
	if len(ft.bytes()) != 0 {
		t.Errorf("bytes written = %d, want 0", len(ft.bytes()))
	}
	if snap := m.Snapshot(); snap.MessagesElided != 3 {
		t.Errorf("MessagesElided = %d, want 3", snap.MessagesElided)
	}
}

func TestSend_EmbeddedNUL(t *testing.T) {
	ft := newFakeTransport()
	c := newTestController(ft, Options{})
	if err := c.Connect(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	err := c.SendStr(ipc.MsgHost, "bad\x00host")
	if !errors.Is(err, ipc.ErrEmbeddedNUL) {
		t.Fatalf("SendStr() = %v, want ErrEmbeddedNUL", err)
	}
	if _, writes, _ := ft.stats(); writes != 0 {
		t.Errorf("writes = %d, want 0", writes)
	}
}

func TestSend_KindMismatch(t *testing.T) {
	ft := newFakeTransport()
	c := newTestController(ft, Options{})
	if err := c.Connect(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	sends := map[string]error{
		"SendStr(PORT)":   c.SendStr(ipc.MsgPort, "abc"),
		"SendValue(HOST)": c.SendValue(ipc.MsgHost, 0x636261),
		"SendBool(PORT)":  c.SendBool(ipc.MsgPort, true),
	}
	for name, err := range sends {
		var werr *WriteError
		if !errors.As(err, &werr) || !errors.Is(err, ipc.ErrKindMismatch) {
			t.Errorf("%s = %v, want WriteError wrapping ErrKindMismatch", name, err)
		}
	}
	if _, writes, _ := ft.stats(); writes != 0 {
		t.Errorf("writes = %d, want 0", writes)
	}
	if got := c.State(); got != StateConnected {
		t.Errorf("State() = %s, want connected", got)
	}
}

func TestConnectAndSend_ByteStream(t *testing.T) {
	ft := newFakeTransport()
	ft.failAttempts = 1
	c := newTestController(ft, Options{})

	if err := c.Connect(context.Background(), 5); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if calls, _, _ := ft.stats(); calls != 2 {
		t.Fatalf("connect calls = %d, want 2", calls)
	}

	sends := []error{
		c.SendInit(ipc.InitFlagExclusive),
		c.SendStr(ipc.MsgHost, "10.0.0.5"),
		c.SendValue(ipc.MsgPort, 5900),
		c.SendValue(ipc.MsgSecurePort, 0),
		c.SendStr(ipc.MsgPassword, ""),
		c.SendMsg(ipc.NewCommand(ipc.MsgConnect)),
		c.Show(),
	}
	for i, err := range sends {
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	want := []ipc.Message{
		ipc.NewInit(ipc.InitFlagExclusive),
		ipc.NewStr(ipc.MsgHost, "10.0.0.5"),
		ipc.NewValue(ipc.MsgPort, 5900),
		ipc.NewCommand(ipc.MsgConnect),
		ipc.NewCommand(ipc.MsgShow),
	}

	data := ft.bytes()
	var wantLen int
	for _, m := range want {
		wantLen += int(m.Size())
	}
	if len(data) != wantLen {
		t.Fatalf("stream length = %d, want %d", len(data), wantLen)
	}

	got := decodeAll(t, data)
	if len(got) != len(want) {
		t.Fatalf("decoded %d messages, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestConfigure_Sequence(t *testing.T) {
	ft := newFakeTransport()
	c := newTestController(ft, Options{})
	if err := c.Connect(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	params := &types.ConnectionParams{
		Host:           "spice.example.com",
		Port:           "5900",
		SecurePort:     "5901",
		Password:       "secret",
		SecureChannels: "smain,sinputs",
		Title:          "vm01",
		FullScreen:     true,
		Smartcard:      true,
		ColorDepth:     24,
	}
	if err := c.Configure(params); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	want := []ipc.Message{
		ipc.NewInit(ipc.InitFlagExclusive),
		ipc.NewStr(ipc.MsgHost, "spice.example.com"),
		ipc.NewValue(ipc.MsgPort, 5900),
		ipc.NewValue(ipc.MsgSecurePort, 5901),
		ipc.NewValue(ipc.MsgFullScreen, ipc.FullScreenSet|ipc.FullScreenAutoDisplayRes),
		ipc.NewBool(ipc.MsgEnableSmartcard, true),
		ipc.NewStr(ipc.MsgPassword, "secret"),
		ipc.NewStr(ipc.MsgSetTitle, "vm01"),
		ipc.NewStr(ipc.MsgSecureChannels, "main,inputs"),
		ipc.NewValue(ipc.MsgColorDepth, 24),
		ipc.NewCommand(ipc.MsgConnect),
		ipc.NewCommand(ipc.MsgShow),
	}
	got := decodeAll(t, ft.bytes())
	if len(got) != len(want) {
		t.Fatalf("decoded %d messages, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestConfigure_AdminConsoleWindowed(t *testing.T) {
	ft := newFakeTransport()
	c := newTestController(ft, Options{})
	if err := c.Connect(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	if err := c.Configure(&types.ConnectionParams{Host: "h", SecurePort: "5901", AdminConsole: true}); err != nil {
		t.Fatal(err)
	}
	for _, m := range decodeAll(t, ft.bytes()) {
		if m.ID == ipc.MsgFullScreen {
			t.Errorf("FULL_SCREEN sent for windowed admin console: %v", m)
		}
		if m.ID == ipc.MsgPort {
			t.Errorf("PORT sent without a plain port: %v", m)
		}
	}
}

func TestConfigure_ShortWriteContinues(t *testing.T) {
	ft := newFakeTransport()
	ft.shortWriteAt = 2
	m := metrics.NewCollector("fake", "s1")
	c := newTestController(ft, Options{Metrics: m})
	if err := c.Connect(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	err := c.Configure(&types.ConnectionParams{Host: "10.0.0.5", Port: "5900"})
	var writeErr *WriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("Configure() = %v, want *WriteError", err)
	}
	if writeErr.Message != "HOST" || writeErr.Written >= writeErr.Size {
		t.Errorf("WriteError = %+v", writeErr)
	}
	if !errors.Is(err, io.ErrShortWrite) {
		t.Errorf("Configure() = %v, want io.ErrShortWrite in chain", err)
	}

	// Init, HOST (short), PORT, FULL_SCREEN, CONNECT, SHOW
	if _, writes, _ := ft.stats(); writes != 6 {
		t.Errorf("writes = %d, want 6", writes)
	}
	snap := m.Snapshot()
	if snap.ShortWrites != 1 || snap.MessagesSent != 5 {
		t.Errorf("ShortWrites = %d, MessagesSent = %d, want 1 and 5", snap.ShortWrites, snap.MessagesSent)
	}
}

func TestDisconnect(t *testing.T) {
	ft := newFakeTransport()
	c := newTestController(ft, Options{})
	if err := c.Connect(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	if err := c.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
	if c.State() != StateDisconnected {
		t.Errorf("State() = %s, want disconnected", c.State())
	}
	if err := c.Show(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Show() after Disconnect = %v, want ErrNotConnected", err)
	}
	if err := c.Connect(context.Background(), 1); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Connect() after Disconnect = %v, want ErrInvalidState", err)
	}
}

func TestExit_AgentTimeout(t *testing.T) {
	ft := newFakeTransport()
	m := metrics.NewCollector("fake", "s1")

	var calls atomic.Int32
	var got atomic.Int64
	c := newTestController(ft, Options{
		Supervisor: helperSupervisor("exit", "9"),
		BaseEnv:    helperEnv(),
		Metrics:    m,
		OnExit: func(r ResultCode) {
			calls.Add(1)
			got.Store(int64(r))
		},
	})

	if err := c.StartClient(); err != nil {
		t.Fatalf("StartClient: %v", err)
	}
	if r := waitResult(t, c); r != ResultTimeout {
		t.Errorf("Wait() = %s, want timeout", r)
	}

	if calls.Load() != 1 {
		t.Errorf("OnExit calls = %d, want 1", calls.Load())
	}
	if ResultCode(got.Load()) != ResultTimeout {
		t.Errorf("OnExit result = %s, want timeout", ResultCode(got.Load()))
	}
	if c.State() != StateDisconnected {
		t.Errorf("State() = %s, want disconnected", c.State())
	}
	if _, _, disconnects := ft.stats(); disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", disconnects)
	}
	if snap := m.Snapshot(); snap.ExitsByResult["timeout"] != 1 {
		t.Errorf("ExitsByResult = %v", snap.ExitsByResult)
	}
	if err := c.StopClient(); err != nil {
		t.Errorf("StopClient after exit: %v", err)
	}
}

func TestExit_DebugKeepsEndpoint(t *testing.T) {
	ft := newFakeTransport()
	c := newTestController(ft, Options{
		Supervisor: helperSupervisor("exit", "0"),
		BaseEnv:    helperEnv(),
		Debug:      true,
	})

	if err := c.StartClient(); err != nil {
		t.Fatal(err)
	}
	if r := waitResult(t, c); r != ResultSuccess {
		t.Errorf("Wait() = %s, want success", r)
	}
	if _, _, disconnects := ft.stats(); disconnects != 0 {
		t.Errorf("disconnects = %d, want 0 in debug mode", disconnects)
	}
}

func TestStartClient_SpawnFailure(t *testing.T) {
	ft := newFakeTransport()
	var calls atomic.Int32
	c := newTestController(ft, Options{
		Supervisor: &process.Supervisor{Resolver: process.StaticResolver{
			Primary:  []string{"/nonexistent/spice-xpi-client"},
			Fallback: []string{"/nonexistent/spicec", "--controller"},
		}},
		OnExit: func(ResultCode) { calls.Add(1) },
	})

	err := c.StartClient()
	if Kind(err) != KindSpawn {
		t.Fatalf("StartClient() = %v, want spawn error", err)
	}
	if !errors.Is(err, process.ErrNoClient) {
		t.Errorf("StartClient() = %v, want ErrNoClient in chain", err)
	}
	if r := waitResult(t, c); r != ResultInternalError {
		t.Errorf("Wait() = %s, want internal_error", r)
	}
	if calls.Load() != 1 {
		t.Errorf("OnExit calls = %d, want 1", calls.Load())
	}
	if err := c.StartClient(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second StartClient() = %v, want ErrInvalidState", err)
	}
}

func TestConnectFailure_TerminatesClient(t *testing.T) {
	ft := newFakeTransport()
	ft.failAttempts = -1
	m := metrics.NewCollector("fake", "s1")
	c := newTestController(ft, Options{
		Supervisor: helperSupervisor("sleep"),
		BaseEnv:    helperEnv(),
		Metrics:    m,
	})

	if err := c.StartClient(); err != nil {
		t.Fatal(err)
	}
	if err := c.Connect(context.Background(), 2); Kind(err) != KindConnect {
		t.Fatalf("Connect() = %v, want connect error", err)
	}

	waitResult(t, c)
	if c.State() != StateFailed {
		t.Errorf("State() = %s, want failed", c.State())
	}
	if snap := m.Snapshot(); snap.Terminations != 1 || snap.ConnectFailure != 1 {
		t.Errorf("Terminations = %d, ConnectFailure = %d, want 1 and 1", snap.Terminations, snap.ConnectFailure)
	}
}

func TestConnect_StopsWhenClientExits(t *testing.T) {
	ft := newFakeTransport()
	ft.failAttempts = -1
	c := newTestController(ft, Options{
		Supervisor: helperSupervisor("exit", "3"),
		BaseEnv:    helperEnv(),
		Retry:      RetryPolicy{Attempts: 1000, Schedule: ScheduleConstant, Interval: 10 * time.Millisecond},
	})

	if err := c.StartClient(); err != nil {
		t.Fatal(err)
	}
	err := c.Connect(context.Background(), 1000)
	if !errors.Is(err, ErrClientExited) {
		t.Fatalf("Connect() = %v, want ErrClientExited", err)
	}
	if r := waitResult(t, c); r != ResultConnectFailed {
		t.Errorf("Wait() = %s, want connect_failed", r)
	}
}

func TestLaunch_NoUsablePort(t *testing.T) {
	ft := newFakeTransport()
	var got atomic.Int64
	got.Store(-1)
	c := newTestController(ft, Options{
		Supervisor: helperSupervisor("sleep"),
		BaseEnv:    helperEnv(),
		OnExit:     func(r ResultCode) { got.Store(int64(r)) },
	})

	err := c.Launch(context.Background(), &types.ConnectionParams{Host: "h", Port: "0", SecurePort: "bogus"})
	if !errors.Is(err, types.ErrNoUsablePort) {
		t.Fatalf("Launch() = %v, want ErrNoUsablePort", err)
	}
	if c.Process() != nil {
		t.Error("client spawned for unusable parameters")
	}
	if r := waitResult(t, c); r != ResultInvalidParams {
		t.Errorf("Wait() = %s, want invalid_params", r)
	}
	if ResultCode(got.Load()) != ResultInvalidParams {
		t.Errorf("OnExit result = %d", got.Load())
	}
}
