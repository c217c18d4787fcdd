package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"

	"github.com/acidburn0zzz/spice-xpi/cli/config"
	"github.com/acidburn0zzz/spice-xpi/cli/render"
	"github.com/acidburn0zzz/spice-xpi/controller"
	"github.com/acidburn0zzz/spice-xpi/iox"
	"github.com/acidburn0zzz/spice-xpi/log"
	"github.com/acidburn0zzz/spice-xpi/metrics"
	"github.com/acidburn0zzz/spice-xpi/notify"
	notifyredis "github.com/acidburn0zzz/spice-xpi/notify/redis"
	"github.com/acidburn0zzz/spice-xpi/notify/webhook"
	"github.com/acidburn0zzz/spice-xpi/process"
	"github.com/acidburn0zzz/spice-xpi/session"
	"github.com/acidburn0zzz/spice-xpi/transport"
	"github.com/acidburn0zzz/spice-xpi/types"
)

// Exit codes for launch.
const (
	exitSuccess       = 0
	exitClientFailure = 1
	exitSpawnError    = 2
	exitConnectError  = 3
	exitTrustError    = 4
)

// notifyTimeout bounds publishing the exit event, retries included.
const notifyTimeout = 30 * time.Second

// LaunchResponse summarizes a finished launch.
type LaunchResponse struct {
	SessionID       string `json:"session_id"`
	Host            string `json:"host"`
	PID             int    `json:"pid,omitempty"`
	Fallback        bool   `json:"fallback"`
	Result          string `json:"result"`
	ResultCode      int    `json:"result_code"`
	ConnectAttempts int64  `json:"connect_attempts"`
	MessagesSent    int64  `json:"messages_sent"`
	BytesWritten    int64  `json:"bytes_written"`
	Error           string `json:"error,omitempty"`
}

// LaunchCommand returns the launch command.
func LaunchCommand() *cli.Command {
	return &cli.Command{
		Name:   "launch",
		Usage:  "Start the remote-desktop client, configure it and wait for it to exit",
		Flags:  launchFlags(),
		Action: launchAction,
	}
}

func launchFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Connection profile (YAML)",
		},
		// Connection
		&cli.StringFlag{Name: "host", Usage: "Remote host"},
		&cli.StringFlag{Name: "port", Usage: "Plain port"},
		&cli.StringFlag{Name: "secure-port", Usage: "TLS port"},
		&cli.StringFlag{
			Name:    "password",
			Usage:   "Session password",
			EnvVars: []string{"SPICE_PASSWORD"},
		},
		&cli.StringFlag{Name: "tls-ciphers", Usage: "TLS cipher list"},
		&cli.StringFlag{Name: "secure-channels", Usage: "Channels that must use TLS"},
		&cli.StringFlag{Name: "ca-file", Usage: "CA certificate file"},
		&cli.StringFlag{Name: "host-subject", Usage: "Expected certificate subject"},
		&cli.StringFlag{Name: "title", Usage: "Window title"},
		&cli.StringFlag{Name: "hotkeys", Usage: "Hotkey bindings"},
		&cli.StringFlag{Name: "usb-filter", Usage: "USB auto-share filter"},
		&cli.StringFlag{Name: "disable-effects", Usage: "Desktop effects to disable"},
		&cli.IntFlag{Name: "color-depth", Usage: "Guest color depth"},
		&cli.BoolFlag{Name: "fullscreen", Usage: "Start in full screen"},
		&cli.BoolFlag{Name: "admin-console", Usage: "Keep the guest resolution"},
		&cli.BoolFlag{Name: "smartcard", Usage: "Enable smartcard redirection"},
		&cli.BoolFlag{Name: "send-ctrlaltdel", Usage: "Forward Ctrl+Alt+Del to the guest"},
		&cli.BoolFlag{Name: "usb-autoshare", Usage: "Share new USB devices automatically"},
		&cli.StringFlag{
			Name:  "proxy",
			Usage: "Proxy URL (http|https://[user:pass@]host:port)",
		},
		// Client
		&cli.StringFlag{Name: "client", Usage: "Client command line"},
		&cli.StringFlag{Name: "fallback-client", Usage: "Fallback client command line"},
		// Retry
		&cli.IntFlag{Name: "retries", Usage: "Connect attempts"},
		&cli.StringFlag{Name: "retry-schedule", Usage: "Connect backoff: linear, constant"},
		&cli.DurationFlag{Name: "retry-interval", Usage: "Connect backoff step"},
		// Exit notifications
		&cli.StringFlag{Name: "notify-webhook", Usage: "POST the exit event to this URL"},
		&cli.StringFlag{Name: "notify-redis", Usage: "PUBLISH the exit event to this Redis URL"},
		&cli.StringFlag{Name: "notify-redis-channel", Usage: "Redis channel (default " + notifyredis.DefaultChannel + ")"},
		// Runtime
		&cli.BoolFlag{
			Name:  "debug",
			Usage: "Debug logging; keep the endpoint after the client exits (also " + controller.EnvDebug + ")",
		},
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "Suppress the result summary",
		},
		FormatFlag,
		StateDirFlag,
	}
}

func launchAction(c *cli.Context) error {
	cfg, err := loadProfile(c.String("config"))
	if err != nil {
		return err
	}

	params := buildParams(c, cfg)
	retry, err := buildRetryPolicy(c, cfg)
	if err != nil {
		return err
	}
	proxy, err := buildProxy(c, cfg)
	if err != nil {
		return err
	}
	proxyURL := ""
	if proxy != nil {
		proxyURL = proxy.URL()
	}

	notifier, err := buildNotifier(c, cfg)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(notifier)

	store, err := openStore(c, cfg.StateDir)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}

	meta := types.NewSessionMeta(params.Host)
	logger := log.NewLogger(meta).WithOutput(c.App.ErrWriter)
	debug := resolveBool(c, "debug", cfg.Debug)
	switch {
	case c.Bool("quiet"):
		logger.SetLevel(zapcore.WarnLevel)
	case !debug:
		logger.SetLevel(zapcore.InfoLevel)
	}
	defer iox.DiscardErr(logger.Sync)

	tr := transport.New("")
	collector := metrics.NewCollector(tr.Name(), meta.ID)
	ctrl := controller.New(controller.Options{
		Transport: tr,
		Supervisor: &process.Supervisor{
			Resolver: buildResolver(c, cfg),
			Logger:   logger,
			Stdout:   c.App.ErrWriter,
			Stderr:   c.App.ErrWriter,
		},
		Logger:  logger,
		Metrics: collector,
		Retry:   retry,
		Proxy:   proxyURL,
		Debug:   debug,
	})

	record := &session.Record{
		ID:        meta.ID,
		Host:      params.Host,
		Transport: tr.Name(),
		State:     session.StateRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := store.Save(record); err != nil {
		return fmt.Errorf("failed to save session record: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("stopping client", map[string]any{"signal": sig.String()})
			cancel()
			_ = ctrl.StopClient()
		case <-ctx.Done():
		}
	}()

	launchErr := ctrl.Launch(ctx, &params)

	if proc := ctrl.Process(); proc != nil {
		record.PID = proc.PID()
		record.Argv = proc.Argv()
		record.Fallback = proc.Fallback()
	}
	record.Endpoint = ctrl.Endpoint()
	if err := store.Save(record); err != nil {
		logger.Warn("session record not saved", map[string]any{"error": err.Error()})
	}

	result, _ := ctrl.Wait(context.Background())

	finishRecord(record, result, launchErr)
	if err := store.Save(record); err != nil {
		logger.Warn("session record not saved", map[string]any{"error": err.Error()})
	}

	if len(notifier) > 0 {
		pubCtx, cancelPub := context.WithTimeout(context.Background(), notifyTimeout)
		if err := notifier.Publish(pubCtx, notify.NewExitEvent(record)); err != nil {
			logger.Warn("exit notification failed", map[string]any{"error": err.Error()})
		}
		cancelPub()
	}

	if !c.Bool("quiet") {
		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}
		if err := r.Render(newLaunchResponse(record, collector.Snapshot())); err != nil {
			return err
		}
	}

	return cli.Exit("", exitCode(launchErr, result))
}

// loadProfile loads the profile at path, or an empty one for "".
func loadProfile(path string) (*config.Config, error) {
	if path == "" {
		return &config.Config{}, nil
	}
	return config.Load(path)
}

func buildParams(c *cli.Context, cfg *config.Config) types.ConnectionParams {
	p := cfg.Connection
	p.Host = resolveString(c, "host", p.Host)
	p.Port = resolveString(c, "port", p.Port)
	p.SecurePort = resolveString(c, "secure-port", p.SecurePort)
	p.Password = resolveString(c, "password", p.Password)
	p.TLSCiphers = resolveString(c, "tls-ciphers", p.TLSCiphers)
	p.SecureChannels = resolveString(c, "secure-channels", p.SecureChannels)
	p.CAFile = resolveString(c, "ca-file", p.CAFile)
	p.HostSubject = resolveString(c, "host-subject", p.HostSubject)
	p.Title = resolveString(c, "title", p.Title)
	p.HotKeys = resolveString(c, "hotkeys", p.HotKeys)
	p.USBFilter = resolveString(c, "usb-filter", p.USBFilter)
	p.DisableEffects = resolveString(c, "disable-effects", p.DisableEffects)
	p.ColorDepth = resolveInt(c, "color-depth", p.ColorDepth)
	p.FullScreen = resolveBool(c, "fullscreen", p.FullScreen)
	p.AdminConsole = resolveBool(c, "admin-console", p.AdminConsole)
	p.Smartcard = resolveBool(c, "smartcard", p.Smartcard)
	p.SendCtrlAltDel = resolveBool(c, "send-ctrlaltdel", p.SendCtrlAltDel)
	p.USBAutoShare = resolveBool(c, "usb-autoshare", p.USBAutoShare)
	return p
}

func buildRetryPolicy(c *cli.Context, cfg *config.Config) (controller.RetryPolicy, error) {
	p := cfg.RetryPolicy()
	p.Attempts = resolveInt(c, "retries", p.Attempts)
	p.Schedule = controller.Schedule(resolveString(c, "retry-schedule", string(p.Schedule)))
	p.Interval = resolveDuration(c, "retry-interval", p.Interval)
	if err := p.Validate(); err != nil {
		return controller.RetryPolicy{}, fmt.Errorf("invalid retry settings: %w", err)
	}
	return p, nil
}

func buildProxy(c *cli.Context, cfg *config.Config) (*types.ProxyEndpoint, error) {
	if c.IsSet("proxy") {
		p, err := types.ParseProxyURL(c.String("proxy"))
		if err != nil {
			return nil, fmt.Errorf("--proxy: %w", err)
		}
		return p, nil
	}
	return cfg.Proxy, nil
}

// buildResolver layers --client and --fallback-client over the profile's
// client section over the system resolver.
func buildResolver(c *cli.Context, cfg *config.Config) process.Resolver {
	return process.OverrideResolver{
		Base: cfg.Resolver(process.SystemResolver()),
		Override: process.StaticResolver{
			Primary:  strings.Fields(c.String("client")),
			Fallback: strings.Fields(c.String("fallback-client")),
		},
	}
}

func finishRecord(r *session.Record, result controller.ResultCode, launchErr error) {
	ended := time.Now().UTC()
	r.EndedAt = &ended
	r.Result = result.String()
	r.ResultCode = int(result)
	r.State = session.StateExited
	if launchErr != nil {
		r.Error = launchErr.Error()
		if controller.Kind(launchErr) != controller.KindWrite {
			r.State = session.StateFailed
		}
	}
}

func newLaunchResponse(r *session.Record, snap metrics.Snapshot) LaunchResponse {
	return LaunchResponse{
		SessionID:       r.ID,
		Host:            r.Host,
		PID:             r.PID,
		Fallback:        r.Fallback,
		Result:          r.Result,
		ResultCode:      r.ResultCode,
		ConnectAttempts: snap.ConnectAttempts,
		MessagesSent:    snap.MessagesSent,
		BytesWritten:    snap.BytesWritten,
		Error:           r.Error,
	}
}

// buildNotifier collects the notifiers named by flags and the profile.
// A flag URL replaces the profile's URL for that notifier.
func buildNotifier(c *cli.Context, cfg *config.Config) (notify.Multi, error) {
	var notifiers notify.Multi

	hook := webhook.Config{Retries: webhook.DefaultRetries}
	if w := cfg.Notify.Webhook; w != nil {
		hook.URL = w.URL
		hook.Headers = w.Headers
		hook.Timeout = w.Timeout.Duration
		if w.Retries != nil {
			hook.Retries = *w.Retries
		}
	}
	hook.URL = resolveString(c, "notify-webhook", hook.URL)
	if hook.URL != "" {
		n, err := webhook.New(hook)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, n)
	}

	rds := notifyredis.Config{Retries: notifyredis.DefaultRetries}
	if r := cfg.Notify.Redis; r != nil {
		rds.URL = r.URL
		rds.Channel = r.Channel
		rds.Timeout = r.Timeout.Duration
		if r.Retries != nil {
			rds.Retries = *r.Retries
		}
	}
	rds.URL = resolveString(c, "notify-redis", rds.URL)
	rds.Channel = resolveString(c, "notify-redis-channel", rds.Channel)
	if rds.URL != "" {
		n, err := notifyredis.New(rds)
		if err != nil {
			_ = notifiers.Close()
			return nil, err
		}
		notifiers = append(notifiers, n)
	}

	return notifiers, nil
}

// exitCode maps a launch outcome to the process exit code. Controller
// failures take precedence over the client's own result.
func exitCode(launchErr error, result controller.ResultCode) int {
	switch controller.Kind(launchErr) {
	case controller.KindSpawn:
		return exitSpawnError
	case controller.KindConnect:
		return exitConnectError
	case controller.KindTrust:
		return exitTrustError
	}
	if result.IsSuccess() {
		return exitSuccess
	}
	return exitClientFailure
}
