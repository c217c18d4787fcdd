package controller

import (
	"context"
	"errors"

	"github.com/acidburn0zzz/spice-xpi/ipc"
	"github.com/acidburn0zzz/spice-xpi/types"
)

// Configure streams params to the connected client in the order the
// client expects, ending with CONNECT and SHOW. Zero and empty values are
// skipped. Write failures do not stop the sequence; they are returned
// joined once it completes. ErrNotConnected stops it immediately.
func (c *Controller) Configure(params *types.ConnectionParams) error {
	port, securePort := params.Ports()

	fullScreen := uint32(0)
	if params.FullScreen {
		fullScreen |= ipc.FullScreenSet
	}
	if !params.AdminConsole {
		fullScreen |= ipc.FullScreenAutoDisplayRes
	}

	steps := []func() error{
		func() error { return c.SendInit(ipc.InitFlagExclusive) },
		func() error { return c.SendStr(ipc.MsgHost, params.Host) },
		func() error { return c.SendValue(ipc.MsgPort, positive(port)) },
		func() error { return c.SendValue(ipc.MsgSecurePort, positive(securePort)) },
		func() error { return c.SendValue(ipc.MsgFullScreen, fullScreen) },
		func() error { return c.SendBool(ipc.MsgEnableSmartcard, params.Smartcard) },
		func() error { return c.SendStr(ipc.MsgPassword, params.Password) },
		func() error { return c.SendStr(ipc.MsgTLSCiphers, params.TLSCiphers) },
		func() error { return c.SendStr(ipc.MsgSetTitle, params.Title) },
		func() error { return c.SendBool(ipc.MsgSendCtrlAltDel, params.SendCtrlAltDel) },
		func() error { return c.SendBool(ipc.MsgEnableUSBAutoShare, params.USBAutoShare) },
		func() error { return c.SendStr(ipc.MsgUSBFilter, params.USBFilter) },
		func() error {
			return c.SendStr(ipc.MsgSecureChannels, types.NormalizeSecureChannels(params.SecureChannels))
		},
		func() error { return c.SendStr(ipc.MsgCAFile, params.CAFile) },
		func() error { return c.SendStr(ipc.MsgHostSubject, params.HostSubject) },
		func() error { return c.SendStr(ipc.MsgHotKeys, params.HotKeys) },
		func() error { return c.SendValue(ipc.MsgColorDepth, positive(params.ColorDepth)) },
		func() error { return c.SendStr(ipc.MsgDisableEffects, params.DisableEffects) },
		func() error { return c.SendMsg(ipc.NewCommand(ipc.MsgConnect)) },
		func() error { return c.Show() },
	}

	var errs []error
	for _, step := range steps {
		if err := step(); err != nil {
			if errors.Is(err, ErrNotConnected) {
				return err
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Launch runs the whole session start: it validates params, spawns the
// client, connects with the configured retry budget and streams params.
// Parameters without a usable port end the session with
// ResultInvalidParams before anything is spawned.
func (c *Controller) Launch(ctx context.Context, params *types.ConnectionParams) error {
	if err := params.Validate(); err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.result = ResultInvalidParams
		c.mu.Unlock()

		c.logger.Error("invalid connection parameters", map[string]any{
			"error": err.Error(),
		})
		c.finish(ResultInvalidParams)
		return err
	}

	if err := c.StartClient(); err != nil {
		return err
	}
	if err := c.Connect(ctx, c.retry.Attempts); err != nil {
		return err
	}
	return c.Configure(params)
}

// positive converts n to a wire value, mapping anything below 1 to 0 so
// the value is skipped.
func positive(n int) uint32 {
	if n <= 0 {
		return 0
	}
	return uint32(n)
}
