package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/acidburn0zzz/spice-xpi/cli/render"
	"github.com/acidburn0zzz/spice-xpi/iox"
	"github.com/acidburn0zzz/spice-xpi/log"
	"github.com/acidburn0zzz/spice-xpi/process"
	"github.com/acidburn0zzz/spice-xpi/session"
	"github.com/acidburn0zzz/spice-xpi/types"
)

// errClientGone is recorded when a running session's pid no longer runs
// its client.
const errClientGone = "client process no longer running"

// StopCommand returns the stop command.
func StopCommand() *cli.Command {
	return &cli.Command{
		Name:      "stop",
		Usage:     "Terminate the client of a running session",
		ArgsUsage: "<session-id>",
		Flags: append(ReadOnlyFlags(),
			&cli.BoolFlag{
				Name:  "remove",
				Usage: "Delete the session record afterwards",
			},
		),
		Action: stopAction,
	}
}

func stopAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("stop requires exactly one <session-id>", 1)
	}
	id := c.Args().First()

	store, err := openStore(c, "")
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}

	rec, err := store.Load(id)
	if errors.Is(err, session.ErrNotFound) {
		return cli.Exit(fmt.Sprintf("session %s not found", id), 1)
	}
	if err != nil {
		return err
	}

	logger := log.NewLogger(&types.SessionMeta{ID: rec.ID, Host: rec.Host}).WithOutput(c.App.ErrWriter)
	defer iox.DiscardErr(logger.Sync)
	diag := logger.Sugar()

	if rec.State == session.StateRunning {
		if rec.PID <= 0 {
			return cli.Exit(fmt.Sprintf("session %s has no client process yet", id), 1)
		}
		if len(rec.Argv) == 0 {
			return cli.Exit(fmt.Sprintf("session %s has no recorded command line, not signalling pid %d", id, rec.PID), 1)
		}

		running, err := process.IsClient(rec.PID, rec.Argv)
		if err != nil {
			return fmt.Errorf("failed to inspect client %d: %w", rec.PID, err)
		}

		stale := ""
		if running {
			diag.Infof("terminating client %d", rec.PID)
			if err := process.TerminatePID(rec.PID); err != nil {
				return fmt.Errorf("failed to terminate client %d: %w", rec.PID, err)
			}
		} else {
			diag.Warnf("pid %d no longer runs %q, marking the session exited without signalling", rec.PID, rec.Argv[0])
			stale = errClientGone
		}

		// The launching process records the real result when it sees the exit.
		if err := store.Update(id, func(r *session.Record) {
			if r.EndedAt == nil {
				now := time.Now().UTC()
				r.EndedAt = &now
				r.State = session.StateExited
				if stale != "" && r.Error == "" {
					r.Error = stale
				}
			}
		}); err != nil {
			return err
		}
		if rec, err = store.Load(id); err != nil {
			return err
		}
	}

	if c.Bool("remove") {
		if err := store.Remove(id); err != nil {
			return err
		}
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	return r.Render(rec)
}
