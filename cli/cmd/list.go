package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/acidburn0zzz/spice-xpi/cli/render"
	"github.com/acidburn0zzz/spice-xpi/session"
)

// ListCommand returns the list command.
func ListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List recorded client sessions",
		Flags: append(ReadOnlyFlags(),
			&cli.StringFlag{
				Name:  "state",
				Usage: "Filter by state: running, exited, failed",
			},
		),
		Action: listAction,
	}
}

func listAction(c *cli.Context) error {
	state, err := parseState(c.String("state"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	store, err := openStore(c, "")
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}

	records, err := store.List()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if state != "" {
		records = session.Filter(records, state)
	}
	if records == nil {
		records = []*session.Record{}
	}

	return r.Render(records)
}

func parseState(s string) (session.State, error) {
	switch state := session.State(s); state {
	case "", session.StateRunning, session.StateExited, session.StateFailed:
		return state, nil
	default:
		return "", fmt.Errorf("invalid state %q (must be running, exited, or failed)", s)
	}
}
