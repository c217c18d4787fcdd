// Package main provides the spicectl CLI entrypoint.
//
// Usage:
//
//	spicectl <command> [options]
//
// Exit codes for `launch`:
//   - 0: the client ran and exited successfully
//   - 1: invalid parameters, or the client exited with a failure result
//   - 2: no client could be spawned
//   - 3: the client's control endpoint never accepted a connection
//   - 4: the control endpoint is not owned by the current user
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/acidburn0zzz/spice-xpi/cli/cmd"
	"github.com/acidburn0zzz/spice-xpi/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "spicectl",
		Usage:          "Launch and drive the SPICE remote-desktop client",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.LaunchCommand(),
			cmd.ListCommand(),
			cmd.StopCommand(),
			cmd.DecodeCommand(),
			cmd.VersionCommand(commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already exited for cli.ExitCoder errors.
		os.Exit(1)
	}
}

// exitErrHandler preserves exit codes from cli.Exit().
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		// cli.Exit("", N).Error() is "exit status N"; nothing to print.
		if msg := exitCoder.Error(); msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
