// Package cmd provides CLI commands for the spicectl binary.
package cmd

import "github.com/urfave/cli/v2"

// Shared flags.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// StateDirFlag overrides the directory holding session records.
	StateDirFlag = &cli.StringFlag{
		Name:    "state-dir",
		Usage:   "Directory for session records (default: $XDG_STATE_HOME/spice-xpi/sessions)",
		EnvVars: []string{"SPICECTL_STATE_DIR"},
	}
)

// ReadOnlyFlags returns the shared flags for commands that only report.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		StateDirFlag,
	}
}
