package cmd

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/acidburn0zzz/spice-xpi/session"
)

// Precedence for every launch setting: explicit flag, then profile value,
// then the flag default.

func resolveString(c *cli.Context, name, fromConfig string) string {
	if c.IsSet(name) || fromConfig == "" {
		return c.String(name)
	}
	return fromConfig
}

func resolveInt(c *cli.Context, name string, fromConfig int) int {
	if c.IsSet(name) || fromConfig == 0 {
		return c.Int(name)
	}
	return fromConfig
}

func resolveBool(c *cli.Context, name string, fromConfig bool) bool {
	if c.IsSet(name) {
		return c.Bool(name)
	}
	return fromConfig || c.Bool(name)
}

func resolveDuration(c *cli.Context, name string, fromConfig time.Duration) time.Duration {
	if c.IsSet(name) || fromConfig == 0 {
		return c.Duration(name)
	}
	return fromConfig
}

// openStore opens the session store from --state-dir, then the profile,
// then the per-user default.
func openStore(c *cli.Context, fromConfig string) (*session.Store, error) {
	dir := resolveString(c, "state-dir", fromConfig)
	if dir == "" {
		var err error
		if dir, err = session.DefaultDir(); err != nil {
			return nil, err
		}
	}
	return session.NewStore(dir)
}
