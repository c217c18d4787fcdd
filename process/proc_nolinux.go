//go:build unix && !linux

package process

import (
	"errors"

	"golang.org/x/sys/unix"
)

func waitExited(int) bool { return false }

// commandLine only checks that pid exists; the argument vector of another
// process is not read here.
func commandLine(pid int) (argv []string, alive bool, err error) {
	err = unix.Kill(pid, 0)
	switch {
	case err == nil, errors.Is(err, unix.EPERM):
		return nil, true, nil
	case errors.Is(err, unix.ESRCH):
		return nil, false, nil
	default:
		return nil, false, err
	}
}
