//go:build linux

package process

import (
	"bytes"
	"errors"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// waitExited blocks until pid has exited without reaping it, so the pid
// stays reserved until cmd.Wait. It reports false if the wait failed.
func waitExited(pid int) bool {
	var info unix.Siginfo
	for {
		err := unix.Waitid(unix.P_PID, pid, &info, unix.WEXITED|unix.WNOWAIT, nil)
		if err == nil {
			return true
		}
		if !errors.Is(err, unix.EINTR) {
			return false
		}
	}
}

// commandLine reads the argument vector of pid from /proc. Zombies have an
// empty command line and count as gone.
func commandLine(pid int) (argv []string, alive bool, err error) {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/cmdline")
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, unix.ESRCH) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	data = bytes.TrimSuffix(data, []byte{0})
	if len(data) == 0 {
		return nil, false, nil
	}
	for _, arg := range bytes.Split(data, []byte{0}) {
		argv = append(argv, string(arg))
	}
	return argv, true, nil
}
