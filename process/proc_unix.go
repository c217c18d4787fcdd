//go:build unix

package process

import (
	"errors"
	"os"
	"os/exec"
	"slices"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcAttr puts the client in its own process group so Terminate
// reaches any children it starts.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminate(cmd *exec.Cmd) error {
	return TerminatePID(cmd.Process.Pid)
}

// TerminatePID sends SIGTERM to the process group led by pid. A group that
// no longer exists is not an error.
func TerminatePID(pid int) error {
	if pid <= 0 {
		return os.ErrInvalid
	}
	err := unix.Kill(-pid, unix.SIGTERM)
	if err == nil || errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// IsClient reports whether pid is still alive and running argv. A pid that
// was reused by another program reports false. Where the command line of
// another process cannot be read, a live pid is taken to match.
func IsClient(pid int, argv []string) (bool, error) {
	if pid <= 0 || len(argv) == 0 {
		return false, os.ErrInvalid
	}
	cmdline, alive, err := commandLine(pid)
	if err != nil || !alive {
		return false, err
	}
	if cmdline == nil {
		return true, nil
	}
	return slices.Equal(cmdline, argv), nil
}
