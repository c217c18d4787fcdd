//go:build windows

package process

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sys/windows"
)

func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
}

// waitExited is not needed here: the process handle held by cmd keeps the
// pid from being reused until Wait releases it.
func waitExited(int) bool { return false }

func terminate(cmd *exec.Cmd) error {
	err := cmd.Process.Kill()
	if err == nil || errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// TerminatePID terminates the process with the given id. A process that
// no longer exists is not an error.
func TerminatePID(pid int) error {
	if pid <= 0 {
		return os.ErrInvalid
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		if errors.Is(err, windows.ERROR_INVALID_PARAMETER) {
			return nil
		}
		return err
	}
	defer p.Release()
	err = p.Kill()
	if err == nil || errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

const stillActive = 259

// IsClient reports whether pid is still alive and runs the executable
// named by argv[0]. Arguments are not compared.
func IsClient(pid int, argv []string) (bool, error) {
	if pid <= 0 || len(argv) == 0 {
		return false, os.ErrInvalid
	}
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		if errors.Is(err, windows.ERROR_INVALID_PARAMETER) {
			return false, nil
		}
		return false, err
	}
	defer windows.CloseHandle(h)

	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false, err
	}
	if code != stillActive {
		return false, nil
	}

	buf := make([]uint16, windows.MAX_LONG_PATH)
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(h, 0, &buf[0], &size); err != nil {
		return false, err
	}
	image := windows.UTF16ToString(buf[:size])
	return strings.EqualFold(exeName(image), exeName(argv[0])), nil
}

func exeName(path string) string {
	return strings.TrimSuffix(strings.ToLower(filepath.Base(path)), ".exe")
}
