//go:build !windows

package watch

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// configureProcAttr runs the child in its own process group, so stopping
// it also stops anything it started, and hands it the ipc descriptor.
func configureProcAttr(cmd *exec.Cmd, ipcEnd *os.File) error {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.ExtraFiles = []*os.File{ipcEnd}
	return nil
}

func terminateGroup(pid int) error {
	return signalGroup(pid, syscall.SIGTERM)
}

func killGroup(pid int) error {
	return signalGroup(pid, syscall.SIGKILL)
}

// signalGroup signals the process group led by pid, falling back to the
// process alone.
func signalGroup(pid int, sig syscall.Signal) error {
	if err := syscall.Kill(-pid, sig); err != nil {
		if err2 := syscall.Kill(pid, sig); err2 != nil {
			if err2 == syscall.ESRCH {
				return os.ErrProcessDone
			}
			return fmt.Errorf("failed to signal process group -%d: %v, also failed to signal process %d: %w", pid, err, pid, err2)
		}
	}
	return nil
}
