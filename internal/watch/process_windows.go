//go:build windows

package watch

import (
	"errors"
	"os"
	"os/exec"
)

// ErrUnsupported is returned when spawning children on Windows, where
// descriptors cannot be passed through exec.Cmd.ExtraFiles.
var ErrUnsupported = errors.New("watch mode is not supported on Windows")

func configureProcAttr(*exec.Cmd, *os.File) error {
	return ErrUnsupported
}

func terminateGroup(pid int) error {
	return killGroup(pid)
}

func killGroup(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
