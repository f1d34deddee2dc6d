//go:build !linux && !darwin

package process

import (
	"errors"
	"io/fs"
	"os"
	"os/exec"
)

func isolate(cmd *exec.Cmd) {}

// terminateGroup tries an interrupt; platforms without one fail here and the
// caller escalates to killGroup after the grace period.
func terminateGroup(p *os.Process) error {
	if p == nil {
		return os.ErrProcessDone
	}
	return p.Signal(os.Interrupt)
}

func killGroup(p *os.Process) error {
	if p == nil {
		return os.ErrProcessDone
	}
	return p.Kill()
}

func isPermissionErr(err error) bool {
	return errors.Is(err, fs.ErrPermission)
}
