//go:build !windows

package execution

import (
	"errors"
	"os/exec"
	"syscall"
)

// sessionGroup starts the child as the leader of a new session, so its pgid equals its pid.
type sessionGroup struct{}

// DefaultGroup returns the process group strategy for this platform.
func DefaultGroup() Group { return sessionGroup{} }

func (sessionGroup) Isolate(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

func (sessionGroup) Signal(pid int, force bool) error {
	sig := syscall.SIGTERM
	if force {
		sig = syscall.SIGKILL
	}
	err := syscall.Kill(-pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
