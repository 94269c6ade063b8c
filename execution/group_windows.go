//go:build windows

package execution

import (
	"os/exec"
	"syscall"
)

// consoleGroup puts the child in a new console process group. Windows has no group-wide kill,
// so Signal is a no-op and the Terminator's tree walk does the work.
type consoleGroup struct{}

// DefaultGroup returns the process group strategy for this platform.
func DefaultGroup() Group { return consoleGroup{} }

func (consoleGroup) Isolate(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

func (consoleGroup) Signal(pid int, force bool) error {
	return nil
}
