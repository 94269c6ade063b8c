package execution

import "os/exec"

// Group isolates a child process in its own OS-level process group so the whole subtree can
// be signaled as a unit. The implementation is chosen per platform by DefaultGroup.
type Group interface {
	// Isolate configures cmd, before it starts, to run in a new process group.
	Isolate(cmd *exec.Cmd)
	// Signal delivers a termination signal to the group led by pid.
	// A group that no longer exists is not an error.
	Signal(pid int, force bool) error
}
