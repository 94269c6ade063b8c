package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

const (
	// DefaultGracePeriod is how long processes get to exit after a graceful termination signal.
	DefaultGracePeriod = 3 * time.Second

	pollInterval = 50 * time.Millisecond
	// killWait bounds the confirmation wait after a forced kill.
	killWait = 1 * time.Second
)

// Terminator tears down a process tree: graceful signal, bounded wait, then forced kill.
type Terminator struct {
	Log         *zap.SugaredLogger
	Group       Group
	GracePeriod time.Duration
}

// Terminate kills the process rooted at pid and all of its descendants.
// A pid that no longer exists is not an error. When Terminate returns nil, no process in the
// tree is alive, apart from zombies waiting to be reaped by their parent.
func (t *Terminator) Terminate(ctx context.Context, pid int) error {
	grace := t.GracePeriod
	if grace == 0 {
		grace = DefaultGracePeriod
	}
	group := t.Group
	if group == nil {
		group = DefaultGroup()
	}

	root, err := process.NewProcessWithContext(ctx, int32(pid))
	if errors.Is(err, process.ErrorProcessNotRunning) {
		t.debugf("process %d already gone", pid)
		return nil
	}
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}

	descendants, err := Descendants(ctx, pid)
	if err != nil {
		return fmt.Errorf("listing descendants of %d: %w", pid, err)
	}
	tree := append(descendants, root)
	t.debugf("terminating process %d and %d descendants", pid, len(descendants))

	for _, p := range tree {
		if err := p.TerminateWithContext(ctx); err != nil {
			t.debugf("error terminating process %d: %s", p.Pid, err)
		}
	}
	if err := group.Signal(pid, false); err != nil {
		t.debugf("error signaling process group %d: %s", pid, err)
	}

	survivors := waitGone(ctx, tree, grace)
	if len(survivors) == 0 {
		return nil
	}

	t.debugf("%d processes survived the grace period, killing", len(survivors))
	for _, p := range survivors {
		if err := p.KillWithContext(ctx); err != nil {
			t.debugf("error killing process %d: %s", p.Pid, err)
		}
	}
	if err := group.Signal(pid, true); err != nil {
		t.debugf("error killing process group %d: %s", pid, err)
	}

	survivors = waitGone(ctx, survivors, killWait)
	if len(survivors) > 0 {
		return fmt.Errorf("%d processes still alive after kill", len(survivors))
	}
	return nil
}

// KillGroup force kills the orphans left in the process group of pid, a leader that has
// already been reaped. A group id stays reserved while any member lives, so if pid now names a
// live process it belongs to someone else and nothing is signaled. There is still a window
// where the group empties and pid is reused as a new leader between the check and the signal.
func (t *Terminator) KillGroup(ctx context.Context, pid int) {
	group := t.Group
	if group == nil {
		group = DefaultGroup()
	}
	exists, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil {
		t.debugf("error checking process %d, not killing its group: %s", pid, err)
		return
	}
	if exists {
		t.debugf("pid %d was reused, not killing its group", pid)
		return
	}
	if err := group.Signal(pid, true); err != nil {
		t.debugf("error killing process group %d: %s", pid, err)
	}
}

func (t *Terminator) debugf(template string, args ...any) {
	if t.Log != nil {
		t.Log.Debugf(template, args...)
	}
}

// Descendants returns every live process transitively spawned by pid, parents before children.
func Descendants(ctx context.Context, pid int) ([]*process.Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	children := map[int32][]*process.Process{}
	for _, p := range procs {
		ppid, err := p.PpidWithContext(ctx)
		if err != nil {
			// exited while we were looking
			continue
		}
		children[ppid] = append(children[ppid], p)
	}

	var out []*process.Process
	queue := []int32{int32(pid)}
	seen := map[int32]bool{int32(pid): true}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		for _, c := range children[next] {
			if seen[c.Pid] {
				continue
			}
			seen[c.Pid] = true
			out = append(out, c)
			queue = append(queue, c.Pid)
		}
	}
	return out, nil
}

// waitGone polls until every process has exited or the timeout passes, returning the ones still alive.
func waitGone(ctx context.Context, procs []*process.Process, timeout time.Duration) []*process.Process {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	alive := procs
	for {
		alive = filterAlive(ctx, alive)
		if len(alive) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return alive
		case <-deadline.C:
			return filterAlive(ctx, alive)
		case <-ticker.C:
		}
	}
}

func filterAlive(ctx context.Context, procs []*process.Process) []*process.Process {
	var alive []*process.Process
	for _, p := range procs {
		if isAlive(ctx, p) {
			alive = append(alive, p)
		}
	}
	return alive
}

// isAlive reports whether p is still running. Zombies count as gone: they hold no resources
// beyond their process table entry and only their parent can reap them.
func isAlive(ctx context.Context, p *process.Process) bool {
	running, err := p.IsRunningWithContext(ctx)
	if err != nil || !running {
		return false
	}
	status, err := p.StatusWithContext(ctx)
	if err != nil {
		return false
	}
	for _, s := range status {
		if s == process.Zombie {
			return false
		}
	}
	return true
}
