package execution

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/guseggert/execserver/internal/sanitize"
)

const (
	scannerInitialBufferSize = 64 * 1024
	scannerMaxBufferSize     = 1024 * 1024

	// abandonDrainTimeout bounds how long a cancelled stream waits for stdout to close before reaping.
	abandonDrainTimeout = 2 * time.Second
)

// stream forwards stdout line by line, then stderr on a non-zero exit. finalize always runs.
func (e *Execution) stream(ctx context.Context) {
	defer close(e.done)
	defer e.finalize()
	defer func() {
		if r := recover(); r != nil {
			e.log.Errorf("panic while streaming process %d: %v", e.proc.PID(), r)
			e.cancel()
			e.proc.kill()
			e.proc.reap()
			<-e.proc.Exited()
			e.setState(Failed)
		}
	}()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(e.proc.Stdout())
		scanner.Buffer(make([]byte, 0, scannerInitialBufferSize), scannerMaxBufferSize)
		for scanner.Scan() {
			line := strings.TrimRight(scanner.Text(), "\r\n")
			select {
			case lines <- line:
			case <-ctx.Done():
				// keep reading so the child never blocks on a full pipe
			}
		}
		err := scanner.Err()
		if err != nil {
			// an overlong line stops the scanner, discard the rest so the child can finish
			io.Copy(io.Discard, e.proc.Stdout())
		}
		readErr <- err
	}()

	forward := true
read:
	for {
		select {
		case <-ctx.Done():
			e.abandon(lines)
			return
		case line, ok := <-lines:
			if !ok {
				break read
			}
			if !forward {
				continue
			}
			err := e.sink.WriteLine(sanitize.Text(line))
			if err != nil {
				e.log.Debugf("error forwarding output of process %d, dropping the rest: %s", e.proc.PID(), err)
				forward = false
			}
		}
	}

	if err := <-readErr; err != nil {
		e.log.Debugf("error reading stdout of process %d: %s", e.proc.PID(), err)
	}
	e.proc.reap()
	select {
	case <-ctx.Done():
		e.abandon(nil)
		return
	case <-e.proc.Exited():
	}

	if e.proc.waitErr != nil {
		e.log.Debugf("unexpected wait error for process %d: %s", e.proc.PID(), e.proc.waitErr)
	}
	code := e.proc.ExitCode()
	e.log.Debugf("process %d exited with code %d", e.proc.PID(), code)
	if code == 0 {
		e.setState(Completed)
		return
	}
	e.setState(Failed)
	if stderr := sanitize.Text(e.proc.Stderr()); forward && stderr != "" {
		if err := e.sink.WriteLine(stderr); err != nil {
			e.log.Debugf("error forwarding stderr of process %d: %s", e.proc.PID(), err)
		}
	}
}

// abandon is the cancellation path: nothing more is forwarded, the rest of stdout is discarded
// and the root is reaped. The tree has normally been killed already by Terminate.
func (e *Execution) abandon(lines <-chan string) {
	if lines != nil {
		timer := time.NewTimer(abandonDrainTimeout)
		defer timer.Stop()
	drain:
		for {
			select {
			case _, ok := <-lines:
				if !ok {
					break drain
				}
			case <-timer.C:
				e.log.Debugf("stdout of process %d still open after cancel, reaping anyway", e.proc.PID())
				break drain
			}
		}
	}
	e.proc.reap()
	select {
	case <-e.proc.Exited():
	case <-time.After(abandonDrainTimeout):
		e.proc.kill()
		<-e.proc.Exited()
	}

	select {
	case <-e.cancelled:
		e.setState(Terminated)
	default:
		e.setState(Failed)
	}
}

// finalize removes the ephemeral file and reports the final state, exactly once per Execution.
func (e *Execution) finalize() {
	err := os.Remove(e.proc.Path)
	if err != nil && !os.IsNotExist(err) {
		e.log.Warnw("error removing source file", "File", e.proc.Path, "Error", err)
	}
	state := e.State()
	if !state.Terminal() {
		state = Failed
		e.setState(state)
	}
	e.log.Debugw("execution finished", "PID", e.proc.PID(), "State", state.String())
	e.sink.Finished(state)
}

func (e *Execution) String() string {
	return fmt.Sprintf("execution(pid=%d, state=%s)", e.proc.PID(), e.State())
}
