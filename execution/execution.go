package execution

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type State int

const (
	Running State = iota
	Completed
	Failed
	Terminated
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is an end state.
func (s State) Terminal() bool {
	return s != Running
}

// Sink receives the output of one Execution.
type Sink interface {
	// WriteLine forwards one sanitized chunk of output. Returning an error stops forwarding,
	// the process keeps being drained.
	WriteLine(text string) error
	// Finished is called exactly once, after the ephemeral file has been removed.
	Finished(state State)
}

// Execution is one run of submitted source: the process, its ephemeral file and the goroutine
// streaming its output. It always ends in a terminal state with its file removed.
type Execution struct {
	log  *zap.SugaredLogger
	proc *Process
	sink Sink

	cancel    context.CancelFunc
	cancelled chan struct{}
	done      chan struct{}

	terminateOnce sync.Once

	mu    sync.Mutex
	state State
}

// Start begins streaming proc's output to sink. The returned Execution owns proc.
func Start(log *zap.SugaredLogger, proc *Process, sink Sink) *Execution {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Execution{
		log:       log,
		proc:      proc,
		sink:      sink,
		cancel:    cancel,
		cancelled: make(chan struct{}),
		done:      make(chan struct{}),
		state:     Running,
	}
	go e.stream(ctx)
	return e
}

// PID returns the root process id.
func (e *Execution) PID() int {
	return e.proc.PID()
}

// Path returns the ephemeral source file, which no longer exists once Done is closed.
func (e *Execution) Path() string {
	return e.proc.Path
}

func (e *Execution) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Execution) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = s
}

// Done is closed after finalization: the file is removed and the sink has been told.
func (e *Execution) Done() <-chan struct{} {
	return e.done
}

// Active reports whether the Execution has not finalized yet.
func (e *Execution) Active() bool {
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

// Terminate stops forwarding output, tears down the process tree, and waits for finalization.
// Calling it after the Execution finished on its own is a no-op.
func (e *Execution) Terminate(ctx context.Context, t *Terminator) error {
	var err error
	e.terminateOnce.Do(func() {
		close(e.cancelled)
		e.cancel()

		select {
		case <-e.proc.Exited():
			// the root is reaped, only orphans left in its group can remain
			if e.Active() {
				t.KillGroup(ctx, e.proc.PID())
			}
		default:
			err = t.Terminate(ctx, e.proc.PID())
		}
	})
	if err != nil {
		// make sure the root at least is gone so the streamer can reap it
		e.proc.kill()
	}
	<-e.done
	return err
}
