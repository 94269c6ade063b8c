package execution

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultInterpreter = "python3"
	DefaultFileSuffix  = ".py"
	// UnbufferedEnv makes the default interpreter flush every line it prints to a pipe.
	UnbufferedEnv = "PYTHONUNBUFFERED=1"

	// defaultWaitDelay bounds how long reaping can be held up by a descendant that kept the
	// child's stderr open after the child itself exited.
	defaultWaitDelay = 3 * time.Second
)

// Launcher materializes source text as an ephemeral file and spawns the interpreter on it.
type Launcher struct {
	Log *zap.SugaredLogger

	// Interpreter is the executable run for every source. InterpreterArgs are passed before the file path.
	Interpreter     string
	InterpreterArgs []string
	// FileSuffix is appended to ephemeral file names, some interpreters care about it.
	FileSuffix string
	// TempDir holds the ephemeral files, defaulting to os.TempDir().
	TempDir string
	// Env is appended to the server's environment when non-empty.
	Env []string

	Group     Group
	WaitDelay time.Duration
}

// Launch writes source to a new ephemeral file and starts the interpreter on it.
// On error nothing is left behind: the file is removed and no process is running.
func (l *Launcher) Launch(source string) (*Process, error) {
	interpreter := l.Interpreter
	if interpreter == "" {
		interpreter = DefaultInterpreter
	}
	suffix := l.FileSuffix
	if suffix == "" {
		suffix = DefaultFileSuffix
	}
	group := l.Group
	if group == nil {
		group = DefaultGroup()
	}
	waitDelay := l.WaitDelay
	if waitDelay == 0 {
		waitDelay = defaultWaitDelay
	}

	path, err := writeSource(l.TempDir, suffix, source)
	if err != nil {
		return nil, err
	}

	args := append(append([]string{}, l.InterpreterArgs...), path)
	cmd := exec.Command(interpreter, args...)
	if len(l.Env) > 0 {
		cmd.Env = append(os.Environ(), l.Env...)
	}
	group.Isolate(cmd)
	cmd.WaitDelay = waitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	err = cmd.Start()
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("starting %s: %w", interpreter, err)
	}
	if l.Log != nil {
		l.Log.Debugw("started process", "PID", cmd.Process.Pid, "Interpreter", interpreter, "File", path)
	}

	return &Process{
		Path:   path,
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		exited: make(chan struct{}),
	}, nil
}

func writeSource(dir, suffix, source string) (string, error) {
	f, err := os.CreateTemp(dir, "execution-*"+suffix)
	if err != nil {
		return "", fmt.Errorf("creating source file: %w", err)
	}
	_, err = io.WriteString(f, source)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("writing source file: %w", err)
	}
	return f.Name(), nil
}

// Process is a running interpreter child and the ephemeral file it was started on.
type Process struct {
	// Path is the ephemeral source file. It is removed by the Execution that owns the process.
	Path string

	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer

	reapOnce sync.Once
	exited   chan struct{}
	exitCode int
	waitErr  error
}

// PID returns the root process id, which is also the process group id.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Stdout returns the child's standard output stream.
func (p *Process) Stdout() io.Reader {
	return p.stdout
}

// reap starts waiting on the child in the background. It is safe to call more than once.
// Callers should have finished reading stdout first, or be abandoning it.
func (p *Process) reap() {
	p.reapOnce.Do(func() {
		go func() {
			err := p.cmd.Wait()
			p.exitCode = -1
			if p.cmd.ProcessState != nil {
				p.exitCode = p.cmd.ProcessState.ExitCode()
			}
			if err != nil {
				if _, ok := err.(*exec.ExitError); !ok {
					p.waitErr = err
				}
			}
			close(p.exited)
		}()
	})
}

// Exited is closed once the child has been reaped.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// ExitCode returns the child's exit code, -1 if it was killed by a signal. Only valid after Exited is closed.
func (p *Process) ExitCode() int {
	return p.exitCode
}

// Stderr returns everything the child wrote to standard error. Only valid after Exited is closed.
func (p *Process) Stderr() string {
	return p.stderr.String()
}

// kill sends SIGKILL to the root process only, unless it has already been reaped.
func (p *Process) kill() {
	select {
	case <-p.exited:
	default:
		p.cmd.Process.Kill()
	}
}
