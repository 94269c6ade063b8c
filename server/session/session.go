package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/guseggert/execserver/execution"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Session is the per-connection state: the connection itself and the execution it is running, if any.
// It is only used from the goroutine serving its connection.
type Session struct {
	ID string

	log        *zap.SugaredLogger
	conn       *websocket.Conn
	writer     *frameWriter
	launcher   *execution.Launcher
	terminator *execution.Terminator

	active *execution.Execution

	closeConnOnce sync.Once
}

func newSession(ctx context.Context, log *zap.SugaredLogger, conn *websocket.Conn, writeTimeout time.Duration, launcher *execution.Launcher, terminator *execution.Terminator) *Session {
	id := uuid.NewString()
	log = log.With("Session", id)
	return &Session{
		ID:         id,
		log:        log,
		conn:       conn,
		writer:     &frameWriter{log: log.Named("frame_writer"), ctx: ctx, conn: conn, timeout: writeTimeout},
		launcher:   launcher,
		terminator: terminator,
	}
}

// Active returns the running execution, or nil once it has finalized.
func (s *Session) Active() *execution.Execution {
	if s.active != nil && !s.active.Active() {
		s.active = nil
	}
	return s.active
}

func (s *Session) run(ctx context.Context) {
	defer s.teardown()

	err := s.writer.Send(FrameReady)
	if err != nil {
		s.log.Debugf("error sending ready frame: %s", err)
		return
	}

	for {
		_, b, err := s.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				s.log.Debug("client closed the connection")
				return
			}
			if ctx.Err() != nil {
				s.log.Debug("context done, closing session")
				s.close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			s.fail(fmt.Errorf("reading message: %w", err))
			return
		}

		err = s.handle(string(b))
		if err != nil {
			s.fail(err)
			return
		}
	}
}

// handle runs one inbound command. Only transport failures are returned.
func (s *Session) handle(msg string) error {
	cmd := parseCommand(msg)
	switch cmd.kind {
	case commandExecute:
		return s.execute(cmd.source)
	case commandStop:
		return s.stop()
	default:
		return s.writer.Send(ReceivedFrame(cmd.text))
	}
}

func (s *Session) execute(source string) error {
	if prev := s.Active(); prev != nil {
		s.terminate(prev)
		err := s.writer.Send(FramePreviousTerminated)
		if err != nil {
			return err
		}
	}

	proc, err := s.launcher.Launch(source)
	if err != nil {
		s.log.Infow("unable to launch execution", "Error", err)
		return s.writer.Send(ErrorFrame(err))
	}
	s.log.Debugw("execution started", "PID", proc.PID(), "File", proc.Path)
	s.active = execution.Start(s.log.Named("execution"), proc, &executionSink{log: s.log, writer: s.writer})
	return nil
}

func (s *Session) stop() error {
	e := s.Active()
	if e == nil {
		return s.writer.Send(FrameNothingRunning)
	}
	s.terminate(e)
	return s.writer.Send(FrameForcedStop)
}

// terminate retires e and waits until its completion marker has been sent.
func (s *Session) terminate(e *execution.Execution) {
	err := e.Terminate(context.Background(), s.terminator)
	if err != nil {
		s.log.Warnw("error terminating execution", "PID", e.PID(), "Error", err)
	}
	s.active = nil
}

// fail ends the session after an unrecoverable error.
func (s *Session) fail(err error) {
	s.log.Debugf("session failed: %s", err)
	if e := s.Active(); e != nil {
		s.terminate(e)
	}
	sendErr := s.writer.Send(ErrorFrame(err))
	if sendErr != nil {
		s.log.Debugf("error sending error frame: %s", sendErr)
	}
	s.close(websocket.StatusInternalError, err.Error())
}

func (s *Session) teardown() {
	if e := s.Active(); e != nil {
		s.terminate(e)
	}
	s.close(websocket.StatusNormalClosure, "")
}

func (s *Session) close(code websocket.StatusCode, reason string) {
	// websocket reason can't be above 123 chars
	if len(reason) > 100 {
		reason = reason[0:100]
	}
	s.closeConnOnce.Do(func() {
		err := s.conn.Close(code, reason)
		if err != nil {
			s.log.Debugf("error closing conn: %s", err)
		}
	})
}

// executionSink forwards an execution's output to the connection.
type executionSink struct {
	log    *zap.SugaredLogger
	writer *frameWriter
}

func (s *executionSink) WriteLine(text string) error {
	return s.writer.Send(text)
}

func (s *executionSink) Finished(state execution.State) {
	err := s.writer.Send(FrameCompleted)
	if err != nil {
		s.log.Debugw("error sending completion marker", "State", state.String(), "Error", err)
	}
}
