package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/guseggert/execserver/config"
	"github.com/guseggert/execserver/execution"
	"github.com/guseggert/execserver/server/session"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Server is the HTTP server exposing the execution protocol on /ws.
type Server struct {
	logger *zap.SugaredLogger
	cfg    config.Config

	listenAddr string

	httpServer     *http.Server
	sessionHandler *session.Handler

	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time

	listenerMut sync.Mutex
	listener    net.Listener
	ready       chan struct{}
}

type Option func(s *Server)

func WithListenAddr(addr string) Option {
	return func(s *Server) {
		s.listenAddr = addr
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l.Named("execserver").Sugar()
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(s *Server) {
		s.logger = s.logger.WithOptions(zap.IncreaseLevel(l))
	}
}

// New constructs a server from cfg. Options are applied after the config.
func New(cfg config.Config, opts ...Option) (*Server, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		logger:     logger.Named("execserver").Sugar(),
		cfg:        cfg,
		listenAddr: cfg.ListenAddr,
		ctx:        ctx,
		cancel:     cancel,
		ready:      make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}

	group := execution.DefaultGroup()
	s.sessionHandler = &session.Handler{
		Log: s.logger.Named("session_handler"),
		Launcher: &execution.Launcher{
			Log:             s.logger.Named("launcher"),
			Interpreter:     cfg.Interpreter,
			InterpreterArgs: cfg.InterpreterArgs,
			FileSuffix:      cfg.FileSuffix,
			TempDir:         cfg.TempDir,
			Env:             cfg.Env,
			Group:           group,
			WaitDelay:       cfg.GracePeriod,
		},
		Terminator: &execution.Terminator{
			Log:         s.logger.Named("terminator"),
			Group:       group,
			GracePeriod: cfg.GracePeriod,
		},
		OriginPatterns: cfg.AllowedOrigins,
		ReadLimit:      cfg.MaxMessageBytes,
	}
	return s, nil
}

// Run serves until Stop is called.
func (s *Server) Run() error {
	s.logger.Warnw("submitted code runs unsandboxed with the privileges of this process", "Interpreter", s.cfg.Interpreter)

	listener, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}

	router := httprouter.New()
	router.GET("/heartbeat", s.heartbeat)
	router.GET("/ws", s.ws)

	server := http.Server{
		Handler:     router,
		BaseContext: func(net.Listener) context.Context { return s.ctx },
	}
	s.listenerMut.Lock()
	s.httpServer = &server
	s.listener = listener
	s.started = time.Now()
	s.listenerMut.Unlock()
	close(s.ready)

	s.logger.Infow("listening", "Addr", listener.Addr().String())
	err = server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr returns the address the server is listening on, once it is.
func (s *Server) Addr(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-s.ready:
	}
	s.listenerMut.Lock()
	defer s.listenerMut.Unlock()
	return s.listener.Addr().String(), nil
}

func (s *Server) ws(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.sessionHandler.ServeHTTP(w, r)
}

type HeartbeatResponse struct {
	Started  string
	Sessions int
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.listenerMut.Lock()
	started := s.started
	s.listenerMut.Unlock()
	response := HeartbeatResponse{
		Started:  started.UTC().Format(time.RFC3339),
		Sessions: s.sessionHandler.Sessions(),
	}
	b, err := json.Marshal(response)
	if err != nil {
		s.logger.Debugf("error marshaling heartbeat response: %s", err)
	}
	w.Header().Add("Content-Type", "application/json")
	w.Write(b)
}

// Stop closes the listener, ends every session and waits for their executions to be torn down.
func (s *Server) Stop() error {
	s.listenerMut.Lock()
	httpServer := s.httpServer
	s.listenerMut.Unlock()

	var err error
	if httpServer != nil {
		err = httpServer.Close()
	}
	s.cancel()
	s.sessionHandler.Wait()
	return err
}
