//go:build !windows

package server

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/guseggert/execserver/config"
	internalnet "github.com/guseggert/execserver/internal/net"
	"github.com/guseggert/execserver/server/session"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	log *zap.SugaredLogger
)

func init() {
	l, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}

	log = l.Sugar()
}

func testConfig(t *testing.T) config.Config {
	addr, err := internalnet.EphemeralLoopbackAddr()
	require.NoError(t, err)
	cfg := config.Default()
	cfg.ListenAddr = addr
	cfg.Interpreter = "sh"
	cfg.FileSuffix = ".sh"
	cfg.TempDir = t.TempDir()
	cfg.GracePeriod = 500 * time.Millisecond
	return cfg
}

// startServer runs a server and returns a client that has waited for it.
func startServer(t *testing.T, cfg config.Config) (*Server, *Client) {
	server, err := New(cfg)
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- server.Run() }()
	t.Cleanup(func() {
		require.NoError(t, server.Stop())
		require.NoError(t, <-runErr)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	addr, err := server.Addr(ctx)
	require.NoError(t, err)

	client := NewClient(log, addr)
	require.NoError(t, client.WaitForServer(ctx))
	return server, client
}

func TestInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Interpreter = ""
	_, err := New(cfg)
	require.ErrorContains(t, err, "interpreter is required")
}

func TestHeartbeat(t *testing.T) {
	ctx := context.Background()
	_, client := startServer(t, testConfig(t))

	hb, err := client.Heartbeat(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, hb.Sessions)
	_, err = time.Parse(time.RFC3339, hb.Started)
	require.NoError(t, err)

	conn, err := client.Connect(ctx)
	require.NoError(t, err)
	defer conn.Close()

	hb, err = client.Heartbeat(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, hb.Sessions)
}

func TestHeartbeatUnreachable(t *testing.T) {
	addr, err := internalnet.EphemeralLoopbackAddr()
	require.NoError(t, err)

	client := NewClient(log, addr, WithCustomizeRetryableClient(func(r *retryablehttp.Client) {
		r.RetryMax = 0
	}))
	_, err = client.Heartbeat(context.Background())
	require.ErrorContains(t, err, "HTTP error")
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	_, client := startServer(t, testConfig(t))

	conn, err := client.Connect(ctx)
	require.NoError(t, err)
	defer conn.Close()

	var out bytes.Buffer
	require.NoError(t, conn.Run(ctx, "echo hello\nprintf 'no newline'", &out))
	assert.Equal(t, "hello\nno newline\n", out.String())

	// the same session can run again
	out.Reset()
	require.NoError(t, conn.Run(ctx, "echo fail >&2\nexit 1", &out))
	assert.Equal(t, "fail\n", out.String())
}

func TestRunLaunchFailure(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Interpreter = "/nonexistent/interpreter"
	_, client := startServer(t, cfg)

	conn, err := client.Connect(ctx)
	require.NoError(t, err)
	defer conn.Close()

	err = conn.Run(ctx, "echo hi", &bytes.Buffer{})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "Error: "), err.Error())
}

func TestStopEndsRunningSessions(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	server, err := New(cfg)
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- server.Run() }()

	addr, err := server.Addr(ctx)
	require.NoError(t, err)
	client := NewClient(log, addr)
	require.NoError(t, client.WaitForServer(ctx))

	conn, err := client.Connect(ctx)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Execute(ctx, "echo started\nsleep 30"))
	frame, err := conn.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "started", frame)

	start := time.Now()
	require.NoError(t, server.Stop())
	require.NoError(t, <-runErr)
	assert.Less(t, time.Since(start), 5*time.Second)

	// the execution was torn down along with the session
	_, err = conn.Next(ctx)
	require.Error(t, err)
}

func TestStopExecutionThroughClient(t *testing.T) {
	ctx := context.Background()
	_, client := startServer(t, testConfig(t))

	conn, err := client.Connect(ctx)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Stop(ctx))
	frame, err := conn.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.FrameNothingRunning, frame)

	require.NoError(t, conn.Execute(ctx, "sleep 30"))
	require.NoError(t, conn.Stop(ctx))

	var frames []string
	for frame != session.FrameForcedStop {
		frame, err = conn.Next(ctx)
		require.NoError(t, err)
		frames = append(frames, frame)
	}
	assert.Equal(t, []string{session.FrameCompleted, session.FrameForcedStop}, frames)
}

func TestDefaultConfigStreamsPythonOutput(t *testing.T) {
	python, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not installed")
	}
	// the server's defaults must turn off buffering, not the host environment
	t.Setenv("PYTHONUNBUFFERED", "")
	require.NoError(t, os.Unsetenv("PYTHONUNBUFFERED"))

	ctx := context.Background()
	cfg := testConfig(t)
	def := config.Default()
	cfg.Interpreter = python
	cfg.FileSuffix = def.FileSuffix
	cfg.Env = def.Env
	_, client := startServer(t, cfg)

	conn, err := client.Connect(ctx)
	require.NoError(t, err)
	defer conn.Close()

	start := time.Now()
	require.NoError(t, conn.Execute(ctx, "import time\nprint('tick')\ntime.sleep(3)\nprint('tock')"))
	frame, err := conn.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tick", frame)
	assert.Less(t, time.Since(start), 2*time.Second)

	frame, err = conn.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tock", frame)
	frame, err = conn.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.FrameCompleted, frame)

	// output printed before a stop is delivered
	require.NoError(t, conn.Execute(ctx, "import time\nprint('before stop')\ntime.sleep(30)"))
	frame, err = conn.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "before stop", frame)

	require.NoError(t, conn.Stop(ctx))
	var frames []string
	for frame != session.FrameForcedStop {
		frame, err = conn.Next(ctx)
		require.NoError(t, err)
		frames = append(frames, frame)
	}
	assert.Equal(t, []string{session.FrameCompleted, session.FrameForcedStop}, frames)
}
