package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/guseggert/execserver/server/session"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Client talks to a Server: liveness checks over HTTP, sessions over WebSocket.
type Client struct {
	Logger     *zap.SugaredLogger
	HTTPClient *http.Client

	baseURL                  string
	wsURL                    string
	readLimit                int64
	customizeRetryableClient func(*retryablehttp.Client)

	waitInterval time.Duration
}

type ClientOption func(c *Client)

func WithClientWaitInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.waitInterval = d
	}
}

func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		c.Logger = l.Named("execserver_client").Sugar()
	}
}

func WithCustomizeRetryableClient(f func(r *retryablehttp.Client)) ClientOption {
	return func(c *Client) {
		c.customizeRetryableClient = f
	}
}

// WithClientReadLimit sets the largest frame the client accepts, e.g. a large stderr dump.
func WithClientReadLimit(n int64) ClientOption {
	return func(c *Client) {
		c.readLimit = n
	}
}

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

// NewClient builds a client for the server listening on addr (host:port).
func NewClient(log *zap.SugaredLogger, addr string, opts ...ClientOption) *Client {
	c := &Client{
		Logger:       log.Named("execserver_client"),
		baseURL:      "http://" + addr,
		wsURL:        "ws://" + addr + "/ws",
		readLimit:    1 << 20,
		waitInterval: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		return 10 * time.Millisecond
	}
	retryClient.RetryMax = 10
	retryClient.Logger = &logAdapter{SugaredLogger: c.Logger}

	if c.customizeRetryableClient != nil {
		c.customizeRetryableClient(retryClient)
	}

	c.HTTPClient = retryClient.StandardClient()
	return c
}

func (c *Client) Heartbeat(ctx context.Context) (*HeartbeatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/heartbeat", nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected heartbeat status code %d", resp.StatusCode)
	}
	var hb HeartbeatResponse
	err = json.NewDecoder(resp.Body).Decode(&hb)
	if err != nil {
		return nil, fmt.Errorf("decoding heartbeat: %w", err)
	}
	return &hb, nil
}

func (c *Client) WaitForServer(ctx context.Context) error {
	ticker := time.NewTicker(c.waitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_, err := c.Heartbeat(ctx)
			if err == nil {
				c.Logger.Debug("heartbeat succeeded, done waiting for server")
				return nil
			}
			c.Logger.Debugf("got heartbeat error: %s", err)
		}
	}
}

// Connect opens a session and consumes the ready frame.
func (c *Client) Connect(ctx context.Context) (*Conn, error) {
	c.Logger.Debugw("dialing WebSocket", "URL", c.wsURL)
	wsConn, _, err := websocket.Dial(ctx, c.wsURL, &websocket.DialOptions{HTTPClient: c.HTTPClient})
	if err != nil {
		return nil, fmt.Errorf("dialing WebSocket conn: %w", err)
	}
	wsConn.SetReadLimit(c.readLimit)

	conn := &Conn{log: c.Logger.Named("conn"), conn: wsConn}
	frame, err := conn.Next(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading ready frame: %w", err)
	}
	if frame != session.FrameReady {
		conn.Close()
		return nil, fmt.Errorf("unexpected first frame %q", frame)
	}
	return conn, nil
}

// Conn is one client session.
type Conn struct {
	log  *zap.SugaredLogger
	conn *websocket.Conn
}

// Send sends a raw text frame.
func (c *Conn) Send(ctx context.Context, text string) error {
	return c.conn.Write(ctx, websocket.MessageText, []byte(text))
}

// Execute asks the server to run source, terminating whatever the session was running.
func (c *Conn) Execute(ctx context.Context, source string) error {
	return c.Send(ctx, session.ExecuteCommand(source))
}

// Stop asks the server to terminate the running execution.
func (c *Conn) Stop(ctx context.Context) error {
	return c.Send(ctx, session.StopCommand())
}

// Next returns the next frame from the server.
func (c *Conn) Next(ctx context.Context) (string, error) {
	_, b, err := c.conn.Read(ctx)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Run executes source and copies every frame to w, one per line, until the completion marker.
// The marker itself is not copied.
func (c *Conn) Run(ctx context.Context, source string, w io.Writer) error {
	err := c.Execute(ctx, source)
	if err != nil {
		return fmt.Errorf("sending source: %w", err)
	}
	c.log.Debugw("sent source", "Bytes", len(source))
	for {
		frame, err := c.Next(ctx)
		if err != nil {
			return fmt.Errorf("reading output: %w", err)
		}
		if frame == session.FrameCompleted {
			return nil
		}
		if session.IsErrorFrame(frame) {
			return fmt.Errorf("server: %s", frame)
		}
		if !strings.HasSuffix(frame, "\n") {
			frame += "\n"
		}
		_, err = io.WriteString(w, frame)
		if err != nil {
			return err
		}
	}
}

func (c *Conn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
