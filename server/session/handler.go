package session

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/guseggert/execserver/execution"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Handler accepts WebSocket connections and serves one Session per connection.
type Handler struct {
	Log        *zap.SugaredLogger
	Launcher   *execution.Launcher
	Terminator *execution.Terminator

	// OriginPatterns are extra hosts allowed to open connections from a browser.
	OriginPatterns []string
	// ReadLimit is the largest inbound frame accepted, in bytes.
	ReadLimit int64
	// WriteTimeout bounds each outbound frame, DefaultWriteTimeout when zero.
	WriteTimeout time.Duration

	wg       sync.WaitGroup
	sessions atomic.Int64
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.OriginPatterns,
	})
	if err != nil {
		// Accept has already written the HTTP error response
		h.Log.Debugf("error accepting WebSocket conn: %s", err)
		return
	}
	if h.ReadLimit > 0 {
		wsConn.SetReadLimit(h.ReadLimit)
	}

	h.wg.Add(1)
	defer h.wg.Done()
	h.sessions.Add(1)
	defer h.sessions.Add(-1)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	writeTimeout := h.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = DefaultWriteTimeout
	}
	s := newSession(ctx, h.Log.Named("session"), wsConn, writeTimeout, h.Launcher, h.Terminator)
	s.log.Debugw("accepted WebSocket conn", "RemoteAddr", r.RemoteAddr)
	s.run(ctx)
	s.log.Debug("session ended")
}

// Sessions returns the number of connections currently being served.
func (h *Handler) Sessions() int {
	return int(h.sessions.Load())
}

// Wait blocks until every session has ended and its execution has been torn down.
func (h *Handler) Wait() {
	h.wg.Wait()
}
