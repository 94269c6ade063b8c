package session

import (
	"context"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// DefaultWriteTimeout bounds a single frame write to a client that is not reading.
const DefaultWriteTimeout = 10 * time.Second

// frameWriter sends text frames on a connection. The connection serializes concurrent writes,
// so the handler and an execution's streamer can share one writer.
type frameWriter struct {
	log     *zap.SugaredLogger
	ctx     context.Context
	conn    *websocket.Conn
	timeout time.Duration
}

// Send writes one frame. A write that times out closes the connection.
func (w *frameWriter) Send(text string) error {
	ctx, cancel := context.WithTimeout(w.ctx, w.timeout)
	defer cancel()
	err := w.conn.Write(ctx, websocket.MessageText, []byte(text))
	if err != nil {
		w.log.Debugw("error writing frame", "Bytes", len(text), "Error", err)
		return err
	}
	return nil
}
