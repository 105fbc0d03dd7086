package ws

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

type WebSocket struct {
	*websocket.Conn
	ctx          context.Context
	cancel       context.CancelFunc
	readLimit    int64
	writeTimeout time.Duration
}

func NewWebSocket(parent context.Context, conn *websocket.Conn, readLimit int64, writeTimeout time.Duration) *WebSocket {
	ctx, cancel := context.WithCancel(parent)
	return &WebSocket{
		Conn:         conn,
		ctx:          ctx,
		cancel:       cancel,
		readLimit:    readLimit,
		writeTimeout: writeTimeout,
	}
}

func (w *WebSocket) WriteMessage(data []byte) error {
	w.Conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	return w.Conn.WriteMessage(websocket.TextMessage, data)
}

// Ping sends a control frame; the peer's pong is picked up by the pong
// handler installed on the session. Safe to call concurrently with the
// write loop.
func (w *WebSocket) Ping() error {
	return w.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.writeTimeout))
}

// CloseWithStatus tries to deliver a close frame so the peer learns why
// it was cut off, then tears the connection down regardless.
func (w *WebSocket) CloseWithStatus(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = w.Conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(w.writeTimeout))
	w.Close()
}

// ReadLoop pumps inbound frames into onMsg until the connection dies
// and returns the terminal read error.
func (w *WebSocket) ReadLoop(onMsg func([]byte)) error {
	defer w.Close()

	// Protects against memory exhaustion from oversized frames.
	w.Conn.SetReadLimit(w.readLimit)

	for {
		_, data, err := w.Conn.ReadMessage()
		if err != nil {
			return err
		}

		if len(data) > 0 {
			onMsg(data)
		}
	}
}

func (w *WebSocket) Close() {
	w.cancel()
	_ = w.Conn.Close()
}
