package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rzbill/rookery/internal/broadcast"
)

const (
	wsWriteWait   = 10 * time.Second
	wsMaxReadSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browsers from any origin may subscribe, matching the CORS policy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsSink implements broadcast.Sink over a WebSocket: one text frame per
// event. Its context ends when the client closes the connection.
type wsSink struct {
	conn *websocket.Conn
	ctx  context.Context
}

// newWSSink starts the read loop that detects client closure. Incoming
// messages are discarded.
func newWSSink(parent context.Context, conn *websocket.Conn) *wsSink {
	ctx, cancel := context.WithCancel(parent)
	conn.SetReadLimit(wsMaxReadSize)
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return &wsSink{conn: conn, ctx: ctx}
}

func (s *wsSink) Send(ev broadcast.Event) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteMessage(websocket.TextMessage, ev.Data)
}

func (s *wsSink) Ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

func (s *wsSink) Context() context.Context { return s.ctx }

// Flush is a no-op: every frame is written through.
func (s *wsSink) Flush() error { return nil }

// close sends a close frame with code and closes the connection.
func (s *wsSink) close(code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = s.conn.Close()
}
