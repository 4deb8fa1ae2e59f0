package transport

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	maxQuerySize = 64 * 1024
)

// WebSocket is a console connection. Reads stay alive while the peer
// answers pings; cancelling the context given to Read closes the
// connection.
type WebSocket struct {
	id   string
	conn *websocket.Conn

	// writeMu serializes data frames; control frames bypass it.
	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewWebSocket takes ownership of an upgraded connection.
func NewWebSocket(conn *websocket.Conn) *WebSocket {
	ws := &WebSocket{
		id:   uuid.NewString(),
		conn: conn,
		done: make(chan struct{}),
	}
	conn.SetReadLimit(maxQuerySize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go ws.keepalive()
	return ws
}

func (ws *WebSocket) keepalive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ws.done:
			return
		case <-ticker.C:
			if err := ws.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = ws.Close()
				return
			}
		}
	}
}

// ID implements Transport.
func (ws *WebSocket) ID() string {
	return ws.id
}

// Read returns the next text frame. A close frame or a binary frame ends
// the session with io.EOF.
func (ws *WebSocket) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ws.done:
		return nil, ErrTransportClosed
	default:
	}

	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	kind, data, err := ws.conn.ReadMessage()
	switch {
	case err != nil && ws.isClosed():
		return nil, ErrTransportClosed
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		return nil, io.EOF
	case err != nil:
		return nil, err
	case kind != websocket.TextMessage:
		return nil, io.EOF
	}
	return data, nil
}

// Write sends one text frame.
func (ws *WebSocket) Write(ctx context.Context, data []byte) error {
	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	if ws.isClosed() {
		return ErrTransportClosed
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = ws.conn.SetWriteDeadline(deadline)
	return ws.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal close frame and releases the connection.
func (ws *WebSocket) Close() error {
	ws.closeOnce.Do(func() {
		close(ws.done)
		_ = ws.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		ws.closeErr = ws.conn.Close()
	})
	return ws.closeErr
}

// Done implements Transport.
func (ws *WebSocket) Done() <-chan struct{} {
	return ws.done
}

// RemoteAddr returns the peer address.
func (ws *WebSocket) RemoteAddr() string {
	return ws.conn.RemoteAddr().String()
}

func (ws *WebSocket) isClosed() bool {
	select {
	case <-ws.done:
		return true
	default:
		return false
	}
}

var _ Transport = (*WebSocket)(nil)
