package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// pair returns the server side of a websocket and the dialled client side.
func pair(t *testing.T) (*WebSocket, *websocket.Conn) {
	t.Helper()
	accepted := make(chan *WebSocket, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- NewWebSocket(conn)
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	select {
	case ws := <-accepted:
		t.Cleanup(func() { _ = ws.Close() })
		return ws, client
	case <-time.After(2 * time.Second):
		t.Fatal("server side never accepted")
		return nil, nil
	}
}

func TestWebSocket_ReadWrite(t *testing.T) {
	ws, client := pair(t)

	if err := client.WriteMessage(websocket.TextMessage, []byte(`{"method":"Status"}`)); err != nil {
		t.Fatalf("client write: %v", err)
	}
	data, err := ws.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(data) != `{"method":"Status"}` {
		t.Errorf("Read() = %s", data)
	}

	if err := ws.Write(context.Background(), []byte(`{"result":"Idle"}`)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, got, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	if string(got) != `{"result":"Idle"}` {
		t.Errorf("client got %s", got)
	}
}

func TestWebSocket_CancelUnblocksRead(t *testing.T) {
	ws, _ := pair(t)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := ws.Read(ctx)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrTransportClosed) {
			t.Errorf("Read() error = %v, want ErrTransportClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Read() still blocked after cancel")
	}
	select {
	case <-ws.Done():
	default:
		t.Error("transport not closed after cancel")
	}
}

func TestWebSocket_BinaryFrameEndsSession(t *testing.T) {
	ws, client := pair(t)

	if err := client.WriteMessage(websocket.BinaryMessage, []byte{0x01}); err != nil {
		t.Fatalf("client write: %v", err)
	}
	if _, err := ws.Read(context.Background()); err != io.EOF {
		t.Errorf("Read() error = %v, want io.EOF", err)
	}
}

func TestWebSocket_PeerCloseIsEOF(t *testing.T) {
	ws, client := pair(t)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := client.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("client close: %v", err)
	}
	if _, err := ws.Read(context.Background()); err != io.EOF {
		t.Errorf("Read() error = %v, want io.EOF", err)
	}
}

func TestWebSocket_CloseIsIdempotent(t *testing.T) {
	ws, client := pair(t)

	_ = ws.Close()
	_ = ws.Close()

	if err := ws.Write(context.Background(), []byte("x")); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("Write() after Close() error = %v, want ErrTransportClosed", err)
	}
	if _, err := ws.Read(context.Background()); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("Read() after Close() error = %v, want ErrTransportClosed", err)
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := client.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("client saw %v, want a normal close", err)
	}
}
