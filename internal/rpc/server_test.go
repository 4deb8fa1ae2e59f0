package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brianly1003/pressd/internal/domain/events"
	"github.com/brianly1003/pressd/internal/rpc/handler"
	"github.com/brianly1003/pressd/internal/rpc/message"
	"github.com/brianly1003/pressd/internal/rpc/transport"
	"github.com/brianly1003/pressd/internal/testutil"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// pipeTransport feeds scripted input and records output.
type pipeTransport struct {
	id  string
	in  chan []byte
	out chan []byte

	once sync.Once
	done chan struct{}
}

func newPipe(id string) *pipeTransport {
	return &pipeTransport{
		id:   id,
		in:   make(chan []byte, 8),
		out:  make(chan []byte, 8),
		done: make(chan struct{}),
	}
}

func (p *pipeTransport) ID() string { return p.id }

func (p *pipeTransport) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-p.in:
		return data, nil
	case <-p.done:
		return nil, transport.ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeTransport) Write(ctx context.Context, data []byte) error {
	select {
	case p.out <- data:
		return nil
	case <-p.done:
		return transport.ErrTransportClosed
	}
}

func (p *pipeTransport) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

func (p *pipeTransport) Done() <-chan struct{} { return p.done }

func newDispatcher() *handler.Dispatcher {
	r := handler.NewRegistry()
	r.Register("Status", func(ctx context.Context, params json.RawMessage) (interface{}, *message.Error) {
		return map[string]string{"status": "Idle"}, nil
	})
	return handler.NewDispatcher(r, zerolog.Nop())
}

func readOut(t *testing.T, p *pipeTransport) map[string]json.RawMessage {
	t.Helper()
	select {
	case data := <-p.out:
		var m map[string]json.RawMessage
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		return m
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for output")
		return nil
	}
}

func TestServer_QueryAndEvents(t *testing.T) {
	hub := testutil.NewMockEventHub()
	s := NewServer(newDispatcher(), hub, zerolog.Nop())
	pipe := newPipe("console-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.ServeTransport(ctx, pipe, EventFilter{Classes: []events.Class{events.ClassError}})
	}()

	testutil.WaitFor(t, time.Second, func() bool { return hub.SubscriberCount() == 1 }, "client subscribed")

	pipe.in <- []byte(`{"jsonrpc":"2.0","id":1,"method":"Status"}`)
	resp := readOut(t, pipe)
	if string(resp["result"]) != `{"status":"Idle"}` {
		t.Errorf("result = %s", resp["result"])
	}

	hub.Publish(events.NewGenericEvent(events.ClassInformation, "filtered out"))
	hub.Publish(events.NewGenericEvent(events.ClassError, "paper jam"))

	notif := readOut(t, pipe)
	if string(notif["method"]) != `"Event"` {
		t.Fatalf("method = %s", notif["method"])
	}
	if !strings.Contains(string(notif["params"]), "paper jam") {
		t.Errorf("params = %s", notif["params"])
	}
	if s.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d", s.ClientCount())
	}

	_ = pipe.Close()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("ServeTransport() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("ServeTransport did not return after close")
	}
	if hub.SubscriberCount() != 0 || s.ClientCount() != 0 {
		t.Error("client not cleaned up")
	}
}

func TestServer_WebSocket(t *testing.T) {
	s := NewServer(newDispatcher(), nil, zerolog.Nop())
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = s.ServeTransport(r.Context(), transport.NewWebSocket(conn), EventFilter{})
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","id":"a","method":"Status"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var resp message.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.IsError() || resp.ID.String() != "a" {
		t.Errorf("unexpected response %s", data)
	}
}

func TestClient_SendAfterClose(t *testing.T) {
	c := NewClient(newPipe("x"), newDispatcher(), zerolog.Nop())
	_ = c.Close()
	if err := c.Send(events.NewGenericEvent(events.ClassEvent, "")); err == nil {
		t.Error("Send() after Close() should fail")
	}
	_ = c.Close()
}
