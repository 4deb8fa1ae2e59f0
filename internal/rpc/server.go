// Package rpc serves the live console: device queries over a persistent
// connection with device events pushed back as notifications.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/brianly1003/pressd/internal/domain/events"
	"github.com/brianly1003/pressd/internal/domain/ports"
	"github.com/brianly1003/pressd/internal/hub"
	"github.com/brianly1003/pressd/internal/rpc/handler"
	"github.com/brianly1003/pressd/internal/rpc/message"
	"github.com/brianly1003/pressd/internal/rpc/transport"
	"github.com/rs/zerolog"
)

// EventMethod is the notification method used for pushed events.
const EventMethod = "Event"

// clientBufferSize bounds the per-client outgoing queue.
const clientBufferSize = 256

// Server handles console connections.
type Server struct {
	dispatcher *handler.Dispatcher
	hub        ports.EventHub
	logger     zerolog.Logger

	clients   map[string]*Client
	clientsMu sync.RWMutex
}

// NewServer creates a new console server. hub may be nil.
func NewServer(dispatcher *handler.Dispatcher, eventHub ports.EventHub, logger zerolog.Logger) *Server {
	return &Server{
		dispatcher: dispatcher,
		hub:        eventHub,
		logger:     logger.With().Str("component", "console").Logger(),
		clients:    make(map[string]*Client),
	}
}

// EventFilter restricts the events pushed to one client.
type EventFilter struct {
	Types   []events.EventType
	Classes []events.Class
}

// ServeTransport serves one connection until it closes or ctx ends.
func (s *Server) ServeTransport(ctx context.Context, t transport.Transport, filter EventFilter) error {
	client := NewClient(t, s.dispatcher, s.logger)

	s.clientsMu.Lock()
	s.clients[t.ID()] = client
	s.clientsMu.Unlock()

	if s.hub != nil {
		sub := hub.NewFilteredSubscriber(client)
		for _, et := range filter.Types {
			sub.AllowType(et)
		}
		for _, c := range filter.Classes {
			sub.AllowClass(c)
		}
		s.hub.Subscribe(sub)
	}

	s.logger.Debug().Str("client_id", t.ID()).Msg("console client connected")

	err := client.Serve(ctx)

	s.clientsMu.Lock()
	delete(s.clients, t.ID())
	s.clientsMu.Unlock()

	if s.hub != nil {
		s.hub.Unsubscribe(t.ID())
	}
	_ = client.Close()

	s.logger.Debug().Str("client_id", t.ID()).Err(err).Msg("console client disconnected")
	return err
}

// Stop closes every client.
func (s *Server) Stop() error {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	for _, client := range s.clients {
		_ = client.Close()
	}
	s.clients = make(map[string]*Client)
	return nil
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Client is one console connection. It implements ports.Subscriber so the
// event hub can push events to it.
type Client struct {
	transport  transport.Transport
	dispatcher *handler.Dispatcher
	logger     zerolog.Logger

	send chan []byte

	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

// NewClient creates a new console client.
func NewClient(t transport.Transport, dispatcher *handler.Dispatcher, logger zerolog.Logger) *Client {
	return &Client{
		transport:  t,
		dispatcher: dispatcher,
		logger:     logger,
		send:       make(chan []byte, clientBufferSize),
		done:       make(chan struct{}),
	}
}

// ID returns the client's unique identifier.
func (c *Client) ID() string {
	return c.transport.ID()
}

// Serve runs the read loop and blocks until the client disconnects.
func (c *Client) Serve(ctx context.Context) error {
	go c.writeLoop(ctx)
	return c.readLoop(ctx)
}

func (c *Client) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case <-c.transport.Done():
			return nil
		default:
		}

		data, err := c.transport.Read(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrTransportClosed) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		go c.handleRequest(ctx, data)
	}
}

func (c *Client) handleRequest(ctx context.Context, data []byte) {
	response, err := c.dispatcher.DispatchBytes(ctx, data)
	if err != nil {
		c.logger.Warn().Str("client_id", c.ID()).Err(err).Msg("failed to handle message")
		return
	}
	if len(response) == 0 {
		return
	}
	if err := c.queue(response); err != nil {
		c.logger.Warn().Str("client_id", c.ID()).Err(err).Msg("failed to send response")
	}
}

func (c *Client) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case data := <-c.send:
			if err := c.transport.Write(ctx, data); err != nil {
				c.logger.Warn().Str("client_id", c.ID()).Err(err).Msg("write error")
				return
			}
		}
	}
}

func (c *Client) queue(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("client closed")
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

// Send implements ports.Subscriber by pushing the event as a notification.
func (c *Client) Send(event events.Event) error {
	data, err := event.ToJSON()
	if err != nil {
		return err
	}
	notif, err := message.NewNotification(EventMethod, json.RawMessage(data))
	if err != nil {
		return err
	}
	out, err := json.Marshal(notif)
	if err != nil {
		return err
	}
	return c.queue(out)
}

// Close closes the client connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	return c.transport.Close()
}

// Done returns a channel that's closed when the client is done.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

var _ ports.Subscriber = (*Client)(nil)
