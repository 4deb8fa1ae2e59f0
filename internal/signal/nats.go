package signal

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/brianly1003/pressd/internal/domain"
	"github.com/brianly1003/pressd/internal/domain/messages"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSTransport publishes signals to NATS. A target such as
// nats://broker:4222/press/signals publishes on subject press.signals.
// One connection is kept per server.
type NATSTransport struct {
	name   string
	logger zerolog.Logger

	mu     sync.Mutex
	conns  map[string]*nats.Conn
	closed bool
}

// NewNATSTransport creates a NATS transport. name identifies the client.
func NewNATSTransport(name string, logger zerolog.Logger) *NATSTransport {
	return &NATSTransport{
		name:   name,
		logger: logger.With().Str("component", "signal-nats").Logger(),
		conns:  make(map[string]*nats.Conn),
	}
}

// SplitTarget returns the server URL and subject of a NATS target.
func SplitTarget(target string) (server, subject string, err error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "nats" && u.Scheme != "tls" {
		return "", "", fmt.Errorf("not a nats url: %q", target)
	}
	subject = strings.ReplaceAll(strings.Trim(u.Path, "/"), "/", ".")
	if subject == "" {
		return "", "", fmt.Errorf("missing subject in %q", target)
	}
	server = (&url.URL{Scheme: u.Scheme, User: u.User, Host: u.Host}).String()
	return server, subject, nil
}

// Deliver implements ports.SignalTransport.
func (t *NATSTransport) Deliver(ctx context.Context, sig messages.Signal, target string) error {
	server, subject, err := SplitTarget(target)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, err)
	}
	body, err := Encode(sig)
	if err != nil {
		return fmt.Errorf("%w: encode: %w", domain.ErrDeliveryFailed, err)
	}

	nc, err := t.conn(server)
	if err != nil {
		return fmt.Errorf("%w: connect %s: %w", domain.ErrDeliveryFailed, server, err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = body
	msg.Header.Set(SignalTypeHeader, sig.Type)
	if err := nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("%w: publish %s: %w", domain.ErrDeliveryFailed, subject, err)
	}
	if err := nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("%w: flush: %w", domain.ErrDeliveryFailed, err)
	}
	return nil
}

func (t *NATSTransport) conn(server string) (*nats.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, fmt.Errorf("transport closed")
	}
	if nc, ok := t.conns[server]; ok && !nc.IsClosed() {
		return nc, nil
	}

	nc, err := nats.Connect(server,
		nats.Name(t.name),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				t.logger.Warn().Err(err).Str("server", server).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			t.logger.Info().Str("server", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}
	t.conns[server] = nc
	t.logger.Info().Str("server", server).Msg("nats connected")
	return nc, nil
}

// Close drains every connection.
func (t *NATSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true

	var firstErr error
	for server, nc := range t.conns {
		if err := nc.Drain(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("drain %s: %w", server, err)
		}
	}
	t.conns = make(map[string]*nats.Conn)
	return firstErr
}
