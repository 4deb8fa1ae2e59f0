// Package signal delivers subscription signals to controllers over HTTP
// or NATS.
package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/brianly1003/pressd/internal/domain"
	"github.com/brianly1003/pressd/internal/domain/messages"
	"github.com/brianly1003/pressd/internal/domain/ports"
	"github.com/brianly1003/pressd/internal/rpc/message"
)

// Encode wraps a signal in a JSON-RPC notification.
func Encode(sig messages.Signal) ([]byte, error) {
	notif, err := message.NewNotification(messages.SignalMethod, sig)
	if err != nil {
		return nil, err
	}
	return json.Marshal(notif)
}

// Decode extracts a signal from a JSON-RPC notification.
func Decode(data []byte) (messages.Signal, error) {
	var sig messages.Signal
	notif, err := message.ParseNotification(data)
	if err != nil {
		return sig, err
	}
	if notif.Method != messages.SignalMethod {
		return sig, fmt.Errorf("unexpected method %q", notif.Method)
	}
	if err := json.Unmarshal(notif.Params, &sig); err != nil {
		return sig, fmt.Errorf("decode signal: %w", err)
	}
	return sig, nil
}

// Router picks a transport by URL scheme.
type Router struct {
	mu       sync.RWMutex
	byScheme map[string]ports.SignalTransport
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{byScheme: make(map[string]ports.SignalTransport)}
}

// Handle routes URLs with the given scheme to t.
func (r *Router) Handle(scheme string, t ports.SignalTransport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byScheme[scheme] = t
}

// Deliver implements ports.SignalTransport.
func (r *Router) Deliver(ctx context.Context, sig messages.Signal, target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("%w: bad url %q: %w", domain.ErrDeliveryFailed, target, err)
	}

	r.mu.RLock()
	t, ok := r.byScheme[u.Scheme]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: no transport for scheme %q", domain.ErrDeliveryFailed, u.Scheme)
	}
	return t.Deliver(ctx, sig, target)
}

var _ ports.SignalTransport = (*Router)(nil)
