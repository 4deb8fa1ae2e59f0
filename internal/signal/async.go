package signal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/brianly1003/pressd/internal/domain"
	"github.com/brianly1003/pressd/internal/domain/messages"
	"github.com/brianly1003/pressd/internal/domain/ports"
	"github.com/rs/zerolog"
)

type delivery struct {
	sig messages.Signal
	url string
}

// AsyncTransport hands signals to a single background worker. Deliveries
// keep their submission order. Failures are only logged.
type AsyncTransport struct {
	next    ports.SignalTransport
	timeout time.Duration
	logger  zerolog.Logger

	mu      sync.RWMutex
	closed  bool
	pending chan delivery
	done    chan struct{}
}

// NewAsyncTransport starts the worker. Each delivery gets its own timeout.
func NewAsyncTransport(next ports.SignalTransport, queueSize int, timeout time.Duration, logger zerolog.Logger) *AsyncTransport {
	if queueSize <= 0 {
		queueSize = 256
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	t := &AsyncTransport{
		next:    next,
		timeout: timeout,
		logger:  logger.With().Str("component", "signal-async").Logger(),
		pending: make(chan delivery, queueSize),
		done:    make(chan struct{}),
	}
	go t.worker()
	return t
}

// Deliver enqueues the signal. It fails only when the queue is full or closed.
func (t *AsyncTransport) Deliver(_ context.Context, sig messages.Signal, url string) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return fmt.Errorf("%w: transport closed", domain.ErrDeliveryFailed)
	}
	select {
	case t.pending <- delivery{sig: sig, url: url}:
		return nil
	default:
		return fmt.Errorf("%w: delivery queue full", domain.ErrDeliveryFailed)
	}
}

func (t *AsyncTransport) worker() {
	defer close(t.done)
	for d := range t.pending {
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		if err := t.next.Deliver(ctx, d.sig, d.url); err != nil {
			t.logger.Warn().
				Err(err).
				Str("url", d.url).
				Str("ref_id", d.sig.RefID).
				Msg("async signal delivery failed")
		}
		cancel()
	}
}

// Close stops accepting signals and waits until the queue is drained.
func (t *AsyncTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.pending)
	}
	t.mu.Unlock()

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
