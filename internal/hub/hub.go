// Package hub distributes device events.
//
// Events reach two kinds of consumers. Feeds (Attach) receive every event
// in publish order on the publisher's goroutine; the subscription engine
// and the process wake-up are feeds, so nothing they match on is lost.
// Subscribers (Subscribe) are served by the hub loop from a bounded
// buffer and may miss events when the loop falls behind; console clients
// are subscribers.
package hub

import (
	"sync"
	"sync/atomic"

	"github.com/brianly1003/pressd/internal/domain/events"
	"github.com/brianly1003/pressd/internal/domain/ports"
	"github.com/rs/zerolog"
)

// DefaultBufferSize is the capacity of the subscriber fan-out buffer.
const DefaultBufferSize = 256

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(l zerolog.Logger) Option {
	return func(h *Hub) {
		h.logger = l
	}
}

// WithBufferSize sets the subscriber fan-out buffer.
func WithBufferSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

// Stats counts hub traffic since start.
type Stats struct {
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
	Feeds       int    `json:"feeds"`
	Subscribers int    `json:"subscribers"`
}

// Hub fans events out to feeds and subscribers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]ports.Subscriber
	feeds       []ports.Subscriber
	running     bool

	// feedMu gives feeds one total order across concurrent publishers.
	feedMu sync.Mutex

	fanout     chan events.Event
	register   chan ports.Subscriber
	unregister chan string
	done       chan struct{}

	published atomic.Uint64
	dropped   atomic.Uint64

	bufferSize int
	logger     zerolog.Logger
}

// New creates a stopped hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		subscribers: make(map[string]ports.Subscriber),
		register:    make(chan ports.Subscriber),
		unregister:  make(chan string),
		done:        make(chan struct{}),
		bufferSize:  DefaultBufferSize,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.fanout = make(chan events.Event, h.bufferSize)
	return h
}

// Start runs the subscriber loop.
func (h *Hub) Start() error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = true
	h.mu.Unlock()

	go h.run()
	h.logger.Debug().Int("buffer", h.bufferSize).Msg("event hub started")
	return nil
}

// Stop ends the loop, detaches feeds and closes every subscriber.
// Feeds are not closed; their owners shut them down.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = false
	close(h.done)
	for _, sub := range h.subscribers {
		_ = sub.Close()
	}
	h.subscribers = make(map[string]ports.Subscriber)
	h.feeds = nil
	h.mu.Unlock()

	h.logger.Debug().
		Uint64("published", h.published.Load()).
		Uint64("dropped", h.dropped.Load()).
		Msg("event hub stopped")
	return nil
}

// Attach adds a feed. A feed's Send runs on the publisher's goroutine, so
// a slow feed slows publishers down rather than losing events. A feed
// whose Send fails is detached.
func (h *Hub) Attach(feed ports.Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.feeds = append(h.feeds, feed)
}

// Detach removes a feed by id.
func (h *Hub) Detach(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, f := range h.feeds {
		if f.ID() == id {
			h.feeds = append(h.feeds[:i:i], h.feeds[i+1:]...)
			return
		}
	}
}

// Publish hands the event to every feed, then queues it for subscribers.
// Subscribers miss the event when the fan-out buffer is full.
func (h *Hub) Publish(event events.Event) {
	h.published.Add(1)
	h.feed(event)

	select {
	case h.fanout <- event:
	default:
		n := h.dropped.Add(1)
		h.logger.Warn().
			Str("event_type", string(event.Type())).
			Uint64("dropped_total", n).
			Msg("subscriber buffer full, event not fanned out")
	}
}

func (h *Hub) feed(event events.Event) {
	h.mu.RLock()
	feeds := h.feeds
	h.mu.RUnlock()
	if len(feeds) == 0 {
		return
	}

	h.feedMu.Lock()
	defer h.feedMu.Unlock()
	for _, f := range feeds {
		if err := f.Send(event); err != nil {
			h.logger.Warn().Str("feed", f.ID()).Err(err).Msg("feed rejected event, detaching")
			h.Detach(f.ID())
		}
	}
}

// run serves subscribers until Stop.
func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			return

		case sub := <-h.register:
			h.mu.Lock()
			h.subscribers[sub.ID()] = sub
			h.mu.Unlock()
			h.logger.Debug().Str("subscriber_id", sub.ID()).Msg("subscriber registered")

		case id := <-h.unregister:
			h.remove(id)

		case event := <-h.fanout:
			h.mu.RLock()
			var failed []string
			for id, sub := range h.subscribers {
				if err := sub.Send(event); err != nil {
					h.logger.Warn().Str("subscriber_id", id).Err(err).Msg("subscriber rejected event")
					failed = append(failed, id)
				}
			}
			h.mu.RUnlock()
			for _, id := range failed {
				h.remove(id)
			}
		}
	}
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
	}
	h.mu.Unlock()
	if ok {
		_ = sub.Close()
		h.logger.Debug().Str("subscriber_id", id).Msg("subscriber removed")
	}
}

// Subscribe adds a subscriber served by the hub loop.
func (h *Hub) Subscribe(sub ports.Subscriber) {
	select {
	case h.register <- sub:
	case <-h.done:
	}
}

// Unsubscribe removes and closes a subscriber.
func (h *Hub) Unsubscribe(id string) {
	select {
	case h.unregister <- id:
	case <-h.done:
	}
}

// SubscriberCount returns the number of loop subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// IsRunning reports whether the loop is running.
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Stats returns traffic counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{
		Published:   h.published.Load(),
		Dropped:     h.dropped.Load(),
		Feeds:       len(h.feeds),
		Subscribers: len(h.subscribers),
	}
}
