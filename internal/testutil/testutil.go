// Package testutil provides shared test utilities and mocks for pressd tests.
package testutil

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/brianly1003/pressd/internal/domain/events"
	"github.com/brianly1003/pressd/internal/domain/messages"
	"github.com/brianly1003/pressd/internal/domain/ports"
)

// MockSubscriber implements ports.Subscriber for testing.
type MockSubscriber struct {
	id       string
	events   []events.Event
	mu       sync.Mutex
	closed   bool
	sendErr  error
	sendFunc func(events.Event) error
	done     chan struct{}
}

// NewMockSubscriber creates a new mock subscriber.
func NewMockSubscriber(id string) *MockSubscriber {
	return &MockSubscriber{
		id:     id,
		events: make([]events.Event, 0),
		done:   make(chan struct{}),
	}
}

// ID returns the subscriber ID.
func (m *MockSubscriber) ID() string {
	return m.id
}

// Send records the event and returns any configured error.
func (m *MockSubscriber) Send(e events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sendFunc != nil {
		return m.sendFunc(e)
	}

	if m.sendErr != nil {
		return m.sendErr
	}

	m.events = append(m.events, e)
	return nil
}

// Close marks the subscriber as closed.
func (m *MockSubscriber) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

// Done returns a channel that's closed when the subscriber is done.
func (m *MockSubscriber) Done() <-chan struct{} {
	return m.done
}

// Events returns all received events.
func (m *MockSubscriber) Events() []events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]events.Event, len(m.events))
	copy(result, m.events)
	return result
}

// EventCount returns the number of received events.
func (m *MockSubscriber) EventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// IsClosed returns whether the subscriber was closed.
func (m *MockSubscriber) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// SetSendError configures an error to return on Send.
func (m *MockSubscriber) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// SetSendFunc sets a custom function for Send behavior.
func (m *MockSubscriber) SetSendFunc(fn func(events.Event) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendFunc = fn
}

// Ensure MockSubscriber implements ports.Subscriber.
var _ ports.Subscriber = (*MockSubscriber)(nil)

// MockEventHub implements ports.EventHub for testing.
// Published events are recorded and forwarded synchronously to subscribers.
type MockEventHub struct {
	events      []events.Event
	subscribers []ports.Subscriber
	mu          sync.Mutex
	started     bool
	stopped     bool
}

// NewMockEventHub creates a new mock event hub.
func NewMockEventHub() *MockEventHub {
	return &MockEventHub{
		events:      make([]events.Event, 0),
		subscribers: make([]ports.Subscriber, 0),
	}
}

// Start marks the hub as started.
func (m *MockEventHub) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
	return nil
}

// Stop marks the hub as stopped.
func (m *MockEventHub) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	return nil
}

// Publish records the event and forwards it to subscribers.
func (m *MockEventHub) Publish(e events.Event) {
	m.mu.Lock()
	m.events = append(m.events, e)
	subs := append([]ports.Subscriber(nil), m.subscribers...)
	m.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Send(e)
	}
}

// Subscribe records the subscriber.
func (m *MockEventHub) Subscribe(sub ports.Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, sub)
}

// Unsubscribe removes a subscriber by ID.
func (m *MockEventHub) Unsubscribe(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, sub := range m.subscribers {
		if sub.ID() == id {
			m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
			return
		}
	}
}

// SubscriberCount returns the number of subscribers.
func (m *MockEventHub) SubscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscribers)
}

// IsRunning returns true if the hub was started and not stopped.
func (m *MockEventHub) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started && !m.stopped
}

// PublishedEvents returns all published events.
func (m *MockEventHub) PublishedEvents() []events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]events.Event, len(m.events))
	copy(result, m.events)
	return result
}

// EventsOfType returns the published events of one type.
func (m *MockEventHub) EventsOfType(t events.EventType) []events.Event {
	var out []events.Event
	for _, e := range m.PublishedEvents() {
		if e.Type() == t {
			out = append(out, e)
		}
	}
	return out
}

// Reset drops recorded events.
func (m *MockEventHub) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = m.events[:0]
}

// Ensure MockEventHub implements ports.EventHub.
var _ ports.EventHub = (*MockEventHub)(nil)

// Delivery is one recorded signal delivery.
type Delivery struct {
	URL    string
	Signal messages.Signal
}

// RecordingTransport implements ports.SignalTransport and records deliveries.
type RecordingTransport struct {
	mu         sync.Mutex
	deliveries []Delivery
	err        error
}

// NewRecordingTransport creates a new recording transport.
func NewRecordingTransport() *RecordingTransport {
	return &RecordingTransport{}
}

// Deliver records the signal.
func (r *RecordingTransport) Deliver(_ context.Context, s messages.Signal, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.deliveries = append(r.deliveries, Delivery{URL: url, Signal: s})
	return nil
}

// SetError makes subsequent deliveries fail.
func (r *RecordingTransport) SetError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Deliveries returns all recorded deliveries.
func (r *RecordingTransport) Deliveries() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Delivery, len(r.deliveries))
	copy(out, r.deliveries)
	return out
}

// Count returns the number of recorded deliveries.
func (r *RecordingTransport) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deliveries)
}

// CountTo returns the number of deliveries addressed at url.
func (r *RecordingTransport) CountTo(url string) int {
	n := 0
	for _, d := range r.Deliveries() {
		if d.URL == url {
			n++
		}
	}
	return n
}

var _ ports.SignalTransport = (*RecordingTransport)(nil)

// StubExecutor implements ports.QueryExecutor with a fixed body per query type.
type StubExecutor struct {
	mu     sync.Mutex
	bodies map[string]json.RawMessage
	codes  map[string]int
	calls  []messages.Query
}

// NewStubExecutor creates an executor answering every type with {"ok":true}.
func NewStubExecutor() *StubExecutor {
	return &StubExecutor{
		bodies: make(map[string]json.RawMessage),
		codes:  make(map[string]int),
	}
}

// SetResponse configures the body and return code for a query type.
func (s *StubExecutor) SetResponse(queryType string, body json.RawMessage, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodies[queryType] = body
	s.codes[queryType] = code
}

// Execute returns the configured response.
func (s *StubExecutor) Execute(_ context.Context, queryType string, q messages.Query) (json.RawMessage, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, q)
	body, ok := s.bodies[queryType]
	if !ok {
		body = json.RawMessage(`{"ok":true}`)
	}
	return body, s.codes[queryType]
}

// Calls returns the queries received so far.
func (s *StubExecutor) Calls() []messages.Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]messages.Query, len(s.calls))
	copy(out, s.calls)
	return out
}

var _ ports.QueryExecutor = (*StubExecutor)(nil)

// WaitFor polls cond until it is true or the timeout elapses.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out after %v: %s", timeout, msg)
}
