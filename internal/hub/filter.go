package hub

import (
	"sync"

	"github.com/brianly1003/pressd/internal/domain/events"
	"github.com/brianly1003/pressd/internal/domain/ports"
)

// FilteredSubscriber wraps a subscriber and filters events by type and class.
// With no filter set every event is forwarded.
type FilteredSubscriber struct {
	inner   ports.Subscriber
	types   map[events.EventType]bool
	classes map[events.Class]bool
	mu      sync.RWMutex
}

// NewFilteredSubscriber creates a new filtered subscriber wrapping the given subscriber.
func NewFilteredSubscriber(inner ports.Subscriber) *FilteredSubscriber {
	return &FilteredSubscriber{
		inner:   inner,
		types:   make(map[events.EventType]bool),
		classes: make(map[events.Class]bool),
	}
}

// ID returns the subscriber's unique identifier.
func (f *FilteredSubscriber) ID() string {
	return f.inner.ID()
}

// Send sends an event to the subscriber if it passes the filter.
func (f *FilteredSubscriber) Send(event events.Event) error {
	if !f.shouldForward(event) {
		return nil
	}
	return f.inner.Send(event)
}

// Close closes the subscriber.
func (f *FilteredSubscriber) Close() error {
	return f.inner.Close()
}

// Done returns a channel that's closed when the subscriber is done.
func (f *FilteredSubscriber) Done() <-chan struct{} {
	return f.inner.Done()
}

// AllowType forwards events of this type.
func (f *FilteredSubscriber) AllowType(t events.EventType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.types[t] = true
}

// AllowClass forwards events of this class.
func (f *FilteredSubscriber) AllowClass(c events.Class) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.classes[c] = true
}

// AllowAll clears the filter.
func (f *FilteredSubscriber) AllowAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.types = make(map[events.EventType]bool)
	f.classes = make(map[events.Class]bool)
}

// IsFiltering returns true if any filter is set.
func (f *FilteredSubscriber) IsFiltering() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.types) > 0 || len(f.classes) > 0
}

// shouldForward applies the type filter, then the class filter.
func (f *FilteredSubscriber) shouldForward(event events.Event) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if len(f.types) > 0 && !f.types[event.Type()] {
		return false
	}
	if len(f.classes) > 0 && !f.classes[event.Class()] {
		return false
	}
	return true
}
