// Package subscription implements the subscription registry and the
// engine that turns events into signals.
package subscription

import (
	"sync/atomic"
	"time"

	"github.com/brianly1003/pressd/internal/domain"
	"github.com/brianly1003/pressd/internal/domain/messages"
	"github.com/brianly1003/pressd/internal/sync"
)

// Subscription is a standing interest keyed by (URL, ChannelID).
type Subscription struct {
	ChannelID  string
	URL        string
	Query      messages.Query
	RepeatTime float64
	RepeatStep int32
	CreatedAt  time.Time

	filter     messages.EventsFilter
	cancel     func()
	cancelOnce sync.Once
}

// MessageType returns the stored query type.
func (s *Subscription) MessageType() string {
	return s.Query.Type
}

// StepGated reports whether the subscription only fires on amount multiples.
func (s *Subscription) StepGated() bool {
	return s.RepeatStep > 0
}

// Periodic reports whether the subscription owns a timer.
func (s *Subscription) Periodic() bool {
	return s.RepeatTime > 0
}

// stopTimer cancels the timer at most once.
func (s *Subscription) stopTimer() {
	s.cancelOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

type key struct {
	url     string
	channel string
}

// snapshot is immutable once published.
type snapshot struct {
	byKey map[key]*Subscription
	list  []*Subscription
}

// Registry stores subscriptions. Reads load an immutable snapshot and
// never block; writers serialize and publish a new snapshot.
type Registry struct {
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.snap.Store(&snapshot{byKey: map[key]*Subscription{}})
	return r
}

// Add inserts sub. A subscription already registered under the same URL
// and channel is replaced and its timer cancelled.
func (r *Registry) Add(sub *Subscription) error {
	if sub == nil || sub.URL == "" {
		return domain.ErrEmptyURL
	}

	r.mu.Lock()
	cur := r.snap.Load()
	k := key{sub.URL, sub.ChannelID}
	prev := cur.byKey[k]

	next := &snapshot{
		byKey: make(map[key]*Subscription, len(cur.byKey)+1),
		list:  make([]*Subscription, 0, len(cur.list)+1),
	}
	for _, s := range cur.list {
		if s == prev {
			continue
		}
		next.byKey[key{s.URL, s.ChannelID}] = s
		next.list = append(next.list, s)
	}
	next.byKey[k] = sub
	next.list = append(next.list, sub)
	r.snap.Store(next)
	r.mu.Unlock()

	if prev != nil {
		prev.stopTimer()
	}
	return nil
}

// Get returns the subscription for url and channel.
func (r *Registry) Get(url, channelID string) (*Subscription, bool) {
	s, ok := r.snap.Load().byKey[key{url, channelID}]
	return s, ok
}

// FindChannel returns every subscription registered under channelID.
func (r *Registry) FindChannel(channelID string) []*Subscription {
	var out []*Subscription
	for _, s := range r.snap.Load().list {
		if s.ChannelID == channelID {
			out = append(out, s)
		}
	}
	return out
}

// RemoveByChannel removes one subscription.
func (r *Registry) RemoveByChannel(url, channelID string) bool {
	return len(r.removeMatching(func(s *Subscription) bool {
		return s.URL == url && s.ChannelID == channelID
	})) == 1
}

// RemoveAllAt removes every subscription at url.
func (r *Registry) RemoveAllAt(url string) int {
	return len(r.removeMatching(func(s *Subscription) bool {
		return s.URL == url
	}))
}

// RemoveByMessageType removes every subscription at url for one query type.
func (r *Registry) RemoveByMessageType(url, messageType string) int {
	return len(r.removeMatching(func(s *Subscription) bool {
		return s.URL == url && s.Query.Type == messageType
	}))
}

// ListAll returns the current subscriptions. The slice must not be modified.
func (r *Registry) ListAll() []*Subscription {
	return r.snap.Load().list
}

// Len returns the number of subscriptions.
func (r *Registry) Len() int {
	return len(r.snap.Load().list)
}

// removeMatching removes subscriptions matching pred, cancels their
// timers and returns them.
func (r *Registry) removeMatching(pred func(*Subscription) bool) []*Subscription {
	r.mu.Lock()
	cur := r.snap.Load()
	var removed []*Subscription
	next := &snapshot{
		byKey: make(map[key]*Subscription, len(cur.byKey)),
		list:  make([]*Subscription, 0, len(cur.list)),
	}
	for _, s := range cur.list {
		if pred(s) {
			removed = append(removed, s)
			continue
		}
		next.byKey[key{s.URL, s.ChannelID}] = s
		next.list = append(next.list, s)
	}
	if len(removed) > 0 {
		r.snap.Store(next)
	}
	r.mu.Unlock()

	for _, s := range removed {
		s.stopTimer()
	}
	return removed
}
