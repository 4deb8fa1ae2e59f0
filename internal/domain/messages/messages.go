// Package messages defines the query and signal shapes exchanged with
// controllers and subscribers.
package messages

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/brianly1003/pressd/internal/domain/events"
	"github.com/google/uuid"
)

// TypeEvents is the generic query type answered with notifications
// instead of query replay.
const TypeEvents = "Events"

// SignalMethod is the JSON-RPC method used for outbound signals.
const SignalMethod = "Signal"

// SubscriptionSpec is the subscription block attached to a query.
type SubscriptionSpec struct {
	URL        string  `json:"url"`
	RepeatTime float64 `json:"repeatTime,omitempty"` // seconds
	RepeatStep int64   `json:"repeatStep,omitempty"`
}

// Query is a device query, optionally carrying a subscription.
type Query struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	DeviceID     string            `json:"deviceId,omitempty"`
	SenderID     string            `json:"senderId,omitempty"`
	Params       json.RawMessage   `json:"params,omitempty"`
	Subscription *SubscriptionSpec `json:"subscription,omitempty"`
}

// Clone returns a deep copy of the query.
func (q Query) Clone() Query {
	c := q
	if q.Params != nil {
		c.Params = append(json.RawMessage(nil), q.Params...)
	}
	if q.Subscription != nil {
		s := *q.Subscription
		c.Subscription = &s
	}
	return c
}

// WithoutSubscription returns a deep copy with the subscription block removed.
func (q Query) WithoutSubscription() Query {
	c := q.Clone()
	c.Subscription = nil
	return c
}

// EventsFilter narrows an Events subscription to a set of classes.
// An empty filter matches every class.
type EventsFilter struct {
	Classes []events.Class `json:"classes,omitempty"`
}

// Matches reports whether the filter accepts the given class.
func (f EventsFilter) Matches(class events.Class) bool {
	if len(f.Classes) == 0 {
		return true
	}
	for _, c := range f.Classes {
		if c == class {
			return true
		}
	}
	return false
}

// EventsFilter decodes the class filter from the query params.
func (q Query) EventsFilter() (EventsFilter, error) {
	var f EventsFilter
	if len(q.Params) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(q.Params, &f); err != nil {
		return f, fmt.Errorf("decode events filter: %w", err)
	}
	return f, nil
}

// StopParams selects subscriptions to remove.
type StopParams struct {
	URL         string `json:"url"`
	ChannelID   string `json:"channelId,omitempty"`
	MessageType string `json:"messageType,omitempty"`
	DeviceID    string `json:"deviceId,omitempty"`
}

// Notification carries the class and description of an event in an Events signal.
type Notification struct {
	Class       events.Class     `json:"class"`
	Event       events.EventType `json:"event"`
	Description string           `json:"description,omitempty"`
	Time        time.Time        `json:"time"`
}

// Signal is an outbound notification correlated to a subscription.
type Signal struct {
	ID           string          `json:"id"`
	RefID        string          `json:"refId"`
	Type         string          `json:"type"`
	DeviceID     string          `json:"deviceId,omitempty"`
	Time         time.Time       `json:"time"`
	Body         json.RawMessage `json:"body,omitempty"`
	Notification *Notification   `json:"notification,omitempty"`
}

// NewSignal creates a signal correlated to the query with the given id.
func NewSignal(refID, queryType, deviceID string) Signal {
	return Signal{
		ID:       "S" + uuid.NewString(),
		RefID:    refID,
		Type:     queryType,
		DeviceID: deviceID,
		Time:     time.Now().UTC(),
	}
}

// NewEventsSignal wraps an event into an Events signal.
func NewEventsSignal(refID, deviceID string, e events.Event) Signal {
	s := NewSignal(refID, TypeEvents, deviceID)
	s.Notification = &Notification{
		Class:       e.Class(),
		Event:       e.Type(),
		Description: e.Description(),
		Time:        e.Timestamp(),
	}
	return s
}
