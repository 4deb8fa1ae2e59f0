// Package events defines all event types used in pressd.
package events

import (
	"encoding/json"
	"time"
)

// EventType represents the type of event.
type EventType string

const (
	// Queue events
	EventTypeQueueStatusChanged EventType = "queue_status_changed"
	EventTypeQueueEntryChanged  EventType = "queue_entry_changed"

	// Process events
	EventTypeProcessStatusChanged EventType = "process_status_changed"
	EventTypeProcessAmountChanged EventType = "process_amount_changed"

	// Generic notifications (errors, warnings, operator messages)
	EventTypeGeneric EventType = "generic"

	// Synthetic event injected by a subscription timer
	EventTypeTimerFired EventType = "timer_fired"
)

// Class is the classification tag carried by every event.
// Events subscriptions filter on it.
type Class string

const (
	ClassInformation Class = "Information"
	ClassWarning     Class = "Warning"
	ClassError       Class = "Error"
	ClassEvent       Class = "Event"
)

// Valid reports whether c is one of the known classes.
func (c Class) Valid() bool {
	switch c {
	case ClassInformation, ClassWarning, ClassError, ClassEvent:
		return true
	}
	return false
}

// Event is the base interface for all events.
type Event interface {
	// Type returns the event type.
	Type() EventType

	// Class returns the classification tag.
	Class() Class

	// Description returns the free-text description.
	Description() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time

	// ToJSON serializes the event to JSON.
	ToJSON() ([]byte, error)

	// GetDeviceID returns the originating device ID (may be empty).
	GetDeviceID() string
}

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	EventType  EventType   `json:"event"`
	EventClass Class       `json:"class"`
	Desc       string      `json:"description,omitempty"`
	EventTime  time.Time   `json:"timestamp"`
	DeviceID   string      `json:"device_id,omitempty"`
	Payload    interface{} `json:"payload,omitempty"`
}

// Type returns the event type.
func (e *BaseEvent) Type() EventType {
	return e.EventType
}

// Class returns the classification tag.
func (e *BaseEvent) Class() Class {
	return e.EventClass
}

// Description returns the free-text description.
func (e *BaseEvent) Description() string {
	return e.Desc
}

// Timestamp returns when the event occurred.
func (e *BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// GetDeviceID returns the device ID.
func (e *BaseEvent) GetDeviceID() string {
	return e.DeviceID
}

// ToJSON serializes the event to JSON.
func (e *BaseEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// NewEvent creates a new base event with the given type, class and payload.
func NewEvent(eventType EventType, class Class, description string, payload interface{}) *BaseEvent {
	return &BaseEvent{
		EventType:  eventType,
		EventClass: class,
		Desc:       description,
		EventTime:  time.Now().UTC(),
		Payload:    payload,
	}
}

// NewEventWithDevice creates a new event stamped with the originating device.
func NewEventWithDevice(eventType EventType, class Class, description string, payload interface{}, deviceID string) *BaseEvent {
	e := NewEvent(eventType, class, description, payload)
	e.DeviceID = deviceID
	return e
}

// --- Generic Event ---

// NewGenericEvent creates a generic event carrying only a class and a description.
func NewGenericEvent(class Class, description string) *BaseEvent {
	return NewEvent(EventTypeGeneric, class, description, nil)
}

// --- Timer Event ---

// TimerFiredPayload is the payload for timer_fired events.
type TimerFiredPayload struct {
	ChannelID string `json:"channel_id"`
	URL       string `json:"url"`
}

// NewTimerFiredEvent creates a timer_fired event addressed at one subscription.
func NewTimerFiredEvent(url, channelID string) *BaseEvent {
	return NewEvent(EventTypeTimerFired, ClassEvent, "subscription timer elapsed", TimerFiredPayload{
		ChannelID: channelID,
		URL:       url,
	})
}

// TimerTarget returns the subscription addressed by a timer_fired event.
func TimerTarget(e Event) (url, channelID string, ok bool) {
	if e == nil || e.Type() != EventTypeTimerFired {
		return "", "", false
	}
	be, isBase := e.(*BaseEvent)
	if !isBase {
		return "", "", false
	}
	p, isPayload := be.Payload.(TimerFiredPayload)
	if !isPayload {
		return "", "", false
	}
	return p.URL, p.ChannelID, true
}
