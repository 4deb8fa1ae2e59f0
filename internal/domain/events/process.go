package events

import "fmt"

// DeviceStatus represents the current state of the process worker.
type DeviceStatus string

const (
	DeviceStatusUnknown DeviceStatus = "Unknown"
	DeviceStatusIdle    DeviceStatus = "Idle"
	DeviceStatusSetup   DeviceStatus = "Setup"
	DeviceStatusRunning DeviceStatus = "Running"
	DeviceStatusCleanup DeviceStatus = "Cleanup"
	DeviceStatusStopped DeviceStatus = "Stopped"
	DeviceStatusDown    DeviceStatus = "Down"
)

// Busy reports whether a job occupies the device in this status.
func (s DeviceStatus) Busy() bool {
	return s == DeviceStatusSetup || s == DeviceStatusRunning || s == DeviceStatusCleanup
}

// ProcessStatusPayload is the payload for process_status_changed events.
type ProcessStatusPayload struct {
	Status         DeviceStatus `json:"status"`
	PreviousStatus DeviceStatus `json:"previous_status"`
	EntryID        string       `json:"entry_id,omitempty"`
	Comment        string       `json:"comment,omitempty"`
}

// NewProcessStatusChangedEvent creates a new process_status_changed event.
func NewProcessStatusChangedEvent(deviceID string, prev, status DeviceStatus, entryID, comment string) *BaseEvent {
	class := ClassEvent
	if status == DeviceStatusDown {
		class = ClassWarning
	}
	desc := fmt.Sprintf("device status %s -> %s", prev, status)
	if comment != "" {
		desc += ": " + comment
	}
	return NewEventWithDevice(EventTypeProcessStatusChanged, class, desc, ProcessStatusPayload{
		Status:         status,
		PreviousStatus: prev,
		EntryID:        entryID,
		Comment:        comment,
	}, deviceID)
}

// ProcessAmountPayload is the payload for process_amount_changed events.
type ProcessAmountPayload struct {
	EntryID string `json:"entry_id"`
	Amount  int64  `json:"amount"`
	Total   int64  `json:"total,omitempty"`
}

// NewProcessAmountChangedEvent creates a new process_amount_changed event.
func NewProcessAmountChangedEvent(deviceID, entryID string, amount, total int64) *BaseEvent {
	return NewEventWithDevice(EventTypeProcessAmountChanged, ClassInformation,
		fmt.Sprintf("entry %s amount %d", entryID, amount),
		ProcessAmountPayload{
			EntryID: entryID,
			Amount:  amount,
			Total:   total,
		}, deviceID)
}

// AmountOf returns the amount carried by a process_amount_changed event.
func AmountOf(e Event) (int64, bool) {
	if e == nil || e.Type() != EventTypeProcessAmountChanged {
		return 0, false
	}
	be, ok := e.(*BaseEvent)
	if !ok {
		return 0, false
	}
	p, ok := be.Payload.(ProcessAmountPayload)
	if !ok {
		return 0, false
	}
	return p.Amount, true
}
