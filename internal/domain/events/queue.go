package events

import "fmt"

// QueueStatus is the derived status of a device queue.
type QueueStatus string

const (
	QueueStatusWaiting QueueStatus = "Waiting"
	QueueStatusRunning QueueStatus = "Running"
	QueueStatusHeld    QueueStatus = "Held"
	QueueStatusBlocked QueueStatus = "Blocked"
	QueueStatusClosed  QueueStatus = "Closed"
	QueueStatusFull    QueueStatus = "Full"
)

// AcceptsEntries reports whether new entries may be admitted in this status.
func (s QueueStatus) AcceptsEntries() bool {
	switch s {
	case QueueStatusFull, QueueStatusBlocked, QueueStatusClosed:
		return false
	}
	return true
}

// Dispatching reports whether runnable entries may leave the queue in this status.
func (s QueueStatus) Dispatching() bool {
	return s != QueueStatusHeld && s != QueueStatusBlocked
}

// EntryStatus is the lifecycle status of a single queue entry.
type EntryStatus string

const (
	EntryStatusHeld      EntryStatus = "Held"
	EntryStatusWaiting   EntryStatus = "Waiting"
	EntryStatusRunning   EntryStatus = "Running"
	EntryStatusCompleted EntryStatus = "Completed"
	EntryStatusAborted   EntryStatus = "Aborted"
	EntryStatusRemoved   EntryStatus = "Removed"
)

// Finished reports whether the entry has reached a terminal status.
func (s EntryStatus) Finished() bool {
	return s == EntryStatusCompleted || s == EntryStatusAborted || s == EntryStatusRemoved
}

// QueueStatusPayload is the payload for queue_status_changed events.
type QueueStatusPayload struct {
	Status         QueueStatus `json:"status"`
	PreviousStatus QueueStatus `json:"previous_status"`
	Count          int         `json:"count"`
	Capacity       int         `json:"capacity"`
}

// NewQueueStatusChangedEvent creates a new queue_status_changed event.
func NewQueueStatusChangedEvent(deviceID string, prev, status QueueStatus, count, capacity int) *BaseEvent {
	return NewEventWithDevice(EventTypeQueueStatusChanged, ClassEvent,
		fmt.Sprintf("queue status %s -> %s", prev, status),
		QueueStatusPayload{
			Status:         status,
			PreviousStatus: prev,
			Count:          count,
			Capacity:       capacity,
		}, deviceID)
}

// QueueEntryPayload is the payload for queue_entry_changed events.
type QueueEntryPayload struct {
	EntryID        string      `json:"entry_id"`
	JobRef         string      `json:"job_ref,omitempty"`
	Status         EntryStatus `json:"status"`
	PreviousStatus EntryStatus `json:"previous_status,omitempty"`
}

// NewQueueEntryChangedEvent creates a new queue_entry_changed event.
func NewQueueEntryChangedEvent(deviceID, entryID, jobRef string, prev, status EntryStatus) *BaseEvent {
	class := ClassEvent
	if status == EntryStatusAborted {
		class = ClassWarning
	}
	return NewEventWithDevice(EventTypeQueueEntryChanged, class,
		fmt.Sprintf("queue entry %s %s", entryID, status),
		QueueEntryPayload{
			EntryID:        entryID,
			JobRef:         jobRef,
			Status:         status,
			PreviousStatus: prev,
		}, deviceID)
}
