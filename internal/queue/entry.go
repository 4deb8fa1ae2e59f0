package queue

import (
	"time"

	"github.com/brianly1003/pressd/internal/domain/events"
)

// Entry is one admitted unit of work.
type Entry struct {
	ID          string             `json:"id"`
	JobRef      string             `json:"job_ref"`
	Status      events.EntryStatus `json:"status"`
	Priority    int                `json:"priority"`
	SubmittedAt time.Time          `json:"submitted_at"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	EndedAt     *time.Time         `json:"ended_at,omitempty"`
	DeviceID    string             `json:"device_id,omitempty"`
	Params      map[string]string  `json:"params,omitempty"`

	seq uint64
}

// Submission describes a job offered to the queue.
type Submission struct {
	JobRef   string
	Priority int
	Params   map[string]string

	// Held admits the entry as Held; it stays out of dispatch until resumed.
	Held bool
}

func (e *Entry) clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	if e.Params != nil {
		c.Params = make(map[string]string, len(e.Params))
		for k, v := range e.Params {
			c.Params[k] = v
		}
	}
	if e.StartedAt != nil {
		t := *e.StartedAt
		c.StartedAt = &t
	}
	if e.EndedAt != nil {
		t := *e.EndedAt
		c.EndedAt = &t
	}
	return &c
}

// before reports whether a sorts ahead of b: higher priority first, then arrival.
func before(a, b *Entry) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.seq < b.seq
}
