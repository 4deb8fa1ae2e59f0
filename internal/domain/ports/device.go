// Package ports defines the interfaces (ports) for the hexagonal architecture.
package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/brianly1003/pressd/internal/domain/messages"
)

// Job is the unit of work handed to a JobRunner.
type Job struct {
	EntryID string
	JobRef  string
	Params  map[string]string
}

// JobCallbacks receives phase notifications from a running job.
type JobCallbacks interface {
	// SetupComplete marks the end of the setup phase and reports the expected total amount.
	SetupComplete(total int64)

	// Progress reports the amount produced so far.
	Progress(amount int64)
}

// JobRunner executes one job. A nil error means the job completed;
// any error aborts the entry.
type JobRunner interface {
	Execute(ctx context.Context, job Job, cb JobCallbacks) error
}

// JobOutcome summarizes a finished job.
type JobOutcome struct {
	EntryID   string
	JobRef    string
	Completed bool
	Amount    int64
	Err       error
	StartedAt time.Time
	EndedAt   time.Time
}

// ResultReturner hands a finished job back to its submitter.
type ResultReturner interface {
	ReturnResult(ctx context.Context, outcome JobOutcome) error
}

// QueryExecutor answers a query by type. Return code 0 means success.
type QueryExecutor interface {
	Execute(ctx context.Context, queryType string, q messages.Query) (json.RawMessage, int)
}

// SignalTransport delivers a signal to a subscriber URL.
type SignalTransport interface {
	Deliver(ctx context.Context, signal messages.Signal, url string) error
}

// JobRecord is a persisted job ticket.
type JobRecord struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DeviceID    string    `json:"device_id"`
	EntryID     string    `json:"entry_id,omitempty"`
	Status      string    `json:"status"`
	ContentType string    `json:"content_type"`
	Ticket      []byte    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// JobRepository stores job tickets outside the queue.
type JobRepository interface {
	Save(ctx context.Context, job *JobRecord) error
	Get(ctx context.Context, id string) (*JobRecord, error)
	UpdateStatus(ctx context.Context, id, status, entryID string) error
	List(ctx context.Context, limit int) ([]*JobRecord, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// SubscriptionStore persists registered subscription queries.
type SubscriptionStore interface {
	Put(ctx context.Context, q messages.Query) error
	Delete(ctx context.Context, url, channelID string) error
	List(ctx context.Context) ([]messages.Query, error)
	Close() error
}
