// Package queue implements the admission-controlled device queue.
package queue

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/brianly1003/pressd/internal/domain"
	"github.com/brianly1003/pressd/internal/domain/events"
	"github.com/brianly1003/pressd/internal/domain/ports"
	"github.com/brianly1003/pressd/internal/sync"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// DefaultCapacity is used when a non-positive capacity is configured.
const DefaultCapacity = 100

// ComputeStatus derives the queue status from its four input flags.
// Full wins over Waiting even when the process is idle.
func ComputeStatus(closed, held, full, processFull bool) events.QueueStatus {
	switch {
	case closed && held:
		return events.QueueStatusBlocked
	case closed:
		return events.QueueStatusClosed
	case held:
		return events.QueueStatusHeld
	case !full && processFull:
		return events.QueueStatusRunning
	case full:
		return events.QueueStatusFull
	default:
		return events.QueueStatusWaiting
	}
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the queue logger.
func WithLogger(l zerolog.Logger) Option {
	return func(q *Queue) {
		q.logger = l
	}
}

// WithPublisher sets the sink for queue events.
func WithPublisher(p ports.EventPublisher) Option {
	return func(q *Queue) {
		q.publisher = p
	}
}

// WithDeviceID stamps entries and events with the device id.
func WithDeviceID(id string) Option {
	return func(q *Queue) {
		q.deviceID = id
	}
}

// Queue is a thread-safe job store whose status is derived from
// closed, held, full and processFull.
type Queue struct {
	mu sync.RWMutex

	capacity int
	entries  map[string]*Entry
	order    []*Entry

	closed      bool
	held        bool
	full        bool
	processFull bool
	status      events.QueueStatus

	counter uint64
	seq     uint64

	deviceID  string
	publisher ports.EventPublisher
	logger    zerolog.Logger
}

// New creates an open, empty queue.
func New(capacity int, opts ...Option) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q := &Queue{
		capacity: capacity,
		entries:  make(map[string]*Entry),
		status:   events.QueueStatusWaiting,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// AddEntry admits a new entry. It fails with domain.ErrAdmissionRejected
// when the queue is Full, Blocked or Closed, or has no free slot.
func (q *Queue) AddEntry(sub Submission) (*Entry, error) {
	q.mu.Lock()
	status := q.status
	if !status.AcceptsEntries() {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: queue is %s", domain.ErrAdmissionRejected, status)
	}
	if len(q.entries) >= q.capacity {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", domain.ErrAdmissionRejected, domain.ErrQueueCapacity)
	}

	q.counter++
	initial := events.EntryStatusWaiting
	if sub.Held {
		initial = events.EntryStatusHeld
	}
	e := &Entry{
		ID:          strconv.FormatUint(q.counter, 10),
		JobRef:      sub.JobRef,
		Status:      initial,
		Priority:    sub.Priority,
		SubmittedAt: time.Now().UTC(),
		DeviceID:    q.deviceID,
		Params:      sub.Params,
	}
	e = e.clone()
	q.insertLocked(e)
	q.full = len(q.entries) >= q.capacity

	pending := []events.Event{q.entryEvent(e, "")}
	pending = q.appendStatusEvent(pending)
	out := e.clone()
	q.mu.Unlock()

	q.emit(pending)
	q.logger.Debug().Str("entry_id", out.ID).Str("job_ref", out.JobRef).Msg("queue entry added")
	return out, nil
}

// GetEntry returns a copy of the entry with the given id.
func (q *Queue) GetEntry(id string) (*Entry, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	e, ok := q.entries[id]
	if !ok {
		return nil, false
	}
	return e.clone(), true
}

// Put inserts or replaces an entry by id. A new id is refused at capacity.
// The replaced entry is returned when one existed.
func (q *Queue) Put(entry *Entry) (*Entry, error) {
	if entry == nil || entry.ID == "" {
		return nil, domain.NewValidationError("id", "entry id is required")
	}

	q.mu.Lock()
	prev, exists := q.entries[entry.ID]
	if !exists && len(q.entries) >= q.capacity {
		q.mu.Unlock()
		return nil, domain.ErrQueueCapacity
	}

	e := entry.clone()
	if e.DeviceID == "" {
		e.DeviceID = q.deviceID
	}
	var prevStatus events.EntryStatus
	if exists {
		prevStatus = prev.Status
		e.seq = prev.seq
		q.removeLocked(prev.ID)
	} else {
		q.seq++
		e.seq = q.seq
	}
	q.entries[e.ID] = e
	q.order = insertSorted(q.order, e)
	q.full = len(q.entries) >= q.capacity

	pending := []events.Event{q.entryEvent(e, prevStatus)}
	pending = q.appendStatusEvent(pending)
	out := prev.clone()
	q.mu.Unlock()

	q.emit(pending)
	return out, nil
}

// RemoveEntry removes an entry and returns the removed copy. Running
// entries are refused with domain.ErrEntryRunning.
func (q *Queue) RemoveEntry(id string) (*Entry, error) {
	q.mu.Lock()
	e, ok := q.entries[id]
	if !ok {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", domain.ErrEntryNotFound, id)
	}
	if e.Status == events.EntryStatusRunning {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", domain.ErrEntryRunning, id)
	}
	q.removeLocked(id)
	q.full = len(q.entries) >= q.capacity

	removed := e.clone()
	pending := []events.Event{events.NewQueueEntryChangedEvent(q.deviceID, e.ID, e.JobRef, e.Status, events.EntryStatusRemoved)}
	pending = q.appendStatusEvent(pending)
	q.mu.Unlock()

	q.emit(pending)
	q.logger.Debug().Str("entry_id", id).Msg("queue entry removed")
	return removed, nil
}

// FirstRunnable returns the highest-ranked Waiting entry. Nothing is
// runnable while the queue is Held or Blocked.
func (q *Queue) FirstRunnable() (*Entry, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if !q.status.Dispatching() {
		return nil, false
	}
	for _, e := range q.order {
		if e.Status == events.EntryStatusWaiting {
			return e.clone(), true
		}
	}
	return nil, false
}

// Open reopens the queue for submissions.
func (q *Queue) Open() events.QueueStatus {
	return q.setFlag(func() { q.closed = false })
}

// Close refuses further submissions.
func (q *Queue) Close() events.QueueStatus {
	return q.setFlag(func() { q.closed = true })
}

// Hold stops dispatching entries to the process.
func (q *Queue) Hold() events.QueueStatus {
	return q.setFlag(func() { q.held = true })
}

// Resume restarts dispatching.
func (q *Queue) Resume() events.QueueStatus {
	return q.setFlag(func() { q.held = false })
}

// SetFull overrides the full flag until the next entry count change.
func (q *Queue) SetFull(full bool) events.QueueStatus {
	return q.setFlag(func() { q.full = full })
}

// SetProcessFull records whether the process is occupied.
func (q *Queue) SetProcessFull(full bool) events.QueueStatus {
	return q.setFlag(func() { q.processFull = full })
}

func (q *Queue) setFlag(apply func()) events.QueueStatus {
	q.mu.Lock()
	apply()
	pending := q.appendStatusEvent(nil)
	status := q.status
	q.mu.Unlock()

	q.emit(pending)
	return status
}

// Status returns the current derived status.
func (q *Queue) Status() events.QueueStatus {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.status
}

// Count returns the number of entries.
func (q *Queue) Count() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries)
}

// Capacity returns the configured capacity.
func (q *Queue) Capacity() int {
	return q.capacity
}

// DeviceID returns the device the queue belongs to.
func (q *Queue) DeviceID() string {
	return q.deviceID
}

// Flags returns the four status inputs as one consistent tuple.
func (q *Queue) Flags() (closed, held, full, processFull bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed, q.held, q.full, q.processFull
}

// Filter narrows a snapshot.
type Filter struct {
	Statuses []events.EntryStatus `json:"statuses,omitempty"`
	IDs      []string             `json:"ids,omitempty"`
	Limit    int                  `json:"limit,omitempty"`
}

// Snapshot is a point-in-time copy of the queue.
type Snapshot struct {
	DeviceID string             `json:"device_id,omitempty"`
	Status   events.QueueStatus `json:"status"`
	Count    int                `json:"count"`
	Capacity int                `json:"capacity"`
	Entries  []*Entry           `json:"entries"`
}

// Snapshot returns copies of the entries matching f in dispatch order.
func (q *Queue) Snapshot(f Filter) Snapshot {
	q.mu.RLock()
	defer q.mu.RUnlock()

	matched := lo.Filter(q.order, func(e *Entry, _ int) bool {
		if len(f.Statuses) > 0 && !lo.Contains(f.Statuses, e.Status) {
			return false
		}
		if len(f.IDs) > 0 && !lo.Contains(f.IDs, e.ID) {
			return false
		}
		return true
	})
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}

	return Snapshot{
		DeviceID: q.deviceID,
		Status:   q.status,
		Count:    len(q.entries),
		Capacity: q.capacity,
		Entries:  lo.Map(matched, func(e *Entry, _ int) *Entry { return e.clone() }),
	}
}

// HoldEntry moves a Waiting entry to Held.
func (q *Queue) HoldEntry(id string) (*Entry, error) {
	return q.transition(id, events.EntryStatusHeld, events.EntryStatusWaiting)
}

// ResumeEntry moves a Held entry back to Waiting.
func (q *Queue) ResumeEntry(id string) (*Entry, error) {
	return q.transition(id, events.EntryStatusWaiting, events.EntryStatusHeld)
}

// StartEntry moves a Waiting entry to Running. It fails when the entry
// was held, aborted or removed after FirstRunnable returned it.
func (q *Queue) StartEntry(id string) (*Entry, error) {
	return q.transition(id, events.EntryStatusRunning, events.EntryStatusWaiting)
}

// CancelEntry aborts an entry that has not started. Running entries are
// refused with domain.ErrEntryRunning; the process owns those.
func (q *Queue) CancelEntry(id string) (*Entry, error) {
	return q.transition(id, events.EntryStatusAborted, events.EntryStatusWaiting, events.EntryStatusHeld)
}

// transition moves an entry to `to` if its current status is one of from.
func (q *Queue) transition(id string, to events.EntryStatus, from ...events.EntryStatus) (*Entry, error) {
	q.mu.Lock()
	e, ok := q.entries[id]
	if !ok {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", domain.ErrEntryNotFound, id)
	}
	prev := e.Status
	if !lo.Contains(from, prev) {
		q.mu.Unlock()
		if prev == events.EntryStatusRunning {
			return nil, fmt.Errorf("%w: %s", domain.ErrEntryRunning, id)
		}
		return nil, fmt.Errorf("%w: entry %s is %s", domain.ErrInvalidTransition, id, prev)
	}
	setStatusLocked(e, to)
	ev := q.entryEvent(e, prev)
	out := e.clone()
	q.mu.Unlock()

	q.emit([]events.Event{ev})
	return out, nil
}

// SetEntryStatus sets an entry's status, stamping StartedAt on Running
// and EndedAt on terminal statuses.
func (q *Queue) SetEntryStatus(id string, status events.EntryStatus) (*Entry, error) {
	q.mu.Lock()
	e, ok := q.entries[id]
	if !ok {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", domain.ErrEntryNotFound, id)
	}
	prev := e.Status
	setStatusLocked(e, status)
	ev := q.entryEvent(e, prev)
	out := e.clone()
	q.mu.Unlock()

	q.emit([]events.Event{ev})
	return out, nil
}

// Flush removes entries in the given statuses (finished entries when none
// are given) and returns them.
func (q *Queue) Flush(statuses ...events.EntryStatus) []*Entry {
	q.mu.Lock()
	var removed []*Entry
	var pending []events.Event
	for _, e := range append([]*Entry(nil), q.order...) {
		match := e.Status.Finished()
		if len(statuses) > 0 {
			match = lo.Contains(statuses, e.Status)
		}
		if !match || e.Status == events.EntryStatusRunning {
			continue
		}
		q.removeLocked(e.ID)
		removed = append(removed, e.clone())
		pending = append(pending, events.NewQueueEntryChangedEvent(q.deviceID, e.ID, e.JobRef, e.Status, events.EntryStatusRemoved))
	}
	q.full = len(q.entries) >= q.capacity
	pending = q.appendStatusEvent(pending)
	q.mu.Unlock()

	q.emit(pending)
	if len(removed) > 0 {
		q.logger.Info().Int("count", len(removed)).Msg("queue flushed")
	}
	return removed
}

// setStatusLocked stamps StartedAt on Running and EndedAt on terminal
// statuses. Caller must hold q.mu.
func setStatusLocked(e *Entry, status events.EntryStatus) {
	e.Status = status
	now := time.Now().UTC()
	switch {
	case status == events.EntryStatusRunning:
		e.StartedAt = &now
		e.EndedAt = nil
	case status.Finished():
		e.EndedAt = &now
	}
}

func (q *Queue) insertLocked(e *Entry) {
	q.seq++
	e.seq = q.seq
	q.entries[e.ID] = e
	q.order = insertSorted(q.order, e)
}

func (q *Queue) removeLocked(id string) {
	delete(q.entries, id)
	for i, e := range q.order {
		if e.ID == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			return
		}
	}
}

func insertSorted(order []*Entry, e *Entry) []*Entry {
	i := sort.Search(len(order), func(i int) bool { return before(e, order[i]) })
	order = append(order, nil)
	copy(order[i+1:], order[i:])
	order[i] = e
	return order
}

// appendStatusEvent recomputes the status and appends a change event if it moved.
// Caller must hold q.mu.
func (q *Queue) appendStatusEvent(pending []events.Event) []events.Event {
	prev := q.status
	q.status = ComputeStatus(q.closed, q.held, q.full, q.processFull)
	if q.status == prev {
		return pending
	}
	q.logger.Debug().
		Str("from", string(prev)).
		Str("to", string(q.status)).
		Msg("queue status changed")
	return append(pending, events.NewQueueStatusChangedEvent(q.deviceID, prev, q.status, len(q.entries), q.capacity))
}

func (q *Queue) entryEvent(e *Entry, prev events.EntryStatus) events.Event {
	return events.NewQueueEntryChangedEvent(q.deviceID, e.ID, e.JobRef, prev, e.Status)
}

// emit publishes events outside the lock.
func (q *Queue) emit(pending []events.Event) {
	if q.publisher == nil {
		return
	}
	for _, ev := range pending {
		q.publisher.Publish(ev)
	}
}
