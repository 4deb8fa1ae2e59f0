package methods

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/brianly1003/pressd/internal/domain"
	"github.com/brianly1003/pressd/internal/domain/events"
	"github.com/brianly1003/pressd/internal/queue"
	"github.com/brianly1003/pressd/internal/rpc/handler"
	"github.com/brianly1003/pressd/internal/rpc/message"
)

// Submitter admits stored jobs into the queue.
type Submitter interface {
	SubmitRef(ctx context.Context, jobRef string, sub queue.Submission) (*queue.Entry, error)
}

// EntryAborter cancels a running entry.
type EntryAborter interface {
	AbortEntry(entryID string) error
}

// QueueService answers queue queries and commands.
type QueueService struct {
	queue     *queue.Queue
	aborter   EntryAborter
	submitter Submitter
}

// NewQueueService creates a queue service.
func NewQueueService(q *queue.Queue, aborter EntryAborter, submitter Submitter) *QueueService {
	return &QueueService{queue: q, aborter: aborter, submitter: submitter}
}

// RegisterMethods registers all queue methods with the registry.
func (s *QueueService) RegisterMethods(r *handler.Registry) {
	r.RegisterWithMeta("QueueStatus", s.QueueStatus, handler.MethodMeta{
		Summary:      "Queue status and entries",
		Subscribable: true,
	})
	r.RegisterWithMeta("SubmitQueueEntry", s.SubmitQueueEntry, handler.MethodMeta{Summary: "Submit a stored job"})
	r.RegisterWithMeta("HoldQueue", s.flagCommand(s.queue.Hold), handler.MethodMeta{Summary: "Hold dispatching"})
	r.RegisterWithMeta("ResumeQueue", s.flagCommand(s.queue.Resume), handler.MethodMeta{Summary: "Resume dispatching"})
	r.RegisterWithMeta("OpenQueue", s.flagCommand(s.queue.Open), handler.MethodMeta{Summary: "Accept submissions"})
	r.RegisterWithMeta("CloseQueue", s.flagCommand(s.queue.Close), handler.MethodMeta{Summary: "Refuse submissions"})
	r.RegisterWithMeta("FlushQueue", s.FlushQueue, handler.MethodMeta{Summary: "Remove entries by status"})
	r.RegisterWithMeta("HoldQueueEntry", s.entryCommand(s.queue.HoldEntry), handler.MethodMeta{Summary: "Hold a waiting entry"})
	r.RegisterWithMeta("ResumeQueueEntry", s.entryCommand(s.queue.ResumeEntry), handler.MethodMeta{Summary: "Release a held entry"})
	r.RegisterWithMeta("AbortQueueEntry", s.entryCommand(s.abortEntry), handler.MethodMeta{Summary: "Abort an entry"})
	r.RegisterWithMeta("RemoveQueueEntry", s.entryCommand(s.removeEntry), handler.MethodMeta{Summary: "Remove an entry"})
}

// QueueStatus returns a filtered snapshot.
func (s *QueueService) QueueStatus(ctx context.Context, params json.RawMessage) (interface{}, *message.Error) {
	var f queue.Filter
	if len(params) > 0 {
		if err := json.Unmarshal(params, &f); err != nil {
			return nil, message.ErrInvalidParams("failed to parse params: " + err.Error())
		}
	}
	return s.queue.Snapshot(f), nil
}

// SubmitParams for SubmitQueueEntry.
type SubmitParams struct {
	JobRef   string            `json:"jobRef"`
	Priority int               `json:"priority"`
	Held     bool              `json:"held"`
	Params   map[string]string `json:"params,omitempty"`
}

// SubmitQueueEntry admits a job previously stored with the repository.
func (s *QueueService) SubmitQueueEntry(ctx context.Context, params json.RawMessage) (interface{}, *message.Error) {
	if s.submitter == nil {
		return nil, message.ErrInternalError("submission not available")
	}
	var p SubmitParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, message.ErrInvalidParams("failed to parse params: " + err.Error())
	}
	if p.JobRef == "" {
		return nil, message.ErrInvalidParams("jobRef is required")
	}

	entry, err := s.submitter.SubmitRef(ctx, p.JobRef, queue.Submission{
		Priority: p.Priority,
		Held:     p.Held,
		Params:   p.Params,
	})
	if err != nil {
		return nil, message.FromDomainError(err)
	}
	return entry, nil
}

func (s *QueueService) flagCommand(fn func() events.QueueStatus) handler.HandlerFunc {
	return func(ctx context.Context, params json.RawMessage) (interface{}, *message.Error) {
		return map[string]events.QueueStatus{"status": fn()}, nil
	}
}

type flushParams struct {
	Statuses []events.EntryStatus `json:"statuses,omitempty"`
}

// FlushQueue removes finished entries, or those in the given statuses.
func (s *QueueService) FlushQueue(ctx context.Context, params json.RawMessage) (interface{}, *message.Error) {
	var p flushParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, message.ErrInvalidParams("failed to parse params: " + err.Error())
		}
	}
	removed := s.queue.Flush(p.Statuses...)
	return map[string]interface{}{
		"removed": removed,
		"status":  s.queue.Status(),
	}, nil
}

type entryParams struct {
	EntryID string `json:"entryId"`
}

func (s *QueueService) entryCommand(fn func(id string) (*queue.Entry, error)) handler.HandlerFunc {
	return func(ctx context.Context, params json.RawMessage) (interface{}, *message.Error) {
		var p entryParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, message.ErrInvalidParams("failed to parse params: " + err.Error())
		}
		if p.EntryID == "" {
			return nil, message.ErrInvalidParams("entryId is required")
		}
		entry, err := fn(p.EntryID)
		if err != nil {
			return nil, message.FromDomainError(err)
		}
		return entry, nil
	}
}

// abortEntry aborts a pending entry or cancels the running one.
func (s *QueueService) abortEntry(id string) (*queue.Entry, error) {
	entry, err := s.queue.CancelEntry(id)
	if !errors.Is(err, domain.ErrEntryRunning) {
		return entry, err
	}
	if s.aborter == nil {
		return nil, err
	}
	if err := s.aborter.AbortEntry(id); err != nil {
		return nil, err
	}
	entry, _ = s.queue.GetEntry(id)
	return entry, nil
}

func (s *QueueService) removeEntry(id string) (*queue.Entry, error) {
	return s.queue.RemoveEntry(id)
}
