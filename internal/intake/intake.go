// Package intake turns submitted job tickets into queue entries and
// records their outcome in the job repository.
package intake

import (
	"context"
	"errors"
	"fmt"

	"github.com/brianly1003/pressd/internal/domain"
	"github.com/brianly1003/pressd/internal/domain/ports"
	"github.com/brianly1003/pressd/internal/queue"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Job record statuses.
const (
	StatusReceived  = "Received"
	StatusQueued    = "Queued"
	StatusRejected  = "Rejected"
	StatusCompleted = "Completed"
	StatusAborted   = "Aborted"
)

// Waker is told when new work may be runnable.
type Waker interface {
	Notify()
}

// Ticket is a job submitted from outside the device.
type Ticket struct {
	Name        string
	ContentType string
	Body        []byte
	Priority    int
	Held        bool
	Params      map[string]string
}

// Service stores tickets and admits them to the queue.
type Service struct {
	queue    *queue.Queue
	repo     ports.JobRepository
	waker    Waker
	deviceID string
	logger   zerolog.Logger
}

var _ ports.ResultReturner = (*Service)(nil)

// New creates an intake service. waker may be nil.
func New(q *queue.Queue, repo ports.JobRepository, waker Waker, logger zerolog.Logger) *Service {
	return &Service{
		queue:    q,
		repo:     repo,
		waker:    waker,
		deviceID: q.DeviceID(),
		logger:   logger.With().Str("component", "intake").Logger(),
	}
}

// Submit stores the ticket and offers it to the queue. The record is kept
// as Rejected when the queue refuses it.
func (s *Service) Submit(ctx context.Context, t Ticket) (*ports.JobRecord, *queue.Entry, error) {
	if len(t.Body) == 0 {
		return nil, nil, domain.NewValidationError("body", "job ticket is empty")
	}

	rec := &ports.JobRecord{
		ID:          uuid.NewString(),
		Name:        t.Name,
		DeviceID:    s.deviceID,
		Status:      StatusReceived,
		ContentType: t.ContentType,
		Ticket:      t.Body,
	}
	if rec.Name == "" {
		rec.Name = rec.ID
	}
	if err := s.repo.Save(ctx, rec); err != nil {
		return nil, nil, fmt.Errorf("store ticket: %w", err)
	}

	entry, err := s.admit(ctx, rec, queue.Submission{
		JobRef:   rec.ID,
		Priority: t.Priority,
		Held:     t.Held,
		Params:   t.Params,
	})
	return rec, entry, err
}

// SubmitRef queues a ticket that is already stored under jobRef.
func (s *Service) SubmitRef(ctx context.Context, jobRef string, sub queue.Submission) (*queue.Entry, error) {
	rec, err := s.repo.Get(ctx, jobRef)
	if err != nil {
		return nil, err
	}
	sub.JobRef = rec.ID
	return s.admit(ctx, rec, sub)
}

func (s *Service) admit(ctx context.Context, rec *ports.JobRecord, sub queue.Submission) (*queue.Entry, error) {
	log := s.logger.With().Str("job_id", rec.ID).Str("name", rec.Name).Logger()

	entry, err := s.queue.AddEntry(sub)
	if err != nil {
		if errors.Is(err, domain.ErrAdmissionRejected) {
			rec.Status = StatusRejected
			if uerr := s.repo.UpdateStatus(ctx, rec.ID, StatusRejected, ""); uerr != nil {
				log.Warn().Err(uerr).Msg("failed to record rejection")
			}
			log.Info().Err(err).Msg("job rejected")
		}
		return nil, err
	}

	rec.Status = StatusQueued
	rec.EntryID = entry.ID
	if err := s.repo.UpdateStatus(ctx, rec.ID, StatusQueued, entry.ID); err != nil {
		log.Warn().Err(err).Msg("failed to record queue entry")
	}
	log.Info().Str("entry_id", entry.ID).Msg("job queued")

	if s.waker != nil {
		s.waker.Notify()
	}
	return entry, nil
}

// ReturnResult records the final status of a finished job.
func (s *Service) ReturnResult(ctx context.Context, outcome ports.JobOutcome) error {
	status := StatusCompleted
	if !outcome.Completed {
		status = StatusAborted
	}
	if err := s.repo.UpdateStatus(ctx, outcome.JobRef, status, outcome.EntryID); err != nil {
		return fmt.Errorf("record result for %s: %w", outcome.JobRef, err)
	}

	ev := s.logger.Info()
	if outcome.Err != nil {
		ev = s.logger.Warn().Err(outcome.Err)
	}
	ev.Str("job_id", outcome.JobRef).
		Str("entry_id", outcome.EntryID).
		Str("status", status).
		Int64("amount", outcome.Amount).
		Dur("elapsed", outcome.EndedAt.Sub(outcome.StartedAt)).
		Msg("job returned")
	return nil
}

// Jobs lists stored tickets, newest first.
func (s *Service) Jobs(ctx context.Context, limit int) ([]*ports.JobRecord, error) {
	return s.repo.List(ctx, limit)
}
