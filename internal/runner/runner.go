// Package runner provides a simulated press that executes YAML job tickets.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brianly1003/pressd/internal/domain"
	"github.com/brianly1003/pressd/internal/domain/ports"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ErrJammed is returned when a ticket asks the press to fail.
var ErrJammed = errors.New("press jammed")

// Ticket describes a simulated job. JSON tickets parse as well.
type Ticket struct {
	Name    string `yaml:"name" json:"name"`
	Amount  int64  `yaml:"amount" json:"amount"`
	SetupMS int    `yaml:"setup_ms" json:"setup_ms"`
	UnitMS  int    `yaml:"unit_ms" json:"unit_ms"`
	FailAt  int64  `yaml:"fail_at" json:"fail_at"`
}

// ParseTicket decodes and validates a ticket body.
func ParseTicket(body []byte) (*Ticket, error) {
	var t Ticket
	if err := yaml.Unmarshal(body, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if t.Amount <= 0 {
		return nil, domain.NewValidationError("amount", "must be positive")
	}
	if t.SetupMS < 0 || t.UnitMS < 0 {
		return nil, domain.NewValidationError("timing", "durations must not be negative")
	}
	return &t, nil
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Simulator) {
		s.logger = l
	}
}

// WithSpeed scales every ticket duration. 0.5 runs twice as fast.
func WithSpeed(factor float64) Option {
	return func(s *Simulator) {
		if factor > 0 {
			s.speed = factor
		}
	}
}

// Simulator is a JobRunner that loads tickets from a JobRepository and
// reports setup and progress at the ticket's pace.
type Simulator struct {
	repo   ports.JobRepository
	speed  float64
	logger zerolog.Logger
}

var _ ports.JobRunner = (*Simulator)(nil)

// New creates a simulator reading tickets from repo.
func New(repo ports.JobRepository, opts ...Option) *Simulator {
	s := &Simulator{
		repo:   repo,
		speed:  1,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute implements ports.JobRunner.
func (s *Simulator) Execute(ctx context.Context, job ports.Job, cb ports.JobCallbacks) error {
	rec, err := s.repo.Get(ctx, job.JobRef)
	if err != nil {
		return fmt.Errorf("load ticket: %w", err)
	}
	t, err := ParseTicket(rec.Ticket)
	if err != nil {
		return fmt.Errorf("parse ticket %s: %w", rec.Name, err)
	}

	log := s.logger.With().Str("entry_id", job.EntryID).Str("ticket", t.Name).Logger()
	log.Debug().Int64("amount", t.Amount).Msg("setup started")

	if err := s.sleep(ctx, t.SetupMS); err != nil {
		return err
	}
	cb.SetupComplete(t.Amount)

	for n := int64(1); n <= t.Amount; n++ {
		if err := s.sleep(ctx, t.UnitMS); err != nil {
			return err
		}
		if t.FailAt > 0 && n == t.FailAt {
			return fmt.Errorf("%w at unit %d", ErrJammed, n)
		}
		cb.Progress(n)
	}

	log.Debug().Msg("run finished")
	return nil
}

func (s *Simulator) sleep(ctx context.Context, ms int) error {
	d := time.Duration(float64(ms)*s.speed) * time.Millisecond
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
