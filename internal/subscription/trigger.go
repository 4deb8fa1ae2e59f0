package subscription

import (
	"context"
	"time"

	"github.com/brianly1003/pressd/internal/sync"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// TimerID identifies a scheduled timer.
type TimerID int

// Scheduler runs repeating timers that can be cancelled one by one.
type Scheduler interface {
	// Schedule runs fn every period until cancelled.
	Schedule(every time.Duration, fn func()) (TimerID, error)

	// Cancel stops one timer. Unknown ids are ignored.
	Cancel(id TimerID)

	// Stop cancels all timers and waits for running callbacks.
	Stop(ctx context.Context) error
}

// MinTimerPeriod is the shortest period a CronScheduler honours.
const MinTimerPeriod = 10 * time.Millisecond

// CronScheduler schedules timers on a robfig/cron runner. Periods keep
// their fractional seconds; periods under MinTimerPeriod are raised to it.
type CronScheduler struct {
	cron *cron.Cron

	mu      sync.Mutex
	started bool
}

// NewCronScheduler creates a scheduler whose panics and errors go to logger.
func NewCronScheduler(logger zerolog.Logger) *CronScheduler {
	cl := cronLogger{logger: logger.With().Str("component", "timer").Logger()}
	return &CronScheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
	}
}

// Schedule implements Scheduler.
func (s *CronScheduler) Schedule(every time.Duration, fn func()) (TimerID, error) {
	id := s.cron.Schedule(newEvery(every), cron.FuncJob(fn))

	s.mu.Lock()
	if !s.started {
		s.cron.Start()
		s.started = true
	}
	s.mu.Unlock()

	return TimerID(id), nil
}

// everySchedule fires at a fixed period measured from the previous run.
// cron.Every truncates to whole seconds, which turns 1.9s into 1s.
type everySchedule struct {
	period time.Duration
}

func newEvery(d time.Duration) everySchedule {
	return everySchedule{period: max(d, MinTimerPeriod)}
}

// Next implements cron.Schedule.
func (s everySchedule) Next(t time.Time) time.Time {
	return t.Add(s.period)
}

// Cancel implements Scheduler.
func (s *CronScheduler) Cancel(id TimerID) {
	s.cron.Remove(cron.EntryID(id))
}

// Stop implements Scheduler.
func (s *CronScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil
	}

	for _, e := range s.cron.Entries() {
		s.cron.Remove(e.ID)
	}
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger routes cron's logr-style messages to zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Trace().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
