// Package process implements the single-worker device process that
// drains the queue.
package process

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brianly1003/pressd/internal/domain"
	"github.com/brianly1003/pressd/internal/domain/events"
	"github.com/brianly1003/pressd/internal/domain/ports"
	"github.com/brianly1003/pressd/internal/queue"
	"github.com/brianly1003/pressd/internal/sync"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// DefaultPollInterval bounds how long the worker waits before re-checking the queue.
const DefaultPollInterval = time.Second

// Option configures a Process.
type Option func(*Process)

// WithLogger sets the process logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Process) {
		p.logger = l
	}
}

// WithPublisher sets the sink for process events.
func WithPublisher(pub ports.EventPublisher) Option {
	return func(p *Process) {
		p.publisher = pub
	}
}

// WithDeviceID stamps events with the device id.
func WithDeviceID(id string) Option {
	return func(p *Process) {
		p.deviceID = id
	}
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(p *Process) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithResultReturner sets the collaborator invoked after each finished job.
func WithResultReturner(r ports.ResultReturner) Option {
	return func(p *Process) {
		p.returner = r
	}
}

// Process runs queue entries one at a time.
type Process struct {
	queue        *queue.Queue
	runner       ports.JobRunner
	returner     ports.ResultReturner
	publisher    ports.EventPublisher
	logger       zerolog.Logger
	deviceID     string
	pollInterval time.Duration

	mu             sync.Mutex
	status         events.DeviceStatus
	currentEntryID string
	stateChanged   bool
	job            *jobTracker
	cancelJob      context.CancelFunc

	wake     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	started  bool
}

// New creates a process bound to q. It does nothing until Start.
func New(q *queue.Queue, runner ports.JobRunner, opts ...Option) *Process {
	p := &Process{
		queue:        q,
		runner:       runner,
		logger:       zerolog.Nop(),
		pollInterval: DefaultPollInterval,
		status:       events.DeviceStatusUnknown,
		wake:         make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start spawns the worker loop.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("process already started")
	}
	if p.status == events.DeviceStatusStopped {
		p.mu.Unlock()
		return domain.ErrProcessStopped
	}
	p.started = true
	p.mu.Unlock()

	p.setStateUnless(events.DeviceStatusIdle, "started", events.DeviceStatusStopped)
	p.logger.Info().Dur("poll_interval", p.pollInterval).Msg("process worker started")

	go p.run(ctx)
	return nil
}

// Stop marks the process Stopped. The worker exits within one poll
// interval; a running job is allowed to finish.
func (p *Process) Stop() {
	p.setState(events.DeviceStatusStopped, "stopped")
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// Wait blocks until the worker loop has exited or ctx is done.
func (p *Process) Wait(ctx context.Context) error {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return nil
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notify wakes the worker loop ahead of the next poll.
func (p *Process) Notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Status returns the device status.
func (p *Process) Status() events.DeviceStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// CurrentEntryID returns the id of the running entry, if any.
func (p *Process) CurrentEntryID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentEntryID
}

// ConsumeStateChanged returns whether the last setState changed the
// status and clears the flag.
func (p *Process) ConsumeStateChanged() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	changed := p.stateChanged
	p.stateChanged = false
	return changed
}

// SetDown takes the device offline. Queued entries stay put until SetUp.
func (p *Process) SetDown(comment string) error {
	if !p.setStateUnless(events.DeviceStatusDown, comment, events.DeviceStatusStopped) {
		return domain.ErrProcessStopped
	}
	return nil
}

// SetUp brings a Down device back.
func (p *Process) SetUp() error {
	var err error
	changed := p.updateState("device up", func(cur events.DeviceStatus, busy bool) (events.DeviceStatus, bool) {
		switch cur {
		case events.DeviceStatusStopped:
			err = domain.ErrProcessStopped
			return cur, false
		case events.DeviceStatusDown:
			if busy {
				return events.DeviceStatusRunning, true
			}
			return events.DeviceStatusIdle, true
		default:
			return cur, false
		}
	})
	if changed {
		p.Notify()
	}
	return err
}

// AbortEntry cancels the job running for entryID.
func (p *Process) AbortEntry(entryID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.currentEntryID != entryID || p.cancelJob == nil {
		return fmt.Errorf("%w: %s is not running", domain.ErrEntryNotFound, entryID)
	}
	p.logger.Info().Str("entry_id", entryID).Msg("aborting running entry")
	p.cancelJob()
	return nil
}

// setState sets the status and always announces it, even when unchanged.
func (p *Process) setState(status events.DeviceStatus, comment string) {
	p.updateState(comment, func(events.DeviceStatus, bool) (events.DeviceStatus, bool) {
		return status, true
	})
}

// setStateUnless sets the status unless the current one is in keep and
// reports whether it wrote.
func (p *Process) setStateUnless(status events.DeviceStatus, comment string, keep ...events.DeviceStatus) bool {
	return p.updateState(comment, func(cur events.DeviceStatus, _ bool) (events.DeviceStatus, bool) {
		return status, !lo.Contains(keep, cur)
	})
}

// advance moves through job phases unless the device was stopped or
// taken down meanwhile.
func (p *Process) advance(status events.DeviceStatus, comment string) {
	p.setStateUnless(status, comment, events.DeviceStatusStopped, events.DeviceStatusDown)
}

// updateState decides and writes the next status in one critical section,
// then announces it with the lock released. next returns false to leave
// the status alone.
func (p *Process) updateState(comment string, next func(cur events.DeviceStatus, busy bool) (events.DeviceStatus, bool)) bool {
	p.mu.Lock()
	prev := p.status
	status, ok := next(prev, p.currentEntryID != "")
	if !ok {
		p.mu.Unlock()
		return false
	}
	p.status = status
	p.stateChanged = prev != status
	entryID := p.currentEntryID
	p.mu.Unlock()

	if prev != status {
		p.logger.Debug().
			Str("from", string(prev)).
			Str("to", string(status)).
			Str("entry_id", entryID).
			Msg("device status changed")
	}
	p.publish(events.NewProcessStatusChangedEvent(p.deviceID, prev, status, entryID, comment))
	return true
}

func (p *Process) publish(e events.Event) {
	if p.publisher != nil {
		p.publisher.Publish(e)
	}
}

// run is the worker loop.
func (p *Process) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		if p.Status() == events.DeviceStatusStopped {
			p.logger.Info().Msg("process worker stopped")
			return
		}

		p.dispatch(ctx)

		select {
		case <-ctx.Done():
			p.Stop()
			p.logger.Info().Msg("process worker cancelled")
			return
		case <-p.stopCh:
			p.logger.Info().Msg("process worker stopped")
			return
		case <-p.wake:
		case <-ticker.C:
		}
	}
}

// dispatch runs runnable entries until the queue has none or the device
// cannot take more work.
func (p *Process) dispatch(ctx context.Context) {
	for {
		status := p.Status()
		if status == events.DeviceStatusStopped || status == events.DeviceStatusDown {
			return
		}

		entry, ok := p.queue.FirstRunnable()
		if !ok {
			return
		}

		if status != events.DeviceStatusIdle {
			p.logger.Warn().
				Str("entry_id", entry.ID).
				Str("status", string(status)).
				Msg("device busy, not starting entry")
			return
		}

		if !p.runEntry(ctx, entry) {
			return
		}
	}
}

// runEntry runs one entry. It returns false when the device was stopped
// or taken down before the entry could start.
func (p *Process) runEntry(ctx context.Context, entry *queue.Entry) bool {
	log := p.logger.With().Str("entry_id", entry.ID).Str("job_ref", entry.JobRef).Logger()

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	// Claim the entry before the queue marks it Running so an abort that
	// sees it Running always finds the cancel func. Events are published
	// with no process lock held.
	p.mu.Lock()
	if p.status != events.DeviceStatusIdle {
		p.mu.Unlock()
		return false
	}
	p.currentEntryID = entry.ID
	p.cancelJob = cancel
	p.mu.Unlock()

	running, err := p.queue.StartEntry(entry.ID)
	if err != nil {
		p.mu.Lock()
		p.currentEntryID = ""
		p.cancelJob = nil
		p.mu.Unlock()
		log.Debug().Err(err).Msg("entry changed before start")
		return true
	}
	started := time.Now()
	if running.StartedAt != nil {
		started = *running.StartedAt
	}
	p.mu.Lock()
	p.job = &jobTracker{entryID: entry.ID, jobRef: entry.JobRef, startedAt: started, phaseStartedAt: started}
	p.mu.Unlock()

	p.queue.SetProcessFull(true)
	p.advance(events.DeviceStatusSetup, "")

	cb := &callbacks{p: p}
	runErr := p.runner.Execute(jobCtx, ports.Job{
		EntryID: entry.ID,
		JobRef:  entry.JobRef,
		Params:  entry.Params,
	}, cb)

	p.advance(events.DeviceStatusCleanup, "")

	final := events.EntryStatusCompleted
	if runErr != nil {
		final = events.EntryStatusAborted
		phase := "run"
		if errors.Is(runErr, context.Canceled) {
			phase = "abort"
		}
		log.Warn().Err(domain.NewJobExecutionError(entry.ID, phase, runErr)).Msg("job failed")
	}

	finished, err := p.queue.SetEntryStatus(entry.ID, final)
	if err != nil {
		log.Warn().Err(err).Msg("entry vanished before completion")
	}

	p.mu.Lock()
	amount := int64(0)
	if p.job != nil {
		amount = p.job.amount
	}
	p.currentEntryID = ""
	p.cancelJob = nil
	p.job = nil
	p.mu.Unlock()

	p.queue.SetProcessFull(false)

	if p.returner != nil {
		outcome := ports.JobOutcome{
			EntryID:   entry.ID,
			JobRef:    entry.JobRef,
			Completed: runErr == nil,
			Amount:    amount,
			Err:       runErr,
			StartedAt: started,
			EndedAt:   time.Now().UTC(),
		}
		if finished != nil && finished.EndedAt != nil {
			outcome.EndedAt = *finished.EndedAt
		}
		if err := p.returner.ReturnResult(ctx, outcome); err != nil {
			log.Warn().Err(err).Msg("failed to return job result")
		}
	}

	p.advance(events.DeviceStatusIdle, "")
	log.Info().Str("status", string(final)).Dur("elapsed", time.Since(started)).Msg("entry finished")
	return true
}

// callbacks adapts runner notifications to process state.
type callbacks struct {
	p *Process
}

func (c *callbacks) SetupComplete(total int64) {
	c.p.mu.Lock()
	if c.p.job != nil {
		c.p.job.total = total
	}
	c.p.mu.Unlock()
	c.p.advance(events.DeviceStatusRunning, "")
}

func (c *callbacks) Progress(amount int64) {
	p := c.p
	newPhase := p.ConsumeStateChanged()

	p.mu.Lock()
	if p.job == nil {
		p.mu.Unlock()
		return
	}
	p.job.amount = amount
	if newPhase {
		p.job.phaseStartedAt = time.Now()
		p.job.phaseStartAmount = amount
	}
	entryID, total := p.job.entryID, p.job.total
	p.mu.Unlock()

	p.publish(events.NewProcessAmountChangedEvent(p.deviceID, entryID, amount, total))
}
