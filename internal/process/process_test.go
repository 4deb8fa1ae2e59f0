package process

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brianly1003/pressd/internal/domain/events"
	"github.com/brianly1003/pressd/internal/domain/ports"
	"github.com/brianly1003/pressd/internal/queue"
	"github.com/brianly1003/pressd/internal/testutil"
)

// runnerFunc adapts a function to ports.JobRunner.
type runnerFunc func(ctx context.Context, job ports.Job, cb ports.JobCallbacks) error

func (f runnerFunc) Execute(ctx context.Context, job ports.Job, cb ports.JobCallbacks) error {
	return f(ctx, job, cb)
}

type recordingReturner struct {
	mu       sync.Mutex
	outcomes []ports.JobOutcome
}

func (r *recordingReturner) ReturnResult(_ context.Context, o ports.JobOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
	return nil
}

func (r *recordingReturner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.outcomes)
}

func newTestProcess(t *testing.T, runner ports.JobRunner, opts ...Option) (*Process, *queue.Queue, *testutil.MockEventHub) {
	t.Helper()
	hub := testutil.NewMockEventHub()
	q := queue.New(5, queue.WithPublisher(hub))
	opts = append([]Option{WithPublisher(hub), WithPollInterval(10 * time.Millisecond)}, opts...)
	p := New(q, runner, opts...)
	t.Cleanup(func() {
		p.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.Wait(ctx)
	})
	return p, q, hub
}

func entryStatus(q *queue.Queue, id string) events.EntryStatus {
	e, ok := q.GetEntry(id)
	if !ok {
		return ""
	}
	return e.Status
}

func deviceStatuses(hub *testutil.MockEventHub) []events.DeviceStatus {
	var out []events.DeviceStatus
	for _, e := range hub.EventsOfType(events.EventTypeProcessStatusChanged) {
		out = append(out, e.(*events.BaseEvent).Payload.(events.ProcessStatusPayload).Status)
	}
	return out
}

func TestProcess_StopWhileIdle(t *testing.T) {
	hub := testutil.NewMockEventHub()
	q := queue.New(1)
	p := New(q, runnerFunc(func(context.Context, ports.Job, ports.JobCallbacks) error { return nil }), WithPublisher(hub))

	if p.Status() != events.DeviceStatusUnknown {
		t.Fatalf("initial status = %s, want Unknown", p.Status())
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), DefaultPollInterval+200*time.Millisecond)
	defer cancel()
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("worker did not exit: %v", err)
	}
	if elapsed := time.Since(start); elapsed > DefaultPollInterval {
		t.Errorf("worker took %v to exit", elapsed)
	}
	if p.Status() != events.DeviceStatusStopped {
		t.Errorf("Status() = %s, want Stopped", p.Status())
	}
	if err := p.Start(context.Background()); err == nil {
		t.Error("restarting a stopped process should fail")
	}
}

func TestProcess_RunsEntryThroughPhases(t *testing.T) {
	runner := runnerFunc(func(_ context.Context, _ ports.Job, cb ports.JobCallbacks) error {
		cb.SetupComplete(10)
		cb.Progress(5)
		cb.Progress(10)
		return nil
	})
	p, q, hub := newTestProcess(t, runner)

	e, err := q.AddEntry(queue.Submission{JobRef: "job"})
	if err != nil {
		t.Fatalf("AddEntry() error = %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	testutil.WaitFor(t, 2*time.Second, func() bool {
		return entryStatus(q, e.ID) == events.EntryStatusCompleted && len(deviceStatuses(hub)) >= 5
	}, "entry completed")

	want := []events.DeviceStatus{
		events.DeviceStatusIdle,
		events.DeviceStatusSetup,
		events.DeviceStatusRunning,
		events.DeviceStatusCleanup,
		events.DeviceStatusIdle,
	}
	got := deviceStatuses(hub)
	if len(got) != len(want) {
		t.Fatalf("status sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("status[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	if n := len(hub.EventsOfType(events.EventTypeProcessAmountChanged)); n != 2 {
		t.Errorf("amount events = %d, want 2", n)
	}
	if q.Status() != events.QueueStatusWaiting {
		t.Errorf("queue status = %s, want Waiting after job", q.Status())
	}

	done, _ := q.GetEntry(e.ID)
	if done.StartedAt == nil || done.EndedAt == nil {
		t.Error("entry should carry start and end times")
	}
}

func TestProcess_FailureIsIsolated(t *testing.T) {
	runner := runnerFunc(func(_ context.Context, job ports.Job, _ ports.JobCallbacks) error {
		if job.JobRef == "bad" {
			return errors.New("paper jam")
		}
		return nil
	})
	returner := &recordingReturner{}
	p, q, _ := newTestProcess(t, runner, WithResultReturner(returner))

	bad, _ := q.AddEntry(queue.Submission{JobRef: "bad"})
	good, _ := q.AddEntry(queue.Submission{JobRef: "good"})

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	testutil.WaitFor(t, 2*time.Second, func() bool {
		return entryStatus(q, good.ID) == events.EntryStatusCompleted
	}, "second entry completed")

	if s := entryStatus(q, bad.ID); s != events.EntryStatusAborted {
		t.Errorf("bad entry status = %s, want Aborted", s)
	}
	testutil.WaitFor(t, time.Second, func() bool { return returner.count() == 2 }, "two results returned")
}

func TestProcess_JobPhase(t *testing.T) {
	release := make(chan struct{})
	reported := make(chan struct{})
	runner := runnerFunc(func(_ context.Context, _ ports.Job, cb ports.JobCallbacks) error {
		cb.SetupComplete(100)
		cb.Progress(25)
		close(reported)
		<-release
		return nil
	})
	p, q, _ := newTestProcess(t, runner)

	if _, ok := p.JobPhase(); ok {
		t.Fatal("JobPhase() should be empty before any job")
	}

	e, _ := q.AddEntry(queue.Submission{JobRef: "long"})
	_ = p.Start(context.Background())

	select {
	case <-reported:
	case <-time.After(2 * time.Second):
		t.Fatal("runner never reported progress")
	}

	phase, ok := p.JobPhase()
	if !ok {
		t.Fatal("JobPhase() should be present while running")
	}
	if phase.EntryID != e.ID {
		t.Errorf("EntryID = %s, want %s", phase.EntryID, e.ID)
	}
	if phase.PercentComplete != 25 {
		t.Errorf("PercentComplete = %v, want 25", phase.PercentComplete)
	}
	if phase.Status != events.DeviceStatusRunning {
		t.Errorf("Status = %s, want Running", phase.Status)
	}
	if q.Status() != events.QueueStatusRunning {
		t.Errorf("queue status = %s, want Running while a job is active", q.Status())
	}

	close(release)
	testutil.WaitFor(t, 2*time.Second, func() bool {
		_, ok := p.JobPhase()
		return !ok
	}, "job phase cleared")
}

func TestProcess_AbortEntry(t *testing.T) {
	started := make(chan struct{})
	runner := runnerFunc(func(ctx context.Context, _ ports.Job, _ ports.JobCallbacks) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	p, q, _ := newTestProcess(t, runner)

	e, _ := q.AddEntry(queue.Submission{JobRef: "stuck"})
	_ = p.Start(context.Background())
	<-started

	if err := p.AbortEntry("nope"); err == nil {
		t.Error("aborting an entry that is not running should fail")
	}
	if err := p.AbortEntry(e.ID); err != nil {
		t.Fatalf("AbortEntry() error = %v", err)
	}

	testutil.WaitFor(t, 2*time.Second, func() bool {
		return entryStatus(q, e.ID) == events.EntryStatusAborted
	}, "entry aborted")
}

func TestProcess_DownHoldsDispatch(t *testing.T) {
	runner := runnerFunc(func(context.Context, ports.Job, ports.JobCallbacks) error { return nil })
	p, q, _ := newTestProcess(t, runner)

	_ = p.Start(context.Background())
	if err := p.SetDown("maintenance"); err != nil {
		t.Fatalf("SetDown() error = %v", err)
	}

	e, _ := q.AddEntry(queue.Submission{JobRef: "wait"})
	p.Notify()
	time.Sleep(50 * time.Millisecond)
	if s := entryStatus(q, e.ID); s != events.EntryStatusWaiting {
		t.Fatalf("entry status = %s, want Waiting while down", s)
	}

	if err := p.SetUp(); err != nil {
		t.Fatalf("SetUp() error = %v", err)
	}
	testutil.WaitFor(t, 2*time.Second, func() bool {
		return entryStatus(q, e.ID) == events.EntryStatusCompleted
	}, "entry completed after device up")
}

func TestProcess_SetStateAlwaysAnnounces(t *testing.T) {
	hub := testutil.NewMockEventHub()
	p := New(queue.New(1), nil, WithPublisher(hub))

	p.setState(events.DeviceStatusIdle, "")
	if !p.ConsumeStateChanged() {
		t.Error("first transition should set stateChanged")
	}
	if p.ConsumeStateChanged() {
		t.Error("stateChanged should reset after being consumed")
	}

	p.setState(events.DeviceStatusIdle, "re-announce")
	if p.ConsumeStateChanged() {
		t.Error("same-state re-entry should not set stateChanged")
	}
	if n := len(hub.EventsOfType(events.EventTypeProcessStatusChanged)); n != 2 {
		t.Errorf("status events = %d, want 2", n)
	}
}

func TestProcess_StopDuringPhasesStaysStopped(t *testing.T) {
	running := make(chan struct{})
	runner := runnerFunc(func(_ context.Context, _ ports.Job, cb ports.JobCallbacks) error {
		cb.SetupComplete(1000)
		close(running)
		for i := int64(1); i <= 1000; i++ {
			cb.SetupComplete(1000)
			cb.Progress(i)
		}
		return nil
	})
	p, q, _ := newTestProcess(t, runner)

	e, _ := q.AddEntry(queue.Submission{JobRef: "long"})
	_ = p.Start(context.Background())
	<-running

	p.Stop()
	if s := p.Status(); s != events.DeviceStatusStopped {
		t.Fatalf("Status() right after Stop = %s, want Stopped", s)
	}

	testutil.WaitFor(t, 2*time.Second, func() bool {
		return entryStatus(q, e.ID) == events.EntryStatusCompleted
	}, "in-flight job finished")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("worker did not exit: %v", err)
	}
	if s := p.Status(); s != events.DeviceStatusStopped {
		t.Errorf("Status() after the job = %s, want Stopped", s)
	}
}

func TestProcess_StopRacingPhaseChanges(t *testing.T) {
	for i := 0; i < 200; i++ {
		p := New(queue.New(1), nil)
		p.setState(events.DeviceStatusRunning, "")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for _, s := range []events.DeviceStatus{events.DeviceStatusCleanup, events.DeviceStatusIdle, events.DeviceStatusSetup} {
				p.advance(s, "")
			}
			_ = p.SetDown("race")
			_ = p.SetUp()
		}()
		go func() {
			defer wg.Done()
			p.Stop()
		}()
		wg.Wait()

		if s := p.Status(); s != events.DeviceStatusStopped {
			t.Fatalf("iteration %d: Status() = %s, want Stopped", i, s)
		}
	}
}

func TestProcess_SetDownAfterStop(t *testing.T) {
	p := New(queue.New(1), nil)
	p.Stop()
	if err := p.SetDown("late"); err == nil {
		t.Error("SetDown on a stopped process should fail")
	}
	if err := p.SetUp(); err == nil {
		t.Error("SetUp on a stopped process should fail")
	}
	if s := p.Status(); s != events.DeviceStatusStopped {
		t.Errorf("Status() = %s, want Stopped", s)
	}
}

func TestProcess_SkipsEntryHeldAfterPick(t *testing.T) {
	ran := false
	runner := runnerFunc(func(context.Context, ports.Job, ports.JobCallbacks) error {
		ran = true
		return nil
	})
	q := queue.New(5)
	p := New(q, runner)
	p.setState(events.DeviceStatusIdle, "")

	e, _ := q.AddEntry(queue.Submission{JobRef: "held-late"})
	picked, ok := q.FirstRunnable()
	if !ok {
		t.Fatal("FirstRunnable() found nothing")
	}
	if _, err := q.HoldEntry(e.ID); err != nil {
		t.Fatalf("HoldEntry() error = %v", err)
	}

	if !p.runEntry(context.Background(), picked) {
		t.Fatal("runEntry() should let dispatch continue")
	}
	if ran {
		t.Error("held entry was executed")
	}
	if s := entryStatus(q, e.ID); s != events.EntryStatusHeld {
		t.Errorf("entry status = %s, want Held", s)
	}
	if p.CurrentEntryID() != "" {
		t.Errorf("CurrentEntryID() = %q, want empty", p.CurrentEntryID())
	}
}

func TestProcess_NoStartAfterStop(t *testing.T) {
	ran := false
	runner := runnerFunc(func(context.Context, ports.Job, ports.JobCallbacks) error {
		ran = true
		return nil
	})
	q := queue.New(5)
	p := New(q, runner)

	e, _ := q.AddEntry(queue.Submission{JobRef: "late"})
	picked, _ := q.FirstRunnable()
	p.Stop()

	if p.runEntry(context.Background(), picked) {
		t.Error("runEntry() should stop dispatch once stopped")
	}
	if ran {
		t.Error("entry started on a stopped device")
	}
	if s := entryStatus(q, e.ID); s != events.EntryStatusWaiting {
		t.Errorf("entry status = %s, want Waiting", s)
	}
}
