package hotfolder

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/brianly1003/pressd/internal/domain"
	"github.com/brianly1003/pressd/internal/domain/ports"
	"github.com/brianly1003/pressd/internal/intake"
	"github.com/brianly1003/pressd/internal/queue"
	"github.com/brianly1003/pressd/internal/testutil"
	"github.com/rs/zerolog"
)

type fakeSubmitter struct {
	mu      sync.Mutex
	tickets []intake.Ticket
	reject  bool
}

func (f *fakeSubmitter) Submit(_ context.Context, t intake.Ticket) (*ports.JobRecord, *queue.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickets = append(f.tickets, t)
	if f.reject {
		return nil, nil, domain.ErrAdmissionRejected
	}
	return &ports.JobRecord{ID: "job"}, &queue.Entry{ID: "1"}, nil
}

func (f *fakeSubmitter) received() []intake.Ticket {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]intake.Ticket(nil), f.tickets...)
}

func startWatcher(t *testing.T, dir string, sub Submitter) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	w := New(Config{Dir: dir, DebounceMS: 20}, sub, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("Run() did not stop")
		}
	})
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestWatcher_SubmitsNewFile(t *testing.T) {
	dir := t.TempDir()
	sub := &fakeSubmitter{}
	startWatcher(t, dir, sub)

	testutil.WaitFor(t, time.Second, func() bool { return exists(filepath.Join(dir, DoneDir)) }, "folders created")

	path := filepath.Join(dir, "flyer.yaml")
	if err := os.WriteFile(path, []byte("amount: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	testutil.WaitFor(t, 2*time.Second, func() bool { return exists(filepath.Join(dir, DoneDir, "flyer.yaml")) }, "ticket moved to done")

	got := sub.received()
	if len(got) != 1 {
		t.Fatalf("submitted %d tickets, want 1", len(got))
	}
	if got[0].Name != "flyer.yaml" || got[0].ContentType != "application/yaml" || string(got[0].Body) != "amount: 2\n" {
		t.Errorf("ticket = %+v", got[0])
	}
	if exists(path) {
		t.Error("source file should be moved")
	}
}

func TestWatcher_ExistingFilesAndRejection(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "old.json"), []byte(`{"amount":1}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644); err != nil {
		t.Fatal(err)
	}

	sub := &fakeSubmitter{reject: true}
	startWatcher(t, dir, sub)

	testutil.WaitFor(t, 2*time.Second, func() bool { return exists(filepath.Join(dir, RejectedDir, "old.json")) }, "ticket moved to rejected")

	got := sub.received()
	if len(got) != 1 || got[0].ContentType != "application/json" {
		t.Errorf("received = %+v", got)
	}
	if !exists(filepath.Join(dir, "notes.txt")) {
		t.Error("non-ticket file should be left alone")
	}
}

func TestWatcher_Accepts(t *testing.T) {
	w := New(Config{Dir: "x", Extensions: []string{"yaml", ".JOB"}}, nil, zerolog.Nop())

	tests := map[string]bool{
		"a.yaml":      true,
		"a.job":       true,
		"a.JOB":       true,
		"a.json":      false,
		".hidden.yml": false,
		"a.yaml.part": false,
	}
	for name, want := range tests {
		if got := w.accepts(name); got != want {
			t.Errorf("accepts(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestDebouncer_Coalesces(t *testing.T) {
	var mu sync.Mutex
	calls := map[string]int{}
	d := newDebouncer(30*time.Millisecond, func(p string) {
		mu.Lock()
		calls[p]++
		mu.Unlock()
	})
	defer d.stop()

	for i := 0; i < 5; i++ {
		d.add("a")
		time.Sleep(5 * time.Millisecond)
	}
	d.add("b")
	d.forget("b")

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls["a"] != 1 {
		t.Errorf("a fired %d times, want 1", calls["a"])
	}
	if calls["b"] != 0 {
		t.Errorf("b fired %d times, want 0", calls["b"])
	}
}

func TestMove_AvoidsCollision(t *testing.T) {
	dir := t.TempDir()
	w := New(Config{Dir: dir}, nil, zerolog.Nop())
	_ = os.MkdirAll(filepath.Join(dir, DoneDir), 0o755)

	for i := 0; i < 2; i++ {
		src := filepath.Join(dir, "same.yaml")
		if err := os.WriteFile(src, []byte("amount: 1"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := w.move(src, DoneDir); err != nil {
			t.Fatalf("move() error = %v", err)
		}
	}

	entries, _ := os.ReadDir(filepath.Join(dir, DoneDir))
	if len(entries) != 2 {
		t.Errorf("done has %d files, want 2", len(entries))
	}
}
