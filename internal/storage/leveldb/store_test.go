package leveldb

import (
	"context"
	"testing"

	"github.com/brianly1003/pressd/internal/domain/messages"
)

func query(id, url, typ string) messages.Query {
	return messages.Query{
		ID:           id,
		Type:         typ,
		Subscription: &messages.SubscriptionSpec{URL: url, RepeatTime: 5},
	}
}

func TestStore_PutListDelete(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir, false)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := s.Put(ctx, query("c1", "http://a", "Status")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := s.Put(ctx, query("c2", "http://a", "QueueStatus")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	// replacing keeps one record per (url, channel)
	if err := s.Put(ctx, query("c1", "http://a", "Events")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("List() len = %d, want 2", len(got))
	}
	types := map[string]string{}
	for _, q := range got {
		types[q.ID] = q.Type
	}
	if types["c1"] != "Events" || types["c2"] != "QueueStatus" {
		t.Errorf("stored types = %v", types)
	}

	if err := s.Delete(ctx, "http://a", "c1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := s.Delete(ctx, "http://a", "missing"); err != nil {
		t.Errorf("Delete() of missing key error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// reopen and check persistence
	s, err = Open(dir, true)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	got, err = s.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "c2" || got[0].Subscription.RepeatTime != 5 {
		t.Errorf("after reopen = %+v", got)
	}
}

func TestStore_PutRequiresURL(t *testing.T) {
	s, err := Open(t.TempDir(), false)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	if err := s.Put(context.Background(), messages.Query{ID: "x"}); err == nil {
		t.Error("Put() without subscription should fail")
	}
}
