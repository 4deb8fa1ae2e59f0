package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/brianly1003/pressd/internal/domain/messages"
	"github.com/brianly1003/pressd/internal/rpc/message"
)

func constHandler(v interface{}) HandlerFunc {
	return func(ctx context.Context, params json.RawMessage) (interface{}, *message.Error) {
		return v, nil
	}
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	r.Register("Status", constHandler("first"))
	r.Register("Status", constHandler("second"))

	h := r.Get("Status")
	if h == nil {
		t.Fatal("Get() returned nil for registered method")
	}
	result, _ := h(context.Background(), nil)
	if result != "second" {
		t.Errorf("expected replaced handler, got %v", result)
	}
	if r.Get("Missing") != nil {
		t.Error("Get() should return nil for unregistered method")
	}
}

func TestRegistry_Meta(t *testing.T) {
	r := NewRegistry()
	r.RegisterWithMeta("QueueStatus", constHandler(nil), MethodMeta{Summary: "Queue state", Subscribable: true})
	r.Register("HoldQueue", constHandler(nil))

	if got := r.GetMeta("QueueStatus"); got.Summary != "Queue state" || !got.Subscribable {
		t.Errorf("GetMeta() = %+v", got)
	}
	if got := r.GetMeta("HoldQueue"); got.Summary != "HoldQueue" || got.Subscribable {
		t.Errorf("default meta = %+v", got)
	}
	if got := r.GetMeta("Unknown"); got.Summary != "Unknown" {
		t.Errorf("unknown meta = %+v", got)
	}

	subs := r.Subscribable()
	if len(subs) != 1 || subs[0] != "QueueStatus" {
		t.Errorf("Subscribable() = %v", subs)
	}
}

func TestRegistry_MethodsSorted(t *testing.T) {
	r := NewRegistry()
	for _, m := range []string{"Status", "Events", "QueueStatus"} {
		r.Register(m, constHandler(nil))
	}

	got := r.Methods()
	want := []string{"Events", "QueueStatus", "Status"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Methods() = %v, want %v", got, want)
	}

	r.Unregister("Events")
	if r.Has("Events") {
		t.Error("Unregister() did not remove the method")
	}
	r.Unregister("Events")
}

func TestRegistry_Use_Middleware(t *testing.T) {
	r := NewRegistry()
	var order []string
	mw := func(name string) MiddlewareFunc {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, params json.RawMessage) (interface{}, *message.Error) {
				order = append(order, name)
				return next(ctx, params)
			}
		}
	}
	r.Use(mw("outer"))
	r.Use(mw("inner"))
	r.Register("Status", func(ctx context.Context, params json.RawMessage) (interface{}, *message.Error) {
		order = append(order, "handler")
		return nil, nil
	})

	_, _ = r.Get("Status")(context.Background(), nil)

	if fmt.Sprint(order) != "[outer inner handler]" {
		t.Errorf("middleware order = %v", order)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			r.Register(fmt.Sprintf("m%d", i), constHandler(i))
		}(i)
		go func(i int) {
			defer wg.Done()
			_ = r.Get(fmt.Sprintf("m%d", i))
			_ = r.Methods()
		}(i)
	}
	wg.Wait()

	if len(r.Methods()) != 10 {
		t.Errorf("Methods() len = %d, want 10", len(r.Methods()))
	}
}

type fakeService struct{}

func (fakeService) RegisterMethods(r *Registry) {
	r.Register("A", constHandler(nil))
	r.Register("B", constHandler(nil))
}

func TestRegistry_RegisterService(t *testing.T) {
	r := NewRegistry()
	r.RegisterService(fakeService{})
	if !r.Has("A") || !r.Has("B") {
		t.Error("RegisterService() did not register all methods")
	}
}

func TestQueryContext(t *testing.T) {
	if _, ok := QueryFrom(context.Background()); ok {
		t.Error("QueryFrom() on empty context should report false")
	}
	ctx := WithQuery(context.Background(), messages.Query{ID: "Q1", Type: "Status"})
	q, ok := QueryFrom(ctx)
	if !ok || q.ID != "Q1" {
		t.Errorf("QueryFrom() = %+v, %v", q, ok)
	}
}
