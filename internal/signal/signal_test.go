package signal

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brianly1003/pressd/internal/domain"
	"github.com/brianly1003/pressd/internal/domain/messages"
	"github.com/brianly1003/pressd/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSignal(ref string) messages.Signal {
	sig := messages.NewSignal(ref, "QueueStatus", "press-1")
	sig.Body = []byte(`{"status":"Waiting"}`)
	return sig
}

func TestEncodeDecode(t *testing.T) {
	sig := testSignal("c1")
	data, err := Encode(sig)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, sig.ID, got.ID)
	assert.Equal(t, "c1", got.RefID)
	assert.JSONEq(t, `{"status":"Waiting"}`, string(got.Body))

	_, err = Decode([]byte(`{"jsonrpc":"2.0","method":"Other"}`))
	assert.Error(t, err)
}

func TestHTTPTransport_DeliversSigned(t *testing.T) {
	var gotBody []byte
	var gotSig, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get(SignatureHeader)
		gotType = r.Header.Get(SignalTypeHeader)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{Secret: "s3cret"}, zerolog.Nop())
	require.NoError(t, tr.Deliver(context.Background(), testSignal("c1"), srv.URL))

	assert.Equal(t, "QueueStatus", gotType)
	assert.True(t, Verify(gotBody, []byte("s3cret"), gotSig))
	assert.False(t, Verify(gotBody, []byte("other"), gotSig))

	sig, err := Decode(gotBody)
	require.NoError(t, err)
	assert.Equal(t, "c1", sig.RefID)
}

func TestHTTPTransport_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{Retries: 3, RetryDelay: time.Millisecond}, zerolog.Nop())
	require.NoError(t, tr.Deliver(context.Background(), testSignal("c1"), srv.URL))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestHTTPTransport_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{Retries: 5, RetryDelay: time.Millisecond}, zerolog.Nop())
	err := tr.Deliver(context.Background(), testSignal("c1"), srv.URL)
	assert.ErrorIs(t, err, domain.ErrDeliveryFailed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestHTTPTransport_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	tr := NewHTTPTransport(HTTPConfig{Retries: 2, RetryDelay: time.Millisecond}, zerolog.Nop())
	assert.ErrorIs(t, tr.Deliver(context.Background(), testSignal("c1"), url), domain.ErrDeliveryFailed)
}

func TestHTTPTransport_ContextCancelDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	tr := NewHTTPTransport(HTTPConfig{Retries: 10, RetryDelay: time.Second}, zerolog.Nop())

	start := time.Now()
	err := tr.Deliver(ctx, testSignal("c1"), srv.URL)
	assert.ErrorIs(t, err, domain.ErrDeliveryFailed)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRouter(t *testing.T) {
	httpT := testutil.NewRecordingTransport()
	natsT := testutil.NewRecordingTransport()
	r := NewRouter()
	r.Handle("http", httpT)
	r.Handle("https", httpT)
	r.Handle("nats", natsT)

	ctx := context.Background()
	require.NoError(t, r.Deliver(ctx, testSignal("a"), "http://ctl/signals"))
	require.NoError(t, r.Deliver(ctx, testSignal("b"), "https://ctl/signals"))
	require.NoError(t, r.Deliver(ctx, testSignal("c"), "nats://broker:4222/press"))

	assert.Equal(t, 2, httpT.Count())
	assert.Equal(t, 1, natsT.Count())
	assert.ErrorIs(t, r.Deliver(ctx, testSignal("d"), "ftp://x/y"), domain.ErrDeliveryFailed)
	assert.ErrorIs(t, r.Deliver(ctx, testSignal("e"), "://bad"), domain.ErrDeliveryFailed)
}

func TestSplitTarget(t *testing.T) {
	tests := []struct {
		target  string
		server  string
		subject string
		wantErr bool
	}{
		{"nats://broker:4222/press/signals", "nats://broker:4222", "press.signals", false},
		{"nats://user:pw@broker:4222/s", "nats://user:pw@broker:4222", "s", false},
		{"nats://broker:4222", "", "", true},
		{"http://broker/s", "", "", true},
	}
	for _, tt := range tests {
		server, subject, err := SplitTarget(tt.target)
		if tt.wantErr {
			assert.Error(t, err, tt.target)
			continue
		}
		require.NoError(t, err, tt.target)
		assert.Equal(t, tt.server, server)
		assert.Equal(t, tt.subject, subject)
	}
}

func TestNATSTransport_BadTarget(t *testing.T) {
	tr := NewNATSTransport("pressd-test", zerolog.Nop())
	defer tr.Close()
	assert.ErrorIs(t, tr.Deliver(context.Background(), testSignal("a"), "nats://broker:4222"), domain.ErrDeliveryFailed)
}

// orderedTransport records ref ids, optionally slowly.
type orderedTransport struct {
	mu    sync.Mutex
	refs  []string
	delay time.Duration
	fail  bool
}

func (o *orderedTransport) Deliver(ctx context.Context, sig messages.Signal, url string) error {
	time.Sleep(o.delay)
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refs = append(o.refs, sig.RefID)
	if o.fail {
		return errors.New("down")
	}
	return nil
}

func (o *orderedTransport) got() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.refs...)
}

func TestAsyncTransport_PreservesOrderAndDrains(t *testing.T) {
	next := &orderedTransport{delay: time.Millisecond}
	a := NewAsyncTransport(next, 100, time.Second, zerolog.Nop())

	want := []string{"1", "2", "3", "4", "5"}
	for _, ref := range want {
		require.NoError(t, a.Deliver(context.Background(), testSignal(ref), "http://x"))
	}
	require.NoError(t, a.Close(context.Background()))
	assert.Equal(t, want, next.got())

	assert.ErrorIs(t, a.Deliver(context.Background(), testSignal("6"), "http://x"), domain.ErrDeliveryFailed)
	require.NoError(t, a.Close(context.Background()))
}

func TestAsyncTransport_FailuresAreSwallowed(t *testing.T) {
	next := &orderedTransport{fail: true}
	a := NewAsyncTransport(next, 10, time.Second, zerolog.Nop())

	require.NoError(t, a.Deliver(context.Background(), testSignal("1"), "http://x"))
	require.NoError(t, a.Close(context.Background()))
	assert.Equal(t, []string{"1"}, next.got())
}

func TestAsyncTransport_QueueFull(t *testing.T) {
	block := make(chan struct{})
	next := &blockingTransport{release: block}
	a := NewAsyncTransport(next, 1, time.Second, zerolog.Nop())

	require.NoError(t, a.Deliver(context.Background(), testSignal("1"), "http://x"))
	testutil.WaitFor(t, time.Second, func() bool { return next.started.Load() }, "worker picked up first signal")
	require.NoError(t, a.Deliver(context.Background(), testSignal("2"), "http://x"))
	assert.ErrorIs(t, a.Deliver(context.Background(), testSignal("3"), "http://x"), domain.ErrDeliveryFailed)

	close(block)
	require.NoError(t, a.Close(context.Background()))
}

type blockingTransport struct {
	release chan struct{}
	started atomic.Bool
}

func (b *blockingTransport) Deliver(ctx context.Context, sig messages.Signal, url string) error {
	b.started.Store(true)
	<-b.release
	return nil
}
