package subscription

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/brianly1003/pressd/internal/domain"
	"github.com/brianly1003/pressd/internal/domain/events"
	"github.com/brianly1003/pressd/internal/domain/messages"
	"github.com/brianly1003/pressd/internal/domain/ports"
	"github.com/brianly1003/pressd/internal/sync"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// DefaultQueueSize is the async broadcast buffer used when none is configured.
const DefaultQueueSize = 256

// EngineID is the hub subscriber id of the engine.
const EngineID = "subscription-engine"

// DefaultEventMap maps event kinds to the query types they refresh.
func DefaultEventMap() map[events.EventType]string {
	return map[events.EventType]string{
		events.EventTypeQueueStatusChanged:   "QueueStatus",
		events.EventTypeQueueEntryChanged:    "QueueStatus",
		events.EventTypeProcessStatusChanged: "Status",
	}
}

// Config holds engine settings.
type Config struct {
	DeviceID string

	// EventMap selects which subscriptions are refreshed by an event kind.
	EventMap map[events.EventType]string

	// KnownTypes are additional query types accepted for subscription.
	KnownTypes []string

	// Async decouples Broadcast callers from delivery through one worker.
	Async     bool
	QueueSize int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithScheduler overrides the cron-backed timer scheduler.
func WithScheduler(s Scheduler) Option {
	return func(e *Engine) {
		e.scheduler = s
	}
}

// WithStore persists registrations so they survive restarts.
func WithStore(s ports.SubscriptionStore) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// Info describes a registered subscription.
type Info struct {
	ChannelID   string    `json:"channel_id"`
	URL         string    `json:"url"`
	MessageType string    `json:"message_type"`
	RepeatTime  float64   `json:"repeat_time,omitempty"`
	RepeatStep  int32     `json:"repeat_step,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Engine matches events against subscriptions and delivers signals.
type Engine struct {
	cfg       Config
	registry  *Registry
	executor  ports.QueryExecutor
	transport ports.SignalTransport
	scheduler Scheduler
	store     ports.SubscriptionStore
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	closed  bool
	pending chan events.Event

	wg        sync.WaitGroup
	closeOnce sync.Once
	done      chan struct{}
}

// NewEngine creates an engine. In async mode the dispatch worker starts immediately.
func NewEngine(executor ports.QueryExecutor, transport ports.SignalTransport, cfg Config, opts ...Option) *Engine {
	if cfg.EventMap == nil {
		cfg.EventMap = DefaultEventMap()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:       cfg,
		registry:  NewRegistry(),
		executor:  executor,
		transport: transport,
		logger:    zerolog.Nop(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.scheduler == nil {
		e.scheduler = NewCronScheduler(e.logger)
	}

	if cfg.Async {
		e.pending = make(chan events.Event, cfg.QueueSize)
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

// Registry exposes the underlying registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// SupportsType reports whether queries of this type may be subscribed.
func (e *Engine) SupportsType(queryType string) bool {
	if queryType == messages.TypeEvents {
		return true
	}
	if lo.Contains(lo.Values(e.cfg.EventMap), queryType) {
		return true
	}
	return lo.Contains(e.cfg.KnownTypes, queryType)
}

// Register validates and stores a subscription carried by q and returns
// its channel id. Rejections are *domain.SubscriptionError.
func (e *Engine) Register(ctx context.Context, q messages.Query) (string, error) {
	return e.register(ctx, q, true)
}

func (e *Engine) register(ctx context.Context, q messages.Query, persist bool) (string, error) {
	if e.isClosed() {
		return "", domain.ErrSubscriberClosed
	}
	if !e.SupportsType(q.Type) {
		return "", domain.NewSubscriptionError(domain.ReasonUnsupportedType,
			fmt.Sprintf("query type %q cannot be subscribed", q.Type), nil)
	}
	if q.Subscription == nil {
		return "", domain.NewSubscriptionError(domain.ReasonMissingSubscription, "query has no subscription", nil)
	}
	if q.Subscription.URL == "" {
		return "", domain.NewSubscriptionError(domain.ReasonMissingURL, "subscription url is empty", domain.ErrEmptyURL)
	}

	stored := q.Clone()
	if stored.ID == "" {
		stored.ID = "Q" + uuid.NewString()
	}
	spec := stored.Subscription

	period, err := repeatPeriod(spec.RepeatTime)
	if err != nil {
		return "", domain.NewSubscriptionError(domain.ReasonTimerBounds,
			fmt.Sprintf("repeatTime %v out of range", spec.RepeatTime), err)
	}
	if spec.RepeatStep < 0 || spec.RepeatStep > math.MaxInt32 {
		return "", domain.NewSubscriptionError(domain.ReasonStepBounds,
			fmt.Sprintf("repeatStep %d out of range", spec.RepeatStep), domain.ErrTimerBoundsExceeded)
	}

	sub := &Subscription{
		ChannelID:  stored.ID,
		URL:        spec.URL,
		Query:      stored,
		RepeatTime: spec.RepeatTime,
		RepeatStep: int32(spec.RepeatStep),
		CreatedAt:  time.Now().UTC(),
	}
	if stored.Type == messages.TypeEvents {
		f, err := stored.EventsFilter()
		if err != nil {
			return "", domain.NewSubscriptionError(domain.ReasonUnsupportedType, "invalid events filter", err)
		}
		sub.filter = f
	}

	if err := e.registry.Add(sub); err != nil {
		return "", domain.NewSubscriptionError(domain.ReasonMissingURL, "subscription url is empty", err)
	}

	if period > 0 {
		url, channel := sub.URL, sub.ChannelID
		id, err := e.scheduler.Schedule(period, func() { e.fireTimer(url, channel) })
		if err != nil {
			e.registry.RemoveByChannel(url, channel)
			return "", domain.NewSubscriptionError(domain.ReasonTimerBounds, "cannot schedule timer", err)
		}
		sub.cancel = func() { e.scheduler.Cancel(id) }

		// the registry may have been changed between Add and Schedule
		if cur, ok := e.registry.Get(url, channel); !ok || cur != sub {
			sub.stopTimer()
		} else {
			e.goTracked(func() { e.fireTimer(url, channel) })
		}
	}

	if persist && e.store != nil {
		if err := e.store.Put(ctx, stored); err != nil {
			e.logger.Warn().Err(err).Str("channel_id", sub.ChannelID).Msg("failed to persist subscription")
		}
	}

	e.logger.Info().
		Str("channel_id", sub.ChannelID).
		Str("url", sub.URL).
		Str("type", stored.Type).
		Float64("repeat_time", sub.RepeatTime).
		Int32("repeat_step", sub.RepeatStep).
		Msg("subscription registered")
	return sub.ChannelID, nil
}

// repeatPeriod converts seconds to a timer period. Zero means no timer.
func repeatPeriod(seconds float64) (time.Duration, error) {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return 0, domain.ErrTimerBoundsExceeded
	}
	if seconds*float64(time.Second) >= math.MaxInt64 {
		return 0, domain.ErrTimerBoundsExceeded
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// Restore re-registers persisted subscriptions.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	if e.store == nil {
		return 0, nil
	}
	stored, err := e.store.List(ctx)
	if err != nil {
		if len(stored) == 0 {
			return 0, fmt.Errorf("list stored subscriptions: %w", err)
		}
		e.logger.Warn().Err(err).Msg("some stored subscriptions were skipped")
	}
	n := 0
	for _, q := range stored {
		if _, err := e.register(ctx, q, false); err != nil {
			e.logger.Warn().Err(err).Str("channel_id", q.ID).Msg("dropping stored subscription")
			if q.Subscription != nil {
				_ = e.store.Delete(ctx, q.Subscription.URL, q.ID)
			}
			continue
		}
		n++
	}
	return n, nil
}

// Unregister removes subscriptions: by channel when given, else by message
// type, else everything at the URL provided the device id is absent or ours.
func (e *Engine) Unregister(ctx context.Context, p messages.StopParams) int {
	var removed []*Subscription
	switch {
	case p.ChannelID != "" && p.URL != "":
		removed = e.registry.removeMatching(func(s *Subscription) bool {
			return s.URL == p.URL && s.ChannelID == p.ChannelID
		})
	case p.ChannelID != "":
		removed = e.registry.removeMatching(func(s *Subscription) bool {
			return s.ChannelID == p.ChannelID
		})
	case p.URL == "":
		e.logger.Debug().Msg("unsubscribe without url or channel ignored")
		return 0
	case p.MessageType != "":
		removed = e.registry.removeMatching(func(s *Subscription) bool {
			return s.URL == p.URL && s.Query.Type == p.MessageType
		})
	case p.DeviceID == "" || p.DeviceID == e.cfg.DeviceID:
		removed = e.registry.removeMatching(func(s *Subscription) bool {
			return s.URL == p.URL
		})
	default:
		e.logger.Info().
			Str("url", p.URL).
			Str("device_id", p.DeviceID).
			Msg("unsubscribe for another device ignored")
		return 0
	}

	for _, s := range removed {
		if e.store != nil {
			if err := e.store.Delete(ctx, s.URL, s.ChannelID); err != nil {
				e.logger.Warn().Err(err).Str("channel_id", s.ChannelID).Msg("failed to delete stored subscription")
			}
		}
		e.logger.Info().Str("channel_id", s.ChannelID).Str("url", s.URL).Msg("subscription removed")
	}
	return len(removed)
}

// List describes the registered subscriptions.
func (e *Engine) List() []Info {
	return lo.Map(e.registry.ListAll(), func(s *Subscription, _ int) Info {
		return Info{
			ChannelID:   s.ChannelID,
			URL:         s.URL,
			MessageType: s.Query.Type,
			RepeatTime:  s.RepeatTime,
			RepeatStep:  s.RepeatStep,
			CreatedAt:   s.CreatedAt,
		}
	})
}

// Broadcast offers an event to every subscription. In sync mode it returns
// after all deliveries. In async mode it enqueues for the worker and
// blocks while the queue is full; the event is lost only if ctx ends first.
func (e *Engine) Broadcast(ctx context.Context, ev events.Event) {
	if ev == nil {
		return
	}
	if !e.cfg.Async {
		if e.isClosed() {
			return
		}
		e.dispatch(ctx, ev)
		return
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}
	select {
	case e.pending <- ev:
		return
	default:
	}

	e.logger.Debug().Str("event", string(ev.Type())).Msg("broadcast queue full, waiting")
	select {
	case e.pending <- ev:
	case <-ctx.Done():
		e.logger.Warn().Str("event", string(ev.Type())).Err(ctx.Err()).Msg("broadcast abandoned")
	}
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for ev := range e.pending {
		e.dispatch(e.ctx, ev)
	}
}

// dispatch evaluates one event against the registry snapshot.
func (e *Engine) dispatch(ctx context.Context, ev events.Event) {
	if url, channel, ok := events.TimerTarget(ev); ok {
		sub, found := e.registry.Get(url, channel)
		if !found {
			return
		}
		if sub.Query.Type == messages.TypeEvents {
			e.deliver(ctx, sub, messages.NewEventsSignal(sub.ChannelID, e.cfg.DeviceID, ev))
			return
		}
		e.replay(ctx, sub)
		return
	}

	amount, isAmount := events.AmountOf(ev)
	mapped, hasMapping := e.cfg.EventMap[ev.Type()]

	for _, sub := range e.registry.ListAll() {
		switch {
		case sub.Query.Type == messages.TypeEvents && sub.filter.Matches(ev.Class()):
			e.deliver(ctx, sub, messages.NewEventsSignal(sub.ChannelID, e.cfg.DeviceID, ev))
		case isAmount && sub.StepGated():
			if amount%int64(sub.RepeatStep) == 0 {
				e.replay(ctx, sub)
			}
		case hasMapping && mapped == sub.Query.Type:
			e.replay(ctx, sub)
		}
	}
}

// replay re-executes the stored query and delivers the fresh response.
func (e *Engine) replay(ctx context.Context, sub *Subscription) {
	q := sub.Query.WithoutSubscription()
	body, code := e.executor.Execute(ctx, q.Type, q)
	if code != 0 {
		e.logger.Warn().
			Str("channel_id", sub.ChannelID).
			Str("type", q.Type).
			Int("return_code", code).
			Msg("query replay failed, no signal sent")
		return
	}
	sig := messages.NewSignal(sub.ChannelID, q.Type, e.cfg.DeviceID)
	sig.Body = body
	e.deliver(ctx, sub, sig)
}

func (e *Engine) deliver(ctx context.Context, sub *Subscription, sig messages.Signal) {
	if err := e.transport.Deliver(ctx, sig, sub.URL); err != nil {
		if !errors.Is(err, domain.ErrDeliveryFailed) {
			err = fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, err)
		}
		e.logger.Warn().
			Err(err).
			Str("channel_id", sub.ChannelID).
			Str("url", sub.URL).
			Msg("signal delivery failed")
	}
}

func (e *Engine) fireTimer(url, channel string) {
	e.Broadcast(e.ctx, events.NewTimerFiredEvent(url, channel))
}

// goTracked runs fn on a goroutine joined by Shutdown.
func (e *Engine) goTracked(fn func()) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

func (e *Engine) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// Shutdown cancels every timer, drains pending broadcasts and joins the
// engine's goroutines.
func (e *Engine) Shutdown(ctx context.Context) error {
	var err error
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		if e.pending != nil {
			close(e.pending)
		}
		e.mu.Unlock()

		for _, s := range e.registry.ListAll() {
			s.stopTimer()
		}
		if serr := e.scheduler.Stop(ctx); serr != nil {
			err = fmt.Errorf("stop timers: %w", serr)
		}

		waited := make(chan struct{})
		go func() {
			e.wg.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-ctx.Done():
			if err == nil {
				err = ctx.Err()
			}
		}
		e.cancel()
		close(e.done)
		e.logger.Info().Int("subscriptions", e.registry.Len()).Msg("subscription engine stopped")
	})
	return err
}

// ID implements ports.Subscriber.
func (e *Engine) ID() string {
	return EngineID
}

// Send implements ports.Subscriber by broadcasting the event.
func (e *Engine) Send(ev events.Event) error {
	if e.isClosed() {
		return domain.ErrSubscriberClosed
	}
	e.Broadcast(e.ctx, ev)
	return nil
}

// Close implements ports.Subscriber.
func (e *Engine) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e.Shutdown(ctx)
}

// Done implements ports.Subscriber.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

var _ ports.Subscriber = (*Engine)(nil)
