package methods

import (
	"context"
	"encoding/json"

	"github.com/brianly1003/pressd/internal/domain/messages"
	"github.com/brianly1003/pressd/internal/rpc/handler"
	"github.com/brianly1003/pressd/internal/rpc/message"
	"github.com/brianly1003/pressd/internal/subscription"
)

// SubscriptionManager is the part of the subscription engine exposed to queries.
type SubscriptionManager interface {
	Unregister(ctx context.Context, p messages.StopParams) int
	List() []subscription.Info
}

// SubscriptionService answers subscription housekeeping queries.
type SubscriptionService struct {
	manager SubscriptionManager
}

// NewSubscriptionService creates a subscription service.
func NewSubscriptionService(manager SubscriptionManager) *SubscriptionService {
	return &SubscriptionService{manager: manager}
}

// RegisterMethods registers all subscription methods with the registry.
func (s *SubscriptionService) RegisterMethods(r *handler.Registry) {
	r.RegisterWithMeta(messages.TypeEvents, s.Events, handler.MethodMeta{
		Summary:      "Event notifications, optionally filtered by class",
		Subscribable: true,
	})
	r.RegisterWithMeta("StopPersistentChannel", s.StopPersistentChannel, handler.MethodMeta{
		Summary: "Remove subscriptions",
	})
	r.RegisterWithMeta("KnownSubscriptions", s.KnownSubscriptions, handler.MethodMeta{
		Summary:      "List active subscriptions",
		Subscribable: true,
	})
}

// Events acknowledges an Events query with the effective class filter.
// Notifications themselves arrive as signals.
func (s *SubscriptionService) Events(ctx context.Context, params json.RawMessage) (interface{}, *message.Error) {
	q := messages.Query{Type: messages.TypeEvents, Params: params}
	f, err := q.EventsFilter()
	if err != nil {
		return nil, message.ErrInvalidParams(err.Error())
	}
	return f, nil
}

// StopPersistentChannel removes subscriptions selected by url and
// optionally channel or message type.
func (s *SubscriptionService) StopPersistentChannel(ctx context.Context, params json.RawMessage) (interface{}, *message.Error) {
	var p messages.StopParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, message.ErrInvalidParams("failed to parse params: " + err.Error())
	}
	if p.URL == "" && p.ChannelID == "" {
		return nil, message.ErrInvalidParams("url or channelId is required")
	}
	return map[string]int{"removed": s.manager.Unregister(ctx, p)}, nil
}

// KnownSubscriptions lists the registered subscriptions.
func (s *SubscriptionService) KnownSubscriptions(ctx context.Context, params json.RawMessage) (interface{}, *message.Error) {
	return map[string]interface{}{"subscriptions": s.manager.List()}, nil
}
