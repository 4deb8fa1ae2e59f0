// Package handler routes device queries to their handlers.
package handler

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/brianly1003/pressd/internal/domain/messages"
	"github.com/brianly1003/pressd/internal/rpc/message"
)

// ContextKey is a type for context keys to avoid collisions.
type ContextKey string

// QueryKey carries the messages.Query being answered.
const QueryKey ContextKey = "query"

// WithQuery attaches q to ctx.
func WithQuery(ctx context.Context, q messages.Query) context.Context {
	return context.WithValue(ctx, QueryKey, q)
}

// QueryFrom returns the query attached to ctx.
func QueryFrom(ctx context.Context) (messages.Query, bool) {
	q, ok := ctx.Value(QueryKey).(messages.Query)
	return q, ok
}

// HandlerFunc answers one query type. A nil result and nil error produce
// an empty successful response.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (interface{}, *message.Error)

// MiddlewareFunc is a function that wraps a HandlerFunc.
type MiddlewareFunc func(HandlerFunc) HandlerFunc

// MethodMeta describes a query type for KnownMessages.
type MethodMeta struct {
	Summary string

	// Subscribable marks types that may carry a subscription block.
	Subscribable bool
}

// Registry maps query types to handlers.
type Registry struct {
	mu         sync.RWMutex
	handlers   map[string]HandlerFunc
	meta       map[string]MethodMeta
	middleware []MiddlewareFunc
}

// NewRegistry creates a new method registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
		meta:     make(map[string]MethodMeta),
	}
}

// Register registers a handler, replacing any previous one.
func (r *Registry) Register(method string, handler HandlerFunc) {
	r.RegisterWithMeta(method, handler, MethodMeta{Summary: method})
}

// RegisterWithMeta registers a handler with its description.
func (r *Registry) RegisterWithMeta(method string, handler HandlerFunc, meta MethodMeta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[method] = handler
	r.meta[method] = meta
}

// GetMeta returns the description of a method.
func (r *Registry) GetMeta(method string) MethodMeta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if meta, ok := r.meta[method]; ok {
		return meta
	}
	return MethodMeta{Summary: method}
}

// Use adds middleware. Middleware is applied in the order it is added.
func (r *Registry) Use(mw MiddlewareFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, mw)
}

// Get returns the handler for a method wrapped in the middleware chain,
// or nil if the method is not registered.
func (r *Registry) Get(method string) HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[method]
	if !ok {
		return nil
	}
	// last added = innermost
	for i := len(r.middleware) - 1; i >= 0; i-- {
		handler = r.middleware[i](handler)
	}
	return handler
}

// Has returns true if a handler is registered for the method.
func (r *Registry) Has(method string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[method]
	return ok
}

// Methods returns the registered methods in sorted order.
func (r *Registry) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	methods := make([]string, 0, len(r.handlers))
	for method := range r.handlers {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return methods
}

// Subscribable returns the sorted methods that accept subscriptions.
func (r *Registry) Subscribable() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for method, meta := range r.meta {
		if meta.Subscribable {
			out = append(out, method)
		}
	}
	sort.Strings(out)
	return out
}

// Unregister removes a handler for a method.
func (r *Registry) Unregister(method string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, method)
	delete(r.meta, method)
}

// MethodService is implemented by services that register several methods.
type MethodService interface {
	RegisterMethods(r *Registry)
}

// RegisterService registers all methods from a MethodService.
func (r *Registry) RegisterService(svc MethodService) {
	svc.RegisterMethods(r)
}
