package handler

import (
	"context"
	"encoding/json"

	"github.com/brianly1003/pressd/internal/domain/messages"
	"github.com/brianly1003/pressd/internal/rpc/message"
	"github.com/rs/zerolog"
)

// Dispatcher routes requests to registered handlers. It also answers
// query replays for the subscription engine.
type Dispatcher struct {
	registry *Registry
	logger   zerolog.Logger
}

// NewDispatcher creates a new dispatcher with the given registry.
func NewDispatcher(registry *Registry, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Registry returns the underlying registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch handles a request and returns a response, or nil for notifications.
func (d *Dispatcher) Dispatch(ctx context.Context, req *message.Request) *message.Response {
	d.logger.Debug().
		Str("method", req.Method).
		Str("id", req.ID.String()).
		Bool("notification", req.IsNotification()).
		Msg("dispatching request")

	result, rpcErr := d.call(ctx, req.Method, req.Params)

	if req.IsNotification() {
		if rpcErr != nil {
			d.logger.Warn().
				Str("method", req.Method).
				Int("code", rpcErr.Code).
				Str("error", rpcErr.Message).
				Msg("notification handler error (not sent to client)")
		}
		return nil
	}
	if rpcErr != nil {
		d.logger.Debug().
			Str("method", req.Method).
			Int("code", rpcErr.Code).
			Str("error", rpcErr.Message).
			Msg("request failed")
		return message.NewErrorResponse(req.ID, rpcErr)
	}

	resp, err := message.NewSuccessResponse(req.ID, result)
	if err != nil {
		d.logger.Error().Err(err).Str("method", req.Method).Msg("failed to marshal response")
		return message.NewErrorResponse(req.ID, message.ErrInternalError("failed to marshal response"))
	}
	return resp
}

// DispatchBytes parses and dispatches a request. It returns nil bytes for
// notifications.
func (d *Dispatcher) DispatchBytes(ctx context.Context, data []byte) ([]byte, error) {
	req, err := message.ParseRequest(data)
	if err != nil {
		d.logger.Debug().Err(err).Msg("failed to parse request")
		return json.Marshal(message.NewErrorResponse(nil, message.ErrParseError(err.Error())))
	}

	resp := d.Dispatch(ctx, req)
	if resp == nil {
		return nil, nil
	}
	return json.Marshal(resp)
}

// Execute answers q as the query executor of the subscription engine.
// The return code is 0 on success and the JSON-RPC error code otherwise.
func (d *Dispatcher) Execute(ctx context.Context, queryType string, q messages.Query) (json.RawMessage, int) {
	result, rpcErr := d.call(WithQuery(ctx, q), queryType, q.Params)
	if rpcErr != nil {
		return nil, rpcErr.Code
	}
	if result == nil {
		return json.RawMessage(`{}`), 0
	}
	body, err := json.Marshal(result)
	if err != nil {
		d.logger.Error().Err(err).Str("method", queryType).Msg("failed to marshal replay result")
		return nil, message.InternalError
	}
	return body, 0
}

func (d *Dispatcher) call(ctx context.Context, method string, params json.RawMessage) (interface{}, *message.Error) {
	handler := d.registry.Get(method)
	if handler == nil {
		d.logger.Warn().Str("method", method).Msg("method not found")
		return nil, message.ErrMethodNotFound(method)
	}
	return handler(ctx, params)
}
