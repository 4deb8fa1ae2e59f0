package http

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/brianly1003/pressd/internal/domain/messages"
	"github.com/brianly1003/pressd/internal/rpc/handler"
	"github.com/brianly1003/pressd/internal/rpc/message"
)

// envelopeKeys are the params fields consumed by the endpoint itself.
var envelopeKeys = []string{"subscription", "deviceId", "senderId"}

// queryEnvelope holds the routing fields of a JMF query.
type queryEnvelope struct {
	DeviceID     string                     `json:"deviceId,omitempty"`
	SenderID     string                     `json:"senderId,omitempty"`
	Subscription *messages.SubscriptionSpec `json:"subscription,omitempty"`
}

// handleJMF answers one query. A subscription block is registered first;
// its channel id is returned in the X-Pressd-Channel header.
func (s *Server) handleJMF(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	req, err := message.ParseRequest(body)
	if err != nil {
		s.writeRPC(w, message.NewErrorResponse(nil, message.ErrParseError(err.Error())))
		return
	}

	q, rpcErr := buildQuery(req)
	if rpcErr != nil {
		s.writeRPC(w, message.NewErrorResponse(req.ID, rpcErr))
		return
	}
	if q.DeviceID != "" && s.deps.DeviceID != "" && q.DeviceID != s.deps.DeviceID {
		s.writeRPC(w, message.NewErrorResponse(req.ID,
			message.ErrInvalidParams("query addressed to device "+q.DeviceID)))
		return
	}

	log := s.logger.With().Str("type", q.Type).Str("query_id", q.ID).Logger()

	if q.Subscription != nil {
		if s.deps.Subscriptions == nil {
			s.writeRPC(w, message.NewErrorResponse(req.ID,
				message.ErrInternalError("subscriptions are not available")))
			return
		}
		channel, err := s.deps.Subscriptions.Register(r.Context(), q)
		if err != nil {
			log.Info().Err(err).Str("url", q.Subscription.URL).Msg("subscription rejected")
			s.writeRPC(w, message.NewErrorResponse(req.ID, message.FromDomainError(err)))
			return
		}
		w.Header().Set(ChannelHeader, channel)
		log.Info().Str("channel", channel).Str("url", q.Subscription.URL).Msg("subscription registered")
	}

	answer := &message.Request{
		JSONRPC: message.Version,
		ID:      req.ID,
		Method:  req.Method,
		Params:  q.Params,
	}
	resp := s.deps.Dispatcher.Dispatch(handler.WithQuery(r.Context(), q), answer)
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeRPC(w, resp)
}

// buildQuery splits the request params into routing fields and the query body.
func buildQuery(req *message.Request) (messages.Query, *message.Error) {
	q := messages.Query{
		ID:   req.ID.String(),
		Type: req.Method,
	}
	if q.Type == "" {
		return q, message.ErrInvalidRequest("method is required")
	}
	if len(req.Params) == 0 || string(req.Params) == "null" {
		return q, nil
	}

	var env queryEnvelope
	if err := json.Unmarshal(req.Params, &env); err != nil {
		return q, message.ErrInvalidParams("params must be an object")
	}
	q.DeviceID = env.DeviceID
	q.SenderID = env.SenderID
	q.Subscription = env.Subscription

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(req.Params, &fields); err != nil {
		return q, message.ErrInvalidParams("params must be an object")
	}
	for _, k := range envelopeKeys {
		delete(fields, k)
	}
	if len(fields) > 0 {
		rest, err := json.Marshal(fields)
		if err != nil {
			return q, message.ErrInternalError(err.Error())
		}
		q.Params = rest
	}
	return q, nil
}

func (s *Server) writeRPC(w http.ResponseWriter, resp *message.Response) {
	writeJSON(w, http.StatusOK, resp)
}
