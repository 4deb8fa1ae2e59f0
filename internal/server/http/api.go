package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/brianly1003/pressd/internal/domain"
	"github.com/brianly1003/pressd/internal/domain/events"
	"github.com/brianly1003/pressd/internal/intake"
	"github.com/brianly1003/pressd/internal/queue"
	"github.com/brianly1003/pressd/internal/rpc"
	"github.com/brianly1003/pressd/internal/rpc/transport"
	"github.com/brianly1003/pressd/internal/subscription"
	"github.com/samber/lo"
)

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus handles GET /api/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{"device_id": s.deps.DeviceID}
	if s.deps.StatusFn != nil {
		for k, v := range s.deps.StatusFn() {
			status[k] = v
		}
	}
	if s.deps.Console != nil {
		status["console_clients"] = s.deps.Console.ClientCount()
	}
	writeJSON(w, http.StatusOK, status)
}

// handleQueue handles GET /api/queue?status=Waiting,Held&limit=10
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if s.deps.Queue == nil {
		writeError(w, http.StatusServiceUnavailable, "queue not available")
		return
	}
	f := queue.Filter{Limit: parseIntParam(r, "limit", 0)}
	for _, st := range splitParam(r, "status") {
		f.Statuses = append(f.Statuses, events.EntryStatus(st))
	}
	writeJSON(w, http.StatusOK, s.deps.Queue.Snapshot(f))
}

// handleSubscriptions handles GET /api/subscriptions
func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Subscriptions == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"subscriptions": []interface{}{}})
		return
	}
	subs := s.deps.Subscriptions.List()
	if url := r.URL.Query().Get("url"); url != "" {
		subs = lo.Filter(subs, func(i subscription.Info, _ int) bool { return i.URL == url })
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"subscriptions": subs,
		"count":         len(subs),
	})
}

// handleSubmitJob handles POST /api/jobs?name=&priority=&held=
// The body is the job ticket.
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "job intake not available")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	held, _ := strconv.ParseBool(r.URL.Query().Get("held"))
	ticket := intake.Ticket{
		Name:        r.URL.Query().Get("name"),
		ContentType: r.Header.Get("Content-Type"),
		Body:        body,
		Priority:    parseIntParam(r, "priority", 0),
		Held:        held,
	}

	rec, entry, err := s.deps.Jobs.Submit(r.Context(), ticket)
	if err != nil {
		var ve *domain.ValidationError
		switch {
		case errors.As(err, &ve):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrAdmissionRejected):
			w.Header().Set("Retry-After", "5")
			writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"error": err.Error(),
				"job":   rec,
			})
		default:
			s.logger.Error().Err(err).Msg("job submission failed")
			writeError(w, http.StatusInternalServerError, "job submission failed")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"job":   rec,
		"entry": entry,
	})
}

// handleListJobs handles GET /api/jobs?limit=50
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "job intake not available")
		return
	}
	jobs, err := s.deps.Jobs.Jobs(r.Context(), parseIntParam(r, "limit", 50))
	if err != nil {
		s.logger.Error().Err(err).Msg("list jobs failed")
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// handleWebSocket handles GET /ws?types=queue_status_changed&classes=Error
// and serves the live console until the connection closes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.deps.Console == nil {
		writeError(w, http.StatusServiceUnavailable, "console not available")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	filter := rpc.EventFilter{
		Types: lo.Map(splitParam(r, "types"), func(v string, _ int) events.EventType {
			return events.EventType(v)
		}),
		Classes: lo.Map(splitParam(r, "classes"), func(v string, _ int) events.Class {
			return events.Class(v)
		}),
	}

	t := transport.NewWebSocket(conn)
	s.logger.Info().Str("remote_addr", t.RemoteAddr()).Msg("console connected")

	if err := s.deps.Console.ServeTransport(s.baseCtx, t, filter); err != nil {
		s.logger.Debug().Err(err).Str("remote_addr", t.RemoteAddr()).Msg("console connection ended")
	}
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func splitParam(r *http.Request, name string) []string {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	return lo.Compact(lo.Map(strings.Split(raw, ","), func(v string, _ int) string {
		return strings.TrimSpace(v)
	}))
}
