// Package http serves the device API: the JMF query endpoint, the job
// submission API and the live console websocket.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/brianly1003/pressd/internal/domain/messages"
	"github.com/brianly1003/pressd/internal/domain/ports"
	"github.com/brianly1003/pressd/internal/intake"
	"github.com/brianly1003/pressd/internal/queue"
	"github.com/brianly1003/pressd/internal/rpc"
	"github.com/brianly1003/pressd/internal/rpc/handler"
	"github.com/brianly1003/pressd/internal/rpc/transport"
	"github.com/brianly1003/pressd/internal/server/http/middleware"
	"github.com/brianly1003/pressd/internal/subscription"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ChannelHeader returns the channel id of a subscription registered by /jmf.
const ChannelHeader = "X-Pressd-Channel"

// Config holds server settings.
type Config struct {
	Host           string
	Port           int
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	AllowedOrigins []string
	TrustProxy     bool
	Pprof          bool

	// AuthSecret enables bearer token checks when set.
	AuthSecret string
	AuthIssuer string

	// SubmitRateLimit bounds job submissions per client and minute. 0 disables it.
	SubmitRateLimit int
}

// Subscriptions registers and lists subscriptions.
type Subscriptions interface {
	Register(ctx context.Context, q messages.Query) (string, error)
	List() []subscription.Info
}

// Jobs accepts and lists job tickets.
type Jobs interface {
	Submit(ctx context.Context, t intake.Ticket) (*ports.JobRecord, *queue.Entry, error)
	Jobs(ctx context.Context, limit int) ([]*ports.JobRecord, error)
}

// QueueReader exposes queue snapshots.
type QueueReader interface {
	Snapshot(f queue.Filter) queue.Snapshot
}

// Console serves live connections.
type Console interface {
	ServeTransport(ctx context.Context, t transport.Transport, filter rpc.EventFilter) error
	ClientCount() int
}

// Deps are the collaborators the server needs.
type Deps struct {
	DeviceID      string
	Dispatcher    *handler.Dispatcher
	Subscriptions Subscriptions
	Jobs          Jobs
	Queue         QueueReader
	Console       Console
	StatusFn      func() map[string]interface{}
}

// Server is the device HTTP server.
type Server struct {
	cfg    Config
	deps   Deps
	router *mux.Router
	logger zerolog.Logger

	upgrader websocket.Upgrader
	limiter  *middleware.RateLimiter
	auth     *middleware.JWTAuth

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	baseCtx  context.Context
	cancel   context.CancelFunc
}

// New creates the server and its routes.
func New(cfg Config, deps Deps, logger zerolog.Logger) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 4 << 20
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		router:  mux.NewRouter(),
		logger:  logger.With().Str("component", "http").Logger(),
		baseCtx: ctx,
		cancel:  cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	if cfg.AuthSecret != "" {
		s.auth = middleware.NewJWTAuth(cfg.AuthSecret, cfg.AuthIssuer, "/health")
	}
	if cfg.SubmitRateLimit > 0 {
		s.limiter = middleware.NewRateLimiter(middleware.WithMaxRequests(cfg.SubmitRateLimit))
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.requestLogging)
	if s.auth != nil {
		r.Use(s.auth.Middleware)
	}

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	dbg := &debugHandler{pprofEnabled: s.cfg.Pprof, startTime: time.Now(), extra: s.deps.StatusFn}
	dbg.register(r)

	timed := r.NewRoute().Subrouter()
	timed.Use(s.timeout)

	operator := func(h http.HandlerFunc) http.Handler {
		if s.auth == nil {
			return h
		}
		return middleware.RequireRole(middleware.RoleOperator)(h)
	}
	timed.Handle("/jmf", http.HandlerFunc(s.handleJMF)).Methods(http.MethodPost)

	jobs := operator(s.handleSubmitJob)
	if s.limiter != nil {
		jobs = middleware.RateLimit(s.limiter, middleware.SubjectOrIP(s.cfg.TrustProxy))(jobs)
	}
	timed.Handle("/api/jobs", jobs).Methods(http.MethodPost)
	timed.HandleFunc("/api/jobs", s.handleListJobs).Methods(http.MethodGet)
	timed.HandleFunc("/api/queue", s.handleQueue).Methods(http.MethodGet)
	timed.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	timed.HandleFunc("/api/subscriptions", s.handleSubscriptions).Methods(http.MethodGet)
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.baseCtx },
	}

	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("HTTP server starting")
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down and closes console connections.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("HTTP server stopping")
	s.cancel()
	if s.limiter != nil {
		s.limiter.Close()
	}

	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range s.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	s.logger.Warn().Str("origin", origin).Msg("websocket origin rejected")
	return false
}

func (s *Server) requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Dur("duration", time.Since(start)).
			Msg("request completed")
	})
}

func (s *Server) timeout(next http.Handler) http.Handler {
	return http.TimeoutHandler(next, s.cfg.RequestTimeout, `{"error":"request timed out"}`)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
