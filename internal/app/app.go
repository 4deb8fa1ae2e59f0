// Package app orchestrates all components of pressd.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/brianly1003/pressd/internal/config"
	"github.com/brianly1003/pressd/internal/domain/events"
	"github.com/brianly1003/pressd/internal/domain/ports"
	"github.com/brianly1003/pressd/internal/hotfolder"
	"github.com/brianly1003/pressd/internal/hub"
	"github.com/brianly1003/pressd/internal/intake"
	"github.com/brianly1003/pressd/internal/process"
	"github.com/brianly1003/pressd/internal/queue"
	"github.com/brianly1003/pressd/internal/rpc"
	"github.com/brianly1003/pressd/internal/rpc/handler"
	"github.com/brianly1003/pressd/internal/rpc/handler/methods"
	"github.com/brianly1003/pressd/internal/runner"
	httpserver "github.com/brianly1003/pressd/internal/server/http"
	"github.com/brianly1003/pressd/internal/signal"
	"github.com/brianly1003/pressd/internal/storage/leveldb"
	"github.com/brianly1003/pressd/internal/storage/sqlstore"
	"github.com/brianly1003/pressd/internal/subscription"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// shutdownTimeout bounds each component's graceful stop.
const shutdownTimeout = 5 * time.Second

// App is the main application struct that orchestrates all components.
type App struct {
	cfg     *config.Config
	version string
	base    zerolog.Logger
	logger  zerolog.Logger

	// Core components
	hub        *hub.Hub
	queue      *queue.Queue
	process    *process.Process
	engine     *subscription.Engine
	jobs       *intake.Service
	jobRepo    ports.JobRepository
	subStore   ports.SubscriptionStore
	dispatcher *handler.Dispatcher
	console    *rpc.Server
	httpServer *httpserver.Server
	hotfolder  *hotfolder.Watcher

	// Signal delivery
	natsTransport  *signal.NATSTransport
	asyncTransport *signal.AsyncTransport

	// Session info
	sessionID string
	startTime time.Time

	// Lifecycle
	mu      sync.RWMutex
	running bool
}

// New creates a new App instance. Components are built by Start.
func New(cfg *config.Config, version string, logger zerolog.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	return &App{
		cfg:       cfg,
		version:   version,
		base:      logger,
		logger:    logger.With().Str("component", "app").Logger(),
		hub:       hub.New(hub.WithLogger(logger)),
		sessionID: uuid.New().String(),
	}, nil
}

// Start builds and starts the device, then blocks until ctx is cancelled
// or a component fails.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("application is already running")
	}
	a.running = true
	a.startTime = time.Now()
	err := a.build()
	a.mu.Unlock()
	if err != nil {
		a.shutdown()
		return err
	}

	if err := a.hub.Start(); err != nil {
		a.shutdown()
		return fmt.Errorf("failed to start event hub: %w", err)
	}
	a.hub.Attach(a.engine)
	a.hub.Attach(hub.NewFuncSubscriber("process-waker", a.onEvent))

	restored, rerr := a.engine.Restore(ctx)
	if rerr != nil {
		a.logger.Warn().Err(rerr).Msg("failed to restore subscriptions")
	} else if restored > 0 {
		a.logger.Info().Int("count", restored).Msg("subscriptions restored")
	}

	if err := a.httpServer.Start(); err != nil {
		a.shutdown()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if err := a.process.Start(gctx); err != nil {
		a.shutdown()
		return fmt.Errorf("failed to start process: %w", err)
	}
	g.Go(func() error {
		return a.process.Wait(context.Background())
	})
	if a.hotfolder != nil {
		g.Go(func() error {
			return a.hotfolder.Run(gctx)
		})
	}

	a.logger.Info().
		Str("device_id", a.cfg.Device.ID).
		Str("session_id", a.sessionID).
		Str("addr", a.httpServer.Addr()).
		Msg("device ready")

	err = g.Wait()
	a.shutdown()
	return err
}

// build wires the components from configuration.
func (a *App) build() error {
	cfg := a.cfg
	log := a.base

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	repo, err := openJobRepository(cfg.Storage, log)
	if err != nil {
		return err
	}
	a.jobRepo = repo

	store, err := leveldb.Open(cfg.Storage.SubscriptionsPath, cfg.Storage.SyncWrites)
	if err != nil {
		return fmt.Errorf("failed to open subscription store: %w", err)
	}
	a.subStore = store

	a.queue = queue.New(cfg.Queue.Capacity,
		queue.WithDeviceID(cfg.Device.ID),
		queue.WithPublisher(a.hub),
		queue.WithLogger(log.With().Str("component", "queue").Logger()),
	)
	if cfg.Queue.StartClosed {
		a.queue.Close()
	}
	if cfg.Queue.StartHeld {
		a.queue.Hold()
	}

	var proc *process.Process
	a.jobs = intake.New(a.queue, repo, wakeFunc(func() { proc.Notify() }), log)
	proc = process.New(a.queue,
		runner.New(repo, runner.WithLogger(log.With().Str("component", "runner").Logger()), runner.WithSpeed(cfg.Process.SpeedFactor)),
		process.WithLogger(log.With().Str("component", "process").Logger()),
		process.WithPublisher(a.hub),
		process.WithDeviceID(cfg.Device.ID),
		process.WithPollInterval(cfg.Process.PollInterval()),
		process.WithResultReturner(a.jobs),
	)
	a.process = proc

	registry := handler.NewRegistry()
	a.dispatcher = handler.NewDispatcher(registry, log)

	a.engine = subscription.NewEngine(a.dispatcher, a.signalTransport(), subscription.Config{
		DeviceID:   cfg.Device.ID,
		EventMap:   eventMap(cfg.Subscription.EventMap),
		KnownTypes: cfg.Subscription.KnownTypes,
		Async:      cfg.Subscription.Async,
		QueueSize:  cfg.Subscription.QueueSize,
	},
		subscription.WithLogger(log.With().Str("component", "subscriptions").Logger()),
		subscription.WithScheduler(subscription.NewCronScheduler(log)),
		subscription.WithStore(store),
	)

	registry.RegisterService(methods.NewDeviceService(cfg.Device.ID, proc, a.queue, registry))
	registry.RegisterService(methods.NewQueueService(a.queue, proc, a.jobs))
	registry.RegisterService(methods.NewSubscriptionService(a.engine))

	a.console = rpc.NewServer(a.dispatcher, a.hub, log)

	a.httpServer = httpserver.New(httpserver.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		RequestTimeout:  cfg.Server.RequestTimeout(),
		MaxBodyBytes:    int64(cfg.Server.MaxBodyKB) * 1024,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		TrustProxy:      cfg.Server.TrustProxy,
		Pprof:           cfg.Server.Pprof,
		AuthSecret:      cfg.Auth.Secret,
		AuthIssuer:      cfg.Auth.Issuer,
		SubmitRateLimit: cfg.Server.SubmitRateLimit,
	}, httpserver.Deps{
		DeviceID:      cfg.Device.ID,
		Dispatcher:    a.dispatcher,
		Subscriptions: a.engine,
		Jobs:          a.jobs,
		Queue:         a.queue,
		Console:       a.console,
		StatusFn:      a.getStatus,
	}, log)

	if cfg.Hotfolder.Enabled {
		a.hotfolder = hotfolder.New(hotfolder.Config{
			Dir:        cfg.Hotfolder.Dir,
			DebounceMS: cfg.Hotfolder.DebounceMS,
			Extensions: cfg.Hotfolder.Extensions,
		}, a.jobs, log)
	}

	return nil
}

// signalTransport routes signals by URL scheme, optionally behind one
// async worker.
func (a *App) signalTransport() ports.SignalTransport {
	cfg := a.cfg.Signal
	log := a.base

	httpTransport := signal.NewHTTPTransport(signal.HTTPConfig{
		Timeout:    time.Duration(cfg.TimeoutSecs) * time.Second,
		Retries:    cfg.Retries,
		RetryDelay: time.Duration(cfg.RetryDelayMS) * time.Millisecond,
		Secret:     cfg.Secret,
	}, log)
	a.natsTransport = signal.NewNATSTransport(cfg.NATSName, log)

	router := signal.NewRouter()
	router.Handle("http", httpTransport)
	router.Handle("https", httpTransport)
	router.Handle("nats", a.natsTransport)

	if !cfg.Async {
		return router
	}
	perDelivery := time.Duration(cfg.TimeoutSecs*(cfg.Retries+1)) * time.Second
	a.asyncTransport = signal.NewAsyncTransport(router, cfg.QueueSize, perDelivery, log)
	return a.asyncTransport
}

// onEvent wakes the process when an entry becomes runnable and traces
// every event.
func (a *App) onEvent(event events.Event) {
	a.logger.Trace().
		Str("event_type", string(event.Type())).
		Str("class", string(event.Class())).
		Time("timestamp", event.Timestamp()).
		Msg("event broadcast")

	switch event.Type() {
	case events.EventTypeQueueEntryChanged, events.EventTypeQueueStatusChanged:
		if a.process != nil {
			a.process.Notify()
		}
	}
}

// shutdown performs graceful shutdown of all components.
func (a *App) shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return
	}
	a.running = false

	a.logger.Info().Msg("shutting down...")

	if a.process != nil {
		a.process.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.process.Wait(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("process did not stop in time")
		}
		cancel()
	}

	if a.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.httpServer.Stop(ctx); err != nil {
			a.logger.Error().Err(err).Msg("error stopping HTTP server")
		}
		cancel()
	}

	if a.console != nil {
		if err := a.console.Stop(); err != nil {
			a.logger.Error().Err(err).Msg("error stopping console")
		}
	}

	if a.engine != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.engine.Shutdown(ctx); err != nil {
			a.logger.Error().Err(err).Msg("error stopping subscription engine")
		}
		cancel()
	}

	if a.asyncTransport != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.asyncTransport.Close(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("pending signals dropped")
		}
		cancel()
	}
	if a.natsTransport != nil {
		if err := a.natsTransport.Close(); err != nil {
			a.logger.Error().Err(err).Msg("error closing NATS connections")
		}
	}

	if err := a.hub.Stop(); err != nil {
		a.logger.Error().Err(err).Msg("error stopping event hub")
	}

	if a.subStore != nil {
		if err := a.subStore.Close(); err != nil {
			a.logger.Error().Err(err).Msg("error closing subscription store")
		}
	}
	if a.jobRepo != nil {
		if err := a.jobRepo.Close(); err != nil {
			a.logger.Error().Err(err).Msg("error closing job repository")
		}
	}
}

// getStatus returns the current status for API responses.
func (a *App) getStatus() map[string]interface{} {
	status := map[string]interface{}{
		"session_id":     a.sessionID,
		"version":        a.version,
		"uptime_seconds": a.UptimeSeconds(),
	}
	if a.process != nil {
		status["device_status"] = a.process.Status()
		if id := a.process.CurrentEntryID(); id != "" {
			status["entry_id"] = id
		}
	}
	if a.queue != nil {
		status["queue_status"] = a.queue.Status()
		status["queue_count"] = a.queue.Count()
		status["queue_capacity"] = a.queue.Capacity()
	}
	if a.engine != nil {
		status["subscriptions"] = a.engine.Registry().Len()
	}
	status["events"] = a.hub.Stats()
	return status
}

// GetSessionID returns the current session ID.
func (a *App) GetSessionID() string {
	return a.sessionID
}

// GetHub returns the event hub.
func (a *App) GetHub() *hub.Hub {
	return a.hub
}

// GetConfig returns the configuration.
func (a *App) GetConfig() *config.Config {
	return a.cfg
}

// Addr returns the HTTP listen address once started.
func (a *App) Addr() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.httpServer == nil {
		return ""
	}
	return a.httpServer.Addr()
}

// UptimeSeconds returns how long the app has been running.
func (a *App) UptimeSeconds() int64 {
	if a.startTime.IsZero() {
		return 0
	}
	return int64(time.Since(a.startTime).Seconds())
}

// openJobRepository opens the configured job store.
func openJobRepository(cfg config.StorageConfig, logger zerolog.Logger) (ports.JobRepository, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pg := sqlstore.PostgresConfig{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			DBName:   cfg.Postgres.DBName,
			SSLMode:  cfg.Postgres.SSLMode,
		}
		store, err := sqlstore.OpenPostgres(pg.DSN(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open job repository: %w", err)
		}
		return store, nil
	default:
		store, err := sqlstore.OpenSQLite(cfg.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open job repository: %w", err)
		}
		return store, nil
	}
}

// eventMap converts the configured event map to engine form.
func eventMap(m map[string]string) map[events.EventType]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[events.EventType]string, len(m))
	for k, v := range m {
		out[events.EventType(k)] = v
	}
	return out
}

// wakeFunc adapts a function to intake.Waker.
type wakeFunc func()

func (f wakeFunc) Notify() { f() }
