package config

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// knownEventKinds are the event kinds an event map may reference.
var knownEventKinds = []string{
	"queue_status_changed",
	"queue_entry_changed",
	"process_status_changed",
	"process_amount_changed",
	"generic",
}

// Validate validates the configuration.
func Validate(cfg *Config) error {
	if err := validateServer(&cfg.Server); err != nil {
		return err
	}
	if err := validateAuth(&cfg.Auth); err != nil {
		return err
	}
	if err := validateDevice(&cfg.Device); err != nil {
		return err
	}
	if err := validateQueue(&cfg.Queue); err != nil {
		return err
	}
	if err := validateProcess(&cfg.Process); err != nil {
		return err
	}
	if err := validateSubscription(&cfg.Subscription); err != nil {
		return err
	}
	if err := validateSignal(&cfg.Signal); err != nil {
		return err
	}
	if err := validateStorage(&cfg.Storage); err != nil {
		return err
	}
	if err := validateHotfolder(&cfg.Hotfolder); err != nil {
		return err
	}
	return validateLogging(&cfg.Logging)
}

func validateServer(cfg *ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if cfg.Host == "" {
		return fmt.Errorf("server.host cannot be empty")
	}
	if cfg.RequestTimeoutSecs < 1 {
		return fmt.Errorf("server.request_timeout_secs must be at least 1")
	}
	if cfg.MaxBodyKB < 1 {
		return fmt.Errorf("server.max_body_kb must be at least 1")
	}
	if cfg.MaxBodyKB > 65536 {
		return fmt.Errorf("server.max_body_kb cannot exceed 65536 (64MB)")
	}
	if cfg.SubmitRateLimit < 0 {
		return fmt.Errorf("server.submit_rate_limit cannot be negative")
	}
	return nil
}

func validateAuth(cfg *AuthConfig) error {
	if cfg.Secret == "" {
		return nil
	}
	if len(cfg.Secret) < 16 {
		return fmt.Errorf("auth.secret must be at least 16 characters")
	}
	if cfg.TokenTTLHours < 1 {
		return fmt.Errorf("auth.token_ttl_hours must be at least 1")
	}
	return nil
}

func validateDevice(cfg *DeviceConfig) error {
	if strings.TrimSpace(cfg.ID) == "" {
		return fmt.Errorf("device.id cannot be empty")
	}
	return nil
}

func validateQueue(cfg *QueueConfig) error {
	if cfg.Capacity < 1 {
		return fmt.Errorf("queue.capacity must be at least 1")
	}
	return nil
}

func validateProcess(cfg *ProcessConfig) error {
	if cfg.PollIntervalMS < 10 {
		return fmt.Errorf("process.poll_interval_ms must be at least 10")
	}
	if cfg.PollIntervalMS > 60000 {
		return fmt.Errorf("process.poll_interval_ms cannot exceed 60000")
	}
	if cfg.SpeedFactor <= 0 {
		return fmt.Errorf("process.speed_factor must be positive")
	}
	return nil
}

func validateSubscription(cfg *SubscriptionConfig) error {
	for kind, queryType := range cfg.EventMap {
		if !lo.Contains(knownEventKinds, kind) {
			return fmt.Errorf("subscription.event_map has unknown event kind: %s", kind)
		}
		if queryType == "" {
			return fmt.Errorf("subscription.event_map.%s cannot be empty", kind)
		}
	}
	if cfg.Async && cfg.QueueSize < 1 {
		return fmt.Errorf("subscription.queue_size must be at least 1 when async is enabled")
	}
	return nil
}

func validateSignal(cfg *SignalConfig) error {
	if cfg.TimeoutSecs < 1 {
		return fmt.Errorf("signal.timeout_secs must be at least 1")
	}
	if cfg.Retries < 1 {
		return fmt.Errorf("signal.retries must be at least 1")
	}
	if cfg.Retries > 10 {
		return fmt.Errorf("signal.retries cannot exceed 10")
	}
	if cfg.RetryDelayMS < 0 {
		return fmt.Errorf("signal.retry_delay_ms cannot be negative")
	}
	if cfg.Async && cfg.QueueSize < 1 {
		return fmt.Errorf("signal.queue_size must be at least 1 when async is enabled")
	}
	return nil
}

func validateStorage(cfg *StorageConfig) error {
	switch cfg.Driver {
	case DriverSQLite:
		if cfg.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path cannot be empty")
		}
	case DriverPostgres:
		if cfg.Postgres.Host == "" {
			return fmt.Errorf("storage.postgres.host cannot be empty")
		}
		if cfg.Postgres.DBName == "" {
			return fmt.Errorf("storage.postgres.dbname cannot be empty")
		}
		if cfg.Postgres.Port < 1 || cfg.Postgres.Port > 65535 {
			return fmt.Errorf("storage.postgres.port must be between 1 and 65535")
		}
	default:
		return fmt.Errorf("storage.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, cfg.Driver)
	}
	if cfg.SubscriptionsPath == "" {
		return fmt.Errorf("storage.subscriptions_path cannot be empty")
	}
	return nil
}

func validateHotfolder(cfg *HotfolderConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.Dir == "" {
		return fmt.Errorf("hotfolder.dir cannot be empty when the hot folder is enabled")
	}
	if cfg.DebounceMS < 0 {
		return fmt.Errorf("hotfolder.debounce_ms cannot be negative")
	}
	if cfg.DebounceMS > 10000 {
		return fmt.Errorf("hotfolder.debounce_ms cannot exceed 10000ms")
	}
	return nil
}

func validateLogging(cfg *LoggingConfig) error {
	if !lo.Contains(ValidLogLevels, strings.ToLower(cfg.Level)) {
		return fmt.Errorf("logging.level must be one of: %s", strings.Join(ValidLogLevels, ", "))
	}
	if !lo.Contains(ValidLogFormats, strings.ToLower(cfg.Format)) {
		return fmt.Errorf("logging.format must be one of: %s", strings.Join(ValidLogFormats, ", "))
	}
	if cfg.File != "" && cfg.MaxSizeMB < 1 {
		return fmt.Errorf("logging.max_size_mb must be at least 1")
	}
	return nil
}
