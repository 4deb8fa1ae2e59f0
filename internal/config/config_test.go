package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/brianly1003/pressd/internal/subscription"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PRESSD_STORAGE_DATA_DIR", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8780 {
		t.Errorf("default Port = %d, want 8780", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("default Host = %s, want 127.0.0.1", cfg.Server.Host)
	}
	if cfg.Queue.Capacity != 100 {
		t.Errorf("default Queue.Capacity = %d, want 100", cfg.Queue.Capacity)
	}
	if cfg.Process.PollIntervalMS != 1000 {
		t.Errorf("default PollIntervalMS = %d, want 1000", cfg.Process.PollIntervalMS)
	}
	if cfg.Storage.Driver != DriverSQLite {
		t.Errorf("default Storage.Driver = %s, want sqlite", cfg.Storage.Driver)
	}
	if cfg.Signal.Retries != 3 {
		t.Errorf("default Signal.Retries = %d, want 3", cfg.Signal.Retries)
	}
	if cfg.Hotfolder.Enabled {
		t.Error("default Hotfolder.Enabled should be false")
	}
	if cfg.Device.ID == "" {
		t.Error("Device.ID should default to the host name")
	}
	if got := cfg.Subscription.EventMap["process_status_changed"]; got != "Status" {
		t.Errorf("default event map process_status_changed = %q, want Status", got)
	}
}

func TestLoad_DerivedPaths(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("PRESSD_STORAGE_DATA_DIR", dataDir)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Storage.SQLitePath != filepath.Join(dataDir, "jobs.db") {
		t.Errorf("SQLitePath = %s", cfg.Storage.SQLitePath)
	}
	if cfg.Storage.SubscriptionsPath != filepath.Join(dataDir, "subscriptions") {
		t.Errorf("SubscriptionsPath = %s", cfg.Storage.SubscriptionsPath)
	}
	if cfg.Hotfolder.Dir != filepath.Join(dataDir, "hotfolder") {
		t.Errorf("Hotfolder.Dir = %s", cfg.Hotfolder.Dir)
	}
}

func TestLoad_FromFile(t *testing.T) {
	tempDir := t.TempDir()

	configContent := `
server:
  port: 9000
  host: "0.0.0.0"
  submit_rate_limit: 5

device:
  id: "press-7"

queue:
  capacity: 12
  start_held: true

process:
  poll_interval_ms: 250
  speed_factor: 10

subscription:
  async: false
  event_map:
    process_amount_changed: Status

signal:
  retries: 5
  secret: "s3cret"

storage:
  data_dir: "` + tempDir + `"
  driver: POSTGRES
  postgres:
    host: db
    dbname: presses

hotfolder:
  enabled: true
  debounce_ms: 50

logging:
  level: debug
  format: json
`
	configPath := filepath.Join(tempDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Host = %s, want 0.0.0.0", cfg.Server.Host)
	}
	if cfg.Server.SubmitRateLimit != 5 {
		t.Errorf("SubmitRateLimit = %d, want 5", cfg.Server.SubmitRateLimit)
	}
	if cfg.Device.ID != "press-7" {
		t.Errorf("Device.ID = %s, want press-7", cfg.Device.ID)
	}
	if cfg.Queue.Capacity != 12 || !cfg.Queue.StartHeld {
		t.Errorf("Queue = %+v", cfg.Queue)
	}
	if cfg.Process.PollInterval().Milliseconds() != 250 {
		t.Errorf("PollInterval = %v, want 250ms", cfg.Process.PollInterval())
	}
	if cfg.Process.SpeedFactor != 10 {
		t.Errorf("SpeedFactor = %v, want 10", cfg.Process.SpeedFactor)
	}
	if cfg.Subscription.Async {
		t.Error("Subscription.Async should be false")
	}
	if got := cfg.Subscription.EventMap["process_amount_changed"]; got != "Status" {
		t.Errorf("event map process_amount_changed = %q, want Status", got)
	}
	if cfg.Signal.Retries != 5 || cfg.Signal.Secret != "s3cret" {
		t.Errorf("Signal = %+v", cfg.Signal)
	}
	if cfg.Storage.Driver != DriverPostgres {
		t.Errorf("Storage.Driver = %s, want postgres", cfg.Storage.Driver)
	}
	if cfg.Storage.Postgres.Host != "db" || cfg.Storage.Postgres.DBName != "presses" {
		t.Errorf("Postgres = %+v", cfg.Storage.Postgres)
	}
	if cfg.Storage.Postgres.Port != 5432 {
		t.Errorf("Postgres.Port = %d, want default 5432", cfg.Storage.Postgres.Port)
	}
	if !cfg.Hotfolder.Enabled || cfg.Hotfolder.DebounceMS != 50 {
		t.Errorf("Hotfolder = %+v", cfg.Hotfolder)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PRESSD_STORAGE_DATA_DIR", t.TempDir())
	t.Setenv("PRESSD_SERVER_PORT", "9123")
	t.Setenv("PRESSD_DEVICE_ID", "press-env")
	t.Setenv("PRESSD_QUEUE_CAPACITY", "3")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9123 {
		t.Errorf("Server.Port = %d, want 9123", cfg.Server.Port)
	}
	if cfg.Device.ID != "press-env" {
		t.Errorf("Device.ID = %s, want press-env", cfg.Device.ID)
	}
	if cfg.Queue.Capacity != 3 {
		t.Errorf("Queue.Capacity = %d, want 3", cfg.Queue.Capacity)
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("server: [unclosed"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("Load() should fail on malformed YAML")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	tempDir := t.TempDir()
	configContent := `
storage:
  data_dir: "` + tempDir + `"
queue:
  capacity: 0
`
	configPath := filepath.Join(tempDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("Load() should reject a zero queue capacity")
	}
}

func TestGetConfigDir(t *testing.T) {
	dir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}

	if dir == "" {
		t.Error("GetConfigDir() returned empty string")
	}

	if filepath.Base(dir) != ".pressd" {
		t.Errorf("GetConfigDir() = %s, want to end with .pressd", dir)
	}
}

func TestEnsureConfigDir(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	dir, err := EnsureConfigDir()
	if err != nil {
		t.Fatalf("EnsureConfigDir() error = %v", err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("failed to stat config dir: %v", err)
	}

	if !info.IsDir() {
		t.Errorf("config path %s is not a directory", dir)
	}
}

func TestDefaultEventMap_MatchesEngine(t *testing.T) {
	engine := subscription.DefaultEventMap()
	if len(DefaultEventMap) != len(engine) {
		t.Fatalf("DefaultEventMap has %d entries, engine has %d", len(DefaultEventMap), len(engine))
	}
	for kind, query := range engine {
		if got := DefaultEventMap[string(kind)]; got != query {
			t.Errorf("DefaultEventMap[%q] = %q, want %q", kind, got, query)
		}
	}
}
