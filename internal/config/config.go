// Package config handles configuration management for pressd.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all configuration for the application.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Device       DeviceConfig       `mapstructure:"device"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Process      ProcessConfig      `mapstructure:"process"`
	Subscription SubscriptionConfig `mapstructure:"subscription"`
	Signal       SignalConfig       `mapstructure:"signal"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Hotfolder    HotfolderConfig    `mapstructure:"hotfolder"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Host               string   `mapstructure:"host"`
	Port               int      `mapstructure:"port"`
	RequestTimeoutSecs int      `mapstructure:"request_timeout_secs"`
	MaxBodyKB          int      `mapstructure:"max_body_kb"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
	TrustProxy         bool     `mapstructure:"trust_proxy"`
	Pprof              bool     `mapstructure:"pprof"`
	SubmitRateLimit    int      `mapstructure:"submit_rate_limit"` // per client and minute, 0 disables
}

// AuthConfig holds bearer token configuration. An empty secret disables auth.
type AuthConfig struct {
	Secret        string `mapstructure:"secret"`
	Issuer        string `mapstructure:"issuer"`
	TokenTTLHours int    `mapstructure:"token_ttl_hours"`
}

// DeviceConfig identifies the device.
type DeviceConfig struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
}

// QueueConfig holds queue configuration.
type QueueConfig struct {
	Capacity    int  `mapstructure:"capacity"`
	StartClosed bool `mapstructure:"start_closed"`
	StartHeld   bool `mapstructure:"start_held"`
}

// ProcessConfig holds process worker configuration.
type ProcessConfig struct {
	PollIntervalMS int `mapstructure:"poll_interval_ms"`

	// SpeedFactor scales the simulated runner's durations. 1 is real time.
	SpeedFactor float64 `mapstructure:"speed_factor"`
}

// SubscriptionConfig holds subscription engine configuration.
type SubscriptionConfig struct {
	// EventMap maps event kinds to the query types they refresh.
	EventMap   map[string]string `mapstructure:"event_map"`
	KnownTypes []string          `mapstructure:"known_types"`
	Async      bool              `mapstructure:"async"`
	QueueSize  int               `mapstructure:"queue_size"`
}

// SignalConfig holds signal delivery configuration.
type SignalConfig struct {
	TimeoutSecs  int    `mapstructure:"timeout_secs"`
	Retries      int    `mapstructure:"retries"`
	RetryDelayMS int    `mapstructure:"retry_delay_ms"`
	Secret       string `mapstructure:"secret"`
	Async        bool   `mapstructure:"async"`
	QueueSize    int    `mapstructure:"queue_size"`
	NATSName     string `mapstructure:"nats_name"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	DataDir           string         `mapstructure:"data_dir"`
	Driver            string         `mapstructure:"driver"`
	SQLitePath        string         `mapstructure:"sqlite_path"`
	Postgres          PostgresConfig `mapstructure:"postgres"`
	SubscriptionsPath string         `mapstructure:"subscriptions_path"`
	SyncWrites        bool           `mapstructure:"sync_writes"`
}

// PostgresConfig holds postgres connection settings.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// HotfolderConfig holds hot folder configuration.
type HotfolderConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Dir        string   `mapstructure:"dir"`
	DebounceMS int      `mapstructure:"debounce_ms"`
	Extensions []string `mapstructure:"extensions"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// RequestTimeout returns the server request timeout.
func (c ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

// PollInterval returns the process poll interval.
func (c ProcessConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// Load loads configuration from files and environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.pressd")
		v.AddConfigPath("/etc/pressd")
	}

	v.SetEnvPrefix("PRESSD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// A missing config file is not an error.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	if err := postProcess(&cfg); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8780)
	v.SetDefault("server.request_timeout_secs", 30)
	v.SetDefault("server.max_body_kb", 4096)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("server.pprof", false)
	v.SetDefault("server.submit_rate_limit", 30)

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "pressd")
	v.SetDefault("auth.token_ttl_hours", 24)

	v.SetDefault("device.id", "")
	v.SetDefault("device.name", "pressd")

	v.SetDefault("queue.capacity", 100)
	v.SetDefault("queue.start_closed", false)
	v.SetDefault("queue.start_held", false)

	v.SetDefault("process.poll_interval_ms", 1000)
	v.SetDefault("process.speed_factor", 1.0)

	v.SetDefault("subscription.event_map", DefaultEventMap)
	v.SetDefault("subscription.known_types", []string{})
	v.SetDefault("subscription.async", true)
	v.SetDefault("subscription.queue_size", 256)

	v.SetDefault("signal.timeout_secs", 10)
	v.SetDefault("signal.retries", 3)
	v.SetDefault("signal.retry_delay_ms", 500)
	v.SetDefault("signal.secret", "")
	v.SetDefault("signal.async", true)
	v.SetDefault("signal.queue_size", 1024)
	v.SetDefault("signal.nats_name", "pressd")

	v.SetDefault("storage.data_dir", "")
	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.sqlite_path", "")
	v.SetDefault("storage.postgres.host", "localhost")
	v.SetDefault("storage.postgres.port", 5432)
	v.SetDefault("storage.postgres.user", "pressd")
	v.SetDefault("storage.postgres.password", "")
	v.SetDefault("storage.postgres.dbname", "pressd")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.subscriptions_path", "")
	v.SetDefault("storage.sync_writes", false)

	v.SetDefault("hotfolder.enabled", false)
	v.SetDefault("hotfolder.dir", "")
	v.SetDefault("hotfolder.debounce_ms", 300)
	v.SetDefault("hotfolder.extensions", DefaultHotfolderExtensions)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
}

// postProcess fills derived paths and the device id.
func postProcess(cfg *Config) error {
	if cfg.Device.ID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "press"
		}
		cfg.Device.ID = host
	}

	if cfg.Storage.DataDir == "" {
		dir, err := GetConfigDir()
		if err != nil {
			return fmt.Errorf("failed to resolve data directory: %w", err)
		}
		cfg.Storage.DataDir = filepath.Join(dir, "data")
	}
	dataDir, err := filepath.Abs(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("failed to resolve storage.data_dir: %w", err)
	}
	cfg.Storage.DataDir = dataDir

	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = filepath.Join(dataDir, "jobs.db")
	}
	if cfg.Storage.SubscriptionsPath == "" {
		cfg.Storage.SubscriptionsPath = filepath.Join(dataDir, "subscriptions")
	}
	if cfg.Hotfolder.Dir == "" {
		cfg.Hotfolder.Dir = filepath.Join(dataDir, "hotfolder")
	}

	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	return nil
}

// GetConfigDir returns the user config directory for pressd.
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".pressd"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}
