package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/brianly1003/pressd/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	configInitLocal bool
	configInitForce bool
)

// configCmd displays or manages configuration.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Display and manage configuration",
	Long: `Display and manage pressd configuration.

Examples:
  pressd config show               # Show the effective config
  pressd config validate           # Load and validate the config
  pressd config init               # Create a config file with defaults
  pressd config path               # Show config file locations
  pressd config set <key> <value>  # Set a config value`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		printConfig(cfg)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load the configuration and report problems",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(); err != nil {
			return fmt.Errorf("configuration is invalid: %w", err)
		}
		fmt.Println("configuration is valid")
		return nil
	},
}

// configInitCmd creates a config file with defaults.
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file with default settings",
	Long: `Create a config file with default settings and documentation.

By default, creates ~/.pressd/config.yaml.
Use --local to create ./config.yaml in the current directory.`,
	RunE: runConfigInit,
}

// configPathCmd shows config file location.
var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show config file location",
	Run:   runConfigPath,
}

// configSetCmd sets a config value.
var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value by key in ~/.pressd/config.yaml.

Keys use dot notation to access nested values.

Examples:
  pressd config set server.port 9000
  pressd config set queue.capacity 20
  pressd config set storage.driver postgres`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configSetCmd)

	configInitCmd.Flags().BoolVar(&configInitLocal, "local", false, "create config in current directory instead of ~/.pressd/")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite existing config file")
}

func printConfig(cfg *config.Config) {
	fmt.Println("Current Configuration:")
	fmt.Println("----------------------")
	fmt.Printf("Device ID:        %s\n", cfg.Device.ID)
	fmt.Printf("Listen:           %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("Auth:             %t\n", cfg.Auth.Secret != "")
	fmt.Printf("Queue Capacity:   %d\n", cfg.Queue.Capacity)
	fmt.Printf("Poll Interval:    %s\n", cfg.Process.PollInterval())
	fmt.Printf("Storage Driver:   %s\n", cfg.Storage.Driver)
	if cfg.Storage.Driver == config.DriverPostgres {
		fmt.Printf("Postgres:         %s@%s:%d/%s\n", cfg.Storage.Postgres.User,
			cfg.Storage.Postgres.Host, cfg.Storage.Postgres.Port, cfg.Storage.Postgres.DBName)
	} else {
		fmt.Printf("Job Database:     %s\n", cfg.Storage.SQLitePath)
	}
	fmt.Printf("Subscriptions DB: %s\n", cfg.Storage.SubscriptionsPath)
	fmt.Printf("Signals:          retries=%d async=%t signed=%t\n", cfg.Signal.Retries, cfg.Signal.Async, cfg.Signal.Secret != "")
	if cfg.Hotfolder.Enabled {
		fmt.Printf("Hot Folder:       %s\n", cfg.Hotfolder.Dir)
	}
	fmt.Printf("Log Level:        %s\n", cfg.Logging.Level)
	fmt.Printf("Log Format:       %s\n", cfg.Logging.Format)

	kinds := make([]string, 0, len(cfg.Subscription.EventMap))
	for k := range cfg.Subscription.EventMap {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	fmt.Println("Event Map:")
	for _, k := range kinds {
		fmt.Printf("  %-24s -> %s\n", k, cfg.Subscription.EventMap[k])
	}
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	var configPath string

	if configInitLocal {
		configPath = "config.yaml"
	} else {
		configDir, err := config.EnsureConfigDir()
		if err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		configPath = filepath.Join(configDir, "config.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		if !configInitForce {
			return fmt.Errorf("config file already exists: %s\nUse --force to overwrite", configPath)
		}
	}

	if err := writeDefaultConfig(configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Created %s\n", configPath)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) {
	configDir, err := config.GetConfigDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error getting config dir: %v\n", err)
		os.Exit(1)
	}

	locations := []string{
		"./config.yaml",
		filepath.Join(configDir, "config.yaml"),
		"/etc/pressd/config.yaml",
	}

	fmt.Println("Config search paths (in order):")
	for i, loc := range locations {
		exists := "not found"
		if _, err := os.Stat(loc); err == nil {
			exists = "exists"
		}
		fmt.Printf("  %d. %s (%s)\n", i+1, loc, exists)
	}

	fmt.Printf("\nConfig directory: %s\n", configDir)
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	configDir, err := config.EnsureConfigDir()
	if err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	configPath := filepath.Join(configDir, "config.yaml")

	var data map[string]interface{}
	if content, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(content, &data); err != nil {
			return fmt.Errorf("failed to parse existing config: %w", err)
		}
	}
	if data == nil {
		data = make(map[string]interface{})
	}

	if err := setNestedValue(data, key, value); err != nil {
		return err
	}

	content, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Set %s = %s in %s\n", key, value, configPath)
	return nil
}

func setNestedValue(data map[string]interface{}, key string, value string) error {
	parts := strings.Split(key, ".")

	current := data
	for i := 0; i < len(parts)-1; i++ {
		if _, ok := current[parts[i]]; !ok {
			current[parts[i]] = make(map[string]interface{})
		}
		nested, ok := current[parts[i]].(map[string]interface{})
		if !ok {
			return fmt.Errorf("cannot set nested value: %s is not a map", parts[i])
		}
		current = nested
	}

	current[parts[len(parts)-1]] = parseValue(key, value)
	return nil
}

// intKeys are the key suffixes parsed as integers.
var intKeys = []string{"port", "capacity", "_ms", "_secs", "_kb", "retries",
	"queue_size", "submit_rate_limit", "_hours", "_mb", "max_backups", "_days"}

func parseValue(key string, value string) interface{} {
	if value == "true" {
		return true
	}
	if value == "false" {
		return false
	}

	for _, k := range intKeys {
		if strings.HasSuffix(key, k) {
			var i int
			if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
				return i
			}
		}
	}

	return value
}

func writeDefaultConfig(path string) error {
	content := `# pressd Configuration
# Copy this file to ~/.pressd/config.yaml and modify as needed.
# Every key can also be set from the environment, e.g. PRESSD_SERVER_PORT.

server:
  host: "127.0.0.1"
  port: 8780
  request_timeout_secs: 30
  max_body_kb: 4096
  # Job submissions per client and minute (0 disables the limit)
  submit_rate_limit: 30
  # Serve /debug/pprof
  pprof: false

auth:
  # Bearer tokens are required when a secret is set (min 16 characters).
  # Issue tokens with: pressd token issue --role operator
  secret: ""
  issuer: "pressd"
  token_ttl_hours: 24

device:
  # Defaults to the host name
  id: ""
  name: "pressd"

queue:
  capacity: 100
  start_closed: false
  start_held: false

process:
  poll_interval_ms: 1000
  # Scales simulated job durations; 0.1 runs ten times faster
  speed_factor: 1.0

subscription:
  # Event kinds and the query types they refresh
  event_map:
    queue_status_changed: QueueStatus
    queue_entry_changed: QueueStatus
    process_status_changed: Status
  # Extra query types accepted for subscription
  known_types: []
  async: true
  queue_size: 256

signal:
  timeout_secs: 10
  retries: 3
  retry_delay_ms: 500
  # Signs HTTP signals with HMAC-SHA256 (X-Pressd-Signature)
  secret: ""
  async: true
  queue_size: 1024
  nats_name: "pressd"

storage:
  # Defaults to ~/.pressd/data
  data_dir: ""
  # sqlite or postgres
  driver: "sqlite"
  sqlite_path: ""
  postgres:
    host: "localhost"
    port: 5432
    user: "pressd"
    password: ""
    dbname: "pressd"
    sslmode: "disable"
  subscriptions_path: ""
  sync_writes: false

hotfolder:
  enabled: false
  dir: ""
  debounce_ms: 300
  extensions: [".yaml", ".yml", ".json"]

logging:
  # trace, debug, info, warn, error
  level: "info"
  # console or json
  format: "console"
  # Rotated log file; empty logs to stderr
  file: ""
  max_size_mb: 50
  max_backups: 3
  max_age_days: 28
`

	return os.WriteFile(path, []byte(content), 0644)
}
