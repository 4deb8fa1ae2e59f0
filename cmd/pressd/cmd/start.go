package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/brianly1003/pressd/internal/app"
	"github.com/brianly1003/pressd/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	port      int
	deviceID  string
	hotfolder string
)

// startCmd represents the start command.
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the device",
	Long: `Start the device: the queue, the process worker, the subscription
engine and the HTTP server.

Example:
  pressd start
  pressd start --port 8780 --device press-2
  pressd start --hotfolder /srv/press/in   # also submit files dropped here`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().IntVar(&port, "port", 0, "HTTP port (default: 8780)")
	startCmd.Flags().StringVar(&deviceID, "device", "", "device id (default: host name)")
	startCmd.Flags().StringVar(&hotfolder, "hotfolder", "", "enable the hot folder at this directory")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if port != 0 {
		cfg.Server.Port = port
	}
	if deviceID != "" {
		cfg.Device.ID = deviceID
	}
	if hotfolder != "" {
		cfg.Hotfolder.Enabled = true
		cfg.Hotfolder.Dir = hotfolder
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	closeLog := setupLogging(cfg)
	defer closeLog()

	log.Info().
		Str("version", version).
		Str("device_id", cfg.Device.ID).
		Str("storage", cfg.Storage.Driver).
		Int("port", cfg.Server.Port).
		Msg("starting pressd")

	application, err := app.New(cfg, version, log.Logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("application error: %w", err)
	}

	log.Info().Msg("pressd stopped")
	return nil
}

func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// setupLogging configures the global logger and returns a function that
// closes the log file, if any.
func setupLogging(cfg *config.Config) func() {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	out, closer := logWriter(cfg.Logging)
	if cfg.Logging.Format == "console" || verbose {
		out = zerolog.ConsoleWriter{Out: out, NoColor: cfg.Logging.File != ""}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()

	return func() {
		if closer != nil {
			_ = closer.Close()
		}
	}
}

// logWriter returns stderr, or a rotating file when logging.file is set.
func logWriter(cfg config.LoggingConfig) (io.Writer, io.Closer) {
	if cfg.File == "" {
		return os.Stderr, nil
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	return rotator, rotator
}
