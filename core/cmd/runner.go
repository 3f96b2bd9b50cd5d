// Package cmd runs the bot process: configuration, bootstrap, signal
// handling and logger shutdown.
package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	coreconfig "github.com/m3rciful/privybot/core/config"
	"github.com/m3rciful/privybot/core/logger"
)

// App is what Bootstrap produces.
type App interface {
	Run(ctx context.Context) error
}

// Options describe how to load configuration, bootstrap the app, and run it.
type Options struct {
	// ConfigPath wins over ConfigEnvVar; both empty means environment only.
	ConfigPath   string
	ConfigEnvVar string
	// EnvFile is loaded into the environment before the config.
	EnvFile string

	LoadConfig func(path string) (*coreconfig.Config, error)
	Bootstrap  func(ctx context.Context, cfg *coreconfig.Config) (App, error)

	ShutdownLogger func() error
	// Signals default to SIGINT and SIGTERM.
	Signals []os.Signal
}

// Run loads configuration, bootstraps the app and runs it until a signal
// arrives.
func Run(opts Options) error {
	if opts.Bootstrap == nil {
		return fmt.Errorf("cmd: Bootstrap is required")
	}
	loadConfig := opts.LoadConfig
	if loadConfig == nil {
		loadConfig = coreconfig.Load
	}

	if err := coreconfig.LoadEnvFile(opts.EnvFile); err != nil {
		return fmt.Errorf("cmd: %w", err)
	}

	env := opts.ConfigEnvVar
	if env == "" {
		env = "CONFIG_PATH"
	}
	cfgPath := opts.ConfigPath
	if cfgPath == "" {
		cfgPath = os.Getenv(env)
	}
	if cfgPath != "" {
		log.Printf("loading config: %s", cfgPath)
	}
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("cmd: failed to load config: %w", err)
	}

	signals := opts.Signals
	if len(signals) == 0 {
		signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	ctx, cancel := signal.NotifyContext(context.Background(), signals...)
	defer cancel()

	startedAt := time.Now()
	application, err := opts.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("cmd: bootstrap failed: %w", err)
	}

	shutdownLogger := opts.ShutdownLogger
	if shutdownLogger == nil {
		shutdownLogger = logger.Shutdown
	}
	defer func() {
		if err := shutdownLogger(); err != nil {
			log.Printf("logger shutdown error: %v", err)
		}
	}()

	logger.Info(ctx, "app", "ready", slog.Duration("startup_duration", logger.RoundMS(time.Since(startedAt))))
	err = application.Run(ctx)
	logger.Info(context.Background(), "app", "shutdown")
	if err != nil {
		return fmt.Errorf("cmd: run: %w", err)
	}
	return nil
}
