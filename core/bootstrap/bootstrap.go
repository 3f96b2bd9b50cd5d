// Package bootstrap initializes shared infrastructure and wires the bot
// components into a runnable App.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	coreconfig "github.com/m3rciful/privybot/core/config"
	coredatabase "github.com/m3rciful/privybot/core/database"
	"github.com/m3rciful/privybot/core/logger"
	"github.com/m3rciful/privybot/core/session"
	"github.com/m3rciful/privybot/core/transcript"
)

// Options control the bootstrap pipeline. Nil hooks use the real
// implementations.
type Options struct {
	Config *coreconfig.Config

	LoggerInit func(*coreconfig.Config) error
	Connect    func(context.Context, coreconfig.DatabaseConfig) (*sqlx.DB, error)
	Migrate    func(context.Context, coreconfig.DatabaseConfig) error
}

// Result exposes infrastructure initialized by the bootstrap pipeline.
type Result struct {
	// DB is nil for the memory driver.
	DB          *sqlx.DB
	Store       session.Store
	Transcripts transcript.Store
}

// Run initializes the logger and opens the session and transcript stores, applying
// migrations for SQL drivers.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(opts.Config); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	dbCfg := opts.Config.Database
	if dbCfg.Driver == coreconfig.DriverMemory {
		logger.LogEvent(ctx, logger.DB, slog.LevelWarn, "db.memory",
			slog.String("note", "sessions are lost on restart"))
		return &Result{Store: session.NewMemoryStore(), Transcripts: transcript.NewMemoryStore()}, nil
	}

	connect := opts.Connect
	if connect == nil {
		connect = coredatabase.Connect
	}
	db, err := connect(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: database initialization failed: %w", err)
	}

	migrate := opts.Migrate
	if migrate == nil {
		migrate = coredatabase.RunMigrations
	}
	if err := migrate(ctx, dbCfg); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: migrations failed: %w", err)
	}
	return &Result{DB: db, Store: session.NewSQLStore(db), Transcripts: transcript.NewSQLStore(db)}, nil
}
