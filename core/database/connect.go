// Package database opens the SQL session store and applies its migrations.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	coreconfig "github.com/m3rciful/privybot/core/config"
	"github.com/m3rciful/privybot/core/logger"
)

const connectTimeout = 5 * time.Second

// DSN returns the driver-specific connection string for cfg.
func DSN(cfg coreconfig.DatabaseConfig) string {
	switch cfg.Driver {
	case coreconfig.DriverSQLite:
		return "file:" + cfg.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	default:
		return fmt.Sprintf(
			"user=%s password=%s host=%s port=%s dbname=%s sslmode=%s",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name, cfg.SSLMode,
		)
	}
}

// MigrateURL returns the database URL golang-migrate expects for cfg.
func MigrateURL(cfg coreconfig.DatabaseConfig) string {
	switch cfg.Driver {
	case coreconfig.DriverSQLite:
		return "sqlite://" + cfg.Path + "?_pragma=busy_timeout(5000)"
	default:
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(cfg.User, cfg.Password),
			Host:     cfg.Host + ":" + cfg.Port,
			Path:     "/" + cfg.Name,
			RawQuery: "sslmode=" + url.QueryEscape(cfg.SSLMode),
		}
		return u.String()
	}
}

// Connect opens the database connection, configures the pool, and verifies connectivity.
func Connect(ctx context.Context, cfg coreconfig.DatabaseConfig) (*sqlx.DB, error) {
	if cfg.Driver != coreconfig.DriverPostgres && cfg.Driver != coreconfig.DriverSQLite {
		return nil, fmt.Errorf("db connect: unsupported driver %q", cfg.Driver)
	}
	if cfg.Driver == coreconfig.DriverSQLite {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("db connect: create directory: %w", err)
			}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	start := time.Now()
	db, err := sqlx.ConnectContext(ctx, cfg.Driver, DSN(cfg))
	took := time.Since(start)
	if err != nil {
		logger.LogEvent(ctx, logger.DB, slog.LevelError, "db.connect",
			append(target(cfg),
				slog.Duration("duration", logger.RoundMS(took)),
				slog.String("err", err.Error()),
			)...,
		)
		return nil, fmt.Errorf("db connect: %w", err)
	}

	pool := cfg.MaxConnections
	if cfg.Driver == coreconfig.DriverSQLite {
		// SQLite allows one writer at a time.
		pool = 1
	}
	db.SetMaxOpenConns(pool)
	db.SetMaxIdleConns(pool)
	db.SetConnMaxLifetime(5 * time.Minute)
	logger.LogEvent(ctx, logger.DB, slog.LevelDebug, "db.pool", slog.Int("pool_open", pool))

	logger.LogEvent(ctx, logger.DB, slog.LevelInfo, "db.connect",
		append(target(cfg),
			slog.Int("pool_open", pool),
			slog.Duration("duration", logger.RoundMS(took)),
		)...,
	)
	return db, nil
}

// WaitForDatabase pings the database until it answers or timeout is reached.
func WaitForDatabase(ctx context.Context, cfg coreconfig.DatabaseConfig, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for {
		db, err := sql.Open(cfg.Driver, DSN(cfg))
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
			err = db.PingContext(pingCtx)
			cancel()
			_ = db.Close()
			if err == nil {
				return nil
			}
		}
		lastErr = err
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout reached waiting for database: %w", lastErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func target(cfg coreconfig.DatabaseConfig) []slog.Attr {
	if cfg.Driver == coreconfig.DriverSQLite {
		return []slog.Attr{
			slog.String("driver", cfg.Driver),
			slog.String("path", cfg.Path),
		}
	}
	return []slog.Attr{
		slog.String("driver", cfg.Driver),
		slog.String("host", cfg.Host),
		slog.String("port", cfg.Port),
		slog.String("db", cfg.Name),
	}
}
