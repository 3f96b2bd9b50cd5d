package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	coreconfig "github.com/m3rciful/privybot/core/config"
	"github.com/m3rciful/privybot/core/logger"
)

const readyTimeout = 30 * time.Second

// MigrationsPath resolves the per-driver migrations directory.
func MigrationsPath(cfg coreconfig.DatabaseConfig) (string, error) {
	dir := cfg.MigrationsDir
	if !filepath.IsAbs(dir) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("get working directory: %w", err)
		}
		dir = filepath.Join(cwd, dir)
	}
	return filepath.Join(dir, cfg.Driver), nil
}

// RunMigrations applies all up migrations for the configured driver.
func RunMigrations(ctx context.Context, cfg coreconfig.DatabaseConfig) error {
	if cfg.Driver == coreconfig.DriverPostgres {
		if err := WaitForDatabase(ctx, cfg, readyTimeout); err != nil {
			logger.LogEvent(ctx, logger.MIG, slog.LevelError, "db.migrate", slog.String("err", err.Error()))
			return fmt.Errorf("database not ready: %w", err)
		}
	}

	migrationsPath, err := MigrationsPath(cfg)
	if err != nil {
		logger.LogEvent(ctx, logger.MIG, slog.LevelError, "db.migrate", slog.String("err", err.Error()))
		return err
	}

	files := listMigrationFiles(migrationsPath)
	attrs := []slog.Attr{
		slog.String("path", migrationsPath),
		slog.Int("files_total", len(files)),
	}
	attrs = appendPreview(attrs, files)
	logger.LogEvent(ctx, logger.MIG, slog.LevelDebug, "resolve", attrs...)

	m, err := migrate.New("file://"+filepath.ToSlash(migrationsPath), MigrateURL(cfg))
	if err != nil {
		logger.LogEvent(ctx, logger.MIG, slog.LevelError, "db.migrate", slog.String("err", err.Error()))
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.LogEvent(ctx, logger.MIG, slog.LevelWarn, "db.migrate.close",
				slog.Any("source_err", srcErr), slog.Any("db_err", dbErr))
		}
	}()

	fromVer, _, _ := m.Version()

	start := time.Now()
	upErr := m.Up()
	took := time.Since(start)

	switch {
	case upErr == nil:
	case errors.Is(upErr, migrate.ErrNoChange):
		logSummary(ctx, uint64(fromVer), uint64(fromVer), 0, took)
		return nil
	default:
		logger.LogEvent(ctx, logger.MIG, slog.LevelError, "apply",
			slog.String("err", upErr.Error()),
			slog.Duration("duration", logger.RoundMS(took)),
		)
		return fmt.Errorf("migration execution failed: %w", upErr)
	}

	toVer, _, _ := m.Version()
	applied := selectApplied(files, uint64(fromVer), uint64(toVer))
	if len(applied) > 0 {
		attrs := appendPreview([]slog.Attr{slog.Int("files_total", len(applied))}, applied)
		logger.LogEvent(ctx, logger.MIG, slog.LevelDebug, "apply", attrs...)
	}
	logSummary(ctx, uint64(fromVer), uint64(toVer), len(applied), took)
	return nil
}

func logSummary(ctx context.Context, from, to uint64, files int, took time.Duration) {
	logger.LogEvent(ctx, logger.MIG, slog.LevelInfo, "summary",
		slog.Uint64("from_ver", from),
		slog.Uint64("to_ver", to),
		slog.Int("files", files),
		slog.Duration("duration", logger.RoundMS(took)),
	)
}

func appendPreview(attrs []slog.Attr, names []string) []slog.Attr {
	preview, truncated := logger.SummarizeStrings(names, 6)
	if preview != "" {
		attrs = append(attrs, slog.String("files_preview", preview))
	}
	if truncated {
		attrs = append(attrs, slog.Bool("files_truncated", true))
	}
	return attrs
}

func listMigrationFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

func parseVersion(name string) uint64 {
	prefix, _, _ := strings.Cut(name, "_")
	v, _ := strconv.ParseUint(prefix, 10, 64)
	return v
}

// selectApplied returns the files whose version lies in (from, to].
func selectApplied(files []string, from, to uint64) []string {
	if to <= from {
		return nil
	}
	var out []string
	for _, f := range files {
		if v := parseVersion(f); v > from && v <= to {
			out = append(out, f)
		}
	}
	return out
}
