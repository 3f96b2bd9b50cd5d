package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"

	coreconfig "github.com/m3rciful/privybot/core/config"
	"github.com/m3rciful/privybot/core/session"
)

func noLogger(*coreconfig.Config) error { return nil }

func testConfig(t *testing.T) *coreconfig.Config {
	t.Helper()
	cfg := &coreconfig.Config{}
	if err := coreconfig.Normalize(cfg); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	return cfg
}

func TestRunRejectsNilConfig(t *testing.T) {
	if _, err := Run(context.Background(), Options{}); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestRunMemoryDriverSkipsDatabase(t *testing.T) {
	cfg := testConfig(t)
	called := false
	res, err := Run(context.Background(), Options{
		Config:     cfg,
		LoggerInit: noLogger,
		Connect: func(context.Context, coreconfig.DatabaseConfig) (*sqlx.DB, error) {
			called = true
			return nil, errors.New("unexpected")
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if called || res.DB != nil || res.Store == nil || res.Transcripts == nil {
		t.Fatalf("memory driver result = %+v, connect called %v", res, called)
	}
}

func TestRunPropagatesLoggerAndConnectErrors(t *testing.T) {
	cfg := testConfig(t)
	_, err := Run(context.Background(), Options{
		Config:     cfg,
		LoggerInit: func(*coreconfig.Config) error { return errors.New("no log dir") },
	})
	if err == nil || !strings.Contains(err.Error(), "logger init failed") {
		t.Fatalf("logger error = %v", err)
	}

	cfg.Database.Driver = coreconfig.DriverPostgres
	_, err = Run(context.Background(), Options{
		Config:     cfg,
		LoggerInit: noLogger,
		Connect: func(context.Context, coreconfig.DatabaseConfig) (*sqlx.DB, error) {
			return nil, errors.New("refused")
		},
	})
	if err == nil || !strings.Contains(err.Error(), "database initialization failed") {
		t.Fatalf("connect error = %v", err)
	}
}

func TestRunSQLiteAppliesMigrations(t *testing.T) {
	_, file, _, _ := runtime.Caller(0)
	cfg := testConfig(t)
	cfg.Database = coreconfig.DatabaseConfig{
		Driver:         coreconfig.DriverSQLite,
		Path:           filepath.Join(t.TempDir(), "bot.db"),
		MaxConnections: 2,
		MigrationsDir:  filepath.Join(filepath.Dir(file), "..", "..", "migrations"),
	}
	res, err := Run(context.Background(), Options{Config: cfg, LoggerInit: noLogger})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	t.Cleanup(func() { _ = res.Store.Close() })
	if res.DB == nil {
		t.Fatal("sqlite driver returned no DB")
	}
	if err := res.Store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if _, err := res.Store.Get(context.Background(), "nobody"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("Get on empty table = %v", err)
	}
	if h, err := res.Transcripts.History(context.Background(), "nobody", 0); err != nil || len(h) != 0 {
		t.Fatalf("History on empty table = %v, %v", h, err)
	}
}

func TestNewAppServesHTTP(t *testing.T) {
	cfg := testConfig(t)
	app, err := NewApp(cfg, session.NewMemoryStore(), nil)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	t.Cleanup(app.Close)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health code = %d body %s", rec.Code, rec.Body.String())
	}

	body := strings.NewReader(`{"phoneNumber":"+2348012345678","message":"hello"}`)
	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/send", body))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"step":"name"`) {
		t.Fatalf("send = %d %s", rec.Code, rec.Body.String())
	}

	for _, path := range []string{"/history/2348012345678", "/report"} {
		rec = httptest.NewRecorder()
		app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s = %d %s", path, rec.Code, rec.Body.String())
		}
	}

	// Graph and Telegram are disabled without credentials.
	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/token", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("token code = %d", rec.Code)
	}
}

func TestNewAppValidatesInput(t *testing.T) {
	if _, err := NewApp(nil, session.NewMemoryStore(), nil); err == nil {
		t.Fatal("expected error for nil config")
	}
	if _, err := NewApp(testConfig(t), nil, nil); err == nil {
		t.Fatal("expected error for nil store")
	}
}
