// Package logger provides the structured slog setup shared by every
// component: one JSON or key=value line per event, component scoped
// loggers and request context propagation.
package logger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"sync"

	"github.com/m3rciful/privybot/core/buildinfo"
	coreconfig "github.com/m3rciful/privybot/core/config"
)

var (
	initOnce sync.Once
	stopOnce sync.Once

	sink    *lineWriter
	closers []io.Closer

	levelVar slog.LevelVar
	debug    = newSampler(defaultSample)
	trace    bool

	// L is the base logger used when no context logger is present.
	L *slog.Logger

	// DB logs storage events.
	DB *slog.Logger
	// MIG logs schema migration events.
	MIG *slog.Logger
	// HTTP logs the status and webhook surface.
	HTTP *slog.Logger
	// TG logs the Telegram client runtime.
	TG *slog.Logger
	// CRED logs access token validation, refresh and monitoring.
	CRED *slog.Logger
	// CONV logs conversation steps.
	CONV *slog.Logger
	// SEND logs outbound delivery.
	SEND *slog.Logger
	// GEN logs text generation calls.
	GEN *slog.Logger
)

var components = []struct {
	dst  **slog.Logger
	name string
}{
	{&DB, "db"},
	{&MIG, "db.migrate"},
	{&HTTP, "http"},
	{&TG, "tg"},
	{&CRED, "credential"},
	{&CONV, "conversation"},
	{&SEND, "dispatch"},
	{&GEN, "generator"},
}

// InitLogger configures the global structured logger. Only the first call
// has an effect.
func InitLogger(cfg *coreconfig.Config) error {
	var err error
	initOnce.Do(func() {
		s := resolveSettings(cfg)
		writers, cl, sinkErr := s.sinks()
		if sinkErr != nil {
			err = sinkErr
			return
		}
		closers = cl
		sink = newLineWriter(writers, 0)

		levelVar.Set(s.level)
		debug.Set(s.sample)
		trace = s.trace

		L = slog.New(newStructuredHandler(handlerConfig{
			level:    &levelVar,
			writer:   sink,
			format:   s.format,
			keyOrder: s.order,
		}))
		slog.SetDefault(L)
		for _, c := range components {
			*c.dst = L.With("component", c.name)
		}

		L.LogAttrs(context.Background(), slog.LevelInfo, "startup",
			slog.String("component", "app"),
			slog.String("event", "startup"),
			slog.String("version", buildinfo.Version),
			slog.String("build_commit", buildinfo.Commit),
			slog.String("build_time", buildinfo.Date),
			slog.String("go_version", runtime.Version()),
			slog.String("cfg_profile", s.profile),
		)
	})
	return err
}

// Shutdown flushes buffered output and closes log files.
func Shutdown() error {
	var errs []error
	stopOnce.Do(func() {
		if sink != nil {
			if n := sink.Dropped(); n > 0 && L != nil {
				L.LogAttrs(context.Background(), slog.LevelWarn, "",
					slog.String("component", "app"),
					slog.String("event", "log.dropped"),
					slog.Uint64("lines", n),
				)
			}
			errs = append(errs, sink.Close())
		}
		for _, c := range closers {
			errs = append(errs, c.Close())
		}
	})
	return errors.Join(errs...)
}

// LogEvent logs a record that always carries an event attribute. A nil
// logg falls back to the context logger, then to L.
func LogEvent(ctx context.Context, logg *slog.Logger, level slog.Level, event string, attrs ...slog.Attr) {
	if logg == nil {
		logg = FromContext(ctx)
	}
	if logg == nil {
		logg = L
	}
	if logg == nil {
		return
	}
	if event != "" {
		attrs = append([]slog.Attr{slog.String("event", event)}, attrs...)
	}
	logg.LogAttrs(ctx, level, "", attrs...)
}

// Component returns L scoped to name.
func Component(name string) *slog.Logger {
	if L == nil {
		return nil
	}
	if name = strings.TrimSpace(name); name == "" {
		return L
	}
	return L.With("component", name)
}

// Event logs with component scope resolved automatically.
func Event(ctx context.Context, component string, level slog.Level, event string, attrs ...slog.Attr) {
	logg := Component(component)
	if logg == nil {
		if logg = FromContext(ctx); logg != nil && strings.TrimSpace(component) != "" {
			logg = logg.With("component", strings.TrimSpace(component))
		}
	}
	LogEvent(ctx, logg, level, event, attrs...)
}

// Debug logs a debug-level event for the given component.
func Debug(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelDebug, event, attrs...)
}

// Info logs an info-level event for the given component.
func Info(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelInfo, event, attrs...)
}

// Warn logs a warn-level event for the given component.
func Warn(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelWarn, event, attrs...)
}

// Error logs an error-level event for the given component.
func Error(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelError, event, attrs...)
}

// ShouldSampleDebug reports whether a high-volume debug event should be
// logged. LOG_TRACE=1 disables sampling.
func ShouldSampleDebug() bool {
	return trace || debug.Allow()
}

// TraceEnabled reports whether LOG_TRACE forces full debug output.
func TraceEnabled() bool { return trace }
