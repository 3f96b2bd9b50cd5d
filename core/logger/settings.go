package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	coreconfig "github.com/m3rciful/privybot/core/config"
)

var defaultSample = sampleRate{keep: 1, period: 50}

// settings is the logging configuration after defaults are applied.
type settings struct {
	format  logFormat
	level   slog.Level
	order   []string
	sample  sampleRate
	profile string
	file    string
	trace   bool
}

func resolveSettings(cfg *coreconfig.Config) settings {
	s := settings{
		format:  formatJSON,
		level:   slog.LevelInfo,
		order:   append([]string(nil), defaultKeyOrder...),
		sample:  defaultSample,
		profile: "prod",
		trace:   envFlag("LOG_TRACE") || envFlag("TRACE"),
	}
	if cfg == nil {
		return s
	}
	lc := cfg.Logging

	if p := strings.ToLower(strings.TrimSpace(lc.Profile)); p != "" {
		s.profile = p
	}
	switch strings.ToLower(strings.TrimSpace(lc.Format)) {
	case "kv", "text", "pretty":
		s.format = formatKV
	case "json":
	default:
		if s.profile == "debug" || s.profile == "dev" {
			s.format = formatKV
		}
	}

	switch strings.ToLower(strings.TrimSpace(lc.Level)) {
	case "debug":
		s.level = slog.LevelDebug
	case "warn", "warning":
		s.level = slog.LevelWarn
	case "error":
		s.level = slog.LevelError
	}

	if raw := strings.TrimSpace(lc.KeysOrder); raw != "" && raw != "default" {
		var order []string
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				order = append(order, k)
			}
		}
		if len(order) > 0 {
			s.order = order
		}
	}

	if raw := strings.TrimSpace(lc.DebugSample); raw != "" {
		if rate, ok := parseSampleRate(raw); ok {
			s.sample = rate
		}
	}

	if dir, file := strings.TrimSpace(lc.Dir), strings.TrimSpace(lc.File); dir != "" && file != "" {
		s.file = filepath.Join(dir, file)
	}
	return s
}

// sinks returns stdout plus the optional log file. A file that cannot be
// opened is an error so a misconfigured deployment fails at startup.
func (s settings) sinks() ([]io.Writer, []io.Closer, error) {
	writers := []io.Writer{os.Stdout}
	if s.file == "" {
		return writers, nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(s.file), 0o755); err != nil {
		return nil, nil, fmt.Errorf("logger: create log dir: %w", err)
	}
	f, err := os.OpenFile(s.file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: open log file: %w", err)
	}
	return append(writers, f), []io.Closer{f}, nil
}

func envFlag(name string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}
