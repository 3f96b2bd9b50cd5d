package logger

import (
	"log/slog"
	"strings"
)

// levelName renders a slog level with the names the log pipeline greps for.
// Levels above error are reported as FATAL.
func levelName(l slog.Level) string {
	switch {
	case l < slog.LevelInfo:
		return "DEBUG"
	case l < slog.LevelWarn:
		return "INFO"
	case l < slog.LevelError:
		return "WARN"
	case l == slog.LevelError:
		return "ERROR"
	default:
		return "FATAL"
	}
}

// statusAliases folds the spellings used across packages onto one value.
var statusAliases = map[string]string{
	"success":   "ok",
	"error":     "fail",
	"failed":    "fail",
	"canceled":  "cancelled",
	"throttled": "rate_limited",
	"dup":       "duplicate",
}

// outcomes is the closed set accepted for the outcome field; anything else
// is dropped from the record.
var outcomes = map[string]bool{
	"ok":           true,
	"fail":         true,
	"cancelled":    true,
	"rate_limited": true,
	"fallback":     true,
	"reprompt":     true,
	"reset":        true,
}

func canonicalStatus(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if alias, ok := statusAliases[s]; ok {
		return alias
	}
	return s
}

func canonicalOutcome(s string) string {
	s = canonicalStatus(s)
	if outcomes[s] {
		return s
	}
	return ""
}

// defaultKeyOrder puts the envelope first, then who and where the message
// came from, then the operation and its result.
var defaultKeyOrder = []string{
	// envelope
	"ts", "level", "component", "event", "status",
	"rid", "rid_full", "trace_id", "span_id", "ts_unix_nano",
	// conversation
	"transport", "user", "msg_id", "step", "next_step", "topic", "handler",
	// operation
	"method", "path", "op", "outcome", "duration_ms", "http_code", "api_code",
	"state", "from", "to", "attempt", "attempts", "backoff_ms",
	// resources
	"expires_at", "token", "driver", "host", "port", "listen", "mode", "queue", "workers",
	// failure
	"err", "err_class", "cause", "retryable", "rate_limited", "fallback",
}
