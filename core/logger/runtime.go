package logger

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

type contextKey string

const (
	ctxRID       contextKey = "rid"
	ctxUser      contextKey = "user"
	ctxTransport contextKey = "transport"
	ctxMessageID contextKey = "msg_id"
	ctxStep      contextKey = "step"
	ctxLogger    contextKey = "logger"
	ctxHandler   contextKey = "handler"
	ctxTraceID   contextKey = "trace_id"
	ctxSpanID    contextKey = "span_id"
)

// WithLogger stores the provided slog.Logger in context for propagation across layers.
func WithLogger(ctx context.Context, log *slog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if log == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxLogger, log)
}

// FromContext extracts slog.Logger from context or returns global default.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return L
	}
	if l, ok := ctx.Value(ctxLogger).(*slog.Logger); ok {
		return l
	}
	return L
}

// NewRID returns a fresh request correlation id.
func NewRID() string {
	return uuid.NewString()
}

// WithRID attaches request correlation id into context.
func WithRID(ctx context.Context, rid string) context.Context {
	return withString(ctx, ctxRID, rid)
}

// RIDFrom extracts rid from context if present.
func RIDFrom(ctx context.Context) string {
	return stringFrom(ctx, ctxRID)
}

// WithInbound attaches the identifiers of an inbound message to context.
func WithInbound(ctx context.Context, transport, user, messageID string) context.Context {
	ctx = withString(ctx, ctxTransport, transport)
	ctx = withString(ctx, ctxUser, user)
	return withString(ctx, ctxMessageID, messageID)
}

// WithStep records the conversation step being processed.
func WithStep(ctx context.Context, step string) context.Context {
	return withString(ctx, ctxStep, step)
}

// UserFrom returns the session key stored in context.
func UserFrom(ctx context.Context) string { return stringFrom(ctx, ctxUser) }

// TransportFrom returns the transport name stored in context.
func TransportFrom(ctx context.Context) string { return stringFrom(ctx, ctxTransport) }

// MessageIDFrom returns the inbound message id stored in context.
func MessageIDFrom(ctx context.Context) string { return stringFrom(ctx, ctxMessageID) }

// StepFrom returns the conversation step stored in context.
func StepFrom(ctx context.Context) string { return stringFrom(ctx, ctxStep) }

// WithHandler stores handler identifier in context for downstream logs.
func WithHandler(ctx context.Context, handler string) context.Context {
	return withString(ctx, ctxHandler, handler)
}

// HandlerFrom returns handler identifier from context if present.
func HandlerFrom(ctx context.Context) string {
	return stringFrom(ctx, ctxHandler)
}

// WithTrace attaches trace and span identifiers to context.
func WithTrace(ctx context.Context, traceID, spanID string) context.Context {
	ctx = withString(ctx, ctxTraceID, traceID)
	return withString(ctx, ctxSpanID, spanID)
}

// TraceIDFrom extracts trace id from context.
func TraceIDFrom(ctx context.Context) string { return stringFrom(ctx, ctxTraceID) }

// SpanIDFrom extracts span id from context.
func SpanIDFrom(ctx context.Context) string { return stringFrom(ctx, ctxSpanID) }

func withString(ctx context.Context, key contextKey, value string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(key).(string)
	return s
}

// Sanitize trims non-printable runes from s to keep logs clean.
// Control characters (Cc, Cf) are removed except for tab and newline.
func Sanitize(s string) string {
	if s == "" {
		return s
	}
	b := strings.Builder{}
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) || r == 0x7F {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SanitizeLimit applies Sanitize and limits the output length in runes.
func SanitizeLimit(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(Sanitize(s))
	if len(r) <= max {
		return string(r)
	}
	return string(r[:max])
}

// CompactRID shortens a UUID-shaped rid to its first segment.
// Any other input is returned unchanged.
func CompactRID(rid string) string {
	rid = strings.TrimSpace(rid)
	if _, err := uuid.Parse(rid); err != nil {
		return rid
	}
	head, _, _ := strings.Cut(rid, "-")
	return head
}

// Mask hides a secret, keeping only its last four characters.
func Mask(secret string) string {
	if secret == "" {
		return ""
	}
	r := []rune(secret)
	if len(r) <= 4 {
		return "***"
	}
	return "***" + string(r[len(r)-4:])
}
