// Package httpapi serves the status surface, the direct conversation API
// and the provider webhooks.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	coreconfig "github.com/m3rciful/privybot/core/config"
	"github.com/m3rciful/privybot/core/credential"
	"github.com/m3rciful/privybot/core/logger"
	"github.com/m3rciful/privybot/core/queue"
	"github.com/m3rciful/privybot/core/service"
	"github.com/m3rciful/privybot/core/session"
	"github.com/m3rciful/privybot/core/transcript"
	"github.com/m3rciful/privybot/core/transport"
)

var errNotConfigured = errors.New("not configured")

// TokenManager is the credential view the status surface reads.
type TokenManager interface {
	ValidateAndUpdateToken(ctx context.Context) bool
	WillExpireSoon() bool
	Info() credential.Info
}

// Options wires the router to the running components. Optional parts are nil
// when their transport is disabled.
type Options struct {
	Service     *service.Service
	Store       session.Store
	Tokens      TokenManager
	Inbox       *queue.Queue
	Outbox      *queue.Queue
	Connections []*transport.Connection
	// Reconnect restarts the persistent client; nil when none runs.
	Reconnect func() bool
	Reports   *transcript.Reporter

	Meta        coreconfig.MetaConfig
	Twilio      coreconfig.TwilioConfig
	CORSOrigins []string
	Version     string
	Now         func() time.Time
}

// Server holds the handlers.
type Server struct {
	opts    Options
	started time.Time
}

// NewRouter returns the HTTP handler.
func NewRouter(opts Options) http.Handler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{opts: opts, started: opts.Now()}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chiMiddleware.Recoverer)
	if len(opts.CORSOrigins) > 0 {
		r.Use(CORS(opts.CORSOrigins))
	}

	r.Get("/health", s.health)
	r.Get("/status", s.status)
	r.Get("/history/{user}", s.history)
	r.Get("/report", s.report)
	r.Route("/api", func(r chi.Router) {
		r.Get("/token", s.token)
		r.Post("/send", s.send)
		r.Post("/reconnect", s.reconnect)
	})
	r.Route("/webhook", func(r chi.Router) {
		r.Get("/graph", s.graphVerify)
		r.Post("/graph", s.graphInbound)
		r.Post("/twilio", s.twilioInbound)
	})
	return r
}

// CORS returns middleware that handles CORS headers.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
					break
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger assigns a request id and logs one line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get("X-Request-ID")
		if rid == "" {
			rid = logger.NewRID()
		}
		w.Header().Set("X-Request-ID", rid)
		ctx := logger.WithRID(r.Context(), rid)
		ctx = logger.WithLogger(ctx, logger.HTTP)

		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		level := slog.LevelDebug
		if ww.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		} else if ww.Status() >= http.StatusBadRequest {
			level = slog.LevelWarn
		}
		logger.LogEvent(ctx, logger.HTTP, level, "http.request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("code", ww.Status()),
			slog.Duration("took", logger.Took(start)),
		)
	})
}
