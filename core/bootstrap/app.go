package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/privybot/core/buildinfo"
	coreconfig "github.com/m3rciful/privybot/core/config"
	"github.com/m3rciful/privybot/core/conversation"
	"github.com/m3rciful/privybot/core/credential"
	"github.com/m3rciful/privybot/core/dispatch"
	"github.com/m3rciful/privybot/core/generator"
	"github.com/m3rciful/privybot/core/httpapi"
	"github.com/m3rciful/privybot/core/logger"
	"github.com/m3rciful/privybot/core/netutil"
	"github.com/m3rciful/privybot/core/queue"
	"github.com/m3rciful/privybot/core/ratelimit"
	"github.com/m3rciful/privybot/core/service"
	"github.com/m3rciful/privybot/core/session"
	"github.com/m3rciful/privybot/core/transcript"
	coretelegram "github.com/m3rciful/privybot/core/telegram"
	"github.com/m3rciful/privybot/core/transport"
	"github.com/m3rciful/privybot/core/transport/graph"
	"github.com/m3rciful/privybot/core/transport/twilio"
)

// App is the assembled bot: HTTP surface, transports, queues and the
// credential monitor.
type App struct {
	cfg     *coreconfig.Config
	store   session.Store
	service *service.Service
	tokens  *credential.Manager
	inbox   *queue.Queue
	outbox  *queue.Queue
	tg      *coretelegram.Runtime
	server  *http.Server
}

// NewApp wires every enabled component on top of store. A nil transcripts
// store keeps transcripts in memory.
func NewApp(cfg *coreconfig.Config, store session.Store, transcripts transcript.Store) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}
	if store == nil {
		return nil, fmt.Errorf("bootstrap: nil session store")
	}
	if transcripts == nil {
		transcripts = transcript.NewMemoryStore()
	}
	a := &App{cfg: cfg, store: store}

	outboundTimeout := time.Duration(cfg.Outbound.TimeoutSeconds) * time.Second
	client := netutil.NewHTTPClient(netutil.ClientOptions{Timeout: outboundTimeout, MaxRetries: 2})

	gen, err := generator.New(cfg.Generator, netutil.NewHTTPClient(netutil.ClientOptions{
		Timeout: time.Duration(cfg.Generator.TimeoutSeconds) * time.Second,
	}))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: generator: %w", err)
	}
	machine := conversation.NewMachine(conversation.Options{
		TopicMenu:       cfg.Conversation.TopicMenu,
		Generator:       gen,
		GenerateTimeout: time.Duration(cfg.Generator.TimeoutSeconds) * time.Second,
	})

	var transports []transport.Transport
	var connections []*transport.Connection
	dispatchOpts := dispatch.Options{
		Limiter: ratelimit.New(time.Duration(cfg.RateLimit.WindowMS)*time.Millisecond, cfg.RateLimit.MaxRequests),
		Timeout: outboundTimeout,
	}
	if cfg.Meta.Enabled() {
		a.tokens = credential.NewManager(credential.Options{
			Authority: &credential.GraphAuthority{
				BaseURL:   cfg.Meta.BaseURL,
				Version:   cfg.Meta.APIVersion,
				AppID:     cfg.Meta.AppID,
				AppSecret: cfg.Meta.AppSecret,
				Client:    client,
			},
			InitialToken:    cfg.Meta.AccessToken,
			RefreshBuffer:   time.Duration(cfg.Credential.RefreshBufferSeconds) * time.Second,
			MonitorInterval: time.Duration(cfg.Credential.MonitorIntervalSeconds) * time.Second,
			CallTimeout:     time.Duration(cfg.Credential.TimeoutSeconds) * time.Second,
		})
		dispatchOpts.Tokens = a.tokens
		transports = append(transports, graph.New(cfg.Meta, client))
	}
	if cfg.Twilio.Enabled() {
		transports = append(transports, twilio.New(cfg.Twilio, client))
	}

	queueOpts := func(name string, retries int, retryable func(error) bool) queue.Options {
		return queue.Options{
			Name:         name,
			QueueSize:    cfg.Outbound.QueueSize,
			Workers:      cfg.Outbound.Workers,
			MaxRetries:   retries,
			RetryBackoff: time.Duration(cfg.Outbound.RetryBackoffMS) * time.Millisecond,
			MaxDuration:  time.Duration(cfg.Outbound.MaxDurationSeconds) * time.Second,
			Retryable:    retryable,
		}
	}
	a.outbox = queue.New(queueOpts("outbound", cfg.Outbound.MaxRetries, dispatch.Retryable))
	// Inbound work is not retried: a second step would answer twice.
	a.inbox = queue.New(queueOpts("inbound", 0, nil))

	var tgTransport *coretelegram.Transport
	if cfg.Telegram.Enabled() {
		tgTransport = coretelegram.NewTransport()
		transports = append(transports, tgTransport)
	}

	a.service = service.New(service.Options{
		Machine:            machine,
		Store:              store,
		Dispatcher:         dispatch.New(dispatchOpts),
		Outbox:             a.outbox,
		Transports:         transports,
		DefaultCountryCode: cfg.Conversation.DefaultCountryCode,
		Transcripts:        transcripts,
	})

	var reconnect func() bool
	if tgTransport != nil {
		a.tg, err = coretelegram.NewRuntime(coretelegram.RunOptions{
			Config:    cfg,
			Receiver:  a.service,
			Transport: tgTransport,
			Inbox:     a.inbox,
			Middlewares: coretelegram.DefaultMiddlewares(cfg, func(c tele.Context) error {
				return c.Send("Slow down a little, I am still answering your last message.")
			}),
		})
		if err != nil {
			return nil, fmt.Errorf("bootstrap: telegram: %w", err)
		}
		connections = append(connections, a.tg.Connection())
		reconnect = a.tg.Reconnect
	}

	routerOpts := httpapi.Options{
		Service:     a.service,
		Store:       store,
		Inbox:       a.inbox,
		Outbox:      a.outbox,
		Connections: connections,
		Reconnect:   reconnect,
		Meta:        cfg.Meta,
		Twilio:      cfg.Twilio,
		CORSOrigins: cfg.HTTP.CORSOrigins,
		Version:     buildinfo.Version,
	}
	if a.tokens != nil {
		routerOpts.Tokens = a.tokens
	}
	if counter, ok := store.(session.Counter); ok {
		routerOpts.Reports = &transcript.Reporter{
			Transcripts: transcripts,
			Sessions:    counter,
			FullMenu:    cfg.Conversation.TopicMenu,
		}
	}
	a.server = &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           httpapi.NewRouter(routerOpts),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(cfg.HTTP.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTP.WriteTimeoutSeconds) * time.Second,
	}
	return a, nil
}

// Handler exposes the HTTP router.
func (a *App) Handler() http.Handler { return a.server.Handler }

// Service exposes the conversation service.
func (a *App) Service() *service.Service { return a.service }

// Run serves until ctx is done, then drains the HTTP server and queues.
func (a *App) Run(ctx context.Context) error {
	if a.tokens != nil {
		if _, err := a.tokens.EnsureValidToken(ctx); err != nil {
			logger.LogEvent(ctx, logger.CRED, slog.LevelWarn, "token.startup",
				slog.String("err", err.Error()))
		}
		a.tokens.StartMonitoring(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.LogEvent(gctx, logger.HTTP, slog.LevelInfo, "http.listen", slog.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx),
			time.Duration(a.cfg.HTTP.ShutdownTimeoutSeconds)*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	if a.tg != nil {
		g.Go(func() error { return a.tg.Run(gctx) })
	}

	err := g.Wait()
	a.Close()
	return err
}

// Close stops background work and releases the store.
func (a *App) Close() {
	if a.tokens != nil {
		a.tokens.StopMonitoring()
	}
	a.inbox.Close()
	a.outbox.Close()
	if err := a.store.Close(); err != nil {
		logger.LogEvent(context.Background(), logger.DB, slog.LevelWarn, "db.close", slog.String("err", err.Error()))
	}
}
