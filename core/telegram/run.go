// Package telegram runs the Telegram client: a long-lived bot connection
// that feeds chat messages into the conversation service and delivers its
// replies.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/m3rciful/privybot/core/config"
	"github.com/m3rciful/privybot/core/logger"
	"github.com/m3rciful/privybot/core/netutil"
	"github.com/m3rciful/privybot/core/queue"
	"github.com/m3rciful/privybot/core/service"
	tghelpers "github.com/m3rciful/privybot/core/telegram/helpers"
	"github.com/m3rciful/privybot/core/telegram/keyboard"
	"github.com/m3rciful/privybot/core/transport"
)

const (
	defaultMaxReconnects = 5
	reconnectStep        = 10 * time.Second
	reconnectCap         = time.Minute
	pingCommand          = "!ping"
)

// Middleware describes a global bot middleware to be registered via bot.Use.
type Middleware struct {
	Name string
	Use  func(next tele.HandlerFunc) tele.HandlerFunc
}

// Receiver consumes inbound chat messages.
type Receiver interface {
	Receive(ctx context.Context, in service.Inbound) error
}

// RunOptions controls the behaviour of a Runtime.
type RunOptions struct {
	Config    *coreconfig.Config
	Receiver  Receiver
	Transport *Transport
	// Inbox processes messages off the update loop; nil handles them inline.
	Inbox       *queue.Queue
	Connection  *transport.Connection
	Middlewares []Middleware

	// APIURL overrides the Bot API endpoint, for tests.
	APIURL string
	// Offline skips the getMe call on connect, for tests.
	Offline bool
	// Backoff returns the pause before reconnect attempt n; nil -> min(10s*n, 60s).
	Backoff func(attempt int) time.Duration

	DisableWebhookCleanup bool
}

// Runtime owns the bot connection and its state machine.
type Runtime struct {
	opts      RunOptions
	conn      *transport.Connection
	transport *Transport
	reconnect chan struct{}
}

// NewRuntime validates opts and returns a Runtime ready to Run.
func NewRuntime(opts RunOptions) (*Runtime, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("telegram: nil config provided")
	}
	if opts.Receiver == nil {
		return nil, fmt.Errorf("telegram: nil receiver provided")
	}
	if opts.Transport == nil {
		opts.Transport = NewTransport()
	}
	if opts.Connection == nil {
		opts.Connection = transport.NewConnection(Name)
	}
	if opts.Backoff == nil {
		opts.Backoff = reconnectDelay
	}
	return &Runtime{
		opts:      opts,
		conn:      opts.Connection,
		transport: opts.Transport,
		reconnect: make(chan struct{}, 1),
	}, nil
}

// Connection exposes the connection state machine.
func (r *Runtime) Connection() *transport.Connection { return r.conn }

// Transport returns the transport bound to this runtime.
func (r *Runtime) Transport() *Transport { return r.transport }

// Reconnect asks the runtime to drop and re-establish the connection. It
// returns false when a request is already pending.
func (r *Runtime) Reconnect() bool {
	select {
	case r.reconnect <- struct{}{}:
		return true
	default:
		return false
	}
}

func reconnectDelay(attempt int) time.Duration {
	d := reconnectStep * time.Duration(attempt)
	if d > reconnectCap {
		return reconnectCap
	}
	return d
}

// Run connects and serves updates until ctx is done. Failed connects are
// retried with backoff; after the reconnect budget is spent the connection
// stays failed until Reconnect is called.
func (r *Runtime) Run(ctx context.Context) error {
	maxAttempts := r.opts.Config.Telegram.MaxReconnects
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxReconnects
	}
	defer r.conn.Close()

	attempt := 0
	for {
		r.conn.Authenticating()
		attempt++
		bot, err := r.connect(ctx)
		if err != nil {
			if attempt >= maxAttempts || isUnauthorized(err) {
				r.conn.Failed(err)
				logger.LogEvent(ctx, logger.TG, slog.LevelError, "tg.failed",
					slog.Int("attempt", attempt),
					slog.String("err", sanitizeErrorMessage(err)),
				)
				if !r.waitReconnect(ctx, 0) {
					return nil
				}
				attempt = 0
				continue
			}
			r.conn.Disconnected(err)
			delay := r.opts.Backoff(attempt)
			logger.LogEvent(ctx, logger.TG, slog.LevelWarn, "tg.reconnect",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("err", sanitizeErrorMessage(err)),
			)
			if !r.waitReconnect(ctx, delay) {
				return nil
			}
			continue
		}

		attempt = 0
		r.conn.Connected()
		r.transport.attach(bot)
		r.serve(ctx, bot)
		r.transport.attach(nil)
		r.conn.Disconnected(nil)
		if ctx.Err() != nil {
			return nil
		}
	}
}

// waitReconnect sleeps for delay, or until Reconnect when delay is 0. It
// reports false when ctx ends first.
func (r *Runtime) waitReconnect(ctx context.Context, delay time.Duration) bool {
	var timer <-chan time.Time
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-ctx.Done():
		return false
	case <-r.reconnect:
		return true
	case <-timer:
		return true
	}
}

func (r *Runtime) connect(ctx context.Context) (*tele.Bot, error) {
	cfg := r.opts.Config
	poller := newPoller(cfg)

	settings := tele.Settings{
		URL:     r.opts.APIURL,
		Token:   cfg.Telegram.Token,
		Poller:  poller,
		Offline: r.opts.Offline,
		Client:  netutil.NewHTTPClient(netutil.ClientOptions{Timeout: longPollTimeout(cfg) + 10*time.Second}),
		OnError: func(err error, c tele.Context) {
			ctx := context.Background()
			if c != nil {
				ctx = tghelpers.BuildContext(c)
			}
			logger.Error(ctx, "tg", "handler.error", slog.String("err", sanitizeErrorMessage(err)))
		},
	}

	buildStart := time.Now()
	bot, err := tele.NewBot(settings)
	if err != nil {
		return nil, fmt.Errorf("telegram: bot initialization failed: %w", err)
	}

	switch p := poller.(type) {
	case *tele.Webhook:
		logger.LogEvent(ctx, logger.TG, slog.LevelInfo, "mode",
			slog.String("mode", "webhook"),
			slog.String("listen", p.Listen),
			slog.String("public_url", p.Endpoint.PublicURL),
			slog.Duration("duration", logger.RoundMS(time.Since(buildStart))),
		)
	default:
		logger.LogEvent(ctx, logger.TG, slog.LevelInfo, "mode",
			slog.String("mode", "polling"),
			slog.Duration("duration", logger.RoundMS(time.Since(buildStart))),
		)
		if !r.opts.DisableWebhookCleanup {
			if err := bot.RemoveWebhook(false); err != nil {
				logger.LogEvent(ctx, logger.TG, slog.LevelWarn, "delete_webhook",
					slog.String("err", sanitizeErrorMessage(err)),
				)
			}
		}
	}

	for _, mw := range r.opts.Middlewares {
		if mw.Use != nil {
			bot.Use(mw.Use)
		}
	}
	r.routes(bot)
	return bot, nil
}

// serve blocks until ctx ends or a reconnect is requested.
func (r *Runtime) serve(ctx context.Context, bot *tele.Bot) {
	runDone := make(chan struct{})
	go func() {
		bot.Start()
		close(runDone)
	}()
	logger.LogEvent(ctx, logger.TG, slog.LevelInfo, "tg.connected")

	select {
	case <-ctx.Done():
		bot.Stop()
		<-runDone
	case <-r.reconnect:
		logger.LogEvent(ctx, logger.TG, slog.LevelInfo, "tg.reconnect.requested")
		bot.Stop()
		<-runDone
	case <-runDone:
	}
}

func (r *Runtime) routes(bot *tele.Bot) {
	bot.Handle("/start", func(c tele.Context) error {
		return r.receive(c, "hi")
	})
	bot.Handle(tele.OnText, func(c tele.Context) error {
		text := c.Text()
		if strings.EqualFold(strings.TrimSpace(text), pingCommand) {
			return c.Send("pong")
		}
		return r.receive(c, text)
	})
	bot.Handle("\f"+keyboard.OptionUnique, func(c tele.Context) error {
		_ = c.Respond()
		cb := c.Callback()
		if cb == nil {
			return nil
		}
		return r.receive(c, cb.Data)
	})
}

func (r *Runtime) receive(c tele.Context, body string) error {
	chat := c.Chat()
	if chat == nil {
		return nil
	}
	ctx := tghelpers.WithHandler(c, "conversation")
	chatID := strconv.FormatInt(chat.ID, 10)
	in := service.Inbound{
		Transport: Name,
		From:      chatID,
		Body:      body,
		MessageID: messageID(c),
		Address:   chatID,
	}
	run := func(ctx context.Context) error { return r.opts.Receiver.Receive(ctx, in) }
	if r.opts.Inbox == nil {
		return run(ctx)
	}
	err := r.opts.Inbox.Enqueue(ctx, "receive", sessionPrefix+chatID, run)
	if errors.Is(err, queue.ErrQueueFull) {
		logger.Warn(ctx, "tg", "queue.fallback", slog.String("err", err.Error()))
		return run(ctx)
	}
	return err
}

func messageID(c tele.Context) string {
	if cb := c.Callback(); cb != nil {
		return "cb:" + cb.ID
	}
	if m := c.Message(); m != nil {
		return strconv.Itoa(m.ID)
	}
	return ""
}

func isUnauthorized(err error) bool {
	var apiErr *tele.Error
	return errors.As(err, &apiErr) && apiErr.Code == 401
}
