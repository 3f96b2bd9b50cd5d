// Package dispatch delivers conversation replies: it acquires the access
// token, applies the outbound rate limit and classifies failures.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/m3rciful/privybot/core/logger"
	"github.com/m3rciful/privybot/core/netutil"
	"github.com/m3rciful/privybot/core/transport"
)

var (
	// ErrCredential covers invalid, expired or unrefreshable access tokens.
	ErrCredential = errors.New("credential error")
	// ErrThrottled covers the local rate limiter and provider rate limits.
	ErrThrottled = errors.New("throttled")
	// ErrDelivery covers every other transport failure.
	ErrDelivery = errors.New("delivery failed")
)

const defaultTimeout = 10 * time.Second

// TokenSource returns a currently usable access token.
type TokenSource interface {
	GetValidToken(ctx context.Context) (string, error)
}

// Limiter gates outbound calls.
type Limiter interface {
	Allow() error
}

// Options configures a Dispatcher.
type Options struct {
	Tokens  TokenSource
	Limiter Limiter
	// Timeout bounds each transport call.
	Timeout time.Duration
}

// Dispatcher sends replies through a transport.
type Dispatcher struct {
	tokens  TokenSource
	limiter Limiter
	timeout time.Duration
}

// New returns a Dispatcher. Tokens and Limiter may be nil.
func New(opts Options) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Dispatcher{tokens: opts.Tokens, limiter: opts.Limiter, timeout: opts.Timeout}
}

// Deliver sends msg. When msg.ReplyTo is set and t threads replies, the
// threaded reply is tried first and a delivery failure falls back to one
// direct send. Returned errors wrap ErrCredential, ErrThrottled or ErrDelivery.
func (d *Dispatcher) Deliver(ctx context.Context, t transport.Transport, msg transport.Message) (transport.Result, error) {
	start := time.Now()
	if transport.NeedsToken(t) {
		if d.tokens == nil {
			return transport.Result{}, fmt.Errorf("%w: no token source for %s", ErrCredential, t.Name())
		}
		token, err := d.tokens.GetValidToken(ctx)
		if err != nil {
			d.logFail(ctx, t, err, start)
			return transport.Result{}, fmt.Errorf("%w: %w", ErrCredential, err)
		}
		msg.Token = token
	}

	fellBack := false
	if replier, ok := t.(transport.Replier); ok && msg.ReplyTo != "" {
		res, err := d.attempt(ctx, func(ctx context.Context) (transport.Result, error) { return replier.Reply(ctx, msg) })
		if err == nil {
			d.logOK(ctx, t, res, start, false)
			return res, nil
		}
		if !errors.Is(err, ErrDelivery) {
			d.logFail(ctx, t, err, start)
			return transport.Result{}, err
		}
		logger.LogEvent(ctx, logger.SEND, slog.LevelWarn, "send.fallback",
			slog.String("transport", t.Name()),
			slog.String("err", err.Error()),
		)
		fellBack = true
	}

	msg.ReplyTo = ""
	res, err := d.attempt(ctx, func(ctx context.Context) (transport.Result, error) { return t.Send(ctx, msg) })
	if err != nil {
		d.logFail(ctx, t, err, start)
		return transport.Result{}, err
	}
	d.logOK(ctx, t, res, start, fellBack)
	return res, nil
}

func (d *Dispatcher) attempt(ctx context.Context, call func(context.Context) (transport.Result, error)) (transport.Result, error) {
	if d.limiter != nil {
		if err := d.limiter.Allow(); err != nil {
			return transport.Result{}, fmt.Errorf("%w: %w", ErrThrottled, err)
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	res, err := call(callCtx)
	if err != nil {
		return transport.Result{}, Classify(err)
	}
	return res, nil
}

// Classify wraps a transport error with its taxonomy sentinel.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCredential) || errors.Is(err, ErrThrottled) || errors.Is(err, ErrDelivery) {
		return err
	}
	var tokenErr interface{ InvalidToken() bool }
	if errors.As(err, &tokenErr) && tokenErr.InvalidToken() {
		return fmt.Errorf("%w: %w", ErrCredential, err)
	}
	var throttled interface{ Throttled() bool }
	if errors.As(err, &throttled) && throttled.Throttled() {
		return fmt.Errorf("%w: %w", ErrThrottled, err)
	}
	var status *netutil.StatusError
	if errors.As(err, &status) && status.Code == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", ErrThrottled, err)
	}
	return fmt.Errorf("%w: %w", ErrDelivery, err)
}

// Kind names the class of err for logs and API responses.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCredential):
		return "credential"
	case errors.Is(err, ErrThrottled):
		return "throttle"
	case errors.Is(err, ErrDelivery):
		return "delivery"
	}
	return "internal"
}

func (d *Dispatcher) logOK(ctx context.Context, t transport.Transport, res transport.Result, start time.Time, fallback bool) {
	attrs := []slog.Attr{
		slog.String("status", "ok"),
		slog.String("transport", t.Name()),
		slog.Duration("took", logger.Took(start)),
	}
	if res.MessageID != "" {
		attrs = append(attrs, slog.String("out_id", res.MessageID))
	}
	if fallback {
		attrs = append(attrs, slog.Bool("fallback", true))
	}
	logger.LogEvent(ctx, logger.SEND, slog.LevelInfo, "send.ok", attrs...)
}

func (d *Dispatcher) logFail(ctx context.Context, t transport.Transport, err error, start time.Time) {
	logger.LogEvent(ctx, logger.SEND, slog.LevelError, "send.fail",
		slog.String("status", "error"),
		slog.String("transport", t.Name()),
		slog.String("err_class", Kind(err)),
		slog.String("err", err.Error()),
		slog.Duration("took", logger.Took(start)),
	)
}

// Retryable reports whether a failed delivery is worth another attempt:
// throttling and transient network failures are, credential errors are not.
func Retryable(err error) bool {
	switch {
	case err == nil, errors.Is(err, ErrCredential):
		return false
	case errors.Is(err, ErrThrottled):
		return true
	}
	return netutil.ShouldRetry(err)
}
