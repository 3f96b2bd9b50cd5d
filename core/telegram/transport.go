package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/privybot/core/telegram/keyboard"
	"github.com/m3rciful/privybot/core/transport"
)

// Name identifies the transport in sessions and logs.
const Name = "telegram"

const sessionPrefix = "tg:"

var (
	// ErrNotConnected is returned by Send while no bot is running.
	ErrNotConnected = errors.New("telegram: client not connected")

	tokenRe = regexp.MustCompile(`bot[0-9]+:[A-Za-z0-9_-]+`)
)

// Transport sends replies through whichever bot the runtime currently runs.
type Transport struct {
	bot atomic.Pointer[tele.Bot]
}

// NewTransport returns a transport with no bot attached.
func NewTransport() *Transport { return &Transport{} }

func (t *Transport) Name() string { return Name }

func (t *Transport) attach(b *tele.Bot) { t.bot.Store(b) }

// SessionKey namespaces chat ids so they never collide with phone numbers.
func (t *Transport) SessionKey(from string) (string, error) {
	from = strings.TrimPrefix(strings.TrimSpace(from), sessionPrefix)
	if _, err := strconv.ParseInt(from, 10, 64); err != nil {
		return "", fmt.Errorf("telegram: invalid chat id %q", from)
	}
	return sessionPrefix + from, nil
}

// Send delivers msg with options as an inline keyboard.
func (t *Transport) Send(ctx context.Context, msg transport.Message) (transport.Result, error) {
	return t.send(ctx, msg, nil)
}

// Reply threads msg to the inbound message msg.ReplyTo.
func (t *Transport) Reply(ctx context.Context, msg transport.Message) (transport.Result, error) {
	id, err := strconv.Atoi(msg.ReplyTo)
	if err != nil {
		return t.send(ctx, msg, nil)
	}
	return t.send(ctx, msg, &tele.Message{ID: id})
}

func (t *Transport) send(ctx context.Context, msg transport.Message, replyTo *tele.Message) (transport.Result, error) {
	b := t.bot.Load()
	if b == nil {
		return transport.Result{}, ErrNotConnected
	}
	chatID, err := strconv.ParseInt(strings.TrimPrefix(msg.To, sessionPrefix), 10, 64)
	if err != nil {
		return transport.Result{}, fmt.Errorf("telegram: invalid chat id %q", msg.To)
	}
	opts := &tele.SendOptions{ReplyTo: replyTo, ReplyMarkup: keyboard.Options(msg.Options)}

	type sent struct {
		m   *tele.Message
		err error
	}
	done := make(chan sent, 1)
	go func() {
		m, err := b.Send(tele.ChatID(chatID), msg.Text, opts)
		done <- sent{m, err}
	}()
	select {
	case <-ctx.Done():
		return transport.Result{}, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return transport.Result{}, wrapError(r.err)
		}
		res := transport.Result{Transport: Name}
		if r.m != nil {
			res.MessageID = strconv.Itoa(r.m.ID)
		}
		return res, nil
	}
}

// Error is a Bot API failure with its class exposed to the dispatcher.
type Error struct {
	Code int
	err  error
}

func (e *Error) Error() string { return sanitizeErrorMessage(e.err) }

func (e *Error) Unwrap() error { return e.err }

// Throttled reports a flood-control response.
func (e *Error) Throttled() bool { return e.Code == http.StatusTooManyRequests }

// InvalidToken reports a revoked or wrong bot token.
func (e *Error) InvalidToken() bool { return e.Code == http.StatusUnauthorized }

func wrapError(err error) error {
	return &Error{Code: httpStatusFromError(err), err: err}
}

func httpStatusFromError(err error) int {
	var floodErr tele.FloodError
	if errors.As(err, &floodErr) {
		return http.StatusTooManyRequests
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var groupErr tele.GroupError
	if errors.As(err, &groupErr) {
		return http.StatusBadRequest
	}
	return 0
}

// sanitizeErrorMessage prevents accidental leakage of bot tokens in logs.
func sanitizeErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	return tokenRe.ReplaceAllString(err.Error(), "bot<redacted>")
}
