package telegram

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/m3rciful/privybot/core/config"
	"github.com/m3rciful/privybot/core/transport"
)

func TestSessionKey(t *testing.T) {
	tr := NewTransport()
	key, err := tr.SessionKey("12345")
	if err != nil || key != "tg:12345" {
		t.Fatalf("SessionKey = %q, %v", key, err)
	}
	if key, _ := tr.SessionKey("tg:-100"); key != "tg:-100" {
		t.Fatalf("prefixed key = %q", key)
	}
	if _, err := tr.SessionKey("abc"); err == nil {
		t.Fatal("expected error for non-numeric chat id")
	}
}

func TestSendWithoutBot(t *testing.T) {
	tr := NewTransport()
	_, err := tr.Reply(context.Background(), transport.Message{To: "tg:1", Text: "hi", ReplyTo: "5"})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v", err)
	}
}

func TestWrapError(t *testing.T) {
	unauthorized := wrapError(fmt.Errorf("send: %w", tele.ErrUnauthorized))
	var tgErr *Error
	if !errors.As(unauthorized, &tgErr) || !tgErr.InvalidToken() || tgErr.Throttled() {
		t.Fatalf("unauthorized = %+v", tgErr)
	}
	generic := wrapError(errors.New("Post \"https://api.telegram.org/bot123:ABC-def/sendMessage\": timeout"))
	if got := generic.Error(); got != "Post \"https://api.telegram.org/bot<redacted>/sendMessage\": timeout" {
		t.Fatalf("token not redacted: %s", got)
	}
	if !errors.As(generic, &tgErr) || tgErr.Code != 0 {
		t.Fatalf("generic = %+v", tgErr)
	}
}

func TestReconnectDelay(t *testing.T) {
	cases := map[int]time.Duration{1: 10 * time.Second, 3: 30 * time.Second, 6: time.Minute, 9: time.Minute}
	for attempt, want := range cases {
		if got := reconnectDelay(attempt); got != want {
			t.Errorf("reconnectDelay(%d) = %s, want %s", attempt, got, want)
		}
	}
}

func TestNewPoller(t *testing.T) {
	cfg := &coreconfig.Config{}
	cfg.Telegram.RunMode = coreconfig.RunModeLongpoll
	lp, ok := newPoller(cfg).(*tele.LongPoller)
	if !ok || lp.Timeout != defaultLongPollTimeout {
		t.Fatalf("longpoll poller = %#v", newPoller(cfg))
	}

	cfg.Telegram.RunMode = coreconfig.RunModeWebhook
	cfg.Webhook = coreconfig.WebhookConfig{Listen: "0.0.0.0", Port: 8443, URL: "https://bot.example.com/tg"}
	wh, ok := newPoller(cfg).(*tele.Webhook)
	if !ok || wh.Listen != "0.0.0.0:8443" || wh.Endpoint.PublicURL != "https://bot.example.com/tg" {
		t.Fatalf("webhook poller = %#v", newPoller(cfg))
	}
}
