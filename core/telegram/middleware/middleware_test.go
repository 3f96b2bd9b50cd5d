package middleware

import (
	"errors"
	"strings"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"
)

func newContext(t *testing.T, chatID int64, updateID int) tele.Context {
	t.Helper()
	bot, err := tele.NewBot(tele.Settings{Offline: true})
	if err != nil {
		t.Fatalf("NewBot: %v", err)
	}
	return bot.NewContext(tele.Update{
		ID: updateID,
		Message: &tele.Message{
			ID:   updateID,
			Text: "hi",
			Chat: &tele.Chat{ID: chatID, Type: tele.ChatPrivate},
		},
	})
}

func TestRateLimitPerChat(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	limited := 0
	mw := RateLimitMiddleware(RateLimitOptions{
		Interval:  time.Second,
		Now:       func() time.Time { return now },
		OnLimited: func(tele.Context) error { limited++; return nil },
	})
	handled := 0
	h := mw(func(tele.Context) error { handled++; return nil })

	_ = h(newContext(t, 1, 1))
	_ = h(newContext(t, 1, 2))
	_ = h(newContext(t, 2, 3))
	if handled != 2 || limited != 1 {
		t.Fatalf("handled %d limited %d, want 2 and 1", handled, limited)
	}

	now = now.Add(1100 * time.Millisecond)
	_ = h(newContext(t, 1, 4))
	if handled != 3 {
		t.Fatalf("chat 1 still limited after the interval")
	}
}

func TestRecoverMiddleware(t *testing.T) {
	h := RecoverMiddleware(func(tele.Context) error { panic("boom") })
	err := h(newContext(t, 1, 1))
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err = %v", err)
	}

	want := errors.New("plain")
	if got := RecoverMiddleware(func(tele.Context) error { return want })(newContext(t, 1, 2)); got != want {
		t.Fatalf("err = %v, want passthrough", got)
	}
}

func TestLoggerMiddlewarePassesThrough(t *testing.T) {
	called := false
	h := LoggerMiddleware(func(c tele.Context) error {
		called = true
		if rid, _ := c.Get("rid").(string); rid == "" {
			t.Error("rid not set")
		}
		return nil
	})
	if err := h(newContext(t, 7, 9)); err != nil || !called {
		t.Fatalf("err = %v called = %v", err, called)
	}
}

func TestUpdateSet(t *testing.T) {
	s := newUpdateSet(time.Second)
	now := time.Unix(0, 0)
	if !s.firstSeen(1, now) {
		t.Fatal("first sighting reported as duplicate")
	}
	if s.firstSeen(1, now.Add(500*time.Millisecond)) {
		t.Fatal("redelivery inside ttl reported as new")
	}
	if !s.firstSeen(1, now.Add(3*time.Second)) {
		t.Fatal("id not forgotten after ttl")
	}
}
