// Package middleware holds the telebot middlewares of the Telegram runtime.
package middleware

import (
	"log/slog"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/privybot/core/logger"
	tghelpers "github.com/m3rciful/privybot/core/telegram/helpers"
)

const updateMemory = 10 * time.Second

// updateSet remembers update ids for a short while; telegram redelivers
// an update when the previous getUpdates offset was not acknowledged.
type updateSet struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[int]time.Time
	next time.Time
}

func newUpdateSet(ttl time.Duration) *updateSet {
	return &updateSet{ttl: ttl, seen: make(map[int]time.Time)}
}

// firstSeen records id and reports whether it was new.
func (s *updateSet) firstSeen(id int, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.After(s.next) {
		for k, at := range s.seen {
			if now.Sub(at) > s.ttl {
				delete(s.seen, k)
			}
		}
		s.next = now.Add(s.ttl)
	}
	if at, ok := s.seen[id]; ok && now.Sub(at) <= s.ttl {
		return false
	}
	s.seen[id] = now
	return true
}

var received = newUpdateSet(updateMemory)

// LoggerMiddleware assigns a request id, stores the logging context and
// logs one receipt line per update.
func LoggerMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		start := time.Now()
		c.Set(tghelpers.RIDKey, logger.NewRID())
		ctx := tghelpers.BuildContext(c)

		upd := c.Update()
		if logger.ShouldSampleDebug() && received.firstSeen(upd.ID, start) {
			logger.LogEvent(ctx, logger.TG, slog.LevelDebug, "update.received", updateAttrs(c)...)
		}

		err := next(c)
		logger.LogEvent(ctx, logger.TG, slog.LevelDebug, "update.done",
			slog.String("status", logger.Status(err)),
			slog.Duration("took", logger.Took(start)),
		)
		return err
	}
}

func updateAttrs(c tele.Context) []slog.Attr {
	upd := c.Update()
	attrs := []slog.Attr{slog.Int("update_id", upd.ID)}
	if chat := c.Chat(); chat != nil {
		attrs = append(attrs, slog.String("chat_type", string(chat.Type)))
	}
	if sender := c.Sender(); sender != nil && sender.LanguageCode != "" {
		attrs = append(attrs, slog.String("lang", sender.LanguageCode))
	}
	switch {
	case upd.Callback != nil:
		attrs = append(attrs,
			slog.String("kind", "callback"),
			slog.String("cb_key", logger.SanitizeLimit(upd.Callback.Unique, 64)),
			slog.String("payload", logger.SanitizeLimit(upd.Callback.Data, 64)),
		)
	case upd.Message != nil:
		attrs = append(attrs,
			slog.String("kind", "message"),
			slog.Int("chars", len([]rune(c.Text()))),
		)
	}
	return attrs
}
