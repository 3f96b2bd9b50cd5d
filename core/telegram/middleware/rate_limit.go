package middleware

import (
	"log/slog"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/privybot/core/logger"
	"github.com/m3rciful/privybot/core/ratelimit"
	tghelpers "github.com/m3rciful/privybot/core/telegram/helpers"
)

// RateLimitOptions configures behaviour of the rate limit middleware.
type RateLimitOptions struct {
	Interval  time.Duration
	OnLimited tele.HandlerFunc
	Now       func() time.Time
}

// chatLimits holds one single-slot window per chat.
type chatLimits struct {
	mu       sync.Mutex
	interval time.Duration
	now      func() time.Time
	chats    map[int64]*chatWindow
	sweepAt  time.Time
}

type chatWindow struct {
	w    *ratelimit.Window
	used time.Time
}

func (l *chatLimits) allow(chatID int64) bool {
	now := l.now()
	l.mu.Lock()
	if now.After(l.sweepAt) {
		for id, cw := range l.chats {
			if now.Sub(cw.used) > l.interval {
				delete(l.chats, id)
			}
		}
		l.sweepAt = now.Add(time.Minute)
	}
	cw, ok := l.chats[chatID]
	if !ok {
		cw = &chatWindow{w: ratelimit.New(l.interval, 1).WithClock(l.now)}
		l.chats[chatID] = cw
	}
	cw.used = now
	l.mu.Unlock()
	return cw.w.Allow() == nil
}

// RateLimitMiddleware drops updates of a chat arriving less than
// opts.Interval after its previous accepted update.
func RateLimitMiddleware(opts RateLimitOptions) tele.MiddlewareFunc {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	limits := &chatLimits{interval: opts.Interval, now: opts.Now, chats: make(map[int64]*chatWindow)}
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			chat := c.Chat()
			if chat == nil || opts.Interval <= 0 || limits.allow(chat.ID) {
				return next(c)
			}
			logger.LogEvent(tghelpers.BuildContext(c), logger.TG, slog.LevelWarn, "tg.rate_limit",
				slog.String("status", "rate_limited"),
				slog.Duration("interval", opts.Interval),
			)
			if opts.OnLimited != nil {
				_ = opts.OnLimited(c)
			}
			return nil
		}
	}
}
