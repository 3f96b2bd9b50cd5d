package middleware

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/privybot/core/logger"
	tghelpers "github.com/m3rciful/privybot/core/telegram/helpers"
)

// RecoverMiddleware turns a handler panic into an error so the poller keeps
// running.
func RecoverMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) (err error) {
		defer func() {
			p := recover()
			if p == nil {
				return
			}
			err = fmt.Errorf("telegram: handler panic: %v", p)
			logger.LogEvent(tghelpers.WithHandler(c, "recover"), logger.TG, slog.LevelError, "tg.panic",
				slog.String("status", "fail"),
				slog.Any("err", err),
				slog.String("stack", logger.SanitizeLimit(string(debug.Stack()), 4096)),
			)
		}()
		return next(c)
	}
}
