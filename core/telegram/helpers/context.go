// Package helpers bridges telebot contexts and request-scoped logging.
package helpers

import (
	"context"
	"strconv"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/privybot/core/logger"
)

const (
	// RIDKey is the tele.Context key holding the update's request id.
	RIDKey = "rid"

	ctxKey = "privybot.ctx"
)

// ChatKey is the session key of a chat id.
func ChatKey(chatID int64) string {
	return "tg:" + strconv.FormatInt(chatID, 10)
}

// BuildContext returns the logging context of the update, creating and
// caching it on first use.
func BuildContext(c tele.Context) context.Context {
	if ctx, ok := c.Get(ctxKey).(context.Context); ok {
		return ctx
	}

	rid, _ := c.Get(RIDKey).(string)
	if rid == "" {
		rid = logger.NewRID()
	}
	var user, msgID string
	if chat := c.Chat(); chat != nil {
		user = ChatKey(chat.ID)
	}
	if m := c.Message(); m != nil {
		msgID = strconv.Itoa(m.ID)
	}

	ctx := logger.WithRID(context.Background(), rid)
	ctx = logger.WithInbound(ctx, "telegram", user, msgID)
	ctx = logger.WithLogger(ctx, logger.TG)
	c.Set(ctxKey, ctx)
	return ctx
}

// WithHandler tags the update context with the handling route.
func WithHandler(c tele.Context, handler string) context.Context {
	ctx := BuildContext(c)
	if handler != "" {
		ctx = logger.WithHandler(ctx, handler)
		c.Set(ctxKey, ctx)
	}
	return ctx
}
