// Package keyboard renders reply options as Telegram inline keyboards.
package keyboard

import (
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/privybot/core/conversation"
)

// OptionUnique is the callback endpoint shared by every option button.
const OptionUnique = "opt"

const maxButtonText = 64

// Options returns an inline keyboard with one option per row, or nil when
// there are none. Each button carries the option letter as callback data so
// a tap goes through the same parser as a typed reply.
func Options(options []conversation.Option) *tele.ReplyMarkup {
	if len(options) == 0 {
		return nil
	}
	markup := &tele.ReplyMarkup{}
	rows := make([]tele.Row, 0, len(options))
	for i, opt := range options {
		key := conversation.OptionKey(i)
		rows = append(rows, markup.Row(markup.Data(label(key, opt.Label), OptionUnique, key)))
	}
	markup.Inline(rows...)
	return markup
}

func label(key, text string) string {
	s := key + ". " + text
	if utf8.RuneCountInString(s) <= maxButtonText {
		return s
	}
	return string([]rune(s)[:maxButtonText-1]) + "…"
}
