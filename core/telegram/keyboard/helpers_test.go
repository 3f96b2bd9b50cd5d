package keyboard

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/m3rciful/privybot/core/conversation"
)

func TestOptionsKeyboard(t *testing.T) {
	markup := Options(conversation.PrivacyOptions())
	if markup == nil || len(markup.InlineKeyboard) != 3 {
		t.Fatalf("markup = %+v", markup)
	}
	first := markup.InlineKeyboard[0][0]
	if first.Text != "A. Low Privacy" || first.Unique != OptionUnique || first.Data != "A" {
		t.Fatalf("first button = %+v", first)
	}
	if Options(nil) != nil {
		t.Fatal("no options must mean no keyboard")
	}
}

func TestOptionLabelTruncated(t *testing.T) {
	long := strings.Repeat("x", 100)
	markup := Options([]conversation.Option{{Label: long, Value: "v"}})
	text := markup.InlineKeyboard[0][0].Text
	if n := utf8.RuneCountInString(text); n != maxButtonText || !strings.HasPrefix(text, "A. x") || !strings.HasSuffix(text, "…") {
		t.Fatalf("label = %q (%d runes)", text, n)
	}
}
