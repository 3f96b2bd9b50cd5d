// Package transport defines how replies leave the process and how a
// long-lived client connection reports its state.
package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/m3rciful/privybot/core/conversation"
)

// Message is an outbound reply addressed to one recipient.
type Message struct {
	// To is the transport-specific address: a phone number for WhatsApp
	// transports, a chat id for Telegram.
	To      string
	Text    string
	Options []conversation.Option
	// ReplyTo is the inbound message id a threaded reply refers to.
	ReplyTo string
	// Token is the access token for transports that authenticate per call.
	Token string
}

// Result describes an accepted delivery.
type Result struct {
	Transport string
	MessageID string
}

// Transport delivers messages.
type Transport interface {
	Name() string
	Send(ctx context.Context, msg Message) (Result, error)
}

// Replier is implemented by transports that can thread a reply to the
// inbound message. Callers fall back to Send when Reply fails.
type Replier interface {
	Reply(ctx context.Context, msg Message) (Result, error)
}

// TokenUser is implemented by transports that need the managed access token.
type TokenUser interface {
	NeedsToken() bool
}

// NeedsToken reports whether t wants an access token on every message.
func NeedsToken(t Transport) bool {
	tu, ok := t.(TokenUser)
	return ok && tu.NeedsToken()
}

// RenderText appends options as a lettered list, one per line.
func RenderText(text string, options []conversation.Option) string {
	if len(options) == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n")
	for i, opt := range options {
		fmt.Fprintf(&b, "\n%s. %s", conversation.OptionKey(i), opt.Label)
	}
	return b.String()
}
