// Package graph delivers replies through the WhatsApp Cloud API and parses
// its webhook callbacks.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"

	coreconfig "github.com/m3rciful/privybot/core/config"
	"github.com/m3rciful/privybot/core/graphapi"
	"github.com/m3rciful/privybot/core/transport"
)

// Name identifies the transport in sessions and logs.
const Name = "graph"

const (
	maxButtons      = 3
	maxButtonTitle  = 20
	maxButtonBodyCh = 1024
)

// ErrNoToken is returned when Send is called without an access token.
var ErrNoToken = errors.New("graph: access token required")

// Client sends messages from one business phone number.
type Client struct {
	baseURL       string
	version       string
	phoneNumberID string
	http          *http.Client
}

// New returns a Client for cfg. A nil httpClient uses http.DefaultClient.
func New(cfg coreconfig.MetaConfig, httpClient *http.Client) *Client {
	return &Client{
		baseURL:       cfg.BaseURL,
		version:       cfg.APIVersion,
		phoneNumberID: cfg.PhoneNumberID,
		http:          httpClient,
	}
}

func (c *Client) Name() string { return Name }

// NeedsToken is true: every call carries the managed access token.
func (c *Client) NeedsToken() bool { return true }

// Send delivers msg as a standalone message.
func (c *Client) Send(ctx context.Context, msg transport.Message) (transport.Result, error) {
	return c.post(ctx, msg, "")
}

// Reply delivers msg threaded to msg.ReplyTo.
func (c *Client) Reply(ctx context.Context, msg transport.Message) (transport.Result, error) {
	if msg.ReplyTo == "" {
		return c.post(ctx, msg, "")
	}
	return c.post(ctx, msg, msg.ReplyTo)
}

type outbound struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Context          *msgContext  `json:"context,omitempty"`
	Text             *textBody    `json:"text,omitempty"`
	Interactive      *interactive `json:"interactive,omitempty"`
}

type msgContext struct {
	MessageID string `json:"message_id"`
}

type textBody struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type interactive struct {
	Type string `json:"type"`
	Body struct {
		Text string `json:"text"`
	} `json:"body"`
	Action struct {
		Buttons []button `json:"buttons"`
	} `json:"action"`
}

type button struct {
	Type  string `json:"type"`
	Reply struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"reply"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// BuildPayload renders msg. Up to three options become reply buttons whose
// id is the option value; longer menus are appended as a lettered list.
func BuildPayload(msg transport.Message, replyTo string) any {
	out := outbound{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               msg.To,
	}
	if replyTo != "" {
		out.Context = &msgContext{MessageID: replyTo}
	}
	if useButtons(msg) {
		ia := &interactive{Type: "button"}
		ia.Body.Text = msg.Text
		for _, opt := range msg.Options {
			var b button
			b.Type = "reply"
			b.Reply.ID = opt.Value
			b.Reply.Title = truncate(opt.Label, maxButtonTitle)
			ia.Action.Buttons = append(ia.Action.Buttons, b)
		}
		out.Type = "interactive"
		out.Interactive = ia
		return out
	}
	out.Type = "text"
	out.Text = &textBody{Body: transport.RenderText(msg.Text, msg.Options)}
	return out
}

func useButtons(msg transport.Message) bool {
	return len(msg.Options) > 0 && len(msg.Options) <= maxButtons &&
		msg.Text != "" && utf8.RuneCountInString(msg.Text) <= maxButtonBodyCh
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

func (c *Client) post(ctx context.Context, msg transport.Message, replyTo string) (transport.Result, error) {
	if msg.Token == "" {
		return transport.Result{}, ErrNoToken
	}
	body, err := json.Marshal(BuildPayload(msg, replyTo))
	if err != nil {
		return transport.Result{}, fmt.Errorf("graph: encode payload: %w", err)
	}
	endpoint := graphapi.Endpoint(c.baseURL, c.version, c.phoneNumberID, "messages")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return transport.Result{}, fmt.Errorf("graph: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+msg.Token)
	req.Header.Set("Content-Type", "application/json")

	var resp sendResponse
	if err := graphapi.Do(c.http, req, &resp); err != nil {
		return transport.Result{}, err
	}
	res := transport.Result{Transport: Name}
	if len(resp.Messages) > 0 {
		res.MessageID = resp.Messages[0].ID
	}
	return res, nil
}
