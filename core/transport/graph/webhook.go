package graph

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrVerifyRejected is returned when a subscription handshake does not match.
	ErrVerifyRejected = errors.New("graph: webhook verification rejected")
	// ErrBadSignature is returned when X-Hub-Signature-256 does not match the body.
	ErrBadSignature = errors.New("graph: invalid webhook signature")
)

// Inbound is one user message extracted from a webhook delivery.
type Inbound struct {
	From      string
	MessageID string
	Text      string
	Type      string
}

// Verify answers the subscription handshake and returns the challenge to echo.
func Verify(query url.Values, verifyToken string) (string, error) {
	if verifyToken == "" || query.Get("hub.mode") != "subscribe" || query.Get("hub.verify_token") != verifyToken {
		return "", ErrVerifyRejected
	}
	return query.Get("hub.challenge"), nil
}

// VerifySignature checks the sha256 HMAC of body keyed by the app secret.
func VerifySignature(appSecret string, body []byte, header string) error {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return ErrBadSignature
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}

type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Messages []webhookMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookMessage struct {
	From string `json:"from"`
	ID   string `json:"id"`
	Type string `json:"type"`
	Text struct {
		Body string `json:"body"`
	} `json:"text"`
	Button struct {
		Text    string `json:"text"`
		Payload string `json:"payload"`
	} `json:"button"`
	Interactive struct {
		Type        string    `json:"type"`
		ButtonReply *selected `json:"button_reply"`
		ListReply   *selected `json:"list_reply"`
	} `json:"interactive"`
}

type selected struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ParseWebhook extracts user messages. Status callbacks and unsupported
// message types are skipped. Button replies yield the option value.
func ParseWebhook(body []byte) ([]Inbound, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("graph: decode webhook: %w", err)
	}
	var out []Inbound
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			for _, m := range change.Value.Messages {
				text := messageText(m)
				if m.From == "" || text == "" {
					continue
				}
				out = append(out, Inbound{From: m.From, MessageID: m.ID, Text: text, Type: m.Type})
			}
		}
	}
	return out, nil
}

func messageText(m webhookMessage) string {
	switch m.Type {
	case "text":
		return m.Text.Body
	case "button":
		if m.Button.Payload != "" {
			return m.Button.Payload
		}
		return m.Button.Text
	case "interactive":
		if r := m.Interactive.ButtonReply; r != nil {
			return firstNonEmpty(r.ID, r.Title)
		}
		if r := m.Interactive.ListReply; r != nil {
			return firstNonEmpty(r.ID, r.Title)
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
