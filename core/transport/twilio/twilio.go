// Package twilio delivers replies through the Twilio Messages API on a
// WhatsApp sender and validates its webhook callbacks.
package twilio

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	coreconfig "github.com/m3rciful/privybot/core/config"
	"github.com/m3rciful/privybot/core/transport"
)

// Name identifies the transport in sessions and logs.
const Name = "twilio"

const (
	defaultBaseURL   = "https://api.twilio.com"
	addressPrefix    = "whatsapp:"
	codeTooManyCalls = 20429
)

// ErrBadSignature is returned when X-Twilio-Signature does not match.
var ErrBadSignature = errors.New("twilio: invalid request signature")

// Error is an error returned by the Messages API.
type Error struct {
	Status   int    `json:"status"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("twilio: %s (code %d, http %d)", e.Message, e.Code, e.Status)
}

// Throttled reports a provider-side rate limit.
func (e *Error) Throttled() bool {
	return e.Status == http.StatusTooManyRequests || e.Code == codeTooManyCalls
}

// InvalidToken reports rejected account credentials.
func (e *Error) InvalidToken() bool {
	return e.Status == http.StatusUnauthorized
}

// Client sends WhatsApp messages from one Twilio number.
type Client struct {
	baseURL    string
	accountSID string
	authToken  string
	from       string
	http       *http.Client
}

// New returns a Client for cfg.
func New(cfg coreconfig.TwilioConfig, httpClient *http.Client) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    base,
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.PhoneNumber,
		http:       httpClient,
	}
}

func (c *Client) Name() string { return Name }

type messageResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// Send posts msg with options rendered as a lettered list.
func (c *Client) Send(ctx context.Context, msg transport.Message) (transport.Result, error) {
	form := url.Values{}
	form.Set("From", Address(c.from))
	form.Set("To", Address(msg.To))
	form.Set("Body", transport.RenderText(msg.Text, msg.Options))

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, url.PathEscape(c.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return transport.Result{}, fmt.Errorf("twilio: build request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return transport.Result{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return transport.Result{}, fmt.Errorf("twilio: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{}
		if json.Unmarshal(body, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		apiErr.Status = resp.StatusCode
		return transport.Result{}, apiErr
	}
	var out messageResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return transport.Result{}, fmt.Errorf("twilio: decode response: %w", err)
	}
	return transport.Result{Transport: Name, MessageID: out.SID}, nil
}

// Address prefixes a bare number with the WhatsApp channel.
func Address(number string) string {
	number = strings.TrimSpace(number)
	if strings.HasPrefix(number, addressPrefix) {
		return number
	}
	if !strings.HasPrefix(number, "+") {
		number = "+" + number
	}
	return addressPrefix + number
}

// Inbound is a message delivered to the webhook.
type Inbound struct {
	From      string
	MessageID string
	Text      string
}

// ParseInbound reads the webhook form. From keeps its channel prefix; the
// caller normalizes it.
func ParseInbound(form url.Values) (Inbound, bool) {
	in := Inbound{
		From:      strings.TrimSpace(form.Get("From")),
		MessageID: form.Get("MessageSid"),
		Text:      form.Get("Body"),
	}
	if payload := form.Get("ButtonPayload"); payload != "" {
		in.Text = payload
	}
	if in.From == "" || strings.TrimSpace(in.Text) == "" {
		return Inbound{}, false
	}
	return in, true
}

// ValidateSignature checks X-Twilio-Signature: base64 HMAC-SHA1 of the full
// URL followed by every POST parameter name and value, sorted by name.
func ValidateSignature(authToken, fullURL string, form url.Values, signature string) error {
	expected := Sign(authToken, fullURL, form)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}

// Sign computes the signature Twilio sends for a request.
func Sign(authToken, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range form[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
