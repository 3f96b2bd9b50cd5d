// Package graphapi holds the request and error plumbing shared by the Graph
// API clients.
package graphapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Graph error codes the application reacts to.
const (
	CodeInvalidToken   = 190
	CodeRateLimitHit   = 80007
	CodeTooManyCalls   = 4
	CodeUserRateLimit  = 17
	CodeAppRateLimited = 32
)

// Error is an error envelope returned by the Graph API.
type Error struct {
	Status    int    `json:"-"`
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	Subcode   int    `json:"error_subcode"`
	FBTraceID string `json:"fbtrace_id"`
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != 0 {
		return fmt.Sprintf("graph api: %s (code %d, http %d)", msg, e.Code, e.Status)
	}
	return fmt.Sprintf("graph api: %s (http %d)", msg, e.Status)
}

// InvalidToken reports whether the error means the access token is unusable.
func (e *Error) InvalidToken() bool {
	return e.Code == CodeInvalidToken || e.Status == http.StatusUnauthorized
}

// Throttled reports whether the error is a provider-side rate limit.
func (e *Error) Throttled() bool {
	switch e.Code {
	case CodeRateLimitHit, CodeTooManyCalls, CodeUserRateLimit, CodeAppRateLimited:
		return true
	}
	return e.Status == http.StatusTooManyRequests
}

// AsError unwraps a Graph API error from err.
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// Endpoint joins the base URL, API version and path.
func Endpoint(baseURL, version string, segments ...string) string {
	parts := append([]string{strings.TrimRight(baseURL, "/"), strings.Trim(version, "/")}, segments...)
	return strings.Join(parts, "/")
}

// Get performs a GET with query parameters and decodes the JSON response into out.
func Get(ctx context.Context, client *http.Client, endpoint string, query url.Values, out any) error {
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return Do(client, req, out)
}

// Do sends req and decodes a JSON body into out, or the Graph error envelope
// into *Error for non-2xx responses.
func Do(client *http.Client, req *http.Request, out any) error {
	if client == nil {
		client = http.DefaultClient
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return redactURL(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, body)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(status int, body []byte) error {
	var envelope struct {
		Error *Error `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		envelope.Error.Status = status
		return envelope.Error
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return &Error{Status: status, Message: msg}
}

// redactURL drops the query from a transport error; Graph calls carry tokens
// and the app secret there.
func redactURL(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		if u, perr := url.Parse(ue.URL); perr == nil && u.RawQuery != "" {
			u.RawQuery = "redacted"
			ue.URL = u.String()
		}
	}
	return err
}
