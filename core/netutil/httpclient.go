// Package netutil holds the HTTP plumbing shared by outbound API clients.
package netutil

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	defaultDialTimeout       = 5 * time.Second
	defaultTLSHandshake      = 5 * time.Second
	defaultIdleConnTimeout   = 30 * time.Second
	defaultResponseTimeout   = 15 * time.Second
	defaultClientTimeout     = 30 * time.Second
	defaultKeepAliveInterval = 30 * time.Second
	defaultRetryBackoff      = time.Second
)

// ClientOptions tunes NewHTTPClient.
type ClientOptions struct {
	// Timeout bounds a whole request including retries; 0 -> 30s.
	Timeout time.Duration
	// MaxRetries is the number of extra attempts after a transient failure.
	MaxRetries int
	// Backoff is multiplied by the attempt number between retries; 0 -> 1s.
	Backoff time.Duration
	// Base replaces the tuned transport, mostly for tests.
	Base http.RoundTripper
}

// NewHTTPClient returns a client with dial/TLS/header timeouts that retries
// transient network errors, and transient statuses of idempotent requests.
func NewHTTPClient(opts ClientOptions) *http.Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultClientTimeout
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultRetryBackoff
	}
	base := opts.Base
	if base == nil {
		base = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAliveInterval}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       defaultIdleConnTimeout,
			TLSHandshakeTimeout:   defaultTLSHandshake,
			ResponseHeaderTimeout: defaultResponseTimeout,
			ExpectContinueTimeout: 1 * time.Second,
		}
	}

	return &http.Client{
		Timeout: opts.Timeout,
		Transport: &retryTransport{
			base:       base,
			maxRetries: opts.MaxRetries,
			backoff:    opts.Backoff,
		},
	}
}

type retryTransport struct {
	base       http.RoundTripper
	maxRetries int
	backoff    time.Duration
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(req.Context(), t.backoff*time.Duration(attempt)); err != nil {
				return nil, err
			}
			next, ok, err := rewind(req)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, lastErr
			}
			req = next
		}
		last := attempt == t.maxRetries

		resp, err := t.base.RoundTrip(req)
		switch {
		case err != nil:
			if last || !ShouldRetry(err) {
				return nil, err
			}
			lastErr = err
		case last || !idempotent(req.Method) || !RetryableStatus(resp.StatusCode):
			return resp, nil
		default:
			drain(resp)
			lastErr = &StatusError{Code: resp.StatusCode}
		}
	}
	return nil, lastErr
}

// rewind clones req for another attempt. ok is false when the body was
// already consumed and cannot be replayed.
func rewind(req *http.Request) (*http.Request, bool, error) {
	next := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return next, true, nil
	}
	if req.GetBody == nil {
		return nil, false, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, false, err
	}
	next.Body = body
	return next, true, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// StatusError reports a transient status that survived no retry budget.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return "upstream returned " + http.StatusText(e.Code)
}

func idempotent(method string) bool {
	switch method {
	case "", http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
