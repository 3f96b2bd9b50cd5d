package netutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

func TestClientRetriesTransientStatusOnGet(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewHTTPClient(ClientOptions{MaxRetries: 2, Backoff: time.Millisecond})
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || calls.Load() != 3 {
		t.Fatalf("status=%d calls=%d", resp.StatusCode, calls.Load())
	}
}

func TestClientDoesNotRetryPostStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewHTTPClient(ClientOptions{MaxRetries: 3, Backoff: time.Millisecond})
	resp, err := client.Post(srv.URL, "application/json", nil)
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	resp.Body.Close()
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestRetryableStatus(t *testing.T) {
	for code, want := range map[int]bool{429: true, 502: true, 503: true, 504: true, 500: false, 400: false, 200: false} {
		if got := RetryableStatus(code); got != want {
			t.Errorf("RetryableStatus(%d) = %v", code, got)
		}
	}
}

func TestShouldRetry(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"nil":       {nil, false},
		"cancelled": {fmt.Errorf("send: %w", context.Canceled), false},
		"deadline":  {fmt.Errorf("send: %w", context.DeadlineExceeded), true},
		"dial":      {&url.Error{Op: "Post", URL: "http://x", Err: &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}}, true},
		"reset":     {&net.OpError{Op: "read", Err: syscall.ECONNRESET}, true},
		"dns temp":  {&net.DNSError{Err: "server misbehaving", IsTemporary: true}, true},
		"dns gone":  {&net.DNSError{Err: "no such host", IsNotFound: true}, false},
		"plain":     {errors.New("bad payload"), false},
	}
	for name, tc := range cases {
		if got := ShouldRetry(tc.err); got != tc.want {
			t.Errorf("%s: ShouldRetry = %v, want %v", name, got, tc.want)
		}
	}
}
