package graphapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestGetDecodesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Error validating access token","type":"OAuthException","code":190,"fbtrace_id":"abc"}}`))
	}))
	defer srv.Close()

	err := Get(context.Background(), srv.Client(), srv.URL, nil, nil)
	apiErr, ok := AsError(err)
	if !ok {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.Code != CodeInvalidToken || apiErr.Status != http.StatusBadRequest || !apiErr.InvalidToken() || apiErr.Throttled() {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestGetDecodesSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var out struct {
		OK bool `json:"ok"`
	}
	if err := Get(context.Background(), srv.Client(), srv.URL, url.Values{"q": {"1"}}, &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !out.OK {
		t.Fatal("body not decoded")
	}
}

func TestThrottledCodes(t *testing.T) {
	for _, e := range []*Error{{Code: CodeRateLimitHit}, {Status: http.StatusTooManyRequests}, {Code: CodeTooManyCalls}} {
		if !e.Throttled() {
			t.Errorf("%+v should be throttled", e)
		}
	}
	if (&Error{Code: 100, Status: 400}).Throttled() {
		t.Error("generic error reported as throttled")
	}
}

func TestEndpoint(t *testing.T) {
	got := Endpoint("https://graph.facebook.com/", "v18.0", "123", "messages")
	if got != "https://graph.facebook.com/v18.0/123/messages" {
		t.Fatalf("Endpoint = %q", got)
	}
}

func TestTransportErrorHidesQuery(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	err := Get(context.Background(), &http.Client{}, endpoint, url.Values{"input_token": {"user-secret-token"}}, nil)
	if err == nil {
		t.Fatal("expected transport error")
	}
	if msg := err.Error(); strings.Contains(msg, "user-secret-token") || !strings.Contains(msg, "redacted") {
		t.Fatalf("error = %q", msg)
	}
	var ue *url.Error
	if !errors.As(err, &ue) {
		t.Fatalf("error type = %T", err)
	}
}
