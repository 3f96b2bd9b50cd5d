package credential

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/m3rciful/privybot/core/graphapi"
)

func newGraphServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v18.0/debug_token", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("access_token") != "app|secret" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"bad app token","code":190}}`))
			return
		}
		if q.Get("input_token") != "user-token" {
			_, _ = w.Write([]byte(`{"data":{"is_valid":false}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":{"is_valid":true,"expires_at":1700001800}}`))
	})
	mux.HandleFunc("/v18.0/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("grant_type") != "fb_exchange_token" || q.Get("fb_exchange_token") != "user-token" ||
			q.Get("client_id") != "app" || q.Get("client_secret") != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"invalid exchange","code":100}}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"long-lived","token_type":"bearer","expires_in":5184000}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestGraphAuthorityDebug(t *testing.T) {
	srv := newGraphServer(t)
	a := &GraphAuthority{BaseURL: srv.URL, Version: "v18.0", AppID: "app", AppSecret: "secret", Client: srv.Client()}

	v, err := a.Debug(context.Background(), "user-token")
	if err != nil {
		t.Fatalf("Debug: %v", err)
	}
	if !v.Valid || !v.ExpiresAt.Equal(time.Unix(1700001800, 0)) {
		t.Fatalf("validation = %+v", v)
	}

	v, err = a.Debug(context.Background(), "other")
	if err != nil || v.Valid {
		t.Fatalf("validation=%+v err=%v", v, err)
	}

	a.AppSecret = "wrong"
	_, err = a.Debug(context.Background(), "user-token")
	apiErr, ok := graphapi.AsError(err)
	if !ok || !apiErr.InvalidToken() {
		t.Fatalf("err = %v", err)
	}
}

func TestGraphAuthorityExchange(t *testing.T) {
	srv := newGraphServer(t)
	a := &GraphAuthority{BaseURL: srv.URL, Version: "v18.0", AppID: "app", AppSecret: "secret", Client: srv.Client()}

	ex, err := a.Exchange(context.Background(), "user-token")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if ex.AccessToken != "long-lived" || ex.ExpiresIn != 60*24*time.Hour {
		t.Fatalf("exchange = %+v", ex)
	}

	if _, err := a.Exchange(context.Background(), "stale"); err == nil {
		t.Fatal("expected error for rejected exchange")
	}
}

func TestManagerWithGraphAuthority(t *testing.T) {
	srv := newGraphServer(t)
	now := time.Unix(1700000000, 0)
	m := NewManager(Options{
		Authority:    &GraphAuthority{BaseURL: srv.URL, Version: "v18.0", AppID: "app", AppSecret: "secret", Client: srv.Client()},
		InitialToken: "user-token",
		Now:          func() time.Time { return now },
	})

	token, err := m.GetValidToken(context.Background())
	if err != nil {
		t.Fatalf("GetValidToken: %v", err)
	}
	if token != "long-lived" {
		t.Fatalf("token expiring within the buffer should be exchanged, got %q", token)
	}
}

func TestNetworkFailureKeepsSecretsOutOfInfo(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	const userToken = "EAAGsupersecretlonglivedtoken1234"
	a := &GraphAuthority{BaseURL: base, Version: "v18.0", AppID: "app", AppSecret: "appsecretvalue", Client: &http.Client{Timeout: time.Second}}
	m := NewManager(Options{Authority: a, InitialToken: userToken})

	if m.ValidateAndUpdateToken(context.Background()) {
		t.Fatal("validation against a closed server succeeded")
	}
	if err := m.RefreshToken(context.Background()); err == nil {
		t.Fatal("refresh against a closed server succeeded")
	}

	raw, err := json.Marshal(m.Info())
	if err != nil {
		t.Fatal(err)
	}
	body := string(raw)
	if !strings.Contains(body, "lastError") {
		t.Fatalf("info has no error: %s", body)
	}
	for _, secret := range []string{userToken, "appsecretvalue"} {
		if strings.Contains(body, secret) {
			t.Fatalf("info leaks %q: %s", secret, body)
		}
	}
}
