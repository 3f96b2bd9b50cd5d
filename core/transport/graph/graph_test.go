package graph

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	coreconfig "github.com/m3rciful/privybot/core/config"
	"github.com/m3rciful/privybot/core/conversation"
	"github.com/m3rciful/privybot/core/graphapi"
	"github.com/m3rciful/privybot/core/transport"
)

func TestBuildPayloadButtons(t *testing.T) {
	msg := transport.Message{
		To:      "2348012345678",
		Text:    "How old are you?",
		Options: conversation.AgeOptions(),
	}
	raw, _ := json.Marshal(BuildPayload(msg, "wamid.in"))
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if got["type"] != "interactive" {
		t.Fatalf("type = %v", got["type"])
	}
	if ctx := got["context"].(map[string]any); ctx["message_id"] != "wamid.in" {
		t.Fatalf("context = %v", ctx)
	}
	buttons := got["interactive"].(map[string]any)["action"].(map[string]any)["buttons"].([]any)
	if len(buttons) != 3 {
		t.Fatalf("buttons = %d", len(buttons))
	}
	first := buttons[0].(map[string]any)["reply"].(map[string]any)
	if first["id"] != "child" {
		t.Fatalf("first button = %v", first)
	}
}

func TestBuildPayloadLongMenuFallsBackToText(t *testing.T) {
	msg := transport.Message{To: "1", Text: "Pick a topic", Options: conversation.TopicMenu(conversation.PrivacyHigh, true)}
	p := BuildPayload(msg, "").(outbound)
	if p.Type != "text" || p.Interactive != nil || p.Context != nil {
		t.Fatalf("payload = %+v", p)
	}
	if !strings.Contains(p.Text.Body, "\nE. ") {
		t.Fatalf("body missing lettered list: %q", p.Text.Body)
	}
}

func TestSendPostsWithBearer(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.out"}]}`))
	}))
	defer srv.Close()

	c := New(coreconfig.MetaConfig{BaseURL: srv.URL, APIVersion: "v18.0", PhoneNumberID: "555"}, srv.Client())
	res, err := c.Send(context.Background(), transport.Message{To: "1", Text: "hi", Token: "EAAtoken"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotPath != "/v18.0/555/messages" || gotAuth != "Bearer EAAtoken" {
		t.Fatalf("path=%s auth=%s", gotPath, gotAuth)
	}
	if res.MessageID != "wamid.out" || res.Transport != Name {
		t.Fatalf("result = %+v", res)
	}
}

func TestSendSurfacesGraphError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"(#80007) Rate limit hit","code":80007}}`))
	}))
	defer srv.Close()

	c := New(coreconfig.MetaConfig{BaseURL: srv.URL, APIVersion: "v18.0", PhoneNumberID: "555"}, srv.Client())
	_, err := c.Reply(context.Background(), transport.Message{To: "1", Text: "hi", Token: "t", ReplyTo: "wamid.x"})
	apiErr, ok := graphapi.AsError(err)
	if !ok || !apiErr.Throttled() {
		t.Fatalf("err = %v", err)
	}
	if _, err := c.Send(context.Background(), transport.Message{To: "1", Text: "hi"}); !errors.Is(err, ErrNoToken) {
		t.Fatalf("missing token err = %v", err)
	}
}

func TestVerify(t *testing.T) {
	q := url.Values{"hub.mode": {"subscribe"}, "hub.verify_token": {"secret"}, "hub.challenge": {"1158201444"}}
	got, err := Verify(q, "secret")
	if err != nil || got != "1158201444" {
		t.Fatalf("Verify = %q, %v", got, err)
	}
	if _, err := Verify(q, "other"); !errors.Is(err, ErrVerifyRejected) {
		t.Fatalf("wrong token err = %v", err)
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"object":"whatsapp_business_account"}`)
	mac := hmac.New(sha256.New, []byte("app-secret"))
	mac.Write(body)
	header := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if err := VerifySignature("app-secret", body, header); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
	if err := VerifySignature("app-secret", []byte("tampered"), header); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("tampered err = %v", err)
	}
}

func TestParseWebhook(t *testing.T) {
	body := []byte(`{"object":"whatsapp_business_account","entry":[{"changes":[{"field":"messages","value":{
		"statuses":[{"id":"wamid.s","status":"delivered"}],
		"messages":[
			{"from":"2348011111111","id":"wamid.1","type":"text","text":{"body":"hi"}},
			{"from":"2348011111111","id":"wamid.2","type":"interactive","interactive":{"type":"button_reply","button_reply":{"id":"teen","title":"Teen (13-19)"}}},
			{"from":"2348011111111","id":"wamid.3","type":"image","image":{"id":"x"}}
		]}}]}]}`)
	got, err := ParseWebhook(body)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("messages = %+v", got)
	}
	if got[0].Text != "hi" || got[1].Text != "teen" || got[1].MessageID != "wamid.2" {
		t.Fatalf("messages = %+v", got)
	}
	if _, err := ParseWebhook([]byte("{")); err == nil {
		t.Fatal("expected decode error")
	}
}
