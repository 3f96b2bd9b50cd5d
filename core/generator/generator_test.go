package generator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	coreconfig "github.com/m3rciful/privybot/core/config"
)

func TestHuggingFaceGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer hf-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req hfRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Inputs != "explain 2FA" || req.Parameters.MaxNewTokens != 200 || req.Parameters.ReturnFullText {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`[{"generated_text":"  Two-factor adds a second check.  "}]`))
	}))
	defer srv.Close()

	g := NewHuggingFace(srv.URL, "hf-key", Params{MaxTokens: 200, Temperature: 0.7}, srv.Client())
	text, err := g.Generate(context.Background(), "explain 2FA")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "Two-factor adds a second check." {
		t.Fatalf("text = %q", text)
	}
}

func TestHuggingFaceErrorsWrapGeneration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"Model is currently loading"}`))
	}))
	defer srv.Close()

	g := NewHuggingFace(srv.URL, "", Params{}, srv.Client())
	if _, err := g.Generate(context.Background(), "x"); !errors.Is(err, ErrGeneration) {
		t.Fatalf("err = %v", err)
	}
}

func TestOpenAIGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" || r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Model != "test-model" || len(body.Messages) != 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"test-model",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Use a VPN."}}]}`))
	}))
	defer srv.Close()

	g := NewOpenAI("sk-test", srv.URL+"/", Params{Model: "test-model", MaxTokens: 50, Temperature: 0.2}, srv.Client())
	text, err := g.Generate(context.Background(), "how to hide my ip")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "Use a VPN." {
		t.Fatalf("text = %q", text)
	}
}

func TestNewSelectsProvider(t *testing.T) {
	g, err := New(coreconfig.GeneratorConfig{Provider: coreconfig.GeneratorHuggingFace, BaseURL: "http://example"}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := g.(*HuggingFace); !ok {
		t.Fatalf("got %T", g)
	}
	g, err = New(coreconfig.GeneratorConfig{Provider: coreconfig.GeneratorOpenAI, Model: "m"}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := g.(*OpenAI); !ok {
		t.Fatalf("got %T", g)
	}
	if _, err := New(coreconfig.GeneratorConfig{Provider: "nope"}, nil); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
