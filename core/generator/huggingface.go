package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HuggingFace calls a text-generation inference endpoint.
type HuggingFace struct {
	url    string
	apiKey string
	params Params
	client *http.Client
}

// NewHuggingFace returns a client for the model served at url.
func NewHuggingFace(url, apiKey string, params Params, client *http.Client) *HuggingFace {
	return &HuggingFace{url: url, apiKey: apiKey, params: params, client: client}
}

type hfRequest struct {
	Inputs     string       `json:"inputs"`
	Parameters hfParameters `json:"parameters"`
}

type hfParameters struct {
	MaxNewTokens   int     `json:"max_new_tokens"`
	ReturnFullText bool    `json:"return_full_text"`
	Temperature    float64 `json:"temperature"`
}

type hfResult struct {
	GeneratedText string `json:"generated_text"`
}

// Generate posts the prompt and returns the first generated text.
func (h *HuggingFace) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(hfRequest{
		Inputs: prompt,
		Parameters: hfParameters{
			MaxNewTokens: h.params.MaxTokens,
			Temperature:  h.params.Temperature,
		},
	})
	if err != nil {
		return "", wrap("huggingface", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return "", wrap("huggingface", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return "", wrap("huggingface", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", wrap("huggingface", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", wrap("huggingface", fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	var results []hfResult
	if err := json.Unmarshal(raw, &results); err != nil {
		var single hfResult
		if err2 := json.Unmarshal(raw, &single); err2 != nil {
			return "", wrap("huggingface", fmt.Errorf("decode response: %w", err))
		}
		results = []hfResult{single}
	}
	if len(results) == 0 || strings.TrimSpace(results[0].GeneratedText) == "" {
		return "", wrap("huggingface", fmt.Errorf("empty response"))
	}
	return strings.TrimSpace(results[0].GeneratedText), nil
}
