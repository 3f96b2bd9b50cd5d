package generator

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI calls an OpenAI compatible chat completion endpoint.
type OpenAI struct {
	client openai.Client
	params Params
}

// NewOpenAI returns a chat completion backend. An empty baseURL targets the
// OpenAI API itself.
func NewOpenAI(apiKey, baseURL string, params Params, client *http.Client) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(1),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if client != nil {
		opts = append(opts, option.WithHTTPClient(client))
	}
	return &OpenAI{client: openai.NewClient(opts...), params: params}
}

// Generate sends prompt as a single user message.
func (o *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.params.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if o.params.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(o.params.MaxTokens))
	}
	if o.params.Temperature > 0 {
		params.Temperature = openai.Float(o.params.Temperature)
	}

	completion, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", wrap("openai", err)
	}
	if len(completion.Choices) == 0 {
		return "", wrap("openai", fmt.Errorf("no choices returned"))
	}
	text := strings.TrimSpace(completion.Choices[0].Message.Content)
	if text == "" {
		return "", wrap("openai", fmt.Errorf("empty response"))
	}
	return text, nil
}
