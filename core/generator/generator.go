// Package generator calls external text generation services.
package generator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	coreconfig "github.com/m3rciful/privybot/core/config"
)

// ErrGeneration wraps every failure of a generation backend.
var ErrGeneration = errors.New("text generation failed")

// Generator turns a prompt into text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Params are the sampling parameters shared by all backends.
type Params struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// New builds the backend selected by cfg.Provider.
func New(cfg coreconfig.GeneratorConfig, client *http.Client) (Generator, error) {
	params := Params{Model: cfg.Model, MaxTokens: cfg.MaxTokens, Temperature: cfg.Temperature}
	if client == nil {
		client = &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}
	}
	switch cfg.Provider {
	case coreconfig.GeneratorOpenAI:
		return NewOpenAI(cfg.APIKey, cfg.BaseURL, params, client), nil
	case coreconfig.GeneratorHuggingFace:
		return NewHuggingFace(cfg.BaseURL, cfg.APIKey, params, client), nil
	default:
		return nil, fmt.Errorf("unknown generator provider %q", cfg.Provider)
	}
}

func wrap(backend string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrGeneration, backend, err)
}
