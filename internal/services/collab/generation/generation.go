// Package generation provides completion providers for the assistant.
package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/louisbranch/codecollab/internal/platform/timeouts"
)

// Provider names accepted by New.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderEcho   = "echo"
)

// DefaultSystemPrompt frames replies for a shared coding room. Replies are
// JSON objects so clients can render text and proposed files separately.
const DefaultSystemPrompt = `You are an expert software engineer assisting a team in a shared coding room.
Answer with a single JSON object. Put your explanation in "text". When you propose files,
add "fileTree" mapping each path to {"file":{"contents":"..."}}.`

// Completer produces one completion for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider     string
	Model        string
	APIKey       string
	BaseURL      string
	SystemPrompt string
	HTTPClient   *http.Client
	// Timeout bounds the default HTTP client; it should match the
	// assistant invocation timeout.
	Timeout time.Duration
}

// New builds the provider named by cfg.Provider.
func New(ctx context.Context, cfg Config) (Completer, error) {
	if cfg.HTTPClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = timeouts.HTTPClient
		}
		cfg.HTTPClient = &http.Client{Timeout: timeout}
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderOpenAI:
		return NewOpenAI(OpenAIConfig{
			ResponsesURL: cfg.BaseURL,
			APIKey:       cfg.APIKey,
			Model:        cfg.Model,
			Instructions: cfg.SystemPrompt,
			HTTPClient:   cfg.HTTPClient,
		})
	case ProviderGemini:
		return NewGemini(ctx, GeminiConfig{
			APIKey:            cfg.APIKey,
			Model:             cfg.Model,
			BaseURL:           cfg.BaseURL,
			SystemInstruction: cfg.SystemPrompt,
			HTTPClient:        cfg.HTTPClient,
		})
	case "", ProviderEcho:
		return Echo{}, nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}
}

// Echo answers with the prompt. It backs local development without
// provider credentials.
type Echo struct{}

// Complete returns the prompt as the completion text.
func (Echo) Complete(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("prompt is required")
	}
	return "echo: " + prompt, nil
}
