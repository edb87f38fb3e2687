package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const defaultOpenAIResponsesURL = "https://api.openai.com/v1/responses"

// OpenAIConfig configures the OpenAI responses endpoint.
type OpenAIConfig struct {
	ResponsesURL string
	APIKey       string
	Model        string
	Instructions string
	HTTPClient   *http.Client
}

// OpenAI completes prompts through the OpenAI responses API.
type OpenAI struct {
	cfg OpenAIConfig
}

// NewOpenAI validates cfg and fills defaults.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("openai model is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if strings.TrimSpace(cfg.ResponsesURL) == "" {
		cfg.ResponsesURL = defaultOpenAIResponsesURL
	}
	return &OpenAI{cfg: cfg}, nil
}

// Complete sends prompt and returns the first output text.
func (o *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", fmt.Errorf("input is required")
	}

	payload := map[string]any{
		"model": o.cfg.Model,
		"input": prompt,
	}
	if instructions := strings.TrimSpace(o.cfg.Instructions); instructions != "" {
		payload["instructions"] = instructions
	}
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal invoke request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.ResponsesURL, bytes.NewReader(requestBody))
	if err != nil {
		return "", fmt.Errorf("build invoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// The key is sent only as an Authorization header and is never echoed in
	// errors.
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)

	res, err := o.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("invoke request failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, err := io.ReadAll(io.LimitReader(res.Body, 4096))
		if err != nil {
			return "", fmt.Errorf("read invoke error body: %w", err)
		}
		return "", fmt.Errorf("invoke request status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		OutputText string `json:"output_text"`
		Output     []struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"output"`
	}
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode invoke response: %w", err)
	}
	outputText := strings.TrimSpace(decoded.OutputText)
	for _, item := range decoded.Output {
		if outputText != "" {
			break
		}
		for _, content := range item.Content {
			if text := strings.TrimSpace(content.Text); text != "" {
				outputText = text
				break
			}
		}
	}
	if outputText == "" {
		return "", fmt.Errorf("invoke response missing output text")
	}
	return outputText, nil
}
