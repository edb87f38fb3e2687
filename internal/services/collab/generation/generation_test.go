package generation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/louisbranch/codecollab/internal/platform/timeouts"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestNewSelectsProvider(t *testing.T) {
	ctx := context.Background()
	if p, err := New(ctx, Config{}); err != nil {
		t.Fatalf("default provider: %v", err)
	} else if _, ok := p.(Echo); !ok {
		t.Fatalf("default provider = %T, want Echo", p)
	}
	if p, err := New(ctx, Config{Provider: "OpenAI", APIKey: "k", Model: "m"}); err != nil {
		t.Fatalf("openai provider: %v", err)
	} else if _, ok := p.(*OpenAI); !ok {
		t.Fatalf("provider = %T, want *OpenAI", p)
	}
	if _, err := New(ctx, Config{Provider: "openai"}); err == nil {
		t.Fatal("expected openai to require a key")
	}
	if _, err := New(ctx, Config{Provider: "gemini"}); err == nil {
		t.Fatal("expected gemini to require a key")
	}
	if _, err := New(ctx, Config{Provider: "nope"}); err == nil {
		t.Fatal("expected unknown provider error")
	}
}

func TestNewClientTimeoutFollowsConfig(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		want    time.Duration
	}{
		{name: "configured", timeout: 5 * time.Second, want: 5 * time.Second},
		{name: "default", want: timeouts.HTTPClient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(context.Background(), Config{Provider: ProviderOpenAI, APIKey: "k", Model: "m", Timeout: tt.timeout})
			if err != nil {
				t.Fatalf("new: %v", err)
			}
			o, ok := c.(*OpenAI)
			if !ok {
				t.Fatalf("provider = %T", c)
			}
			if o.cfg.HTTPClient.Timeout != tt.want {
				t.Fatalf("client timeout = %v, want %v", o.cfg.HTTPClient.Timeout, tt.want)
			}
		})
	}
}

func TestEcho(t *testing.T) {
	got, err := Echo{}.Complete(context.Background(), "hi")
	if err != nil || got != "echo: hi" {
		t.Fatalf("echo = %q, %v", got, err)
	}
	if _, err := (Echo{}).Complete(context.Background(), " "); err == nil {
		t.Fatal("expected error for empty prompt")
	}
}

func TestNewOpenAIDefaults(t *testing.T) {
	o, err := NewOpenAI(OpenAIConfig{APIKey: "k", Model: "m"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if o.cfg.HTTPClient == nil {
		t.Fatal("expected non-nil HTTP client")
	}
	if o.cfg.ResponsesURL != defaultOpenAIResponsesURL {
		t.Fatalf("responses_url = %q", o.cfg.ResponsesURL)
	}
}

func TestOpenAICompleteSendsRequest(t *testing.T) {
	client := &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodPost {
			t.Fatalf("method = %s", req.Method)
		}
		if got := req.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Fatalf("authorization = %q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["model"] != "gpt-test" || body["input"] != "summarize" || body["instructions"] != "be brief" {
			t.Fatalf("request body = %#v", body)
		}
		return response(http.StatusOK, `{"output":[{"content":[{"type":"output_text","text":"  done  "}]}]}`), nil
	})}
	o, err := NewOpenAI(OpenAIConfig{
		ResponsesURL: "https://openai.test/v1/responses",
		APIKey:       "sk-test",
		Model:        "gpt-test",
		Instructions: "be brief",
		HTTPClient:   client,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	got, err := o.Complete(context.Background(), "summarize")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got != "done" {
		t.Fatalf("completion = %q", got)
	}
}

func TestOpenAICompletePrefersOutputText(t *testing.T) {
	client := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return response(http.StatusOK, `{"output_text":"top","output":[{"content":[{"text":"nested"}]}]}`), nil
	})}
	o, _ := NewOpenAI(OpenAIConfig{APIKey: "k", Model: "m", HTTPClient: client})
	got, err := o.Complete(context.Background(), "x")
	if err != nil || got != "top" {
		t.Fatalf("completion = %q, %v", got, err)
	}
}

func TestOpenAICompleteErrors(t *testing.T) {
	tests := []struct {
		name      string
		transport roundTripFunc
		wantErr   string
	}{
		{
			name: "status",
			transport: func(*http.Request) (*http.Response, error) {
				return response(http.StatusTooManyRequests, `{"error":"slow down"}`), nil
			},
			wantErr: "status 429",
		},
		{
			name: "transport",
			transport: func(*http.Request) (*http.Response, error) {
				return nil, errors.New("dial failed")
			},
			wantErr: "invoke request failed",
		},
		{
			name: "missing text",
			transport: func(*http.Request) (*http.Response, error) {
				return response(http.StatusOK, `{"output":[]}`), nil
			},
			wantErr: "missing output text",
		},
		{
			name: "bad json",
			transport: func(*http.Request) (*http.Response, error) {
				return response(http.StatusOK, `{`), nil
			},
			wantErr: "decode invoke response",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, _ := NewOpenAI(OpenAIConfig{APIKey: "k", Model: "m", HTTPClient: &http.Client{Transport: tt.transport}})
			_, err := o.Complete(context.Background(), "x")
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
			if strings.Contains(err.Error(), "Bearer") {
				t.Fatal("error leaked credential header")
			}
		})
	}
}

func TestOpenAICompleteRequiresPrompt(t *testing.T) {
	client := &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		t.Fatalf("round trip should not execute: %v", req.URL)
		return nil, nil
	})}
	o, _ := NewOpenAI(OpenAIConfig{APIKey: "k", Model: "m", HTTPClient: client})
	if _, err := o.Complete(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty prompt")
	}
}

func TestGeminiComplete(t *testing.T) {
	client := &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if !strings.Contains(req.URL.Path, "gemini-test:generateContent") {
			t.Fatalf("path = %s", req.URL.Path)
		}
		return response(http.StatusOK, `{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"text\":"},{"text":"\"hi\"}"}]}}]}`), nil
	})}
	g, err := NewGemini(context.Background(), GeminiConfig{
		APIKey:     "k",
		Model:      "gemini-test",
		BaseURL:    "https://gemini.test/",
		HTTPClient: client,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got, err := g.Complete(context.Background(), "say hi")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got != `{"text":"hi"}` {
		t.Fatalf("completion = %q", got)
	}
}

func TestGeminiCompleteNoCandidates(t *testing.T) {
	client := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return response(http.StatusOK, `{"candidates":[]}`), nil
	})}
	g, err := NewGemini(context.Background(), GeminiConfig{APIKey: "k", BaseURL: "https://gemini.test/", HTTPClient: client})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := g.Complete(context.Background(), "x"); err == nil {
		t.Fatal("expected error without candidates")
	}
}
