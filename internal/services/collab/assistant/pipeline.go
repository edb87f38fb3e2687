package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	apperrors "github.com/louisbranch/codecollab/internal/platform/errors"
	platformotel "github.com/louisbranch/codecollab/internal/platform/otel"
	"github.com/louisbranch/codecollab/internal/platform/telemetry/metrics"
	"github.com/louisbranch/codecollab/internal/platform/timeouts"
	"github.com/louisbranch/codecollab/internal/services/collab/message"
)

// Generator produces a completion for a prompt. The deadline travels on ctx.
type Generator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Complete calls f.
func (f GeneratorFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Publisher fans an event out to a whole room.
type Publisher interface {
	PublishAll(roomID string, ev message.Event) int
}

// Policy decides what the room sees when an invocation fails.
type Policy string

const (
	// PolicyEmit publishes an error-marked assistant message.
	PolicyEmit Policy = "emit"
	// PolicySuppress publishes nothing.
	PolicySuppress Policy = "suppress"
)

// ParsePolicy maps a config value to a Policy, defaulting to PolicyEmit.
func ParsePolicy(value string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(value))) {
	case "", PolicyEmit:
		return PolicyEmit, nil
	case PolicySuppress:
		return PolicySuppress, nil
	default:
		return "", fmt.Errorf("unknown assistant failure policy %q", value)
	}
}

// Config tunes the pipeline.
type Config struct {
	Marker        string
	Timeout       time.Duration
	Policy        Policy
	MaxConcurrent int64
}

// Outcome labels one invocation for metrics and tests.
type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeFailed      Outcome = "failed"
	OutcomePromptEmpty Outcome = "prompt_empty"
	OutcomeBusy        Outcome = "busy"
)

// Request is one addressed message.
type Request struct {
	RoomID string
	Prompt string
}

// Pipeline invokes the generator and publishes the reply to the room.
type Pipeline struct {
	generator Generator
	publisher Publisher
	cfg       Config
	sem       *semaphore.Weighted
	tracer    trace.Tracer
	logger    zerolog.Logger
	now       func() time.Time
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithClock overrides the timestamp source for published messages.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPipeline builds a pipeline. Zero config values take defaults.
func NewPipeline(generator Generator, publisher Publisher, cfg Config, opts ...Option) (*Pipeline, error) {
	if generator == nil {
		return nil, errors.New("generator is required")
	}
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if cfg.Marker == "" {
		cfg.Marker = DefaultMarker
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = timeouts.Generation
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyEmit
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	p := &Pipeline{
		generator: generator,
		publisher: publisher,
		cfg:       cfg,
		sem:       semaphore.NewWeighted(cfg.MaxConcurrent),
		tracer:    platformotel.Tracer("codecollab/assistant"),
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Marker returns the configured marker.
func (p *Pipeline) Marker() string {
	return p.cfg.Marker
}

// Match returns the request for body when it addresses the assistant.
// Structured bodies never match.
func (p *Pipeline) Match(roomID string, body message.Body) (Request, bool) {
	if body.IsStructured() {
		return Request{}, false
	}
	prompt, ok := ExtractPrompt(body.Text, p.cfg.Marker)
	if !ok {
		return Request{}, false
	}
	return Request{RoomID: roomID, Prompt: prompt}, true
}

// Invoke runs one request to completion and publishes the result according to
// the failure policy. It never panics on generator failure and always returns
// within the configured timeout plus publish time.
func (p *Pipeline) Invoke(ctx context.Context, req Request) Outcome {
	ctx, span := p.tracer.Start(ctx, "assistant.complete", trace.WithAttributes(
		attribute.String("collab.room_id", req.RoomID),
		attribute.Int("assistant.prompt_length", len(req.Prompt)),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	outcome, completion, err := p.complete(ctx, req)
	metrics.AssistantInvocations.WithLabelValues(string(outcome)).Inc()
	span.SetAttributes(attribute.String("assistant.outcome", string(outcome)))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(outcome))
		p.logger.Warn().Err(err).Str("room_id", req.RoomID).Str("outcome", string(outcome)).Msg("assistant: invocation failed")
		if p.cfg.Policy == PolicyEmit {
			code := apperrors.CodeOf(err)
			p.publish(req.RoomID, message.ErrorBody(string(code), apperrors.MessageOf(err, "assistant failed")))
		}
		return outcome
	}

	p.publish(req.RoomID, CompletionBody(completion))
	return OutcomeOK
}

func (p *Pipeline) complete(ctx context.Context, req Request) (Outcome, string, error) {
	if req.Prompt == "" {
		return OutcomePromptEmpty, "", apperrors.New(apperrors.CodeAssistantPromptEmpty, "assistant prompt is empty")
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return OutcomeBusy, "", apperrors.Wrap(apperrors.CodeAssistantBusy, "assistant is busy", err)
	}
	defer p.sem.Release(1)

	start := time.Now()
	completion, err := p.generator.Complete(ctx, req.Prompt)
	metrics.AssistantLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		if isTimeout(ctx, err) {
			return OutcomeTimeout, "", apperrors.Wrap(apperrors.CodeAssistantTimeout, "assistant timed out", err)
		}
		return OutcomeFailed, "", apperrors.Wrap(apperrors.CodeAssistantFailed, "assistant failed", err)
	}
	return OutcomeOK, completion, nil
}

// isTimeout reports whether err came from the invocation deadline or from a
// transport timeout inside the generator's client.
func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (p *Pipeline) publish(roomID string, body message.Body) {
	ev := message.NewMessage(message.NewID(), message.Assistant(), body, p.now())
	p.publisher.PublishAll(roomID, ev)
}

// CompletionBody wraps a completion as a structured body. A completion that
// is itself a JSON object is relayed as that object.
func CompletionBody(completion string) message.Body {
	trimmed := strings.TrimSpace(completion)
	if strings.HasPrefix(trimmed, "{") {
		fields := map[string]any{}
		if err := json.Unmarshal([]byte(trimmed), &fields); err == nil {
			return message.StructuredBody(fields)
		}
	}
	return message.StructuredBody(map[string]any{"text": completion})
}
