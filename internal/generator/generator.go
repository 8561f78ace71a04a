package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vnmchuo/review-digest/internal/actor"
	"github.com/vnmchuo/review-digest/internal/artifact"
	"github.com/vnmchuo/review-digest/internal/document"
	"github.com/vnmchuo/review-digest/internal/provider"
	"github.com/vnmchuo/review-digest/internal/usagelog"
)

const (
	temperature = 0.2
	maxTokens   = 1024
)

var fencePattern = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)```")

type Completer interface {
	Complete(ctx context.Context, req provider.Request) (*provider.Response, error)
}

// Recorder persists token usage of completed calls.
type Recorder interface {
	Log(ctx context.Context, e *usagelog.Entry) error
}

// LLMGenerator turns a resource's documents into an artifact body.
type LLMGenerator struct {
	completer Completer
	lang      string
	timeout   time.Duration
	tracer    trace.Tracer
	logger    zerolog.Logger
	recorder  Recorder
}

func NewLLMGenerator(completer Completer, lang string, timeout time.Duration, tracer trace.Tracer, logger zerolog.Logger) *LLMGenerator {
	return &LLMGenerator{
		completer: completer,
		lang:      lang,
		timeout:   timeout,
		tracer:    tracer,
		logger:    logger,
	}
}

// SetRecorder enables the generation log. Recording failures are logged and
// never fail a generation.
func (g *LLMGenerator) SetRecorder(r Recorder) {
	g.recorder = r
}

// Generate returns an error only when no backend produced a reply. Output
// that cannot be parsed yields an empty neutral body.
func (g *LLMGenerator) Generate(ctx context.Context, docs []document.Document) (artifact.Body, error) {
	ctx, span := g.tracer.Start(ctx, "generator.Generate")
	defer span.End()
	span.SetAttributes(attribute.Int("generator.documents", len(docs)))

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.completer.Complete(callCtx, provider.Request{
		Messages:    BuildPrompt(docs, g.lang),
		MaxTokens:   maxTokens,
		Temperature: temperature,
		JSONOutput:  true,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return artifact.Body{}, fmt.Errorf("failed to generate summary: %w", err)
	}

	span.SetAttributes(
		attribute.String("generator.provider", resp.Provider),
		attribute.String("generator.model", resp.Model),
		attribute.Int("generator.input_tokens", resp.InputTokens),
		attribute.Int("generator.output_tokens", resp.OutputTokens),
	)
	g.record(ctx, resp, time.Since(start))

	body, ok := ParseBody(resp.Content)
	if !ok {
		g.logger.Warn().Str("provider", resp.Provider).Msg("unparseable generator output, storing empty summary")
	}
	body.Model = resp.Model
	return body, nil
}

func (g *LLMGenerator) record(ctx context.Context, resp *provider.Response, latency time.Duration) {
	if g.recorder == nil {
		return
	}
	err := g.recorder.Log(ctx, &usagelog.Entry{
		RequestID:    actor.GetRequestID(ctx),
		Provider:     resp.Provider,
		Model:        resp.Model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		LatencyMs:    latency.Milliseconds(),
	})
	if err != nil {
		g.logger.Warn().Err(err).Str("provider", resp.Provider).Msg("failed to record generation usage")
	}
}

// BuildPrompt lists each document on its own line with its UTC date.
func BuildPrompt(docs []document.Document, lang string) []provider.Message {
	var sample strings.Builder
	for _, d := range docs {
		sample.WriteString("- ")
		sample.WriteString(strings.TrimSpace(d.Text))
		if !d.CreatedAt.IsZero() {
			sample.WriteString(" (")
			sample.WriteString(d.CreatedAt.UTC().Format("2006-01-02"))
			sample.WriteString(")")
		}
		sample.WriteString("\n")
	}
	if sample.Len() == 0 {
		sample.WriteString("- (no reviews)\n")
	}

	user := strings.Join([]string{
		"Below are guest reviews of a single property.",
		fmt.Sprintf("Write a short digest in language: %s.", lang),
		"Return strictly valid JSON with no prefix, suffix or explanation:",
		`{"pros": string[], "cons": string[], "sentiment": "positive|neutral|negative", "topics": string[]}`,
		"",
		"Reviews:",
		sample.String(),
	}, "\n")

	return []provider.Message{
		{Role: "system", Content: "You summarise guest reviews concisely and without repetition. Reply with valid JSON."},
		{Role: "user", Content: user},
	}
}

// ParseBody extracts a body from raw model output, tolerating fenced JSON.
// The second result is false when nothing usable was found.
func ParseBody(content string) (artifact.Body, bool) {
	raw := content
	if m := fencePattern.FindStringSubmatch(content); m != nil {
		raw = m[1]
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &obj); err != nil {
		return emptyBody(), false
	}

	sentiment, _ := obj["sentiment"].(string)
	return artifact.Body{
		Pros:      toStrings(obj["pros"]),
		Cons:      toStrings(obj["cons"]),
		Topics:    toStrings(obj["topics"]),
		Sentiment: artifact.ParseSentiment(sentiment),
	}, true
}

func emptyBody() artifact.Body {
	return artifact.Body{
		Pros:      []string{},
		Cons:      []string{},
		Topics:    []string{},
		Sentiment: artifact.Neutral,
	}
}

func toStrings(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch s := item.(type) {
		case nil:
		case string:
			out = append(out, s)
		default:
			out = append(out, fmt.Sprint(s))
		}
	}
	return out
}
