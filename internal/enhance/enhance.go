// internal/enhance/enhance.go

// Package enhance improves low-confidence reverse parses with an external
// model. The model only ever annotates: it can raise confidence and suggest
// pattern tags for fallback regions, but the heuristic result is always the
// floor. On timeout or any API failure the caller gets the heuristic result
// back unchanged.
package enhance

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/solatis/specforge/internal/types"
)

const (
	defaultModel     = "gpt-4o"
	defaultTimeout   = 15 * time.Second
	defaultThreshold = 0.6
)

// Config configures an Enhancer.
type Config struct {
	APIKey string

	// Model defaults to gpt-4o.
	Model string

	// Timeout bounds each enhancement call. Defaults to 15s.
	Timeout time.Duration

	// Threshold is the confidence below which enhancement runs.
	// Defaults to the low-confidence band boundary.
	Threshold float64

	Logger *slog.Logger
}

// Enhancer annotates low-confidence parse results.
type Enhancer struct {
	client    openai.Client
	model     string
	timeout   time.Duration
	threshold float64
	logger    *slog.Logger
}

// New builds an enhancer from config, filling defaults.
func New(cfg Config) *Enhancer {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Enhancer{
		client:    openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     cfg.Model,
		timeout:   cfg.Timeout,
		threshold: cfg.Threshold,
		logger:    cfg.Logger,
	}
}

// reply is the JSON shape the model is asked to produce.
type reply struct {
	Confidence float64 `json:"confidence"`
	Patterns   []struct {
		Name       string  `json:"name"`
		Confidence float64 `json:"confidence"`
	} `json:"patterns"`
}

// Enhance returns an improved copy of result, or result itself when the
// score is already above the threshold or the model call fails. Confidence
// never decreases and already-detected patterns are never removed.
func (e *Enhancer) Enhance(ctx context.Context, source string, result *types.ParseResult) *types.ParseResult {
	if result == nil || result.Confidence >= e.threshold {
		return result
	}
	regions := fallbackRegions(result.IR)
	if len(regions) == 0 {
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: e.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(buildPrompt(source, result, regions)),
		},
	})
	if err != nil {
		e.logger.Warn("enhance: model call failed, keeping heuristic result",
			"action", result.IR.Name, "error", err)
		return result
	}
	if len(resp.Choices) == 0 {
		e.logger.Warn("enhance: empty model response", "action", result.IR.Name)
		return result
	}

	var r reply
	content := stripFences(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &r); err != nil {
		e.logger.Warn("enhance: unparseable model response",
			"action", result.IR.Name, "error", err)
		return result
	}
	return merge(result, r)
}

const systemPrompt = `You review procedural SQL that a heuristic parser could
only partially decompose. Given the source, the parser's warnings, and the
opaque regions, respond with JSON only:
{"confidence": <0..1 estimate of how much of the intent is recoverable>,
 "patterns": [{"name": "<business pattern>", "confidence": <0..1>}]}`

func buildPrompt(source string, result *types.ParseResult, regions []string) string {
	var b strings.Builder
	b.WriteString("Source:\n")
	b.WriteString(source)
	b.WriteString("\n\nHeuristic warnings:\n")
	for _, w := range result.Warnings {
		b.WriteString("- line ")
		b.WriteString(strconv.Itoa(w.Line))
		b.WriteString(": ")
		b.WriteString(w.Construct)
		b.WriteString(": ")
		b.WriteString(w.Reason)
		b.WriteByte('\n')
	}
	b.WriteString("\nOpaque regions:\n")
	for _, r := range regions {
		b.WriteString("- ")
		b.WriteString(r)
		b.WriteByte('\n')
	}
	return b.String()
}

func fallbackRegions(action types.Action) []string {
	var regions []string
	action.WalkSteps(func(s types.Step) {
		if s.Kind == types.KindFallback {
			regions = append(regions, s.Raw)
		}
	})
	return regions
}

// merge applies the model reply on top of the heuristic result.
func merge(result *types.ParseResult, r reply) *types.ParseResult {
	out := *result
	if r.Confidence > out.Confidence {
		conf := r.Confidence
		if conf > 0.95 {
			conf = 0.95
		}
		if conf > out.Confidence {
			out.Confidence = conf
		}
	}
	seen := make(map[string]bool, len(out.DetectedPatterns))
	for _, p := range out.DetectedPatterns {
		seen[p.Name] = true
	}
	patterns := append([]types.DetectedPattern{}, out.DetectedPatterns...)
	for _, p := range r.Patterns {
		if p.Name == "" || seen[p.Name] || p.Confidence <= 0 || p.Confidence > 1 {
			continue
		}
		seen[p.Name] = true
		patterns = append(patterns, types.DetectedPattern{Name: p.Name, Confidence: p.Confidence})
	}
	out.DetectedPatterns = patterns
	return &out
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
