package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kavehfayyazi/tremolo/pkg/provider/analysis"
	"github.com/kavehfayyazi/tremolo/pkg/provider/llm"
	"github.com/kavehfayyazi/tremolo/pkg/types"
)

// Request is the context handed to a [Source].
type Request struct {
	Transcript string                 `json:"transcript"`
	Markers    []types.FeedbackMarker `json:"markers"`
	Scores     types.ScoreSet         `json:"scores"`
}

// Source produces a raw AI feedback payload for a request. The payload is
// interpreted by [Parse], so a Source never has to validate its shape.
//
// Implementations must be safe for concurrent use.
type Source interface {
	Fetch(ctx context.Context, req Request) (json.RawMessage, error)
}

// ---- backend ----------------------------------------------------------------

// BackendSource asks the analysis backend's secondary AI endpoint.
type BackendSource struct {
	provider analysis.Provider
}

var _ Source = (*BackendSource)(nil)

// NewBackendSource returns a [BackendSource] using provider.
func NewBackendSource(provider analysis.Provider) *BackendSource {
	return &BackendSource{provider: provider}
}

// Fetch posts req to the backend and returns its reply unchanged.
func (s *BackendSource) Fetch(ctx context.Context, req Request) (json.RawMessage, error) {
	raw, err := s.provider.Feedback(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("feedback: backend: %w", err)
	}
	return raw, nil
}

// ---- llm --------------------------------------------------------------------

// DefaultSystemPrompt instructs the model to answer in the wrapped feedback
// shape.
const DefaultSystemPrompt = `You are a presentation coach. You receive the transcript of a recorded talk, the automatically detected issues, and the current scores.
Reply with JSON only, no prose and no code fences, in exactly this form:
{"feedback": [{"timestamp": <seconds as a number>, "feedback": "<one short, actionable remark>"}]}
Give at most 5 remarks. Do not repeat issues that were already detected.`

// LLMOption is a functional option for configuring an [LLMSource].
type LLMOption func(*LLMSource)

// WithSystemPrompt replaces [DefaultSystemPrompt].
func WithSystemPrompt(prompt string) LLMOption {
	return func(s *LLMSource) {
		s.systemPrompt = prompt
	}
}

// WithTemperature sets the sampling temperature. Default: 0.2.
func WithTemperature(t float64) LLMOption {
	return func(s *LLMSource) {
		s.temperature = t
	}
}

// WithMaxTokens caps the completion length. Default: 512.
func WithMaxTokens(n int) LLMOption {
	return func(s *LLMSource) {
		s.maxTokens = n
	}
}

// LLMSource prompts a language model for feedback.
type LLMSource struct {
	provider     llm.Provider
	systemPrompt string
	temperature  float64
	maxTokens    int
}

var _ Source = (*LLMSource)(nil)

// NewLLMSource returns an [LLMSource] backed by provider.
func NewLLMSource(provider llm.Provider, opts ...LLMOption) *LLMSource {
	s := &LLMSource{
		provider:     provider,
		systemPrompt: DefaultSystemPrompt,
		temperature:  0.2,
		maxTokens:    512,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Fetch prompts the model and returns the JSON part of its reply. A reply
// without any JSON yields "null", which parses as an empty payload.
func (s *LLMSource) Fetch(ctx context.Context, req Request) (json.RawMessage, error) {
	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: s.systemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: userPrompt(req)}},
		Temperature:  s.temperature,
		MaxTokens:    s.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("feedback: llm: %w", err)
	}
	if resp == nil {
		return json.RawMessage("null"), nil
	}
	return extractJSON(resp.Content), nil
}

func userPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Scores (0-10): overall %.1f, body language %.1f, vocal %.1f, speech %.1f\n\n",
		req.Scores.OverallScore, req.Scores.BodyLanguageScore, req.Scores.VocalScore, req.Scores.SpeechScore)
	if len(req.Markers) > 0 {
		b.WriteString("Detected issues:\n")
		for _, m := range req.Markers {
			fmt.Fprintf(&b, "- [%s] %.1fs: %s\n", m.Category, m.Timestamp, m.Feedback)
		}
		b.WriteString("\n")
	}
	b.WriteString("Transcript:\n")
	b.WriteString(req.Transcript)
	return b.String()
}

// extractJSON returns the outermost JSON value embedded in s, tolerating
// Markdown code fences and surrounding prose.
func extractJSON(s string) json.RawMessage {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}

	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(s, pair[0])
		end := strings.LastIndex(s, pair[1])
		if start >= 0 && end > start {
			if candidate := s[start : end+1]; json.Valid([]byte(candidate)) {
				return json.RawMessage(candidate)
			}
		}
	}
	return json.RawMessage("null")
}
