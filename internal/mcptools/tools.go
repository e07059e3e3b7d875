// Package mcptools exposes the tremolo analysis helpers as Model Context
// Protocol tools, so assistants can seek through an analysed talk or fuse a
// backend payload without going through the HTTP API.
//
// Every tool answers with a single JSON text block. Tool failures are
// reported to the client as error results, never as protocol errors.
package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"unicode/utf8"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kavehfayyazi/tremolo/internal/engine"
	"github.com/kavehfayyazi/tremolo/internal/observe"
	"github.com/kavehfayyazi/tremolo/pkg/timestamp"
	"github.com/kavehfayyazi/tremolo/pkg/types"
)

// Tool names.
const (
	ToolEstimateTimestamp = "estimate_timestamp"
	ToolResolveWords      = "resolve_words"
	ToolAnalyzePayload    = "analyze_payload"
	ToolDemoAnalysis      = "demo_analysis"
)

// Names lists every tool registered by [New], in registration order.
var Names = []string{ToolEstimateTimestamp, ToolResolveWords, ToolAnalyzePayload, ToolDemoAnalysis}

// Analyzer fuses and scores a terminal job payload.
type Analyzer interface {
	FromStatus(ctx context.Context, jobID string, st *types.JobStatus, opts ...engine.RunOption) (*types.Analysis, error)
}

var _ Analyzer = (*engine.Engine)(nil)

// ErrInvalidArgument is wrapped by every argument validation failure.
var ErrInvalidArgument = errors.New("mcptools: invalid argument")

// Option configures [New].
type Option func(*toolset)

// WithMetrics records one tremolo.tool.calls sample per invocation.
func WithMetrics(m *observe.Metrics) Option {
	return func(ts *toolset) { ts.metrics = m }
}

// WithVersion sets the version advertised to clients. Default: "dev".
func WithVersion(v string) Option {
	return func(ts *toolset) { ts.version = v }
}

type toolset struct {
	analyzer Analyzer
	metrics  *observe.Metrics
	version  string
}

// New returns an MCP server with every tremolo tool registered. The caller
// connects it to a transport, usually with Run and [mcp.StdioTransport].
func New(analyzer Analyzer, opts ...Option) *mcp.Server {
	ts := &toolset{analyzer: analyzer, version: "dev"}
	for _, o := range opts {
		o(ts)
	}

	s := mcp.NewServer(&mcp.Implementation{Name: "tremolo", Version: ts.version}, nil)
	mcp.AddTool(s, &mcp.Tool{
		Name: ToolEstimateTimestamp,
		Description: "Estimate the video playback position, in seconds, of transcript character offsets. " +
			"Interpolates between the feedback markers of an analysis and falls back to a uniform " +
			"speaking rate when there are none.",
	}, handle(ts, ToolEstimateTimestamp, ts.estimateTimestamps))
	mcp.AddTool(s, &mcp.Tool{
		Name:        ToolResolveWords,
		Description: "Split a transcript into words and resolve a seek time for each, attaching the marker that covers the word.",
	}, handle(ts, ToolResolveWords, ts.resolveWords))
	mcp.AddTool(s, &mcp.Tool{
		Name:        ToolAnalyzePayload,
		Description: "Fuse and score a finished analysis backend job payload into feedback markers and scores.",
	}, handle(ts, ToolAnalyzePayload, ts.analyzePayload))
	mcp.AddTool(s, &mcp.Tool{
		Name:        ToolDemoAnalysis,
		Description: "Return the canned demonstration analysis.",
	}, handle(ts, ToolDemoAnalysis, ts.demoAnalysis))
	return s
}

// ---- inputs and outputs ----

// EstimateInput is the argument object of estimate_timestamp.
type EstimateInput struct {
	CharIndexes []int `json:"char_indexes" jsonschema:"transcript character offsets to convert"`

	// Transcript, when set, defines the transcript length.
	Transcript       string                 `json:"transcript,omitempty" jsonschema:"full transcript text"`
	TranscriptLength int                    `json:"transcript_length,omitempty" jsonschema:"transcript length in characters, used when transcript is omitted"`
	Markers          []types.FeedbackMarker `json:"markers,omitempty" jsonschema:"feedback markers of the analysis"`
	VideoDuration    float64                `json:"video_duration" jsonschema:"video length in seconds"`
	Categories       []types.Category       `json:"categories,omitempty" jsonschema:"only interpolate between markers of these categories"`
}

// EstimateOutput is the result of estimate_timestamp.
type EstimateOutput struct {
	Timestamps []float64 `json:"timestamps"`
}

// WordsInput is the argument object of resolve_words.
type WordsInput struct {
	Transcript    string                 `json:"transcript" jsonschema:"full transcript text"`
	Markers       []types.FeedbackMarker `json:"markers,omitempty" jsonschema:"feedback markers of the analysis"`
	VideoDuration float64                `json:"video_duration" jsonschema:"video length in seconds"`
	Categories    []types.Category       `json:"categories,omitempty" jsonschema:"only use markers of these categories"`
}

// WordsOutput is the result of resolve_words.
type WordsOutput struct {
	Words []timestamp.WordTime `json:"words"`
}

// PayloadInput is the argument object of analyze_payload.
type PayloadInput struct {
	JobID   string          `json:"job_id,omitempty" jsonschema:"backend job id, echoed in the analysis"`
	Payload types.JobStatus `json:"payload" jsonschema:"terminal job status document returned by the backend"`
}

// DemoInput is the empty argument object of demo_analysis.
type DemoInput struct{}

// ---- handlers ----

func (ts *toolset) estimateTimestamps(_ context.Context, in EstimateInput) (any, error) {
	if err := validate(in.VideoDuration, in.Categories); err != nil {
		return nil, err
	}
	length := in.TranscriptLength
	if in.Transcript != "" {
		length = utf8.RuneCountInString(in.Transcript)
	}
	if length < 0 {
		return nil, fmt.Errorf("%w: transcript_length must not be negative", ErrInvalidArgument)
	}
	est := timestamp.New(timestamp.FilterCategories(in.Markers, in.Categories...), length, in.VideoDuration)
	out := EstimateOutput{Timestamps: make([]float64, len(in.CharIndexes))}
	for i, idx := range in.CharIndexes {
		out.Timestamps[i] = est.At(idx)
	}
	return out, nil
}

func (ts *toolset) resolveWords(_ context.Context, in WordsInput) (any, error) {
	if err := validate(in.VideoDuration, in.Categories); err != nil {
		return nil, err
	}
	words := timestamp.Resolve(in.Transcript, timestamp.FilterCategories(in.Markers, in.Categories...), in.VideoDuration)
	return WordsOutput{Words: words}, nil
}

func (ts *toolset) analyzePayload(ctx context.Context, in PayloadInput) (any, error) {
	return ts.analyzer.FromStatus(ctx, in.JobID, &in.Payload)
}

func (ts *toolset) demoAnalysis(context.Context, DemoInput) (any, error) {
	return engine.Demo(), nil
}

// handle adapts fn to the SDK handler signature and records the outcome.
func handle[In any](ts *toolset, name string, fn func(context.Context, In) (any, error)) mcp.ToolHandlerFor[In, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, any, error) {
		out, err := fn(ctx, in)
		status := "ok"
		if err != nil {
			status = "error"
			slog.Warn("mcp tool failed", "tool", name, "err", err)
		}
		if ts.metrics != nil {
			ts.metrics.RecordToolCall(ctx, name, status)
		}
		if err != nil {
			return nil, nil, err
		}

		data, err := json.Marshal(out)
		if err != nil {
			return nil, nil, fmt.Errorf("mcptools: %s: encode result: %w", name, err)
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil, nil
	}
}

func validate(duration float64, cats []types.Category) error {
	if duration < 0 || math.IsInf(duration, 0) || math.IsNaN(duration) {
		return fmt.Errorf("%w: video_duration must be a finite, non-negative number", ErrInvalidArgument)
	}
	for _, c := range cats {
		if !c.IsValid() {
			return fmt.Errorf("%w: unknown category %q", ErrInvalidArgument, c)
		}
	}
	return nil
}
