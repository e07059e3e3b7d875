// Package engine runs the analysis of one recorded presentation end to end.
//
// An [Engine] uploads the recording to the analysis backend, polls the job
// until it is terminal, fuses the returned transcription into markers, scores
// them and optionally appends AI feedback. The result is returned as an
// explicit [types.Analysis]; the engine keeps no per-analysis state, so
// independent analyses may run concurrently on the same Engine.
//
// [Engine.AnalyzeOrDemo] is the lenient entry point used by interactive
// callers: whenever the backend cannot produce a result it answers with the
// canned demonstration dataset instead of an error.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/kavehfayyazi/tremolo/internal/feedback"
	"github.com/kavehfayyazi/tremolo/internal/observe"
	"github.com/kavehfayyazi/tremolo/internal/poller"
	"github.com/kavehfayyazi/tremolo/internal/resilience"
	"github.com/kavehfayyazi/tremolo/internal/scoring"
	"github.com/kavehfayyazi/tremolo/internal/transcript"
	"github.com/kavehfayyazi/tremolo/pkg/provider/analysis"
	"github.com/kavehfayyazi/tremolo/pkg/types"
)

// Stage names reported through [Progress].
const (
	StageUploaded  = "uploaded"
	StagePolling   = "polling"
	StageFused     = "fused"
	StageScored    = "scored"
	StageAnnotated = "annotated"
)

// Progress is one step of a running analysis.
type Progress struct {
	Stage string         `json:"stage"`
	JobID string         `json:"jobId,omitempty"`
	State types.JobState `json:"state,omitempty"`

	// Attempt is the 1-based poll attempt; set for [StagePolling] only.
	Attempt int `json:"attempt,omitempty"`

	// Markers is the marker count so far; set from [StageFused] on.
	Markers int `json:"markers,omitempty"`
}

// RunOption configures a single analysis run.
type RunOption func(*run)

type run struct {
	progress func(Progress)
}

// WithProgress registers fn to receive progress events. fn is called
// synchronously from the analysing goroutine and must not block.
func WithProgress(fn func(Progress)) RunOption {
	return func(r *run) {
		r.progress = fn
	}
}

func (r *run) emit(p Progress) {
	if r.progress != nil {
		r.progress(p)
	}
}

// Option is a functional option for configuring an [Engine].
type Option func(*Engine)

// WithPollerConfig sets the polling policy. OnAttempt is ignored; use
// [WithProgress] to observe attempts.
func WithPollerConfig(cfg poller.Config) Option {
	return func(e *Engine) {
		cfg.OnAttempt = nil
		e.pollCfg = cfg
	}
}

// WithFuser replaces the default [transcript.Fuser].
func WithFuser(f *transcript.Fuser) Option {
	return func(e *Engine) {
		e.fuser = f
	}
}

// WithScorer replaces the default [scoring.Scorer].
func WithScorer(s *scoring.Scorer) Option {
	return func(e *Engine) {
		e.scorer = s
	}
}

// WithAnnotator enables AI feedback. Without it analyses carry only the
// fused markers.
func WithAnnotator(a *feedback.Annotator) Option {
	return func(e *Engine) {
		e.annotator = a
	}
}

// WithMetrics records engine and backend metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithDemoFallback toggles whether [Engine.AnalyzeOrDemo] may answer with the
// demonstration dataset. Default: enabled.
func WithDemoFallback(enabled bool) Option {
	return func(e *Engine) {
		e.demoFallback = enabled
	}
}

// Engine composes the poller, fuser, scorer and optional annotator.
type Engine struct {
	provider     analysis.Provider
	pollCfg      poller.Config
	fuser        *transcript.Fuser
	scorer       *scoring.Scorer
	annotator    *feedback.Annotator
	metrics      *observe.Metrics
	demoFallback bool
}

// New creates an [Engine] talking to provider.
func New(provider analysis.Provider, opts ...Option) *Engine {
	e := &Engine{
		provider:     provider,
		fuser:        transcript.NewFuser(),
		scorer:       scoring.New(),
		demoFallback: true,
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics != nil {
		e.provider = instrument(e.provider, e.metrics)
	}
	return e
}

// Analyze uploads the recording read from r and returns its analysis.
//
// Errors match one of [analysis.ErrUploadFailed], [analysis.ErrJobNotFound],
// [poller.ErrJobFailed], [poller.ErrJobTimeout] or
// [transcript.ErrTranscriptionIncomplete], or wrap a transport or context
// error.
func (e *Engine) Analyze(ctx context.Context, filename string, r io.Reader, opts ...RunOption) (a *types.Analysis, err error) {
	rn := newRun(opts)
	defer e.track(ctx, types.SourceLive)(&err)

	sctx, done := observe.StartStage(ctx, e.metrics, "upload")
	jobID, err := e.provider.Upload(sctx, filename, r)
	done(err)
	if err != nil {
		return nil, fmt.Errorf("engine: upload %q: %w", filename, err)
	}
	observe.Logger(ctx).Info("recording uploaded", "job_id", jobID, "filename", filename)
	rn.emit(Progress{Stage: StageUploaded, JobID: jobID, State: types.JobQueued})

	return e.poll(ctx, jobID, rn)
}

// AnalyzeJob waits for an already submitted job and returns its analysis.
func (e *Engine) AnalyzeJob(ctx context.Context, jobID string, opts ...RunOption) (a *types.Analysis, err error) {
	rn := newRun(opts)
	defer e.track(ctx, types.SourceLive)(&err)
	return e.poll(ctx, jobID, rn)
}

func (e *Engine) poll(ctx context.Context, jobID string, rn *run) (*types.Analysis, error) {
	cfg := e.pollCfg
	cfg.OnAttempt = func(attempt int, st *types.JobStatus) {
		if e.metrics != nil {
			e.metrics.RecordPollAttempt(ctx, string(st.Status))
		}
		rn.emit(Progress{Stage: StagePolling, JobID: jobID, State: st.Status, Attempt: attempt})
	}

	sctx, done := observe.StartStage(ctx, e.metrics, "poll")
	st, err := poller.New(e.provider, cfg).Poll(sctx, jobID)
	done(err)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	return e.fromStatus(ctx, jobID, st, rn)
}

// FromStatus fuses and scores an already fetched terminal job payload. jobID
// may be empty.
func (e *Engine) FromStatus(ctx context.Context, jobID string, st *types.JobStatus, opts ...RunOption) (*types.Analysis, error) {
	if st == nil {
		return nil, fmt.Errorf("engine: %w: no job payload", transcript.ErrTranscriptionIncomplete)
	}
	return e.fromStatus(ctx, jobID, st, newRun(opts))
}

func (e *Engine) fromStatus(ctx context.Context, jobID string, st *types.JobStatus, rn *run) (*types.Analysis, error) {
	log := observe.Logger(ctx)

	_, done := observe.StartStage(ctx, e.metrics, "fuse")
	fused, err := e.fuser.Fuse(st.Transcription, st.EnrichedTranscript)
	done(err)
	if err != nil {
		return nil, fmt.Errorf("engine: job %q: %w", jobID, err)
	}
	e.recordMarkers(ctx, fused.Markers, string(fused.Path))
	rn.emit(Progress{Stage: StageFused, JobID: jobID, State: st.Status, Markers: len(fused.Markers)})

	_, done = observe.StartStage(ctx, e.metrics, "score")
	scores := e.scorer.Score(fused.Markers, st.Transcription.Words, st.EnrichedTranscript)
	done(nil)

	a := &types.Analysis{
		ScoreSet:   scores,
		Transcript: fused.Transcript,
		Markers:    fused.Markers,
		JobID:      jobID,
		Source:     types.SourceLive,
	}
	rn.emit(Progress{Stage: StageScored, JobID: jobID, State: st.Status, Markers: len(a.Markers)})
	log.Info("analysis scored",
		"job_id", jobID,
		"path", fused.Path,
		"markers", len(a.Markers),
		"overall", a.OverallScore,
	)

	if e.annotator != nil {
		sctx, done := observe.StartStage(ctx, e.metrics, "feedback")
		before := len(a.Markers)
		n, err := e.annotator.Annotate(sctx, a)
		done(err)
		switch {
		case err != nil:
			// AI feedback is optional; the scored analysis stands on its own.
			log.Warn("ai feedback unavailable", "job_id", jobID, "err", err)
		default:
			e.recordMarkers(ctx, a.Markers[before:], "ai")
			rn.emit(Progress{Stage: StageAnnotated, JobID: jobID, State: st.Status, Markers: len(a.Markers)})
			log.Debug("ai feedback appended", "job_id", jobID, "added", n)
		}
	}
	return a, nil
}

// AnalyzeOrDemo is [Engine.Analyze] with a deterministic fallback: any
// failure other than the caller's own cancellation yields [Demo], tagged
// [types.SourceDemo], and a nil error. With the fallback disabled it behaves
// exactly like Analyze.
func (e *Engine) AnalyzeOrDemo(ctx context.Context, filename string, r io.Reader, opts ...RunOption) (*types.Analysis, error) {
	a, err := e.Analyze(ctx, filename, r, opts...)
	return e.orDemo(ctx, a, err)
}

// AnalyzeJobOrDemo is the [Engine.AnalyzeJob] counterpart of
// [Engine.AnalyzeOrDemo].
func (e *Engine) AnalyzeJobOrDemo(ctx context.Context, jobID string, opts ...RunOption) (*types.Analysis, error) {
	a, err := e.AnalyzeJob(ctx, jobID, opts...)
	return e.orDemo(ctx, a, err)
}

func (e *Engine) orDemo(ctx context.Context, a *types.Analysis, err error) (*types.Analysis, error) {
	if err == nil || !e.demoFallback || ctx.Err() != nil {
		return a, err
	}
	reason := FallbackReason(err)
	observe.Logger(ctx).Warn("analysis failed, serving demo data", "reason", reason, "err", err)
	if e.metrics != nil {
		e.metrics.RecordFallback(ctx, reason)
	}
	return Demo(), nil
}

// FallbackReason maps an analysis error to a short, stable label.
func FallbackReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, analysis.ErrUploadFailed):
		return "upload_failed"
	case errors.Is(err, analysis.ErrJobNotFound):
		return "job_not_found"
	case errors.Is(err, poller.ErrJobFailed):
		return "job_failed"
	case errors.Is(err, poller.ErrJobTimeout):
		return "job_timeout"
	case errors.Is(err, transcript.ErrTranscriptionIncomplete):
		return "transcription_incomplete"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	default:
		return "backend_error"
	}
}

func newRun(opts []RunOption) *run {
	rn := &run{}
	for _, o := range opts {
		o(rn)
	}
	return rn
}

// track records the in-flight gauge and the end-to-end duration. Use as
// defer e.track(ctx, source)(&err).
func (e *Engine) track(ctx context.Context, source types.Source) func(*error) {
	if e.metrics == nil {
		return func(*error) {}
	}
	start := time.Now()
	e.metrics.ActiveAnalyses.Add(ctx, 1)
	return func(errp *error) {
		e.metrics.ActiveAnalyses.Add(ctx, -1)
		outcome := "ok"
		if *errp != nil {
			outcome = FallbackReason(*errp)
		}
		e.metrics.RecordAnalysis(ctx, string(source), outcome, time.Since(start).Seconds())
	}
}

func (e *Engine) recordMarkers(ctx context.Context, markers []types.FeedbackMarker, path string) {
	if e.metrics == nil {
		return
	}
	counts := make(map[types.Category]int, len(types.Categories))
	for _, m := range markers {
		counts[m.Category]++
	}
	for cat, n := range counts {
		e.metrics.RecordMarkers(ctx, string(cat), path, n)
	}
}
