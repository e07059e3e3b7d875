package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/kavehfayyazi/tremolo/internal/observe"
	"github.com/kavehfayyazi/tremolo/internal/resilience"
	"github.com/kavehfayyazi/tremolo/pkg/provider/analysis"
	"github.com/kavehfayyazi/tremolo/pkg/types"
)

// instrumented records request counts, latency and error kinds for every
// backend call.
type instrumented struct {
	inner   analysis.Provider
	metrics *observe.Metrics
}

var _ analysis.Provider = (*instrumented)(nil)

func instrument(p analysis.Provider, m *observe.Metrics) analysis.Provider {
	if _, ok := p.(*instrumented); ok {
		return p
	}
	return &instrumented{inner: p, metrics: m}
}

func (i *instrumented) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	start := time.Now()
	id, err := i.inner.Upload(ctx, filename, r)
	i.record(ctx, "upload", start, err)
	return id, err
}

func (i *instrumented) Status(ctx context.Context, jobID string) (*types.JobStatus, error) {
	start := time.Now()
	st, err := i.inner.Status(ctx, jobID)
	i.record(ctx, "status", start, err)
	return st, err
}

func (i *instrumented) Feedback(ctx context.Context, body any) (json.RawMessage, error) {
	start := time.Now()
	raw, err := i.inner.Feedback(ctx, body)
	i.record(ctx, "feedback", start, err)
	return raw, err
}

func (i *instrumented) record(ctx context.Context, op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		i.metrics.RecordBackendError(ctx, op, errorKind(err))
	}
	i.metrics.RecordBackendRequest(ctx, op, status, time.Since(start).Seconds())
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, analysis.ErrUploadFailed):
		return "upload_failed"
	case errors.Is(err, analysis.ErrJobNotFound):
		return "not_found"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "transport"
	}
}
