package observe

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the Tremolo tracer.
const tracerName = "github.com/kavehfayyazi/tremolo"

// Tracer returns the package-level [trace.Tracer], using the globally
// registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartStage opens a span named "tremolo.<stage>" and returns a function that
// ends it, marks it failed when err is non-nil and records the stage latency
// on m. m may be nil, in which case only the span is produced.
//
//	ctx, done := observe.StartStage(ctx, m, "fuse")
//	fused, err := fuser.Fuse(tr, enriched)
//	done(err)
func StartStage(ctx context.Context, m *Metrics, stage string) (context.Context, func(err error)) {
	start := time.Now()
	ctx, span := StartSpan(ctx, "tremolo."+stage)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if m != nil {
			m.RecordStage(ctx, stage, time.Since(start).Seconds())
		}
	}
}

// CorrelationID extracts the trace ID from the span context in ctx. Returns
// the empty string when no active span with a valid trace ID exists.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns an [slog.Logger] enriched with trace_id and span_id from the
// span context in ctx. Without an active span it is the default logger.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
