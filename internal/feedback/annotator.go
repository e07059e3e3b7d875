package feedback

import (
	"context"
	"log/slog"
	"unicode/utf8"

	"github.com/kavehfayyazi/tremolo/pkg/types"
)

// Option is a functional option for configuring an [Annotator].
type Option func(*Annotator)

// WithPlaceholder sets the transcript range given to AI markers. Default: [0, 0].
func WithPlaceholder(r Range) Option {
	return func(a *Annotator) {
		a.placeholder = r
	}
}

// Annotator appends AI feedback markers to finished analyses.
type Annotator struct {
	source      Source
	placeholder Range
}

// NewAnnotator returns an [Annotator] drawing feedback from source.
func NewAnnotator(source Source, opts ...Option) *Annotator {
	a := &Annotator{source: source}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Annotate fetches feedback for a and appends the resulting speech markers to
// a.Markers. Scores are left untouched. It returns the number of markers
// added; a source failure is returned as-is and leaves a unchanged.
func (an *Annotator) Annotate(ctx context.Context, a *types.Analysis) (int, error) {
	raw, err := an.source.Fetch(ctx, Request{
		Transcript: a.Transcript,
		Markers:    a.Markers,
		Scores:     a.ScoreSet,
	})
	if err != nil {
		return 0, err
	}

	p := Parse(raw)
	if p.Shape == ShapeUnknown {
		slog.Debug("ignoring unrecognised AI feedback payload", "job_id", a.JobID, "bytes", len(raw))
		return 0, nil
	}
	added := p.Markers(an.placeholder, utf8.RuneCountInString(a.Transcript))
	a.Markers = append(a.Markers, added...)
	return len(added), nil
}
