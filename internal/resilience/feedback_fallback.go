package resilience

import (
	"context"
	"encoding/json"

	"github.com/kavehfayyazi/tremolo/internal/feedback"
)

// FeedbackFallback implements [feedback.Source] over an ordered list of
// sources, for example the backend AI endpoint first and a language model
// second.
type FeedbackFallback struct {
	group *FallbackGroup[feedback.Source]
}

var _ feedback.Source = (*FeedbackFallback)(nil)

// NewFeedbackFallback creates a [FeedbackFallback] with primary tried first.
func NewFeedbackFallback(primary feedback.Source, primaryName string, cfg FallbackConfig) *FeedbackFallback {
	return &FeedbackFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another source.
func (f *FeedbackFallback) AddFallback(name string, src feedback.Source) {
	f.group.AddFallback(name, src)
}

// Names returns the source names in the order they are tried.
func (f *FeedbackFallback) Names() []string {
	return f.group.Names()
}

// Fetch returns the payload of the first source that answers.
func (f *FeedbackFallback) Fetch(ctx context.Context, req feedback.Request) (json.RawMessage, error) {
	return ExecuteWithResult(f.group, func(s feedback.Source) (json.RawMessage, error) {
		return s.Fetch(ctx, req)
	})
}
