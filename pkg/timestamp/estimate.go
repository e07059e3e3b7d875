// Package timestamp maps transcript character offsets to estimated playback
// times.
//
// Feedback markers act as anchors: each contributes a (TranscriptStartIndex,
// Timestamp) control point. Offsets between two anchors are linearly
// interpolated, offsets before the first anchor are scaled from the origin, and
// offsets after the last anchor are extrapolated toward the end of the video.
// With no anchors (or no video duration) the offset is mapped proportionally.
//
// Offsets and lengths count characters (runes) of the transcript string, the
// same unit the fuser uses for marker ranges.
//
// Estimation never fails: degenerate inputs degrade to the proportional
// mapping and every result is clamped to [0, videoDuration].
package timestamp

import (
	"slices"

	"github.com/kavehfayyazi/tremolo/pkg/types"
)

// Estimate returns the estimated playback time in seconds for charIndex.
//
// It is a convenience wrapper around [New] and [Estimator.At]. Callers that
// estimate many offsets against the same marker set should build an
// [Estimator] once instead.
func Estimate(charIndex int, markers []types.FeedbackMarker, transcriptLength int, videoDuration float64) float64 {
	return New(markers, transcriptLength, videoDuration).At(charIndex)
}

// Estimator holds a marker set sorted by transcript position. It is immutable
// after construction and safe for concurrent use.
type Estimator struct {
	anchors  []types.FeedbackMarker
	length   int
	duration float64
}

// New returns an [Estimator] over a private, sorted copy of markers. The input
// order does not matter; markers sharing a start index keep their relative
// order.
func New(markers []types.FeedbackMarker, transcriptLength int, videoDuration float64) *Estimator {
	anchors := slices.Clone(markers)
	slices.SortStableFunc(anchors, func(a, b types.FeedbackMarker) int {
		return a.TranscriptStartIndex - b.TranscriptStartIndex
	})
	if videoDuration < 0 {
		videoDuration = 0
	}
	return &Estimator{
		anchors:  anchors,
		length:   transcriptLength,
		duration: videoDuration,
	}
}

// At returns the estimated playback time for charIndex.
func (e *Estimator) At(charIndex int) float64 {
	if len(e.anchors) == 0 || e.duration == 0 {
		return e.uniform(charIndex)
	}

	// after is the first anchor starting past charIndex; before (after-1) is
	// the last anchor starting at or before it.
	after, _ := slices.BinarySearchFunc(e.anchors, charIndex, func(m types.FeedbackMarker, target int) int {
		if m.TranscriptStartIndex <= target {
			return -1
		}
		return 1
	})

	ci := float64(charIndex)
	switch {
	case after == 0:
		first := e.anchors[0]
		if first.TranscriptStartIndex == 0 {
			return e.uniform(charIndex)
		}
		return e.clamp(ci / float64(first.TranscriptStartIndex) * first.Timestamp)

	case after == len(e.anchors):
		last := e.anchors[len(e.anchors)-1]
		remainingChars := e.length - last.TranscriptStartIndex
		if remainingChars <= 0 {
			return e.uniform(charIndex)
		}
		remainingTime := e.duration - last.Timestamp
		offset := ci - float64(last.TranscriptStartIndex)
		return e.clamp(last.Timestamp + offset/float64(remainingChars)*remainingTime)

	default:
		before, next := e.anchors[after-1], e.anchors[after]
		span := next.TranscriptStartIndex - before.TranscriptStartIndex
		if span == 0 {
			return e.uniform(charIndex)
		}
		offset := ci - float64(before.TranscriptStartIndex)
		return e.clamp(before.Timestamp + offset/float64(span)*(next.Timestamp-before.Timestamp))
	}
}

// uniform maps charIndex proportionally onto the video duration.
func (e *Estimator) uniform(charIndex int) float64 {
	if e.length <= 0 {
		return 0
	}
	return e.clamp(float64(charIndex) / float64(e.length) * e.duration)
}

func (e *Estimator) clamp(t float64) float64 {
	if t < 0 {
		return 0
	}
	if t > e.duration {
		return e.duration
	}
	return t
}
