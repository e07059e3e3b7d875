package timestamp

import (
	"slices"
	"unicode"
	"unicode/utf8"

	"github.com/kavehfayyazi/tremolo/pkg/types"
)

// Span is a whitespace-delimited word inside a transcript. Start and End are
// character offsets.
type Span struct {
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Mid returns the midpoint offset used to look the word up.
func (s Span) Mid() int {
	return (s.Start + s.End) / 2
}

// Words splits transcript into its whitespace-delimited words. Punctuation
// stays attached to the word it follows.
func Words(transcript string) []Span {
	var spans []Span
	start, from := -1, 0 // start in characters, from in bytes
	n := 0
	for i, r := range transcript {
		if unicode.IsSpace(r) {
			if start >= 0 {
				spans = append(spans, Span{Text: transcript[from:i], Start: start, End: n})
				start = -1
			}
			n++
			continue
		}
		if start < 0 {
			start, from = n, i
		}
		n++
	}
	if start >= 0 {
		spans = append(spans, Span{Text: transcript[from:], Start: start, End: n})
	}
	return spans
}

// WordTime pairs a word with the playback time a click on it should seek to.
type WordTime struct {
	Span

	Timestamp float64 `json:"timestamp"`

	// Marker is the marker covering the word's midpoint, if any.
	Marker *types.FeedbackMarker `json:"marker,omitempty"`
}

// Resolve returns a seek time for every word of transcript. A word whose
// midpoint falls inside a marker range uses that marker's timestamp (unless it
// is zero); every other word uses the estimate. Callers pass only the markers
// whose categories are currently enabled, see [FilterCategories].
func Resolve(transcript string, markers []types.FeedbackMarker, videoDuration float64) []WordTime {
	est := New(markers, utf8.RuneCountInString(transcript), videoDuration)

	ranges := slices.Clone(markers)
	slices.SortStableFunc(ranges, func(a, b types.FeedbackMarker) int {
		return a.TranscriptStartIndex - b.TranscriptStartIndex
	})

	words := Words(transcript)
	out := make([]WordTime, 0, len(words))
	for _, w := range words {
		mid := w.Mid()
		wt := WordTime{Span: w, Timestamp: est.At(mid)}
		for i := range ranges {
			m := &ranges[i]
			if mid >= m.TranscriptStartIndex && mid < m.TranscriptEndIndex {
				wt.Marker = m
				if m.Timestamp != 0 {
					wt.Timestamp = m.Timestamp
				}
				break
			}
		}
		out = append(out, wt)
	}
	return out
}

// FilterCategories returns the markers whose category is in enabled. A nil or
// empty enabled list keeps every marker.
func FilterCategories(markers []types.FeedbackMarker, enabled ...types.Category) []types.FeedbackMarker {
	if len(enabled) == 0 {
		return markers
	}
	out := make([]types.FeedbackMarker, 0, len(markers))
	for _, m := range markers {
		if slices.Contains(enabled, m.Category) {
			out = append(out, m)
		}
	}
	return out
}
