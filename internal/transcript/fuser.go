// Package transcript fuses a raw per-word transcription, and optionally its
// enriched tag overlay, into the transcript string shown to the viewer and the
// feedback markers anchored in it.
//
// Two paths exist:
//
//  1. Enriched: used when the enriched overlay has exactly one entry per
//     transcription word. Markers are derived from the measured tags
//     (filler words, gesture energy, pitch wobble, falling intonation).
//
//  2. Fallback: a lexical and statistical heuristic used when no usable
//     overlay exists. Filler words are matched against a fixed set and
//     monotone delivery is detected from a 3-word pitch window.
//
// Markers are returned in word-iteration order, not sorted by timestamp.
package transcript

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kavehfayyazi/tremolo/pkg/types"
)

// ErrTranscriptionIncomplete is returned by [Fuser.Fuse] when the
// transcription is missing or its status is not "completed".
var ErrTranscriptionIncomplete = errors.New("transcript: transcription incomplete")

// Path names the fusion strategy that produced a result.
type Path string

const (
	PathEnriched Path = "enriched"
	PathFallback Path = "fallback"
)

// Position is the character range a word occupies in the transcript string.
// Offsets count runes, not bytes, so they line up with the viewer's indices
// for non-ASCII text.
type Position struct {
	CharStart int `json:"charStart"`
	CharEnd   int `json:"charEnd"`
}

// Fused is the result of a [Fuser.Fuse] call.
type Fused struct {
	// Transcript is the transcription's full text, unchanged.
	Transcript string

	// Markers are in word-iteration order.
	Markers []types.FeedbackMarker

	// Positions maps a word index to its range in Transcript. Words that could
	// not be located have no entry. Ranges are non-overlapping and strictly
	// increasing in word order.
	Positions map[int]Position

	Path Path
}

// Option is a functional option for configuring a [Fuser].
type Option func(*Fuser)

// WithConfig replaces the heuristic constants wholesale. Start from
// [DefaultConfig] to change only some of them. Empty tag names and word lists
// keep their defaults.
func WithConfig(cfg Config) Option {
	return func(f *Fuser) {
		f.cfg = cfg.withDefaults()
	}
}

// WithBodyLanguageCap overrides the per-pass body-language marker cap. Zero
// disables body-language markers on the enriched path.
func WithBodyLanguageCap(n int) Option {
	return func(f *Fuser) {
		if n >= 0 {
			f.cfg.BodyLanguageCap = n
		}
	}
}

// WithVocalDedup overrides the vocal marker proximity window in seconds. Zero
// disables deduplication.
func WithVocalDedup(seconds float64) Option {
	return func(f *Fuser) {
		if seconds >= 0 {
			f.cfg.VocalDedupSeconds = seconds
		}
	}
}

// WithGestureGrace overrides how far into the recording a word without a
// gesture tag starts counting as limited gesture usage.
func WithGestureGrace(seconds float64) Option {
	return func(f *Fuser) {
		if seconds >= 0 {
			f.cfg.GestureGraceSeconds = seconds
		}
	}
}

// WithMonotone overrides the monotone detector: the relative pitch deviation
// threshold and the earliest word start that can be flagged.
func WithMonotone(deviation, minStartSeconds float64) Option {
	return func(f *Fuser) {
		if deviation >= 0 {
			f.cfg.MonotoneDeviation = deviation
		}
		if minStartSeconds >= 0 {
			f.cfg.MonotoneMinStartSeconds = minStartSeconds
		}
	}
}

// WithFillerWords overrides the lexical filler set of the fallback path.
func WithFillerWords(words ...string) Option {
	return func(f *Fuser) {
		if len(words) > 0 {
			f.cfg.FillerWords = words
		}
	}
}

// WithFillerTag overrides the enriched tag that marks a filler word.
func WithFillerTag(tag string) Option {
	return func(f *Fuser) {
		if tag != "" {
			f.cfg.FillerTag = tag
		}
	}
}

// WithGestureTags overrides the gesture tags. low always counts as limited
// gesture usage; a word carrying none of all counts once past the grace
// period. Empty arguments keep the current value.
func WithGestureTags(low, all []string) Option {
	return func(f *Fuser) {
		if len(low) > 0 {
			f.cfg.LowGestureTags = low
		}
		if len(all) > 0 {
			f.cfg.GestureTags = all
		}
	}
}

// WithVocalTags overrides the pitch wobble and falling intonation tags.
func WithVocalTags(pitchWobble, fallingIntonation string) Option {
	return func(f *Fuser) {
		if pitchWobble != "" {
			f.cfg.PitchWobbleTag = pitchWobble
		}
		if fallingIntonation != "" {
			f.cfg.FallingIntonationTag = fallingIntonation
		}
	}
}

// Fuser converts transcriptions into markers. It holds only immutable
// configuration and is safe for concurrent use.
type Fuser struct {
	cfg     Config
	fillers map[string]struct{}
}

// NewFuser constructs a [Fuser] with [DefaultConfig] adjusted by opts.
func NewFuser(opts ...Option) *Fuser {
	f := &Fuser{cfg: DefaultConfig()}
	for _, o := range opts {
		o(f)
	}
	f.fillers = make(map[string]struct{}, len(f.cfg.FillerWords))
	for _, w := range f.cfg.FillerWords {
		f.fillers[strings.ToLower(w)] = struct{}{}
	}
	return f
}

// Config returns the effective heuristic constants.
func (f *Fuser) Config() Config {
	return f.cfg
}

// Fuse builds the transcript string, word positions and markers for tr.
// enriched may be nil. An enriched overlay whose length differs from the
// transcription's word count is ignored and the fallback path is used.
func (f *Fuser) Fuse(tr *types.Transcription, enriched *types.EnrichedTranscript) (*Fused, error) {
	if tr == nil {
		return nil, fmt.Errorf("%w: no transcription", ErrTranscriptionIncomplete)
	}
	if tr.Status != types.TranscriptionCompleted {
		return nil, fmt.Errorf("%w: status %q", ErrTranscriptionIncomplete, tr.Status)
	}

	text := tr.FullText
	if text == "" {
		text = joinWords(tr.Words)
	}

	out := &Fused{
		Transcript: text,
		Positions:  locate(text, tr.Words),
	}
	if enriched != nil && len(enriched.Words) > 0 && len(enriched.Words) == len(tr.Words) {
		out.Path = PathEnriched
		out.Markers = f.enriched(tr.Words, enriched.Words, out.Positions)
	} else {
		out.Path = PathFallback
		out.Markers = f.fallback(tr.Words, out.Positions)
	}
	return out, nil
}

// locate finds each word's trimmed text in transcript, starting every search
// where the previous match ended.
func locate(transcript string, words []types.TranscriptWord) map[int]Position {
	positions := make(map[int]Position, len(words))
	// cursor is a byte offset; chars is the same point counted in runes.
	cursor, chars := 0, 0
	for i, w := range words {
		needle := strings.TrimSpace(w.Text)
		if needle == "" {
			continue
		}
		idx := strings.Index(transcript[cursor:], needle)
		if idx < 0 {
			continue
		}
		start := chars + utf8.RuneCountInString(transcript[cursor:cursor+idx])
		end := start + utf8.RuneCountInString(needle)
		positions[i] = Position{CharStart: start, CharEnd: end}
		cursor += idx + len(needle)
		chars = end
	}
	return positions
}

func (f *Fuser) enriched(words []types.TranscriptWord, tags []types.EnrichedWord, positions map[int]Position) []types.FeedbackMarker {
	var (
		markers      []types.FeedbackMarker
		bodyLanguage int
	)
	for i, w := range words {
		pos, ok := positions[i]
		if !ok {
			continue
		}
		ew := tags[i]

		if ew.HasTag(f.cfg.FillerTag) {
			markers = append(markers, newMarker(types.CategorySpeech, w, pos, fillerMessage(w.Text)))
		}

		lowGesture := hasAny(ew, f.cfg.LowGestureTags)
		noGesture := !hasAny(ew, f.cfg.GestureTags) && w.Start > f.cfg.GestureGraceSeconds
		if (lowGesture || noGesture) && bodyLanguage < f.cfg.BodyLanguageCap {
			markers = append(markers, newMarker(types.CategoryBodyLanguage, w, pos, MsgLimitedGesture))
			bodyLanguage++
		}

		var msg string
		switch {
		case ew.HasTag(f.cfg.PitchWobbleTag):
			msg = MsgPitchWobble
		case ew.HasTag(f.cfg.FallingIntonationTag):
			msg = MsgFallingIntonation
		}
		if msg != "" && !f.nearVocal(markers, w.Start) {
			markers = append(markers, newMarker(types.CategoryVocal, w, pos, msg))
		}
	}
	return markers
}

func (f *Fuser) fallback(words []types.TranscriptWord, positions map[int]Position) []types.FeedbackMarker {
	var markers []types.FeedbackMarker
	for i, w := range words {
		pos, ok := positions[i]
		if !ok {
			continue
		}

		if _, filler := f.fillers[normalize(w.Text)]; filler {
			markers = append(markers, newMarker(types.CategorySpeech, w, pos, fillerMessage(w.Text)))
		}

		if i == 0 || i == len(words)-1 {
			continue
		}
		mean := (words[i-1].Metrics.Pitch + w.Metrics.Pitch + words[i+1].Metrics.Pitch) / 3
		if mean == 0 {
			continue
		}
		deviation := math.Abs(w.Metrics.Pitch-mean) / mean
		if deviation < f.cfg.MonotoneDeviation && w.Start > f.cfg.MonotoneMinStartSeconds && !f.nearVocal(markers, w.Start) {
			markers = append(markers, newMarker(types.CategoryVocal, w, pos, MsgMonotone))
		}
	}
	return markers
}

// nearVocal reports whether a vocal marker already lies within the dedup
// window of start.
func (f *Fuser) nearVocal(markers []types.FeedbackMarker, start float64) bool {
	return slices.ContainsFunc(markers, func(m types.FeedbackMarker) bool {
		return m.Category == types.CategoryVocal && math.Abs(m.Timestamp-start) < f.cfg.VocalDedupSeconds
	})
}

func newMarker(cat types.Category, w types.TranscriptWord, pos Position, msg string) types.FeedbackMarker {
	return types.FeedbackMarker{
		Category:             cat,
		Timestamp:            math.Max(0, w.Start),
		Feedback:             msg,
		TranscriptStartIndex: pos.CharStart,
		TranscriptEndIndex:   pos.CharEnd,
	}
}

func fillerMessage(word string) string {
	return fmt.Sprintf("Filler word %q detected", strings.TrimSpace(word))
}

func hasAny(w types.EnrichedWord, tags []string) bool {
	for _, t := range tags {
		if w.HasTag(t) {
			return true
		}
	}
	return false
}

// normalize lowercases word and strips one trailing punctuation character.
func normalize(word string) string {
	s := strings.ToLower(strings.TrimSpace(word))
	if r, size := utf8.DecodeLastRuneInString(s); size > 0 && unicode.IsPunct(r) {
		s = s[:len(s)-size]
	}
	return s
}

func joinWords(words []types.TranscriptWord) string {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		if t := strings.TrimSpace(w.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
