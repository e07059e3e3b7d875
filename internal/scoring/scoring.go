// Package scoring derives the four 0–10 quality scores from a fused marker set.
//
// Every score is a pure function of the markers, the transcription words and
// the optional enriched overlay. Each of the four values is clamped to [0, 10]
// and rounded to one decimal place independently; intermediate terms are not
// rounded.
package scoring

import (
	"math"

	"github.com/kavehfayyazi/tremolo/pkg/types"
)

// Weights controls how the category scores combine into the overall score.
type Weights struct {
	Speech       float64
	Vocal        float64
	BodyLanguage float64
}

// Config holds the scoring constants.
type Config struct {
	// FluencyThreshold separates the two guessed scales of the upstream
	// fluency score: values above it are read as 0–100, values at or below it
	// as 0–1.
	FluencyThreshold float64

	Weights Weights

	// FillerPenalty scales the filler-marker ratio in the lexical speech score.
	FillerPenalty float64

	// VocalPenalty is subtracted per vocal marker.
	VocalPenalty float64

	// BodyLanguagePenalty is subtracted per body-language marker when no
	// enriched sentence analysis is available.
	BodyLanguagePenalty float64

	// GestureBase and GestureGain map the gesture ratio to
	// min(10, GestureBase + GestureGain*ratio).
	GestureBase float64
	GestureGain float64

	// ActiveGestureTags are the tag-distribution keys counted as active
	// gesturing.
	ActiveGestureTags []string
}

// DefaultConfig returns the stock scoring constants.
func DefaultConfig() Config {
	return Config{
		FluencyThreshold:    10,
		Weights:             Weights{Speech: 0.4, Vocal: 0.3, BodyLanguage: 0.3},
		FillerPenalty:       20,
		VocalPenalty:        0.5,
		BodyLanguagePenalty: 0.3,
		GestureBase:         5,
		GestureGain:         20,
		ActiveGestureTags:   []string{types.TagHighGestureEnergy, types.TagModerateGestureEnergy},
	}
}

// Option is a functional option for configuring a [Scorer].
type Option func(*Scorer)

// WithConfig replaces the scoring constants wholesale.
func WithConfig(cfg Config) Option {
	return func(s *Scorer) {
		s.cfg = cfg
	}
}

// WithFluencyThreshold overrides the fluency scale threshold.
func WithFluencyThreshold(v float64) Option {
	return func(s *Scorer) {
		s.cfg.FluencyThreshold = v
	}
}

// WithWeights overrides the overall-score weights.
func WithWeights(w Weights) Option {
	return func(s *Scorer) {
		s.cfg.Weights = w
	}
}

// WithActiveGestureTags overrides the tag-distribution keys counted as active
// gesturing.
func WithActiveGestureTags(tags ...string) Option {
	return func(s *Scorer) {
		s.cfg.ActiveGestureTags = tags
	}
}

// Scorer computes a [types.ScoreSet]. It is stateless apart from its
// configuration and safe for concurrent use.
type Scorer struct {
	cfg Config
}

// New returns a [Scorer] with [DefaultConfig] adjusted by opts.
func New(opts ...Option) *Scorer {
	s := &Scorer{cfg: DefaultConfig()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Score computes the scores with the default configuration.
func Score(markers []types.FeedbackMarker, words []types.TranscriptWord, enriched *types.EnrichedTranscript) types.ScoreSet {
	return New().Score(markers, words, enriched)
}

// Score computes the four scores. enriched may be nil.
func (s *Scorer) Score(markers []types.FeedbackMarker, words []types.TranscriptWord, enriched *types.EnrichedTranscript) types.ScoreSet {
	var speech, vocal, body int
	for _, m := range markers {
		switch m.Category {
		case types.CategorySpeech:
			speech++
		case types.CategoryVocal:
			vocal++
		case types.CategoryBodyLanguage:
			body++
		}
	}

	var sa *types.SentenceAnalysis
	if enriched != nil {
		sa = enriched.SentenceAnalysis
	}

	// Components are clamped before weighting but not rounded.
	speechScore := clamp(s.speech(speech, len(words), sa))
	vocalScore := clamp(10 - s.cfg.VocalPenalty*float64(vocal))
	bodyScore := clamp(s.bodyLanguage(body, len(words), sa))
	w := s.cfg.Weights
	overall := w.Speech*speechScore + w.Vocal*vocalScore + w.BodyLanguage*bodyScore

	return types.ScoreSet{
		OverallScore:      finish(overall),
		BodyLanguageScore: finish(bodyScore),
		VocalScore:        finish(vocalScore),
		SpeechScore:       finish(speechScore),
	}
}

func (s *Scorer) speech(fillers, totalWords int, sa *types.SentenceAnalysis) float64 {
	if sa != nil && sa.FluencyScore != nil {
		return NormalizeFluency(*sa.FluencyScore, s.cfg.FluencyThreshold)
	}
	if totalWords == 0 {
		return 10
	}
	return math.Max(0, 10-s.cfg.FillerPenalty*float64(fillers)/float64(totalWords))
}

func (s *Scorer) bodyLanguage(markers, totalWords int, sa *types.SentenceAnalysis) float64 {
	if sa == nil {
		return math.Max(0, 10-s.cfg.BodyLanguagePenalty*float64(markers))
	}
	total := sa.WordCount
	if total <= 0 {
		total = totalWords
	}
	var ratio float64
	if total > 0 {
		var active int
		for _, tag := range s.cfg.ActiveGestureTags {
			active += sa.TagDistribution[tag]
		}
		ratio = float64(active) / float64(total)
	}
	return math.Min(10, s.cfg.GestureBase+s.cfg.GestureGain*ratio)
}

// NormalizeFluency maps an upstream fluency score to the 0–10 scale. Values
// above threshold are read as 0–100 and divided by 10; values at or below it
// are read as 0–1 and multiplied by 10. The result is not clamped.
func NormalizeFluency(v, threshold float64) float64 {
	if v > threshold {
		return v / 10
	}
	return v * 10
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(10, v))
}

// finish clamps v to [0, 10] and rounds it to one decimal.
func finish(v float64) float64 {
	return math.Round(clamp(v)*10) / 10
}
