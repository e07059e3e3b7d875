// Package types defines the shared types used across all Tremolo packages.
//
// These types form the lingua franca between the analysis backend client, the
// poller, the fuser, the scorer, and the timestamp estimator. Upstream payloads
// keep the backend's snake_case JSON keys; values handed to the viewer use the
// camelCase keys it renders from.
package types

// Category classifies a [FeedbackMarker].
type Category string

const (
	CategoryBodyLanguage Category = "body-language"
	CategoryVocal        Category = "vocal"
	CategorySpeech       Category = "speech"
)

// Categories lists every known category in display order.
var Categories = []Category{CategoryBodyLanguage, CategoryVocal, CategorySpeech}

// IsValid reports whether c is a recognised category.
func (c Category) IsValid() bool {
	switch c {
	case CategoryBodyLanguage, CategoryVocal, CategorySpeech:
		return true
	}
	return false
}

// FeedbackMarker is a timestamped, text-anchored feedback annotation.
//
// Markers are the canonical anchor unit: the scorer counts them per category and
// the timestamp estimator interpolates between their (TranscriptStartIndex,
// Timestamp) pairs. Markers are never mutated after construction.
type FeedbackMarker struct {
	Category Category `json:"category"`

	// Timestamp is the playback position in seconds. Always >= 0.
	Timestamp float64 `json:"timestamp"`

	Feedback string `json:"feedback"`

	// TranscriptStartIndex and TranscriptEndIndex delimit the annotated span in
	// the transcript string (character offsets, end exclusive).
	TranscriptStartIndex int `json:"transcriptStartIndex"`
	TranscriptEndIndex   int `json:"transcriptEndIndex"`
}

// ScoreSet holds the four quality scores, each in [0, 10] rounded to one decimal.
type ScoreSet struct {
	OverallScore      float64 `json:"overallScore"`
	BodyLanguageScore float64 `json:"bodyLanguageScore"`
	VocalScore        float64 `json:"vocalScore"`
	SpeechScore       float64 `json:"speechScore"`
}

// Source records where an [Analysis] came from.
type Source string

const (
	// SourceLive means the analysis was derived from a backend job.
	SourceLive Source = "live"

	// SourceDemo means the canned demonstration dataset was returned instead.
	SourceDemo Source = "demo"
)

// Analysis is the combined result handed to the presentation layer. It replaces
// any session-scoped state: the caller owns its lifecycle.
type Analysis struct {
	ScoreSet

	Transcript string           `json:"transcript"`
	Markers    []FeedbackMarker `json:"markers"`

	// JobID is the backend job the analysis was derived from. Empty for demo data.
	JobID string `json:"jobId,omitempty"`

	Source Source `json:"source"`
}

// WordMetrics carries the per-word acoustic and motion features produced by the
// upstream pipeline.
type WordMetrics struct {
	Pitch          float64 `json:"pitch"`
	AudioIntensity float64 `json:"audio_intensity"`
	WristVelocity  float64 `json:"wrist_velocity"`
}

// TranscriptWord is one spoken word. Words arrive ordered by non-decreasing Start.
type TranscriptWord struct {
	Text    string      `json:"text"`
	Start   float64     `json:"start"`
	End     float64     `json:"end"`
	Metrics WordMetrics `json:"metrics"`
}

// TranscriptionCompleted is the only transcription status the fuser accepts.
const TranscriptionCompleted = "completed"

// Transcription is the raw per-word transcription of a recording.
type Transcription struct {
	Status   string           `json:"status"`
	FullText string           `json:"full_text"`
	Words    []TranscriptWord `json:"words"`
}

// EnrichedWord is the tag overlay for the word at the same index in
// [Transcription.Words].
type EnrichedWord struct {
	Text            string   `json:"text"`
	Tags            []string `json:"tags"`
	ConfidenceScore float64  `json:"confidence_score"`
}

// Tag names produced by the upstream enrichment pipeline.
const (
	TagFillerWord            = "filler_word"
	TagLowGestureEnergy      = "low_gesture_energy"
	TagModerateGestureEnergy = "moderate_gesture_energy"
	TagHighGestureEnergy     = "high_gesture_energy"
	TagPitchWobble           = "pitch_wobble"
	TagFallingIntonation     = "falling_intonation"
)

// HasTag reports whether tag is present on w.
func (w EnrichedWord) HasTag(tag string) bool {
	for _, t := range w.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// SentenceAnalysis holds recording-wide statistics. The scale of FluencyScore is
// not fixed by the upstream pipeline; see the scoring package.
type SentenceAnalysis struct {
	FluencyScore    *float64       `json:"fluency_score,omitempty"`
	TagDistribution map[string]int `json:"tag_distribution"`
	DisfluencyCount int            `json:"disfluency_count"`
	SpeakingRate    float64        `json:"speaking_rate"`
	WordCount       int            `json:"word_count"`
	TotalDuration   float64        `json:"total_duration"`
}

// EnrichedTranscript is the optional overlay produced alongside a transcription.
type EnrichedTranscript struct {
	Words            []EnrichedWord    `json:"words"`
	SentenceAnalysis *SentenceAnalysis `json:"sentence_analysis,omitempty"`
}

// JobState is the server-driven lifecycle state of an analysis job.
type JobState string

const (
	JobQueued     JobState = "queued"
	JobProcessing JobState = "processing"
	JobComplete   JobState = "complete"
	JobError      JobState = "error"
)

// IsTerminal reports whether s ends the job lifecycle.
func (s JobState) IsTerminal() bool {
	return s == JobComplete || s == JobError
}

// JobStatus is one observation of a job, as returned by the status endpoint.
type JobStatus struct {
	Status             JobState            `json:"status"`
	Transcription      *Transcription      `json:"transcription,omitempty"`
	EnrichedTranscript *EnrichedTranscript `json:"enriched_transcript,omitempty"`
	Detail             string              `json:"detail,omitempty"`
}
