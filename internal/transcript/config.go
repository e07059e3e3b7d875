package transcript

import "github.com/kavehfayyazi/tremolo/pkg/types"

// Marker messages.
const (
	MsgLimitedGesture    = "Limited gesture usage detected"
	MsgPitchWobble       = "Pitch wobble detected"
	MsgFallingIntonation = "Falling intonation detected"
	MsgMonotone          = "Monotonous tone detected"
)

// Config holds the heuristic constants used by the [Fuser]. They encode tuning
// decisions rather than contracts, so every one of them can be overridden.
type Config struct {
	// BodyLanguageCap is the maximum number of body-language markers emitted by
	// one enriched pass.
	BodyLanguageCap int

	// VocalDedupSeconds suppresses a vocal marker when another vocal marker
	// lies closer than this to the word's start.
	VocalDedupSeconds float64

	// GestureGraceSeconds is how far into the recording a word must start
	// before a missing gesture tag counts as limited gesture usage.
	GestureGraceSeconds float64

	// MonotoneDeviation is the relative pitch deviation from the 3-word mean
	// below which a word counts as monotone.
	MonotoneDeviation float64

	// MonotoneMinStartSeconds is the earliest word start at which monotone
	// markers are emitted.
	MonotoneMinStartSeconds float64

	// FillerWords is the lexical filler set used when no enriched data is
	// usable. Entries are compared against the lowercased word with one
	// trailing punctuation character removed.
	FillerWords []string

	// FillerTag marks a filler word in the enriched overlay.
	FillerTag string

	// LowGestureTags always count as limited gesture usage. A word carrying
	// none of GestureTags counts too once past GestureGraceSeconds.
	LowGestureTags []string
	GestureTags    []string

	PitchWobbleTag       string
	FallingIntonationTag string
}

// DefaultConfig returns the stock heuristics.
func DefaultConfig() Config {
	return Config{
		BodyLanguageCap:         3,
		VocalDedupSeconds:       0.5,
		GestureGraceSeconds:     2,
		MonotoneDeviation:       0.1,
		MonotoneMinStartSeconds: 5,
		FillerWords:             []string{"um", "uh", "er", "ah", "like", "you know"},
		FillerTag:               types.TagFillerWord,
		LowGestureTags:          []string{types.TagLowGestureEnergy},
		GestureTags:             []string{types.TagLowGestureEnergy, types.TagModerateGestureEnergy, types.TagHighGestureEnergy},
		PitchWobbleTag:          types.TagPitchWobble,
		FallingIntonationTag:    types.TagFallingIntonation,
	}
}

// withDefaults fills the fields of c that cannot meaningfully be empty from
// [DefaultConfig]. Numeric fields are taken as given: zero is a valid
// setting for every one of them, and negatives behave like zero.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if len(c.FillerWords) == 0 {
		c.FillerWords = d.FillerWords
	}
	if c.FillerTag == "" {
		c.FillerTag = d.FillerTag
	}
	if len(c.LowGestureTags) == 0 {
		c.LowGestureTags = d.LowGestureTags
	}
	if len(c.GestureTags) == 0 {
		c.GestureTags = d.GestureTags
	}
	if c.PitchWobbleTag == "" {
		c.PitchWobbleTag = d.PitchWobbleTag
	}
	if c.FallingIntonationTag == "" {
		c.FallingIntonationTag = d.FallingIntonationTag
	}
	return c
}
