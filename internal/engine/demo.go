package engine

import (
	"slices"

	"github.com/kavehfayyazi/tremolo/pkg/types"
)

const demoTranscript = "Hello everyone, thank you for being here today. I'm excited to present our new product. Um, it's a revolutionary solution that, uh, addresses a key problem in the market. So, let me start by explaining the problem we're solving. The current solutions are, um, inefficient and expensive. Our product, on the other hand, provides a cost-effective alternative that, uh, really makes a difference."

var demoMarkers = []types.FeedbackMarker{
	{Category: types.CategorySpeech, Timestamp: 12.5, Feedback: "Filler word 'um' detected", TranscriptStartIndex: 67, TranscriptEndIndex: 69},
	{Category: types.CategorySpeech, Timestamp: 18.2, Feedback: "Filler word 'uh' detected", TranscriptStartIndex: 120, TranscriptEndIndex: 122},
	{Category: types.CategoryVocal, Timestamp: 25.8, Feedback: "Monotonous tone detected", TranscriptStartIndex: 180, TranscriptEndIndex: 200},
	{Category: types.CategoryBodyLanguage, Timestamp: 30.5, Feedback: "Good eye contact maintained", TranscriptStartIndex: 220, TranscriptEndIndex: 240},
	{Category: types.CategorySpeech, Timestamp: 35.2, Feedback: "Filler word 'um' detected", TranscriptStartIndex: 280, TranscriptEndIndex: 282},
	{Category: types.CategorySpeech, Timestamp: 42.1, Feedback: "Filler word 'uh' detected", TranscriptStartIndex: 320, TranscriptEndIndex: 322},
}

// Demo returns the canned demonstration analysis served when the backend is
// unavailable. The scores are fixed; they are not derived from the markers.
// Every call returns a fresh copy that the caller may modify.
func Demo() *types.Analysis {
	return &types.Analysis{
		ScoreSet: types.ScoreSet{
			OverallScore:      8.5,
			BodyLanguageScore: 9.0,
			VocalScore:        8.0,
			SpeechScore:       8.5,
		},
		Transcript: demoTranscript,
		Markers:    slices.Clone(demoMarkers),
		Source:     types.SourceDemo,
	}
}
