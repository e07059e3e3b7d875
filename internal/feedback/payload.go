// Package feedback turns secondary AI feedback into extra speech markers.
//
// AI feedback comes from an endpoint (or model) whose output shape is not
// under our control. Three shapes are recognised:
//
//	[{"timestamp": 3.2, "feedback": "..."}, "..."]   bare array
//	{"feedback": [ ... ]}                             wrapped feedback list
//	{"markers":  [ ... ]}                             wrapped marker list
//
// Items may be objects or plain strings. [Parse] normalises any payload into a
// [Payload] once, at the boundary; everything downstream works with the
// normalised items only. A payload that matches none of the shapes is not an
// error: it yields no items.
//
// AI markers never influence scoring. They are appended to an analysis after
// its scores have been computed, see [Annotator].
package feedback

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/kavehfayyazi/tremolo/pkg/types"
)

// Shape identifies which payload variant was received.
type Shape int

const (
	// ShapeUnknown means the payload matched no known variant.
	ShapeUnknown Shape = iota
	ShapeArray
	ShapeFeedback
	ShapeMarkers
)

// String returns the human-readable name of the shape.
func (s Shape) String() string {
	switch s {
	case ShapeArray:
		return "array"
	case ShapeFeedback:
		return "feedback"
	case ShapeMarkers:
		return "markers"
	default:
		return "unknown"
	}
}

// Item is one normalised piece of AI feedback.
type Item struct {
	// Timestamp in seconds; zero when the source gave none.
	Timestamp float64 `json:"timestamp"`
	Feedback  string  `json:"feedback"`
}

// Payload is the normalised form of an AI feedback response.
type Payload struct {
	Shape Shape
	Items []Item
}

// Parse normalises raw into a [Payload]. It never fails; unrecognised input
// yields an empty payload with [ShapeUnknown].
func Parse(raw []byte) Payload {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Payload{}
	}

	switch raw[0] {
	case '[':
		var items []json.RawMessage
		if json.Unmarshal(raw, &items) != nil {
			return Payload{}
		}
		return Payload{Shape: ShapeArray, Items: parseItems(items)}

	case '{':
		var obj struct {
			Feedback json.RawMessage `json:"feedback"`
			Markers  json.RawMessage `json:"markers"`
		}
		if json.Unmarshal(raw, &obj) != nil {
			return Payload{}
		}
		var items []json.RawMessage
		if json.Unmarshal(obj.Feedback, &items) == nil && items != nil {
			return Payload{Shape: ShapeFeedback, Items: parseItems(items)}
		}
		if json.Unmarshal(obj.Markers, &items) == nil && items != nil {
			return Payload{Shape: ShapeMarkers, Items: parseItems(items)}
		}
	}
	return Payload{}
}

func parseItems(raw []json.RawMessage) []Item {
	out := make([]Item, 0, len(raw))
	for _, r := range raw {
		var s string
		if json.Unmarshal(r, &s) == nil {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, Item{Feedback: s})
			}
			continue
		}

		var obj struct {
			Timestamp *float64 `json:"timestamp"`
			Feedback  *string  `json:"feedback"`
		}
		if json.Unmarshal(r, &obj) != nil || obj.Feedback == nil {
			continue
		}
		it := Item{Feedback: strings.TrimSpace(*obj.Feedback)}
		if it.Feedback == "" {
			continue
		}
		if obj.Timestamp != nil && *obj.Timestamp > 0 {
			it.Timestamp = *obj.Timestamp
		}
		out = append(out, it)
	}
	return out
}

// Range is the placeholder transcript range given to AI markers, which carry
// no text anchor of their own.
type Range struct {
	Start int
	End   int
}

// Markers converts the payload items into speech markers anchored at
// placeholder. The range is clamped to [0, transcriptLen] so the marker
// invariants hold for any configuration.
func (p Payload) Markers(placeholder Range, transcriptLen int) []types.FeedbackMarker {
	if len(p.Items) == 0 {
		return nil
	}
	start := min(max(placeholder.Start, 0), transcriptLen)
	end := min(max(placeholder.End, start), transcriptLen)

	out := make([]types.FeedbackMarker, 0, len(p.Items))
	for _, it := range p.Items {
		out = append(out, types.FeedbackMarker{
			Category:             types.CategorySpeech,
			Timestamp:            it.Timestamp,
			Feedback:             it.Feedback,
			TranscriptStartIndex: start,
			TranscriptEndIndex:   end,
		})
	}
	return out
}
