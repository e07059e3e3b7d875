package timestamp_test

import (
	"math"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/kavehfayyazi/tremolo/pkg/timestamp"
	"github.com/kavehfayyazi/tremolo/pkg/types"
)

const eps = 1e-9

func marker(start int, ts float64) types.FeedbackMarker {
	return types.FeedbackMarker{
		Category:             types.CategorySpeech,
		Timestamp:            ts,
		TranscriptStartIndex: start,
		TranscriptEndIndex:   start + 2,
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < eps
}

func TestEstimate_NoMarkersIsProportional(t *testing.T) {
	t.Parallel()
	const n, d = 400, 40.0
	for ci := 0; ci <= n; ci += 7 {
		got := timestamp.Estimate(ci, nil, n, d)
		want := float64(ci) / float64(n) * d
		if got != want {
			t.Fatalf("Estimate(%d) = %v, want %v", ci, got, want)
		}
	}
}

func TestEstimate_ZeroDurationIsZero(t *testing.T) {
	t.Parallel()
	got := timestamp.Estimate(120, []types.FeedbackMarker{marker(100, 10)}, 400, 0)
	if got != 0 {
		t.Errorf("Estimate with zero duration = %v, want 0", got)
	}
}

func TestEstimate_ZeroLengthTranscript(t *testing.T) {
	t.Parallel()
	if got := timestamp.Estimate(0, nil, 0, 30); got != 0 {
		t.Errorf("Estimate on empty transcript = %v, want 0", got)
	}
}

func TestEstimate_SingleMarker(t *testing.T) {
	t.Parallel()
	markers := []types.FeedbackMarker{marker(100, 10)}

	tests := []struct {
		name string
		ci   int
		want float64
	}{
		{"origin", 0, 0},
		{"before marker", 50, 5.0},
		{"at marker", 100, 10.0},
		{"after marker", 250, 10 + 150.0/300.0*30},
		{"end of transcript", 400, 40},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := timestamp.Estimate(tc.ci, markers, 400, 40)
			if !almostEqual(got, tc.want) {
				t.Errorf("Estimate(%d) = %v, want %v", tc.ci, got, tc.want)
			}
		})
	}
}

func TestEstimate_InterpolatesBetweenTightestPair(t *testing.T) {
	t.Parallel()
	// Deliberately unsorted.
	markers := []types.FeedbackMarker{
		marker(300, 30),
		marker(100, 10),
		marker(200, 25),
	}
	got := timestamp.Estimate(250, markers, 400, 40)
	if want := 27.5; !almostEqual(got, want) {
		t.Errorf("Estimate(250) = %v, want %v", got, want)
	}
	got = timestamp.Estimate(150, markers, 400, 40)
	if want := 17.5; !almostEqual(got, want) {
		t.Errorf("Estimate(150) = %v, want %v", got, want)
	}
}

func TestEstimate_MarkerAtOrigin(t *testing.T) {
	t.Parallel()
	markers := []types.FeedbackMarker{marker(0, 5)}
	if got := timestamp.Estimate(0, markers, 100, 20); !almostEqual(got, 5) {
		t.Errorf("Estimate(0) = %v, want 5", got)
	}
	// Negative offsets sit before an anchor at 0; no division by zero.
	if got := timestamp.Estimate(-3, markers, 100, 20); got != 0 {
		t.Errorf("Estimate(-3) = %v, want 0", got)
	}
}

func TestEstimate_LastMarkerAtEndFallsBack(t *testing.T) {
	t.Parallel()
	markers := []types.FeedbackMarker{marker(100, 10)}
	// transcriptLength equal to the marker start leaves no remaining chars.
	got := timestamp.Estimate(100, markers, 100, 40)
	if !almostEqual(got, 40) {
		t.Errorf("Estimate = %v, want proportional 40", got)
	}
}

func TestEstimate_ClampsOutOfRangeAnchors(t *testing.T) {
	t.Parallel()
	// Anchor timestamp beyond the video duration.
	markers := []types.FeedbackMarker{marker(100, 90)}
	for ci := 0; ci <= 400; ci += 10 {
		got := timestamp.Estimate(ci, markers, 400, 40)
		if got < 0 || got > 40 {
			t.Fatalf("Estimate(%d) = %v, outside [0, 40]", ci, got)
		}
	}
}

func TestEstimate_BoundsForRandomMarkerSets(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(7, 11))
	for round := 0; round < 200; round++ {
		n := 1 + rng.IntN(500)
		d := rng.Float64() * 120
		var markers []types.FeedbackMarker
		for range rng.IntN(8) {
			markers = append(markers, marker(rng.IntN(n+1), rng.Float64()*150))
		}
		est := timestamp.New(markers, n, d)
		for ci := 0; ci <= n; ci++ {
			got := est.At(ci)
			if got < 0 || got > d || math.IsNaN(got) {
				t.Fatalf("round %d: At(%d) = %v, outside [0, %v] (markers %v)", round, ci, got, d, markers)
			}
		}
	}
}

func TestEstimate_MonotonicForConsistentAnchors(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(3, 5))
	for round := 0; round < 100; round++ {
		n := 50 + rng.IntN(500)
		d := 10 + rng.Float64()*100

		// Distinct start indexes with timestamps increasing along the transcript.
		count := rng.IntN(6)
		starts := rng.Perm(n)[:count]
		slices.Sort(starts)
		stamps := make([]float64, count)
		for i := range stamps {
			stamps[i] = rng.Float64() * d
		}
		slices.Sort(stamps)

		markers := make([]types.FeedbackMarker, count)
		for i := range markers {
			markers[i] = marker(starts[i], stamps[i])
		}
		rng.Shuffle(len(markers), func(i, j int) { markers[i], markers[j] = markers[j], markers[i] })

		est := timestamp.New(markers, n, d)
		prev := est.At(0)
		for ci := 1; ci <= n; ci++ {
			got := est.At(ci)
			if got+eps < prev {
				t.Fatalf("round %d: At(%d) = %v < At(%d) = %v", round, ci, got, ci-1, prev)
			}
			prev = got
		}
	}
}

func TestNew_DoesNotMutateInput(t *testing.T) {
	t.Parallel()
	markers := []types.FeedbackMarker{marker(300, 30), marker(100, 10)}
	_ = timestamp.New(markers, 400, 40)
	if markers[0].TranscriptStartIndex != 300 {
		t.Error("New reordered the caller's slice")
	}
}
