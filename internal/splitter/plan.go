package splitter

import "math"

// MinSegmentSeconds is the shortest segment worth producing. Shorter
// candidates are dropped without counting as clips.
const MinSegmentSeconds = 10.0

// Segment is one planned time range of the source.
type Segment struct {
	// Index is 1-based among retained segments.
	Index int
	Start float64
	End   float64
}

// Duration returns End - Start.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Plan cuts totalSeconds into consecutive clipSeconds ranges and drops any
// range shorter than MinSegmentSeconds.
func Plan(totalSeconds, clipSeconds float64) []Segment {
	if totalSeconds <= 0 || clipSeconds <= 0 || math.IsNaN(totalSeconds) || math.IsInf(totalSeconds, 0) {
		return nil
	}
	candidates := int(math.Ceil(totalSeconds / clipSeconds))
	segments := make([]Segment, 0, candidates)
	for i := 0; i < candidates; i++ {
		start := float64(i) * clipSeconds
		end := math.Min(start+clipSeconds, totalSeconds)
		if end-start < MinSegmentSeconds {
			continue
		}
		segments = append(segments, Segment{Index: len(segments) + 1, Start: start, End: end})
	}
	return segments
}

// CountClips returns how many clips Plan would produce.
func CountClips(totalSeconds, clipSeconds float64) int {
	return len(Plan(totalSeconds, clipSeconds))
}
