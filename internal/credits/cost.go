package credits

import "math"

// Cost returns the credits charged to split a source of durationSeconds into
// clipCount clips:
//
//	ceil( clipCount + ceil(duration/60)*0.1 + (duration > 600 ? clipCount*0.5 : 0) )
//
// The ceiling applies once to the summed total. The sum is computed in
// tenths of a credit so no float rounding can push an exact total up.
func Cost(durationSeconds float64, clipCount int) int64 {
	if clipCount < 0 {
		clipCount = 0
	}
	if durationSeconds < 0 || math.IsNaN(durationSeconds) {
		durationSeconds = 0
	}
	count := int64(clipCount)
	tenths := count * 10
	tenths += int64(math.Ceil(durationSeconds / 60))
	if durationSeconds > 600 {
		tenths += count * 5
	}
	return (tenths + 9) / 10
}
