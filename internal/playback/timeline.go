package playback

import (
	"math"
	"time"

	"github.com/trackview/trackview-core/internal/tracking"
)

// BucketCount is the number of fixed 10-minute slots in a day
// (24 hours x 6), used for the scrub-bar speed overview.
const BucketCount = 144

// hourOfDay returns a timestamp's local time-of-day in fractional
// hours, minute-resolution.
func hourOfDay(ts time.Time) float64 {
	return float64(ts.Hour()) + float64(ts.Minute())/60
}

// speedBuckets aggregates positions into BucketCount time-of-day
// buckets, each holding the maximum observed speed among positions
// whose local time falls in that bucket. Positions without a speed
// reading contribute 0.
func speedBuckets(positions []tracking.Position) [BucketCount]float64 {
	var buckets [BucketCount]float64
	for _, pos := range positions {
		idx := int(hourOfDay(pos.Timestamp) * 6)
		if idx < 0 || idx >= BucketCount {
			continue
		}
		speed := 0.0
		if pos.Speed != nil {
			speed = *pos.Speed
		}
		if speed > buckets[idx] {
			buckets[idx] = speed
		}
	}
	return buckets
}

// nearestIndexToHour returns the index of the position whose
// hour-of-day is closest to the target hour, ties broken by first
// occurrence. Returns -1 for an empty sequence.
func nearestIndexToHour(positions []tracking.Position, hour float64) int {
	best := -1
	bestDiff := math.Inf(1)
	for i, pos := range positions {
		diff := math.Abs(hourOfDay(pos.Timestamp) - hour)
		if diff < bestDiff {
			best = i
			bestDiff = diff
		}
	}
	return best
}
