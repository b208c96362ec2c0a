package pricing

import (
	"math"
	"sort"
)

// Daily moves beyond these fractions are treated as data corruption
// rather than market moves. Benchmarks get the tighter bound.
const (
	MaxDailyJumpBench = 0.25
	MaxDailyJumpStock = 0.60
)

// MaxDailyJump returns the sanitization threshold for a series
func MaxDailyJump(isBench bool) float64 {
	if isBench {
		return MaxDailyJumpBench
	}
	return MaxDailyJumpStock
}

// Sanitize cleans a close series: drops non-positive and NaN closes,
// sorts by date, and forward-fills any point whose day-over-day move
// exceeds maxJump. Points that still have no valid prior close after
// masking are dropped.
func Sanitize(closes []Close, maxJump float64) []Close {
	valid := make([]Close, 0, len(closes))
	for _, c := range closes {
		if c.Close > 0 && !math.IsNaN(c.Close) && c.Date != "" {
			valid = append(valid, c)
		}
	}

	sort.Slice(valid, func(i, j int) bool { return valid[i].Date < valid[j].Date })

	// Dedupe on date, keeping the later write
	deduped := valid[:0]
	for i, c := range valid {
		if i > 0 && deduped[len(deduped)-1].Date == c.Date {
			deduped[len(deduped)-1] = c
			continue
		}
		deduped = append(deduped, c)
	}

	out := make([]Close, 0, len(deduped))
	prev := 0.0
	for _, c := range deduped {
		if prev > 0 {
			jump := math.Abs(c.Close/prev - 1)
			if jump > maxJump {
				// Corrupt print: carry the prior close forward
				c.Close = prev
			}
		}
		prev = c.Close
		out = append(out, c)
	}

	return out
}

// IsCorrupt reports whether a sorted close series contains a day-over-day
// move beyond maxJump or a non-positive close. Used to decide whether a
// cached window needs a full re-fetch.
func IsCorrupt(closes []Close, maxJump float64) bool {
	prev := 0.0
	for _, c := range closes {
		if c.Close <= 0 || math.IsNaN(c.Close) {
			return true
		}
		if prev > 0 && math.Abs(c.Close/prev-1) > maxJump {
			return true
		}
		prev = c.Close
	}
	return false
}
