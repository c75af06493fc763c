package marine

import "math"

// ComputeIOI scores operability from 0 (no-go) to 100 (ideal). Missing or
// non-positive inputs do not affect the score.
func ComputeIOI(hs, windKt, swellPeriod *float64) int {
	ioi := 100.0

	if v, ok := positive(hs); ok {
		switch {
		case v > 4:
			ioi -= 40
		case v > 3:
			ioi -= 25
		case v > 2:
			ioi -= 15
		case v > 1:
			ioi -= 5
		}
	}

	if v, ok := positive(windKt); ok {
		switch {
		case v > 30:
			ioi -= 35
		case v > 25:
			ioi -= 25
		case v > 20:
			ioi -= 15
		case v > 15:
			ioi -= 8
		case v > 10:
			ioi -= 3
		}
	}

	if v, ok := positive(swellPeriod); ok {
		switch {
		case v < 6:
			ioi -= 10
		case v > 12:
			ioi += 5
		}
	}

	return int(math.Round(math.Max(0, math.Min(100, ioi))))
}

func positive(v *float64) (float64, bool) {
	if v == nil || *v <= 0 {
		return 0, false
	}
	return *v, true
}
