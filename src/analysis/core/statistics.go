package core

import "math"

// -----------------------------------------------------------------------------

// ValidPrice reports whether p can take part in an average.
func ValidPrice(p float64) bool {
	return p > 0 && !math.IsNaN(p) && !math.IsInf(p, 0)
}

// -----------------------------------------------------------------------------

// Mean of the valid prices in data. ok is false when none are valid.
func Mean(data []float64) (mean float64, ok bool) {
	sum, n := 0.0, 0
	for _, v := range data {
		if !ValidPrice(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
