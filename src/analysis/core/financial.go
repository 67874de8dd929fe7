package core

import (
	"math"

	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------

// CalculateChangePercent calculates the relative change of current over previous.
func CalculateChangePercent(current, previous float64) float64 {
	if previous == 0 {
		return 0.0
	}
	return (current - previous) / previous
}

// -----------------------------------------------------------------------------

// PremiumPercent is (domestic / globalConverted - 1) * 100 rounded to places.
// ok is false when the result is not a finite number.
func PremiumPercent(domestic, globalConverted float64, places int32) (float64, bool) {
	if !ValidPrice(domestic) || !ValidPrice(globalConverted) {
		return 0, false
	}
	raw := CalculateChangePercent(domestic, globalConverted) * 100
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 0, false
	}
	return Round(raw, places), true
}

// -----------------------------------------------------------------------------

// Round rounds half away from zero at the given number of decimal places.
func Round(v float64, places int32) float64 {
	out, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return out
}
