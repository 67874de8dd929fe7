package core

import (
	"math"
	"testing"
)

func TestPremiumPercentExample(t *testing.T) {
	converted := 70_000.0 * 1_400
	if got, ok := PremiumPercent(100_000_000, converted, 2); !ok || got != 2.04 {
		t.Errorf("2 places = %v, %v", got, ok)
	}
	if got, ok := PremiumPercent(100_000_000, converted, 4); !ok || got != 2.0408 {
		t.Errorf("4 places = %v, %v", got, ok)
	}
	if got, _ := PremiumPercent(98_000_000, converted, 2); got != 0 {
		t.Errorf("parity = %v", got)
	}
}

// -----------------------------------------------------------------------------

func TestPremiumPercentRejectsInvalid(t *testing.T) {
	for _, tc := range [][2]float64{{0, 1}, {1, 0}, {math.NaN(), 1}, {1, math.Inf(1)}, {-5, 1}} {
		if _, ok := PremiumPercent(tc[0], tc[1], 2); ok {
			t.Errorf("PremiumPercent(%v, %v) should fail", tc[0], tc[1])
		}
	}
}

// -----------------------------------------------------------------------------

func TestMean(t *testing.T) {
	if m, ok := Mean([]float64{10, 20, math.NaN(), -1, 0}); !ok || m != 15 {
		t.Errorf("Mean = %v, %v", m, ok)
	}
	if _, ok := Mean([]float64{0, math.Inf(1)}); ok {
		t.Error("no valid prices should report !ok")
	}
}

// -----------------------------------------------------------------------------

func TestRound(t *testing.T) {
	if got := Round(-1.005, 2); got != -1.01 {
		t.Errorf("Round(-1.005) = %v", got)
	}
	if got := Round(12.34567, 4); got != 12.3457 {
		t.Errorf("Round(12.34567, 4) = %v", got)
	}
}
