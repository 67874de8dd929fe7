package models

import "time"

// MPremiumRecord is one computed premium for a symbol. Records are never
// mutated after a cycle emits them.
type MPremiumRecord struct {
	Symbol                  string             `json:"symbol"`
	DomesticAvgPrice        float64            `json:"domesticAvgPrice"`
	GlobalAvgPrice          float64            `json:"globalAvgPrice"`
	GlobalAvgPriceConverted float64            `json:"globalAvgPriceConverted"`
	Rate                    float64            `json:"rate"`
	PremiumPercent          float64            `json:"premiumPercent"`
	CalculatedAt            time.Time          `json:"calculatedAt"`
	DomesticPrices          map[string]float64 `json:"domesticPrices"`
	GlobalPrices            map[string]float64 `json:"globalPrices"`
}
