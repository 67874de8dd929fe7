package models

import "time"

// Rate source tiers, in fallback order.
const (
	RateSourcePrimary   = "primary"
	RateSourceSecondary = "secondary"
	RateSourcePersisted = "persisted"
	RateSourceDefault   = "default"
)

// MExchangeRate is the latest conversion rate for a currency pair.
type MExchangeRate struct {
	CurrencyPair string    `json:"currencyPair"`
	Rate         float64   `json:"rate"`
	Source       string    `json:"source"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
