package models

import "time"

// MTicker is the canonical ticker shared by every exchange feed.
type MTicker struct {
	Exchange      string    `json:"exchange"`
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Volume24h     float64   `json:"volume24h"`
	ChangePercent float64   `json:"changePercent"`
	ObservedAt    time.Time `json:"observedAt"`
}

// -----------------------------------------------------------------------------

// Key returns the store key for the ticker.
func (t MTicker) Key() string {
	return t.Exchange + "|" + t.Symbol
}

// -----------------------------------------------------------------------------

// IsFresh reports whether the ticker was observed within window of now.
func (t MTicker) IsFresh(now time.Time, window time.Duration) bool {
	return now.Sub(t.ObservedAt) <= window
}

// -----------------------------------------------------------------------------

// MExchangePrice is one exchange's entry inside a combined ticker.
type MExchangePrice struct {
	Price         float64   `json:"price"`
	Volume24h     float64   `json:"volume24h"`
	ChangePercent float64   `json:"changePercent"`
	ObservedAt    time.Time `json:"observedAt"`
}

// -----------------------------------------------------------------------------

// MCombinedTicker groups the latest ticker of every exchange for one symbol.
type MCombinedTicker struct {
	Symbol    string                    `json:"symbol"`
	Exchanges map[string]MExchangePrice `json:"exchanges"`
	Premium   *float64                  `json:"premium,omitempty"`
	UpdatedAt time.Time                 `json:"updatedAt"`
}
