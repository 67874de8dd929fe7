package models

import "time"

// Envelope types sent to stream subscribers.
const (
	MessageSnapshot = "snapshot"
	MessageUpdate   = "update"
)

// -----------------------------------------------------------------------------
// Stream envelope
// -----------------------------------------------------------------------------

type MEnvelope struct {
	Type      string       `json:"type"`
	Data      MMarketState `json:"data"`
	Timestamp int64        `json:"timestamp"`
	Service   string       `json:"service"`
	Seq       uint64       `json:"seq"`
}

// MMarketState is the payload of every snapshot and update.
type MMarketState struct {
	Tickers      []MCombinedTicker `json:"tickers"`
	Premiums     []MPremiumRecord  `json:"premiums"`
	ExchangeRate *MExchangeRate    `json:"exchangeRate,omitempty"`
}

// -----------------------------------------------------------------------------
// Subscriber bookkeeping
// -----------------------------------------------------------------------------

type MSubscriber struct {
	ConnectionID     string    `json:"connectionId"`
	ConnectedAt      time.Time `json:"connectedAt"`
	LastDeliveredSeq uint64    `json:"lastDeliveredSeq"`
}

// -----------------------------------------------------------------------------
// Client commands
// -----------------------------------------------------------------------------

// CommandSnapshot asks the hub to resend a full snapshot.
const CommandSnapshot = "snapshot"

type MClientCommand struct {
	Command string `json:"command"`
}
