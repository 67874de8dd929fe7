package models

import "time"

// FeedCapability tells how an exchange feed receives data.
type FeedCapability int

const (
	StreamingPush FeedCapability = iota
	PollingPull
)

func (c FeedCapability) String() string {
	switch c {
	case StreamingPush:
		return "streaming"
	case PollingPull:
		return "polling"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------

// FeedState is the connection state of a feed worker.
type FeedState int32

const (
	StateDisconnected FeedState = iota
	StateConnecting
	StateSubscribing
	StateStreaming
	StatePolling
	StateStopped
)

func (s FeedState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	case StatePolling:
		return "polling"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------

// Exchange groups used by the premium partition.
const (
	GroupDomestic = "domestic"
	GroupGlobal   = "global"
)

// MFeedStats is a point-in-time copy of one feed's counters.
type MFeedStats struct {
	Exchange    string    `json:"exchange"`
	Group       string    `json:"group"`
	Capability  string    `json:"capability"`
	State       string    `json:"state"`
	Symbols     int       `json:"symbols"`
	LastUpdate  time.Time `json:"lastUpdate"`
	Errors      int64     `json:"errors"`
	ParseErrors int64     `json:"parseErrors"`
	Restarts    int64     `json:"restarts"`
	LastError   string    `json:"lastError,omitempty"`
}
