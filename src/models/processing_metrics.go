package models

// MHubMetrics represents the throughput counters of the broadcast hub.
type MHubMetrics struct {
	Connections        int    `json:"connections"`
	Broadcasts         uint64 `json:"broadcasts"`
	MessagesSent       uint64 `json:"messagesSent"`
	MessagesDropped    uint64 `json:"messagesDropped"`
	SubscribersRemoved uint64 `json:"subscribersRemoved"`
	SnapshotsThrottled uint64 `json:"snapshotsThrottled"`
	LastSeq            uint64 `json:"lastSeq"`
}

// MCycleMetrics describes the most recent premium cycle.
type MCycleMetrics struct {
	Cycles        uint64  `json:"cycles"`
	Emitted       int     `json:"emitted"`
	Skipped       int     `json:"skipped"`
	Rejected      int     `json:"rejected"`
	Failed        int     `json:"failed"`
	DurationMs    float64 `json:"durationMs"`
	LastCycleUnix int64   `json:"lastCycleUnix"`
}
