package models

// HealthStatus is the status of one check or of the whole service.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthUnknown   HealthStatus = "unknown"
)

// MCheckResult is what a single named health check reports.
type MCheckResult struct {
	Status  HealthStatus           `json:"status"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// MHealthReport is the health surface payload.
type MHealthReport struct {
	Service       string                  `json:"service"`
	Status        HealthStatus            `json:"status"`
	Timestamp     int64                   `json:"timestamp"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	Checks        map[string]MCheckResult `json:"checks"`
}
