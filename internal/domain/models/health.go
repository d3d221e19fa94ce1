package models

import "time"

// HealthStatus is the observed condition of one provider adapter.
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "unknown"
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// HealthRecord is a point-in-time snapshot of one adapter's health,
// safe to serialize for the introspection API.
type HealthRecord struct {
	AdapterID           string       `json:"adapter_id"`
	DataType            DataType     `json:"data_type"`
	Status              HealthStatus `json:"status"`
	LastCheckedAt       time.Time    `json:"last_checked_at"`
	LastResponseTime    int64        `json:"last_response_time_ms"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	CircuitOpenUntil    *time.Time   `json:"circuit_open_until,omitempty"`
	RateLimitedUntil    *time.Time   `json:"rate_limited_until,omitempty"`
}
