package models

import "time"

// FetchAudit is one registry attempt against one provider, persisted for
// offline cost and reliability analysis.
type FetchAudit struct {
	AdapterID  string    `json:"adapter_id"`
	DataType   DataType  `json:"data_type"`
	Symbol     string    `json:"symbol"`
	Outcome    string    `json:"outcome"` // ok | rate_limited | unavailable | invalid_response | timeout
	DurationMs int64     `json:"duration_ms"`
	Cost       float64   `json:"cost"`
	At         time.Time `json:"at"`
}
