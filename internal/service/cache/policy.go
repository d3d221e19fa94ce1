package cache

import (
	"time"

	"FinSight/internal/domain/models"
)

// Policy is the static freshness table keyed by data type. Values come
// from configuration; these are only fallbacks.
type Policy struct {
	ttls map[models.DataType]time.Duration
}

// NewPolicy builds a TTL policy. Zero durations fall back to defaults.
func NewPolicy(price, financials, news, analysis time.Duration) *Policy {
	if price <= 0 {
		price = 5 * time.Minute
	}
	if financials <= 0 {
		financials = 24 * time.Hour
	}
	if news <= 0 {
		news = time.Hour
	}
	if analysis <= 0 {
		analysis = 6 * time.Hour
	}
	return &Policy{ttls: map[models.DataType]time.Duration{
		models.DataTypePrice:      price,
		models.DataTypeFinancials: financials,
		models.DataTypeNews:       news,
		models.DataTypeAnalysis:   analysis,
	}}
}

// TTL returns the freshness window for a data type.
func (p *Policy) TTL(dt models.DataType) time.Duration {
	if ttl, ok := p.ttls[dt]; ok {
		return ttl
	}
	return 5 * time.Minute
}
