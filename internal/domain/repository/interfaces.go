package repository

import (
	"context"

	"FinSight/internal/domain/models"
)

// Metrics abstracts metric recording from the implementation.
type Metrics interface {
	RecordFetch(provider string, dataType models.DataType, result string, seconds float64)
	RecordCacheLookup(tier, outcome string)
	RecordBudgetConsumed(costCenter string, consumed, limit float64)
	RecordBudgetDenied(costCenter, reason string)
	RecordAnalysis(outcome string, seconds float64)
	RecordHealthStatus(adapterID string, status models.HealthStatus)
	RecordLastPrice(symbol string, price float64)
	RecordError(kind string)
}

// EventPublisher emits completed analyses to the downstream pipeline.
type EventPublisher interface {
	PublishAnalysis(ctx context.Context, ev models.AnalysisEvent) error
	Close() error
}

// AuditStore persists per-attempt fetch records for offline analysis.
type AuditStore interface {
	RecordFetch(ctx context.Context, rec models.FetchAudit) error
	Close() error
}

// MarketStream is a live feed of quotes used to warm the price cache.
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, symbols []string) error
	Read(ctx context.Context) (<-chan *models.Quote, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}
