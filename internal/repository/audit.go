package repository

import (
	"context"
	"database/sql"
	"fmt"

	"FinSight/internal/domain/models"
	pkgch "FinSight/pkg/clickhouse"
)

// AuditSchema returns the idempotent DDL for the fetch audit trail.
// Ordered by (data_type, at) because offline queries slice by data type
// over time windows.
func AuditSchema(database string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.fetch_audit (
			adapter_id  String,
			data_type   String,
			symbol      String,
			outcome     String,
			duration_ms Int64,
			cost        Float64,
			at          DateTime
		) ENGINE = MergeTree
		PARTITION BY toYYYYMM(at)
		ORDER BY (data_type, at)
		TTL at + INTERVAL 90 DAY`, database),
	}
}

// ClickHouseAuditStore persists per-attempt fetch records.
type ClickHouseAuditStore struct {
	db    *sql.DB
	table string
}

// NewClickHouseAuditStore creates an audit store over a ClickHouse client.
func NewClickHouseAuditStore(client *pkgch.Client, database string) *ClickHouseAuditStore {
	return &ClickHouseAuditStore{
		db:    client.DB(),
		table: database + ".fetch_audit",
	}
}

// RecordFetch inserts one attempt record.
func (s *ClickHouseAuditStore) RecordFetch(ctx context.Context, rec models.FetchAudit) error {
	query := fmt.Sprintf(
		"INSERT INTO %s (adapter_id, data_type, symbol, outcome, duration_ms, cost, at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		s.table,
	)
	_, err := s.db.ExecContext(ctx, query,
		rec.AdapterID,
		string(rec.DataType),
		rec.Symbol,
		rec.Outcome,
		rec.DurationMs,
		rec.Cost,
		rec.At,
	)
	if err != nil {
		return fmt.Errorf("insert fetch audit: %w", err)
	}
	return nil
}

// Close is a no-op; the underlying pool is owned by the client.
func (s *ClickHouseAuditStore) Close() error {
	return nil
}
