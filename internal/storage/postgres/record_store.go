package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/JakeFAU/session-harvester/internal/harvest"
)

// RecordStore archives accepted records in a table keyed by record id. The
// same table seeds the dedup store of later runs.
type RecordStore struct {
	pool  Pool
	table string
	runID uuid.UUID
}

// NewRecordStore wraps pool. runID tags rows written by this run.
func NewRecordStore(pool Pool, table string, runID uuid.UUID) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, "records")
	if err != nil {
		return nil, err
	}
	return &RecordStore{pool: pool, table: table, runID: runID}, nil
}

// EnsureSchema creates the records table when missing.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id           TEXT PRIMARY KEY,
	run_id       UUID NOT NULL,
	identity     TEXT NOT NULL,
	extracted_at TIMESTAMPTZ NOT NULL,
	payload      JSONB NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	return nil
}

// Save implements harvest.Archive. A record already present is left as is.
func (s *RecordStore) Save(ctx context.Context, identity string, record harvest.Record) error {
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", record.ID, err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, run_id, identity, extracted_at, payload)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING`, s.table)
	if _, err := s.pool.Exec(ctx, query, string(record.ID), s.runID, identity, record.ExtractedAt, payload); err != nil {
		return fmt.Errorf("insert record %s: %w", record.ID, err)
	}
	return nil
}

// FetchIDs implements harvest.SeedSource.
func (s *RecordStore) FetchIDs(ctx context.Context) ([]harvest.RecordID, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT id FROM %s`, s.table))
	if err != nil {
		return nil, fmt.Errorf("query record ids: %w", err)
	}
	defer rows.Close()

	var ids []harvest.RecordID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan record id: %w", err)
		}
		ids = append(ids, harvest.RecordID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate record ids: %w", err)
	}
	return ids, nil
}

// Close releases the pool.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}
