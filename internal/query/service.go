// Package query serves read-only access to the persisted settlement record
// log. Live protocol state is read from the engine directly; this package
// answers history and audit questions from Postgres.
package query

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"
)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// GetRecord returns a single settlement record by sequence.
func (s *Service) GetRecord(ctx context.Context, sequence int64) (*RecordResponse, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT sequence, event_type, tick, price, payload, state_hash, prev_hash, created_at
		FROM settlement.records
		WHERE sequence = $1
	`, sequence)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetRecords returns records newest-first with cursor pagination. eventType
// filters when non-empty; beforeSequence bounds the page when non-nil.
func (s *Service) GetRecords(
	ctx context.Context,
	eventType string,
	limit int,
	beforeSequence *int64,
) ([]RecordResponse, error) {
	query := `
		SELECT sequence, event_type, tick, price, payload, state_hash, prev_hash, created_at
		FROM settlement.records
		WHERE TRUE
	`
	args := []interface{}{}
	argIdx := 1

	if eventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, eventType)
		argIdx++
	}

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []RecordResponse
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// VerifyIntegrity checks the persisted record log: no sequence gaps and an
// unbroken hash chain. Reports at most the first 10 defects of each kind.
func (s *Service) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence), -1), COUNT(*) FROM settlement.records
	`).Scan(&report.LatestSequence, &report.RecordCount)
	if err != nil {
		return nil, err
	}

	gapRows, err := s.db.QueryContext(ctx, `
		SELECT r.sequence + 1
		FROM settlement.records r
		LEFT JOIN settlement.records next ON next.sequence = r.sequence + 1
		WHERE next.sequence IS NULL AND r.sequence < (SELECT MAX(sequence) FROM settlement.records)
		ORDER BY r.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer gapRows.Close()

	for gapRows.Next() {
		var seq int64
		if err := gapRows.Scan(&seq); err != nil {
			return nil, err
		}
		report.SequenceGaps = append(report.SequenceGaps, seq)
	}
	if err := gapRows.Err(); err != nil {
		return nil, err
	}

	chainRows, err := s.db.QueryContext(ctx, `
		SELECT r.sequence
		FROM settlement.records r
		JOIN settlement.records prev ON prev.sequence = r.sequence - 1
		WHERE r.prev_hash != prev.state_hash
		ORDER BY r.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer chainRows.Close()

	for chainRows.Next() {
		var seq int64
		if err := chainRows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := chainRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.SequenceGaps) == 0 && len(report.HashChainBreaks) == 0
	return report, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*RecordResponse, error) {
	var rec RecordResponse
	var stateHash, prevHash []byte
	var createdAt time.Time

	if err := row.Scan(
		&rec.Sequence, &rec.EventType, &rec.Tick, &rec.Price,
		&rec.Payload, &stateHash, &prevHash, &createdAt,
	); err != nil {
		return nil, err
	}

	rec.StateHash = hex.EncodeToString(stateHash)
	rec.PrevHash = hex.EncodeToString(prevHash)
	rec.CreatedAt = createdAt.UnixMicro()
	return &rec, nil
}
