// Package persistence batch-writes the settlement record log to Postgres
// and manages snapshots for warm restart.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// RecordRow is a row in settlement.records.
type RecordRow struct {
	Sequence  int64
	EventType string
	Tick      int64
	Price     int64
	Payload   []byte
	StateHash []byte
	PrevHash  []byte
	CreatedAt time.Time
}

// RecordWriter writes settlement records using multi-row INSERT. Writes are
// idempotent: the sequence is the primary key and conflicts are ignored, so
// a replayed batch after a crash is harmless.
type RecordWriter struct {
	db *sql.DB
}

func NewRecordWriter(db *sql.DB) *RecordWriter {
	return &RecordWriter{db: db}
}

// WriteBatch inserts a batch of records inside the given transaction.
func (w *RecordWriter) WriteBatch(ctx context.Context, tx *sql.Tx, records []RecordRow) error {
	if len(records) == 0 {
		return nil
	}

	query := `INSERT INTO settlement.records
		(sequence, event_type, tick, price, payload, state_hash, prev_hash, created_at)
		VALUES `

	values := make([]string, 0, len(records))
	args := make([]interface{}, 0, len(records)*8)

	for i, r := range records {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			r.Sequence, r.EventType, r.Tick, r.Price,
			r.Payload, r.StateHash, r.PrevHash, r.CreatedAt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
