package persistence

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"PegVault/internal/engine"
)

// SnapshotStore persists engine snapshots for warm restart. On startup the
// latest verified snapshot is restored; the record log from the snapshot
// sequence forward is the audit trail, not a replay source.
type SnapshotStore struct {
	db *sql.DB
}

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Save persists a snapshot. Saving twice at the same sequence overwrites.
func (s *SnapshotStore) Save(ctx context.Context, snap *engine.SnapshotState) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settlement.snapshots
			(snapshot_id, sequence, data, state_hash, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $5
	`, uuid.New(), snap.Sequence, data, snap.StateHash[:], len(data), time.Now().UTC())

	return err
}

// LoadLatest returns the most recent verified snapshot, or nil on cold start.
func (s *SnapshotStore) LoadLatest(ctx context.Context) (*engine.SnapshotState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT data FROM settlement.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap engine.SnapshotState
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerified flags a snapshot usable for restart after its chain tip has
// been checked against the record log.
func (s *SnapshotStore) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE settlement.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// VerifySnapshot checks that the snapshot's chain tip matches the record at
// sequence-1 in the log. A snapshot at sequence 0 is trivially valid.
func (s *SnapshotStore) VerifySnapshot(ctx context.Context, snap *engine.SnapshotState) error {
	if snap.Sequence == 0 {
		return nil
	}

	var stateHash []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT state_hash FROM settlement.records WHERE sequence = $1
	`, snap.Sequence-1).Scan(&stateHash)
	if err == sql.ErrNoRows {
		return fmt.Errorf("snapshot at sequence %d has no preceding record", snap.Sequence)
	}
	if err != nil {
		return err
	}

	if !bytes.Equal(stateHash, snap.StateHash[:]) {
		return fmt.Errorf("snapshot chain tip mismatch at sequence %d", snap.Sequence)
	}
	return nil
}

// LatestSequence returns the highest sequence in the record log, or -1 when
// the log is empty.
func (s *SnapshotStore) LatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM settlement.records
	`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}
