package persistence

import (
	"context"
	"testing"
	"time"

	"PegVault/internal/engine"
	"PegVault/internal/event"
	"PegVault/internal/testutil"
)

func testEnvelope(seq int64) *event.Envelope {
	var stateHash, prevHash [32]byte
	stateHash[0] = byte(seq + 1)
	prevHash[0] = byte(seq)
	return &event.Envelope{
		Sequence:  seq,
		EventType: event.EventTypePriceUpdate,
		Tick:      seq,
		Price:     1_000_000,
		Payload:   []byte(`{}`),
		StateHash: stateHash,
		PrevHash:  prevHash,
	}
}

// Closing the input channel must terminate Run cleanly, not via ctx.
func TestWorkerExitsOnChannelClose(t *testing.T) {
	input := make(chan engine.Output)
	close(input)

	w := NewWorker(nil, input, 10, time.Second, nil)
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after channel close")
	}
}

// Records buffered in the channel when it closes must all reach Postgres
// before Run returns; shutdown drains, it never drops.
func TestWorkerDrainsBufferedRecordsOnClose(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := db.ExecContext(ctx, "TRUNCATE settlement.records CASCADE"); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	const total = 7
	input := make(chan engine.Output, 16)
	for i := int64(0); i < total; i++ {
		input <- engine.Output{Envelope: testEnvelope(i)}
	}
	close(input)

	// Batch size smaller than the buffer so the drain crosses a batch
	// boundary and finishes with a partial final batch.
	w := NewWorker(db, input, 3, 50*time.Millisecond, nil)
	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM settlement.records").Scan(&count); err != nil {
		t.Fatalf("count records: %v", err)
	}
	if count != total {
		t.Fatalf("records written = %d, want %d", count, total)
	}

	var maxSeq int64
	if err := db.QueryRowContext(ctx,
		"SELECT MAX(sequence) FROM settlement.records").Scan(&maxSeq); err != nil {
		t.Fatalf("max sequence: %v", err)
	}
	if maxSeq != total-1 {
		t.Fatalf("max sequence = %d, want %d", maxSeq, total-1)
	}
}
