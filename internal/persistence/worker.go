package persistence

import (
	"context"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/rs/zerolog"

	"PegVault/internal/engine"
	"PegVault/internal/observability"
)

// Worker drains the engine's persist channel and batch-writes settlement
// records to Postgres. The engine sends blocking, so a stalled worker stalls
// the engine rather than losing a record.
type Worker struct {
	db           *sql.DB
	writer       *RecordWriter
	inputChan    <-chan engine.Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan engine.Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		db:           db,
		writer:       NewRecordWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          observability.NewLogger("persistence"),
	}
}

// Run batches incoming records and flushes when the batch fills or the
// flush timeout fires. Blocks until ctx is cancelled or the input channel
// closes; the final batch is flushed on the way out.
func (w *Worker) Run(ctx context.Context) error {
	batch := make([]RecordRow, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				if err := w.flush(context.Background(), batch); err != nil {
					w.log.Error().Err(err).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case out, ok := <-w.inputChan:
			if !ok {
				if len(batch) > 0 {
					if err := w.flush(context.Background(), batch); err != nil {
						w.log.Error().Err(err).Msg("final flush failed")
					}
				}
				return nil
			}

			batch = append(batch, toRecordRow(out))

			if len(batch) >= w.batchSize {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

func toRecordRow(out engine.Output) RecordRow {
	env := out.Envelope
	return RecordRow{
		Sequence:  env.Sequence,
		EventType: env.EventType.String(),
		Tick:      env.Tick,
		Price:     env.Price,
		Payload:   env.Payload,
		StateHash: env.StateHash[:],
		PrevHash:  env.PrevHash[:],
		CreatedAt: time.Now().UTC(),
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds.
// Records are never dropped; on context cancellation one last flush runs on
// a background context so the batch survives shutdown.
func (w *Worker) flushWithRetry(ctx context.Context, batch []RecordRow) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("records", len(batch)).
				Msg("persistence retry")
			if w.metrics != nil {
				w.metrics.PersistRetry.Inc()
			}

			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), batch); err != nil {
					w.log.Error().Err(err).Msg("shutdown flush failed, batch lost")
				}
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if err := w.flush(ctx, batch); err == nil {
			if attempt > 0 {
				w.log.Info().Int("attempts", attempt).Msg("persistence flush recovered")
			}
			return
		}
	}
}

func (w *Worker) flush(ctx context.Context, batch []RecordRow) error {
	start := time.Now()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		w.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteBatch(ctx, tx, batch); err != nil {
		w.countError("write_records")
		return err
	}

	if err := tx.Commit(); err != nil {
		w.countError("tx_commit")
		return err
	}

	last := batch[len(batch)-1]
	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(len(batch)))
		w.metrics.PersistRecordsWritten.Add(float64(len(batch)))
		w.metrics.PersistLastSequence.Set(float64(last.Sequence))
	}
	w.log.Debug().
		Int("records", len(batch)).
		Int64("last_sequence", last.Sequence).
		Str("state_hash", hex.EncodeToString(last.StateHash)).
		Msg("batch flushed")

	return nil
}

func (w *Worker) countError(kind string) {
	if w.metrics != nil {
		w.metrics.PersistErrors.WithLabelValues(kind).Inc()
	}
}
