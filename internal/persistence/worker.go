package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"LyraeLedger/internal/core"
	"LyraeLedger/internal/observability"
)

// Worker drains the persist channel and batch-writes to Postgres.
// The engine sends on the persist channel with blocking sends, so if this
// worker falls behind the engine stalls and no output is lost.
type Worker struct {
	db           *sql.DB
	writer       AuditWriter
	snapshots    *SnapshotStore
	input        <-chan core.Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

// batch accumulates outputs between flushes.
type batch struct {
	envelopes []EnvelopeRow
	intents   []IntentRow
	snapshot  *core.Snapshot
}

func (b *batch) add(out core.Output) {
	for _, env := range out.Envelopes {
		b.envelopes = append(b.envelopes, EnvelopeRowFrom(env))
	}
	b.intents = append(b.intents, IntentRowFrom(out))
	if out.Snapshot != nil {
		b.snapshot = out.Snapshot
	}
}

func (b *batch) empty() bool { return len(b.intents) == 0 }

func (b *batch) reset() {
	b.envelopes = b.envelopes[:0]
	b.intents = b.intents[:0]
	b.snapshot = nil
}

func NewWorker(
	db *sql.DB,
	input <-chan core.Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Worker {
	return &Worker{
		db:           db,
		snapshots:    NewSnapshotStore(db),
		input:        input,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          log,
	}
}

// Run batches incoming outputs and flushes either when the batch holds
// batchSize intents or the flush timeout expires. Blocks until ctx is
// cancelled or the input channel is closed.
func (w *Worker) Run(ctx context.Context) error {
	var b batch
	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final flush with a fresh context so the last batch survives shutdown.
			if !b.empty() {
				if err := w.flush(context.Background(), &b); err != nil {
					w.log.Error().Err(err).Int("intents", len(b.intents)).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case out, ok := <-w.input:
			if !ok {
				if !b.empty() {
					if err := w.flushWithRetry(context.Background(), &b); err != nil {
						return err
					}
				}
				w.log.Info().Msg("persist channel closed")
				return nil
			}

			b.add(out)
			w.metrics.ChannelSize.WithLabelValues("persist").Set(float64(len(w.input)))
			// A snapshot is flushed with the envelopes preceding it.
			if len(b.intents) >= w.batchSize || b.snapshot != nil {
				if err := w.flushWithRetry(ctx, &b); err != nil {
					return err
				}
				b.reset()
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if !b.empty() {
				if err := w.flushWithRetry(ctx, &b); err != nil {
					return err
				}
				b.reset()
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled. The worker never drops a batch.
func (w *Worker) flushWithRetry(ctx context.Context, b *batch) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.metrics.PersistRetry.Inc()
			w.log.Warn().Int("attempt", attempt).Dur("backoff", backoff).Int("envelopes", len(b.envelopes)).Msg("persistence retry")
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), b); err != nil {
					return fmt.Errorf("final flush on shutdown: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, b)
		if err == nil {
			if attempt > 0 {
				w.log.Info().Int("retries", attempt).Msg("persistence flush recovered")
			}
			return nil
		}
		w.log.Error().Err(err).Msg("persistence flush failed")
	}
}

func (w *Worker) flush(ctx context.Context, b *batch) error {
	start := time.Now()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		w.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteEnvelopes(ctx, tx, b.envelopes); err != nil {
		w.metrics.PersistErrors.WithLabelValues("write_envelopes").Inc()
		return err
	}
	if err := w.writer.WriteIntents(ctx, tx, b.intents); err != nil {
		w.metrics.PersistErrors.WithLabelValues("write_intents").Inc()
		return err
	}
	if b.snapshot != nil {
		snapStart := time.Now()
		size, err := w.snapshots.Save(ctx, tx, b.snapshot)
		if err != nil {
			w.metrics.PersistErrors.WithLabelValues("write_snapshot").Inc()
			return err
		}
		w.metrics.SnapshotTaken.Inc()
		w.metrics.SnapshotDuration.Observe(time.Since(snapStart).Seconds())
		w.metrics.SnapshotSizeBytes.Set(float64(size))
		w.metrics.SnapshotLastSeq.Set(float64(b.snapshot.Sequence))
	}

	if err := tx.Commit(); err != nil {
		w.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		return err
	}

	w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
	w.metrics.PersistBatchSize.Observe(float64(len(b.envelopes)))
	w.metrics.PersistEnvelopesWritten.Add(float64(len(b.envelopes)))
	if n := len(b.envelopes); n > 0 {
		w.metrics.PersistLastSequence.Set(float64(b.envelopes[n-1].Sequence))
	}
	return nil
}
