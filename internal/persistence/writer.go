package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"LyraeLedger/internal/core"
	"LyraeLedger/internal/event"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// AuditWriter writes envelopes and applied intents to Postgres using
// multi-row inserts. Every write takes the execer explicitly so the worker can
// group envelopes, intents and snapshots in one transaction.
type AuditWriter struct{}

// EnvelopeRow represents a row in lyrae.envelopes
type EnvelopeRow struct {
	Sequence   int64
	IntentKey  string
	RecordType string
	Payload    []byte
	StateHash  []byte
	PrevHash   []byte
	OccurredAt time.Time
}

// IntentRow represents a row in lyrae.intents
type IntentRow struct {
	IntentType    string
	IntentKey     string
	FirstSequence sql.NullInt64
	EnvelopeCount int
	StateHash     []byte
}

// EnvelopeRowFrom converts a committed envelope into its table row.
func EnvelopeRowFrom(env *event.Envelope) EnvelopeRow {
	return EnvelopeRow{
		Sequence:   env.Sequence,
		IntentKey:  env.IntentKey,
		RecordType: env.Type.String(),
		Payload:    env.Payload,
		StateHash:  env.StateHash[:],
		PrevHash:   env.PrevHash[:],
		OccurredAt: time.Unix(env.Timestamp, 0).UTC(),
	}
}

// IntentRowFrom converts an engine output into its intent row.
func IntentRowFrom(out core.Output) IntentRow {
	row := IntentRow{
		IntentType:    string(out.IntentType),
		IntentKey:     out.IntentKey,
		EnvelopeCount: len(out.Envelopes),
		StateHash:     out.StateHash[:],
	}
	if len(out.Envelopes) > 0 {
		row.FirstSequence = sql.NullInt64{Int64: out.Envelopes[0].Sequence, Valid: true}
	}
	return row
}

// WriteEnvelopes inserts a batch of envelopes. Rewrites of an existing
// sequence are ignored.
func (AuditWriter) WriteEnvelopes(ctx context.Context, db execer, rows []EnvelopeRow) error {
	if len(rows) == 0 {
		return nil
	}

	const cols = 7
	values := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)*cols)
	for i, r := range rows {
		values = append(values, placeholders(i*cols, cols))
		args = append(args, r.Sequence, r.IntentKey, r.RecordType, r.Payload, r.StateHash, r.PrevHash, r.OccurredAt)
	}

	query := `INSERT INTO lyrae.envelopes
		(sequence, intent_key, record_type, payload, state_hash, prev_hash, occurred_at)
		VALUES ` + strings.Join(values, ", ") + ` ON CONFLICT (sequence) DO NOTHING`
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert envelopes: %w", err)
	}
	return nil
}

// WriteIntents records applied intents for durable deduplication.
func (AuditWriter) WriteIntents(ctx context.Context, db execer, rows []IntentRow) error {
	if len(rows) == 0 {
		return nil
	}

	const cols = 5
	values := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)*cols)
	for i, r := range rows {
		values = append(values, placeholders(i*cols, cols))
		args = append(args, r.IntentType, r.IntentKey, r.FirstSequence, r.EnvelopeCount, r.StateHash)
	}

	query := `INSERT INTO lyrae.intents
		(intent_type, intent_key, first_sequence, envelope_count, state_hash)
		VALUES ` + strings.Join(values, ", ") + ` ON CONFLICT (intent_type, intent_key) DO NOTHING`
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert intents: %w", err)
	}
	return nil
}

// placeholders renders "($base+1, ..., $base+n)".
func placeholders(base, n int) string {
	var b strings.Builder
	b.WriteByte('(')
	for i := 1; i <= n; i++ {
		if i > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", base+i)
	}
	b.WriteByte(')')
	return b.String()
}
