package query

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrNotFound is returned when an intent has no durable record.
var ErrNotFound = errors.New("not found")

// AuditService reads the durable audit log. Live account and market state is
// served by the engine; this service answers questions about history.
type AuditService struct {
	db *sql.DB
}

func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db}
}

// Envelopes returns up to limit envelopes with sequence > after, in order.
func (s *AuditService) Envelopes(ctx context.Context, after int64, limit int) ([]EnvelopeView, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, intent_key, record_type, payload, state_hash, prev_hash, occurred_at
		FROM lyrae.envelopes
		WHERE sequence > $1
		ORDER BY sequence ASC
		LIMIT $2
	`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("query envelopes: %w", err)
	}
	defer rows.Close()
	return scanEnvelopes(rows)
}

// IntentEnvelopes returns the envelopes produced by one intent key.
func (s *AuditService) IntentEnvelopes(ctx context.Context, key string) ([]EnvelopeView, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, intent_key, record_type, payload, state_hash, prev_hash, occurred_at
		FROM lyrae.envelopes
		WHERE intent_key = $1
		ORDER BY sequence ASC
	`, key)
	if err != nil {
		return nil, fmt.Errorf("query intent envelopes: %w", err)
	}
	defer rows.Close()
	return scanEnvelopes(rows)
}

// Intent returns the applied intent record for (type, key).
func (s *AuditService) Intent(ctx context.Context, intentType, key string) (*IntentView, error) {
	var (
		v     IntentView
		first sql.NullInt64
		hash  []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT intent_type, intent_key, first_sequence, envelope_count, state_hash, applied_at
		FROM lyrae.intents
		WHERE intent_type = $1 AND intent_key = $2
	`, intentType, key).Scan(&v.IntentType, &v.IntentKey, &first, &v.EnvelopeCount, &hash, &v.AppliedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query intent: %w", err)
	}
	if first.Valid {
		v.FirstSequence = &first.Int64
	}
	v.StateHash = hex.EncodeToString(hash)
	return &v, nil
}

// VerifyIntegrity walks up to limit envelopes after the given sequence and
// checks the hash chain links.
func (s *AuditService) VerifyIntegrity(ctx context.Context, after int64, limit int) (*IntegrityReport, error) {
	if limit <= 0 {
		limit = 10_000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, intent_key, record_type, payload, state_hash, prev_hash, occurred_at
		FROM lyrae.envelopes
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, after, limit+1)
	if err != nil {
		return nil, fmt.Errorf("query envelopes: %w", err)
	}
	defer rows.Close()

	envs, err := scanEnvelopes(rows)
	if err != nil {
		return nil, err
	}
	// The row at `after` only anchors the first link.
	if len(envs) > 0 && envs[0].Sequence == after {
		return VerifyChain(envs[0].StateHash, envs[1:]), nil
	}
	return VerifyChain("", envs), nil
}

// VerifyChain checks that every envelope's prev hash is the previous
// envelope's state hash and that sequences are contiguous. An empty anchor
// accepts the first envelope's prev hash as given.
func VerifyChain(anchor string, envs []EnvelopeView) *IntegrityReport {
	r := &IntegrityReport{Checked: len(envs)}
	if len(envs) == 0 {
		r.IsHealthy = true
		return r
	}
	r.FirstSequence = envs[0].Sequence
	r.LastSequence = envs[len(envs)-1].Sequence

	prev := anchor
	for i, e := range envs {
		if i > 0 && e.Sequence != envs[i-1].Sequence+1 {
			r.SequenceGaps = append(r.SequenceGaps, e.Sequence)
		}
		if prev != "" && e.PrevHash != prev {
			r.ChainBreaks = append(r.ChainBreaks, e.Sequence)
		}
		prev = e.StateHash
	}
	r.IsHealthy = len(r.ChainBreaks) == 0 && len(r.SequenceGaps) == 0
	return r
}

func scanEnvelopes(rows *sql.Rows) ([]EnvelopeView, error) {
	var out []EnvelopeView
	for rows.Next() {
		var (
			v              EnvelopeView
			payload        []byte
			state, prevRaw []byte
		)
		if err := rows.Scan(&v.Sequence, &v.IntentKey, &v.RecordType, &payload, &state, &prevRaw, &v.OccurredAt); err != nil {
			return nil, err
		}
		v.Payload = payload
		v.StateHash = hex.EncodeToString(state)
		v.PrevHash = hex.EncodeToString(prevRaw)
		out = append(out, v)
	}
	return out, rows.Err()
}
