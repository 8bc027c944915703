package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"LyraeLedger/internal/core"
)

// ErrNoSnapshot is returned when the snapshot table is empty.
var ErrNoSnapshot = errors.New("no snapshot")

// SnapshotStore saves and loads engine snapshots for recovery.
// Snapshots are stored as JSON in lyrae.snapshots.
type SnapshotStore struct {
	db *sql.DB
}

// SnapshotInfo summarizes a stored snapshot without decoding it.
type SnapshotInfo struct {
	ID        uuid.UUID `json:"id"`
	Sequence  int64     `json:"sequence"`
	Applied   int64     `json:"applied"`
	StateHash string    `json:"state_hash"`
	SizeBytes int       `json:"size_bytes"`
	CreatedAt string    `json:"created_at"`
}

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Save writes s through db (a *sql.DB or a worker transaction) and returns
// the encoded size.
func (ss *SnapshotStore) Save(ctx context.Context, db execer, s *core.Snapshot) (int, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO lyrae.snapshots (snapshot_id, sequence, applied, state_hash, data)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.New(), s.Sequence, s.Applied, s.StateHash[:], data)
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	return len(data), nil
}

// LoadLatest returns the snapshot with the highest sequence.
func (ss *SnapshotStore) LoadLatest(ctx context.Context) (*core.Snapshot, error) {
	var data []byte
	err := ss.db.QueryRowContext(ctx, `
		SELECT data FROM lyrae.snapshots ORDER BY sequence DESC LIMIT 1
	`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var s core.Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &s, nil
}

// List returns the most recent snapshots, newest first.
func (ss *SnapshotStore) List(ctx context.Context, limit int) ([]SnapshotInfo, error) {
	rows, err := ss.db.QueryContext(ctx, `
		SELECT snapshot_id, sequence, applied, encode(state_hash, 'hex'), octet_length(data::text), created_at::text
		FROM lyrae.snapshots ORDER BY sequence DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotInfo
	for rows.Next() {
		var si SnapshotInfo
		if err := rows.Scan(&si.ID, &si.Sequence, &si.Applied, &si.StateHash, &si.SizeBytes, &si.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, si)
	}
	return out, rows.Err()
}

// LatestSequence returns the highest envelope sequence in the audit log,
// zero when it is empty.
func (ss *SnapshotStore) LatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := ss.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM lyrae.envelopes`).Scan(&seq); err != nil {
		return 0, err
	}
	return seq.Int64, nil
}

// RecentIntentKeys returns up to limit composite idempotency keys of
// applied intents, oldest first, for warming the engine's dedup cache.
func (ss *SnapshotStore) RecentIntentKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := ss.db.QueryContext(ctx, `
		SELECT k FROM (
			SELECT intent_type || ':' || intent_key AS k, applied_at
			FROM lyrae.intents ORDER BY applied_at DESC LIMIT $1
		) recent ORDER BY applied_at ASC
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent intent keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
