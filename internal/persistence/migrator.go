package persistence

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrMigrationDrift is returned when an applied migration file no longer
// matches the checksum recorded when it ran.
var ErrMigrationDrift = errors.New("applied migration changed on disk")

const migrationsTable = "lyrae_schema_migrations"

// Migrator applies {version}_{name}.up.sql files in version order and rolls
// back with the matching .down.sql. Each file runs in its own transaction
// together with its bookkeeping row.
type Migrator struct {
	db    *sql.DB
	files fs.FS
	log   zerolog.Logger
}

// MigrationStatus describes one up-migration found in the directory.
type MigrationStatus struct {
	Version   string
	File      string
	Applied   bool
	AppliedAt time.Time
	// Drifted is set when the file's checksum differs from the recorded one.
	Drifted bool
}

type appliedMigration struct {
	file      string
	checksum  string
	appliedAt time.Time
}

func NewMigrator(db *sql.DB, dir string, log zerolog.Logger) *Migrator {
	return NewMigratorFS(db, os.DirFS(dir), log)
}

// NewMigratorFS reads migrations from files, e.g. an embed.FS.
func NewMigratorFS(db *sql.DB, files fs.FS, log zerolog.Logger) *Migrator {
	return &Migrator{db: db, files: files, log: log}
}

// Up applies every pending migration. It refuses to run when an applied
// file was edited afterwards.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.backfillChecksums(ctx); err != nil {
		return err
	}
	plan, err := m.Status(ctx)
	if err != nil {
		return err
	}
	for _, s := range plan {
		if s.Drifted {
			return fmt.Errorf("%w: %s", ErrMigrationDrift, s.File)
		}
	}

	pending := 0
	for _, s := range plan {
		if s.Applied {
			continue
		}
		body, sum, err := m.read(s.File)
		if err != nil {
			return err
		}
		err = m.inTx(ctx, body, `INSERT INTO `+migrationsTable+` (version, filename, checksum) VALUES ($1, $2, $3)`,
			s.Version, s.File, sum)
		if err != nil {
			return fmt.Errorf("apply %s: %w", s.File, err)
		}
		pending++
		m.log.Info().Str("version", s.Version).Str("file", s.File).Msg("applied migration")
	}
	if pending == 0 {
		m.log.Debug().Msg("schema up to date")
	}
	return nil
}

// Down rolls back the most recently applied migration, if any.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	var version, file string
	err := m.db.QueryRowContext(ctx,
		`SELECT version, filename FROM `+migrationsTable+` ORDER BY version DESC LIMIT 1`,
	).Scan(&version, &file)
	if errors.Is(err, sql.ErrNoRows) {
		m.log.Info().Msg("nothing to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("latest migration: %w", err)
	}

	down := strings.TrimSuffix(file, ".up.sql") + ".down.sql"
	body, _, err := m.read(down)
	if err != nil {
		return err
	}
	if err := m.inTx(ctx, body, `DELETE FROM `+migrationsTable+` WHERE version = $1`, version); err != nil {
		return fmt.Errorf("roll back %s: %w", down, err)
	}
	m.log.Info().Str("version", version).Str("file", down).Msg("rolled back migration")
	return nil
}

// Status lists every up-migration with its applied state, oldest first.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	files, err := fs.Glob(m.files, "*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	out := make([]MigrationStatus, 0, len(files))
	for _, f := range files {
		s := MigrationStatus{Version: migrationVersion(f), File: f}
		if a, ok := applied[s.Version]; ok {
			_, sum, err := m.read(f)
			if err != nil {
				return nil, err
			}
			s.Applied = true
			s.AppliedAt = a.appliedAt
			s.Drifted = a.checksum != "" && a.checksum != sum
		}
		out = append(out, s)
	}
	return out, nil
}

// backfillChecksums records checksums for rows written before the column
// existed, trusting the files currently on disk.
func (m *Migrator) backfillChecksums(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}
	for v, a := range applied {
		if a.checksum != "" {
			continue
		}
		_, sum, err := m.read(a.file)
		if err != nil {
			return err
		}
		if _, err := m.db.ExecContext(ctx,
			`UPDATE `+migrationsTable+` SET checksum = $1 WHERE version = $2`, sum, v); err != nil {
			return fmt.Errorf("backfill checksum %s: %w", v, err)
		}
	}
	return nil
}

// inTx runs a migration body and its bookkeeping statement atomically.
func (m *Migrator) inTx(ctx context.Context, body string, record string, args ...any) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("bookkeeping: %w", err)
	}
	return tx.Commit()
}

func (m *Migrator) read(file string) (body, checksum string, err error) {
	b, err := fs.ReadFile(m.files, file)
	if err != nil {
		return "", "", fmt.Errorf("read migration %s: %w", file, err)
	}
	sum := sha256.Sum256(b)
	return string(b), hex.EncodeToString(sum[:]), nil
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+migrationsTable+` (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			checksum   TEXT NOT NULL DEFAULT '',
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		ALTER TABLE `+migrationsTable+` ADD COLUMN IF NOT EXISTS checksum TEXT NOT NULL DEFAULT '';
	`)
	if err != nil {
		return fmt.Errorf("ensure %s: %w", migrationsTable, err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[string]appliedMigration, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version, filename, checksum, applied_at FROM `+migrationsTable)
	if err != nil {
		return nil, fmt.Errorf("applied migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]appliedMigration)
	for rows.Next() {
		var v string
		var a appliedMigration
		if err := rows.Scan(&v, &a.file, &a.checksum, &a.appliedAt); err != nil {
			return nil, err
		}
		out[v] = a
	}
	return out, rows.Err()
}

// migrationVersion returns the prefix before the first underscore:
// "000001_audit_log.up.sql" is version "000001".
func migrationVersion(file string) string {
	v, _, _ := strings.Cut(file, "_")
	return v
}
