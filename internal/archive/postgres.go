package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voxweave/internal/turns"
	"github.com/MrWong99/voxweave/pkg/transcript"
)

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

const ddlArchive = `
CREATE TABLE IF NOT EXISTS transcript_entries (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    speaker     TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    raw_text    TEXT         NOT NULL DEFAULT '',
    timestamp   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcript_entries_session_id
    ON transcript_entries (session_id);

CREATE INDEX IF NOT EXISTS idx_transcript_entries_session_timestamp
    ON transcript_entries (session_id, timestamp);

CREATE TABLE IF NOT EXISTS code_versions (
    session_id  TEXT         NOT NULL,
    version_id  INT          NOT NULL,
    html        TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (session_id, version_id)
);

CREATE INDEX IF NOT EXISTS idx_code_versions_session_id
    ON code_versions (session_id);
`

// Migrate creates or ensures all required archive tables exist. It is
// idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlArchive); err != nil {
		return fmt.Errorf("archive migrate: %w", err)
	}
	return nil
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
// All methods are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore establishes a connection pool to the PostgreSQL database at
// dsn and runs [Migrate] to ensure the archive tables exist.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// WriteEntry implements [Store].
func (s *PostgresStore) WriteEntry(ctx context.Context, sessionID string, entry turns.TranscriptEntry) error {
	const q = `
		INSERT INTO transcript_entries (session_id, speaker, text, raw_text, timestamp)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.pool.Exec(ctx, q,
		sessionID,
		string(entry.Speaker),
		entry.Text,
		entry.RawText,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("archive: write entry: %w", err)
	}
	return nil
}

// WriteVersion implements [Store]. Re-archiving an existing (session, version)
// pair fails; version ids never repeat within a session.
func (s *PostgresStore) WriteVersion(ctx context.Context, sessionID string, v turns.CodeVersion) error {
	const q = `
		INSERT INTO code_versions (session_id, version_id, html, created_at)
		VALUES ($1, $2, $3, $4)`

	_, err := s.pool.Exec(ctx, q, sessionID, v.ID, v.HTML, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("archive: write version: %w", err)
	}
	return nil
}

// RecentEntries implements [Store].
func (s *PostgresStore) RecentEntries(ctx context.Context, sessionID string, window time.Duration) ([]turns.TranscriptEntry, error) {
	const q = `
		SELECT speaker, text, raw_text, timestamp
		FROM   transcript_entries
		WHERE  session_id = $1
		  AND  timestamp  >= now() - ($2::bigint * interval '1 microsecond')
		ORDER  BY timestamp`

	rows, err := s.pool.Query(ctx, q, sessionID, window.Microseconds())
	if err != nil {
		return nil, fmt.Errorf("archive: recent entries: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (turns.TranscriptEntry, error) {
		var (
			e       turns.TranscriptEntry
			speaker string
		)
		if err := row.Scan(&speaker, &e.Text, &e.RawText, &e.Timestamp); err != nil {
			return turns.TranscriptEntry{}, err
		}
		e.Speaker = transcript.Speaker(speaker)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive: scan entries: %w", err)
	}
	if entries == nil {
		entries = []turns.TranscriptEntry{}
	}
	return entries, nil
}

// Versions implements [Store].
func (s *PostgresStore) Versions(ctx context.Context, sessionID string) ([]turns.CodeVersion, error) {
	const q = `
		SELECT version_id, html, created_at
		FROM   code_versions
		WHERE  session_id = $1
		ORDER  BY version_id`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("archive: versions: %w", err)
	}

	versions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (turns.CodeVersion, error) {
		var v turns.CodeVersion
		if err := row.Scan(&v.ID, &v.HTML, &v.CreatedAt); err != nil {
			return turns.CodeVersion{}, err
		}
		return v, nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive: scan versions: %w", err)
	}
	if versions == nil {
		versions = []turns.CodeVersion{}
	}
	return versions, nil
}

// Close releases all connections held by the underlying connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
