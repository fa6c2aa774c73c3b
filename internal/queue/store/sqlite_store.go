package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fieldcert/fieldcert/internal/inspection/model"
	"github.com/fieldcert/fieldcert/internal/persistence/sqlite"
)

const schemaVersion = 1

// SqliteStore implements Store using SQLite.
type SqliteStore struct {
	DB *sql.DB
}

// NewSqliteStore initializes a new SQLite submission store.
func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}

	s := &SqliteStore{DB: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("submission store: migration failed: %w", err)
	}
	return s, nil
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}

func (s *SqliteStore) migrate() error {
	var currentVersion int
	if err := s.DB.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS submissions (
		session_id TEXT PRIMARY KEY,
		snapshot_json TEXT NOT NULL,
		status TEXT NOT NULL,
		enqueued_at_ms INTEGER NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		next_attempt_ms INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		synced_at_ms INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_submissions_status_enqueued ON submissions(status, enqueued_at_ms);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SqliteStore) Put(ctx context.Context, e *Entry) error {
	query := `
	INSERT INTO submissions (
		session_id, snapshot_json, status, enqueued_at_ms, attempts,
		next_attempt_ms, last_error, synced_at_ms
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		snapshot_json = excluded.snapshot_json,
		status = excluded.status,
		enqueued_at_ms = excluded.enqueued_at_ms,
		attempts = excluded.attempts,
		next_attempt_ms = excluded.next_attempt_ms,
		last_error = excluded.last_error,
		synced_at_ms = excluded.synced_at_ms
	`
	_, err := s.DB.ExecContext(ctx, query,
		e.SessionID, string(e.Snapshot), e.Status, s2ms(e.EnqueuedAtUnix), e.Attempts,
		s2ms(e.NextAttemptUnix), e.LastError, nullMs(e.SyncedAtUnix),
	)
	return err
}

func (s *SqliteStore) Get(ctx context.Context, sessionID string) (*Entry, error) {
	row := s.DB.QueryRowContext(ctx,
		"SELECT session_id, snapshot_json, status, enqueued_at_ms, attempts, next_attempt_ms, last_error, synced_at_ms FROM submissions WHERE session_id = ?",
		sessionID)
	return scanEntry(row)
}

func (s *SqliteStore) Update(ctx context.Context, sessionID string, fn func(*Entry) error) (*Entry, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	e, err := scanEntry(tx.QueryRowContext(ctx,
		"SELECT session_id, snapshot_json, status, enqueued_at_ms, attempts, next_attempt_ms, last_error, synced_at_ms FROM submissions WHERE session_id = ?",
		sessionID))
	if err != nil {
		return nil, err
	}

	if err := fn(e); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE submissions SET
			snapshot_json = ?, status = ?, attempts = ?, next_attempt_ms = ?,
			last_error = ?, synced_at_ms = ?
		WHERE session_id = ?`,
		string(e.Snapshot), e.Status, e.Attempts, s2ms(e.NextAttemptUnix),
		e.LastError, nullMs(e.SyncedAtUnix), e.SessionID,
	)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *SqliteStore) ListPending(ctx context.Context) ([]*Entry, error) {
	rows, err := s.DB.QueryContext(ctx,
		"SELECT session_id, snapshot_json, status, enqueued_at_ms, attempts, next_attempt_ms, last_error, synced_at_ms FROM submissions WHERE status = ? ORDER BY enqueued_at_ms ASC, session_id ASC",
		model.SubmissionQueued)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

func (s *SqliteStore) Scan(ctx context.Context, fn func(*Entry) error) error {
	rows, err := s.DB.QueryContext(ctx,
		"SELECT session_id, snapshot_json, status, enqueued_at_ms, attempts, next_attempt_ms, last_error, synced_at_ms FROM submissions ORDER BY enqueued_at_ms ASC")
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *SqliteStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.DB.ExecContext(ctx, "DELETE FROM submissions WHERE session_id = ?", sessionID)
	return err
}

// --- Helpers ---

func scanEntry(scanner interface {
	Scan(dest ...interface{}) error
}) (*Entry, error) {
	var e Entry
	var snapshot string
	var enqueued, nextAttempt int64
	var lastError sql.NullString
	var syncedAt sql.NullInt64

	err := scanner.Scan(
		&e.SessionID, &snapshot, &e.Status, &enqueued, &e.Attempts,
		&nextAttempt, &lastError, &syncedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	e.Snapshot = []byte(snapshot)
	e.EnqueuedAtUnix = enqueued / 1000
	e.NextAttemptUnix = nextAttempt / 1000
	if lastError.Valid {
		e.LastError = lastError.String
	}
	if syncedAt.Valid {
		e.SyncedAtUnix = syncedAt.Int64 / 1000
	}
	return &e, nil
}

func s2ms(s int64) int64 { return s * 1000 }

func nullMs(s int64) sql.NullInt64 {
	if s == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: s * 1000, Valid: true}
}
