package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/whiteboard-tutor/internal/domain"
	"github.com/ashureev/whiteboard-tutor/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	writeRetries   = 3
	writeBaseDelay = 100 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS tutor_sessions (
		session_id TEXT PRIMARY KEY,
		stats_json TEXT NOT NULL,
		graph_json TEXT NOT NULL,
		last_activity INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tutor_sessions_activity ON tutor_sessions(last_activity);

	CREATE TABLE IF NOT EXISTS uploads (
		id TEXT PRIMARY KEY,
		session_id TEXT,
		filename TEXT NOT NULL,
		content_type TEXT NOT NULL,
		size INTEGER NOT NULL,
		path TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_uploads_session ON uploads(session_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// SaveSession creates or updates a session snapshot.
func (s *SQLiteStore) SaveSession(ctx context.Context, rec *domain.SessionRecord) error {
	query := `
	INSERT INTO tutor_sessions (session_id, stats_json, graph_json, last_activity, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		stats_json = excluded.stats_json,
		graph_json = excluded.graph_json,
		last_activity = excluded.last_activity,
		updated_at = excluded.updated_at`

	err := shared.RetryOnConflict(ctx, "save session", writeRetries, writeBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, query,
			rec.SessionID, rec.StatsJSON, rec.GraphJSON,
			rec.LastActivity.Unix(), rec.CreatedAt.Unix(), rec.UpdatedAt.Unix(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", rec.SessionID, err)
	}
	return nil
}

const sessionColumns = `session_id, stats_json, graph_json, last_activity, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*domain.SessionRecord, error) {
	var rec domain.SessionRecord
	var lastActivity, createdAt, updatedAt int64
	if err := row.Scan(
		&rec.SessionID, &rec.StatsJSON, &rec.GraphJSON,
		&lastActivity, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	rec.LastActivity = time.Unix(lastActivity, 0)
	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.UpdatedAt = time.Unix(updatedAt, 0)
	return &rec, nil
}

// GetSession retrieves a session snapshot.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.SessionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM tutor_sessions WHERE session_id = ?`, sessionID)

	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return rec, nil
}

// DeleteSession removes a session snapshot.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	var rows int64
	err := shared.RetryOnConflict(ctx, "delete session", writeRetries, writeBaseDelay, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM tutor_sessions WHERE session_id = ?`, sessionID)
		if err != nil {
			return err
		}
		rows, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("delete session %s after %d attempts: %w", sessionID, writeRetries, err)
	}
	return rows > 0, nil
}

// ExpiredSessions lists snapshots idle for longer than ttl.
func (s *SQLiteStore) ExpiredSessions(ctx context.Context, ttl time.Duration, now time.Time) ([]*domain.SessionRecord, error) {
	threshold := now.Add(-ttl).Unix()
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM tutor_sessions WHERE last_activity < ? ORDER BY last_activity`, threshold)
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("Failed to close expired sessions rows", "error", closeErr)
		}
	}()

	var out []*domain.SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired session row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired sessions: %w", err)
	}
	return out, nil
}

// SaveUpload records upload metadata.
func (s *SQLiteStore) SaveUpload(ctx context.Context, upload *domain.Upload) error {
	query := `
	INSERT INTO uploads (id, session_id, filename, content_type, size, path, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	var sessionID any
	if upload.SessionID != "" {
		sessionID = upload.SessionID
	}

	err := shared.RetryOnConflict(ctx, "save upload", writeRetries, writeBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, query,
			upload.ID, sessionID, upload.Filename, upload.ContentType,
			upload.Size, upload.Path, upload.CreatedAt.Unix(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert upload: %w", err)
	}
	return nil
}

// GetUpload retrieves upload metadata.
func (s *SQLiteStore) GetUpload(ctx context.Context, id string) (*domain.Upload, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, filename, content_type, size, path, created_at
		FROM uploads WHERE id = ?`, id)

	u, err := scanUpload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan upload row: %w", err)
	}
	return u, nil
}

// DeleteSessionUploads removes the metadata of every upload attached to
// sessionID and returns the removed records so their files can be deleted.
func (s *SQLiteStore) DeleteSessionUploads(ctx context.Context, sessionID string) ([]*domain.Upload, error) {
	var removed []*domain.Upload
	err := shared.RetryOnConflict(ctx, "delete session uploads", writeRetries, writeBaseDelay, func() error {
		removed = nil
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		rows, err := tx.QueryContext(ctx, `
			SELECT id, session_id, filename, content_type, size, path, created_at
			FROM uploads WHERE session_id = ? ORDER BY created_at`, sessionID)
		if err != nil {
			return err
		}
		for rows.Next() {
			u, err := scanUpload(rows)
			if err != nil {
				_ = rows.Close()
				return err
			}
			removed = append(removed, u)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM uploads WHERE session_id = ?`, sessionID); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, fmt.Errorf("delete session uploads: %w", err)
	}
	return removed, nil
}

func scanUpload(row scanner) (*domain.Upload, error) {
	var u domain.Upload
	var sessionID sql.NullString
	var createdAt int64
	if err := row.Scan(&u.ID, &sessionID, &u.Filename, &u.ContentType, &u.Size, &u.Path, &createdAt); err != nil {
		return nil, err
	}
	u.SessionID = sessionID.String
	u.CreatedAt = time.Unix(createdAt, 0)
	return &u, nil
}

var _ Repository = (*SQLiteStore)(nil)
