package stubgateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dohr-michael/parley/internal/client"
)

// ErrNotFound is returned for missing sessions or artifacts.
var ErrNotFound = errors.New("not found")

// Store is the stub gateway's SQLite persistence: sessions, chat-task
// records and versioned artifacts.
type Store struct {
	db *sql.DB
}

// OpenStore opens (and migrates) the SQLite database at path. Use
// ":memory:" for tests.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// The sqlite driver serializes writes; one connection avoids
	// SQLITE_BUSY under concurrent handlers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS chat_tasks (
	session_id      TEXT NOT NULL,
	task_id         TEXT NOT NULL,
	user_message    TEXT NOT NULL DEFAULT '',
	message_bubbles TEXT NOT NULL DEFAULT '[]',
	task_metadata   TEXT NOT NULL DEFAULT '{}',
	created_at      TIMESTAMP NOT NULL,
	PRIMARY KEY (session_id, task_id)
);
CREATE TABLE IF NOT EXISTS artifacts (
	session_id  TEXT NOT NULL,
	filename    TEXT NOT NULL,
	version     INTEGER NOT NULL,
	mime_type   TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	content     BLOB NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	PRIMARY KEY (session_id, filename, version)
);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertSession creates a session or bumps its updated_at.
func (s *Store) UpsertSession(ctx context.Context, id, name string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	name = CASE WHEN excluded.name != '' THEN excluded.name ELSE sessions.name END,
	updated_at = excluded.updated_at`,
		id, name, now, now)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// GetSession fetches one session.
func (s *Store) GetSession(ctx context.Context, id string) (client.Session, error) {
	var sess client.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at, updated_at FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.Name, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return client.Session{}, ErrNotFound
	}
	if err != nil {
		return client.Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns all sessions, most recently updated first.
func (s *Store) ListSessions(ctx context.Context) ([]client.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, created_at, updated_at FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []client.Session
	for rows.Next() {
		var sess client.Session
		if err := rows.Scan(&sess.ID, &sess.Name, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// RenameSession sets a session's name.
func (s *Store) RenameSession(ctx context.Context, id, name string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET name = ?, updated_at = ? WHERE id = ?`,
		name, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("rename session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSession removes a session with its tasks and artifacts.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM artifacts WHERE session_id = ?`,
		`DELETE FROM chat_tasks WHERE session_id = ?`,
		`DELETE FROM sessions WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
	}
	return tx.Commit()
}

// SaveChatTask upserts a turn record; the latest write wins.
func (s *Store) SaveChatTask(ctx context.Context, sessionID string, rec client.TaskRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO chat_tasks (session_id, task_id, user_message, message_bubbles, task_metadata, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id, task_id) DO UPDATE SET
	user_message = excluded.user_message,
	message_bubbles = excluded.message_bubbles,
	task_metadata = excluded.task_metadata`,
		sessionID, rec.TaskID, rec.UserMessage, rec.MessageBubbles, rec.TaskMetadata, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save chat task: %w", err)
	}
	return nil
}

// ListChatTasks returns a session's turn records in insertion order.
func (s *Store) ListChatTasks(ctx context.Context, sessionID string) ([]client.TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT task_id, user_message, message_bubbles, task_metadata
FROM chat_tasks WHERE session_id = ? ORDER BY created_at, task_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list chat tasks: %w", err)
	}
	defer rows.Close()

	var out []client.TaskRecord
	for rows.Next() {
		var rec client.TaskRecord
		if err := rows.Scan(&rec.TaskID, &rec.UserMessage, &rec.MessageBubbles, &rec.TaskMetadata); err != nil {
			return nil, fmt.Errorf("scan chat task: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PutArtifact stores a new version of an artifact and returns the
// version number.
func (s *Store) PutArtifact(ctx context.Context, sessionID, filename, mimeType, description string, content []byte) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin put artifact: %w", err)
	}
	defer tx.Rollback()

	var version int
	err = tx.QueryRowContext(ctx, `
SELECT COALESCE(MAX(version), 0) + 1 FROM artifacts WHERE session_id = ? AND filename = ?`,
		sessionID, filename).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("next artifact version: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO artifacts (session_id, filename, version, mime_type, description, content, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, filename, version, mimeType, description, content, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("insert artifact: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit artifact: %w", err)
	}
	return version, nil
}

// GetArtifact returns the content and mime type of an artifact version.
// Version 0 means latest.
func (s *Store) GetArtifact(ctx context.Context, sessionID, filename string, version int) ([]byte, string, error) {
	q := `SELECT content, mime_type FROM artifacts
WHERE session_id = ? AND filename = ? ORDER BY version DESC LIMIT 1`
	args := []any{sessionID, filename}
	if version > 0 {
		q = `SELECT content, mime_type FROM artifacts
WHERE session_id = ? AND filename = ? AND version = ?`
		args = append(args, version)
	}

	var content []byte
	var mime string
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&content, &mime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("get artifact: %w", err)
	}
	return content, mime, nil
}

// ListArtifacts returns the latest version of each artifact in a session.
func (s *Store) ListArtifacts(ctx context.Context, sessionID string) ([]client.ArtifactRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT filename, mime_type, description, LENGTH(content), version, created_at
FROM artifacts a
WHERE session_id = ? AND version = (
	SELECT MAX(version) FROM artifacts WHERE session_id = a.session_id AND filename = a.filename
)
ORDER BY filename`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []client.ArtifactRecord
	for rows.Next() {
		var rec client.ArtifactRecord
		if err := rows.Scan(&rec.Filename, &rec.MimeType, &rec.Description, &rec.Size, &rec.Versions, &rec.LastModified); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteArtifact removes all versions of an artifact.
func (s *Store) DeleteArtifact(ctx context.Context, sessionID, filename string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM artifacts WHERE session_id = ? AND filename = ?`, sessionID, filename)
	if err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
