// Package history persists conversation sessions and turns in SQLite. The
// agent keeps its working history in memory; this store is the durable
// mirror, so every write failure is reported but none should stop a
// conversation.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/jmoiron/sqlx"
)

// Turn is one persisted user/assistant exchange.
type Turn struct {
	ID        int64     `db:"id"`
	SessionID int64     `db:"session_id"`
	UserText  string    `db:"user_text"`
	ReplyText string    `db:"reply_text"`
	Mood      string    `db:"mood"`
	CreatedAt time.Time `db:"created_at"`
}

// Session is one conversation from launch to shutdown.
type Session struct {
	ID        int64      `db:"id"`
	StartedAt time.Time  `db:"started_at"`
	EndedAt   *time.Time `db:"ended_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at TIMESTAMP NOT NULL,
	ended_at   TIMESTAMP
);
CREATE TABLE IF NOT EXISTS turns (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id INTEGER NOT NULL REFERENCES sessions(id),
	user_text  TEXT NOT NULL,
	reply_text TEXT NOT NULL,
	mood       TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS turns_by_session ON turns(session_id, id);
`

// Store is a SQLite-backed conversation log.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Open opens the store at path, creating the schema if needed. ":memory:"
// gives an ephemeral store.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: create schema: %w", err)
	}
	return &Store{
		db:     db,
		logger: logger.With(slog.String("component", "history")),
	}, nil
}

// BeginSession opens a new session and returns its id.
func (s *Store) BeginSession(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions (started_at) VALUES ($1);", time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("history: begin session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("history: session id: %w", err)
	}
	s.logger.Debug("session started", slog.Int64("session", id))
	return id, nil
}

// Append records one turn in the session.
func (s *Store) Append(ctx context.Context, sessionID int64, userText, replyText, mood string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO turns (session_id, user_text, reply_text, mood, created_at) VALUES ($1, $2, $3, $4, $5);",
		sessionID, userText, replyText, mood, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("history: append turn: %w", err)
	}
	return nil
}

// Recent returns the last n turns of the session, oldest first.
func (s *Store) Recent(ctx context.Context, sessionID int64, n int) ([]Turn, error) {
	turns := []Turn{}
	err := s.db.SelectContext(ctx, &turns,
		`SELECT * FROM (
			SELECT * FROM turns WHERE session_id=$1 ORDER BY id DESC LIMIT $2
		) ORDER BY id ASC;`,
		sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("history: recent turns: %w", err)
	}
	return turns, nil
}

// EndSession stamps the session's end time. Idempotent.
func (s *Store) EndSession(ctx context.Context, sessionID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET ended_at=$1 WHERE id=$2 AND ended_at IS NULL;",
		time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("history: end session: %w", err)
	}
	return nil
}

// Sessions lists all sessions, newest first.
func (s *Store) Sessions(ctx context.Context) ([]Session, error) {
	sessions := []Session{}
	err := s.db.SelectContext(ctx, &sessions,
		"SELECT * FROM sessions ORDER BY id DESC;")
	if err != nil {
		return nil, fmt.Errorf("history: list sessions: %w", err)
	}
	return sessions, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
