package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists session state in a single sessions table. One row
// per session; messages, retry history, and the last error are stored as
// JSON columns so a load round-trips every field of State.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) the session database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("session store path must be set")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("prepare session store dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	if _, err := db.ExecContext(context.Background(), `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	messages TEXT NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	retry_history TEXT NOT NULL,
	last_error TEXT,
	created_at TIMESTAMP NOT NULL,
	last_updated TIMESTAMP NOT NULL
)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init session schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Load fetches the state for id, or ErrNotFound.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*State, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, messages, retry_count, retry_history, last_error, created_at, last_updated
FROM sessions WHERE id=?`, id)

	var state State
	var messages, retryHistory string
	var lastError sql.NullString
	var created, updated time.Time
	if err := row.Scan(&state.ID, &messages, &state.RetryCount, &retryHistory, &lastError, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(messages), &state.Messages); err != nil {
		return nil, fmt.Errorf("decode session messages: %w", err)
	}
	if err := json.Unmarshal([]byte(retryHistory), &state.RetryHistory); err != nil {
		return nil, fmt.Errorf("decode retry history: %w", err)
	}
	if lastError.Valid && lastError.String != "" {
		var snapshot ErrorSnapshot
		if err := json.Unmarshal([]byte(lastError.String), &snapshot); err != nil {
			return nil, fmt.Errorf("decode last error: %w", err)
		}
		state.LastError = &snapshot
	}
	state.CreatedAt = created
	state.LastUpdated = updated
	return &state, nil
}

// Save upserts the full state inside a transaction so partial writes are
// never observable.
func (s *SQLiteStore) Save(ctx context.Context, state *State) error {
	if state == nil {
		return errors.New("state is nil")
	}
	messages, err := json.Marshal(state.Messages)
	if err != nil {
		return fmt.Errorf("encode session messages: %w", err)
	}
	retryHistory, err := json.Marshal(state.RetryHistory)
	if err != nil {
		return fmt.Errorf("encode retry history: %w", err)
	}
	var lastError any
	if state.LastError != nil {
		data, err := json.Marshal(state.LastError)
		if err != nil {
			return fmt.Errorf("encode last error: %w", err)
		}
		lastError = string(data)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO sessions (id, messages, retry_count, retry_history, last_error, created_at, last_updated)
VALUES(?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
	messages=excluded.messages,
	retry_count=excluded.retry_count,
	retry_history=excluded.retry_history,
	last_error=excluded.last_error,
	last_updated=excluded.last_updated
`, state.ID, string(messages), state.RetryCount, string(retryHistory), lastError, state.CreatedAt, state.LastUpdated); err != nil {
		tx.Rollback()
		return fmt.Errorf("save session %s: %w", state.ID, err)
	}
	return tx.Commit()
}

// List returns the known session ids ordered by last update, newest first.
func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions ORDER BY last_updated DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes a session. Deleting an absent id is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id=?`, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// Path returns the backing database file location.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
