// Package persistence implements token store backends.
package persistence

import (
	"context"
	"database/sql"
	"errors"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"unibox_server/core/domain"
	"unibox_server/core/port/out"
)

// =============================================================================
// SQLite Token Store
// =============================================================================

const sessionSchema = `
CREATE TABLE IF NOT EXISTS session_state (
	id      INTEGER PRIMARY KEY CHECK (id = 1),
	service TEXT NOT NULL,
	tokens  TEXT
);`

// SQLiteStore persists the session in a single-row SQLite table. The CGo-free
// driver keeps the binary self-contained.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (and if needed creates) the store at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(sessionSchema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

type sessionRow struct {
	Service string         `db:"service"`
	Tokens  sql.NullString `db:"tokens"`
}

// Load returns the stored session, or (nil, nil) when none was ever saved.
func (s *SQLiteStore) Load(ctx context.Context) (*out.SessionState, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `SELECT service, tokens FROM session_state WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state := &out.SessionState{Service: domain.Service(row.Service)}
	if row.Tokens.Valid && row.Tokens.String != "" {
		var tokens domain.TokenPair
		if err := json.Unmarshal([]byte(row.Tokens.String), &tokens); err != nil {
			return nil, err
		}
		state.Tokens = &tokens
	}
	return state, nil
}

// Save upserts the single session row.
func (s *SQLiteStore) Save(ctx context.Context, state *out.SessionState) error {
	var tokens sql.NullString
	if state.Tokens != nil {
		data, err := json.Marshal(state.Tokens)
		if err != nil {
			return err
		}
		tokens = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_state (id, service, tokens) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET service = excluded.service, tokens = excluded.tokens`,
		string(state.Service), tokens)
	return err
}

// Clear removes the session row.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session_state WHERE id = 1`)
	return err
}

// Ping reports database reachability.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ out.TokenStorePort = (*SQLiteStore)(nil)
