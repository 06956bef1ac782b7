// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ManuGH/pstnbridge/internal/domain/bridge/model"
	"github.com/ManuGH/pstnbridge/internal/persistence/sqlite"
)

const schemaVersion = 1

// SqliteTables lists the tables a session store file must contain.
func SqliteTables() []string { return []string{"bridge_sessions"} }

// SqliteStore implements StateStore using SQLite. It uses a single
// connection, so every read-modify-write transaction is serialized.
type SqliteStore struct {
	DB   *sql.DB
	path string
}

// NewSqliteStore initializes a new SQLite session store.
func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	db, err := sqlite.Open(dbPath, sqlite.WriterConfig())
	if err != nil {
		return nil, err
	}

	s := &SqliteStore{DB: db, path: dbPath}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("session store: migration failed: %w", err)
	}
	return s, nil
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}

// Path returns the database file backing the store.
func (s *SqliteStore) Path() string { return s.path }

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
	CREATE TABLE IF NOT EXISTS bridge_sessions (
		session_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		teardown_started INTEGER NOT NULL DEFAULT 0,
		data_json TEXT NOT NULL,
		created_at_ms INTEGER NOT NULL,
		updated_at_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bridge_sessions_state ON bridge_sessions(state);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func s2ms(sec int64) int64 { return sec * 1000 }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SqliteStore) Create(ctx context.Context, sess *model.Session) error {
	if err := validateNew(sess); err != nil {
		return err
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM bridge_sessions WHERE session_id = ?", sess.SessionID).Scan(&exists)
	switch {
	case err == nil:
		return ErrDuplicateSession
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bridge_sessions (session_id, state, teardown_started, data_json, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sess.SessionID, string(sess.State()), boolToInt(sess.TeardownStarted), string(data),
		s2ms(sess.CreatedAtUnix), s2ms(sess.UpdatedAtUnix),
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*model.Session, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeSession([]byte(data))
}

func (s *SqliteStore) Get(ctx context.Context, id string) (*model.Session, error) {
	return scanSession(s.DB.QueryRowContext(ctx, "SELECT data_json FROM bridge_sessions WHERE session_id = ?", id))
}

func (s *SqliteStore) Update(ctx context.Context, id string, fn func(*model.Session) error) (*model.Session, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := scanSession(tx.QueryRowContext(ctx, "SELECT data_json FROM bridge_sessions WHERE session_id = ?", id))
	if err != nil {
		return nil, err
	}
	next, err := applyMutation(cur, fn)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(next)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE bridge_sessions SET state = ?, teardown_started = ?, data_json = ?, updated_at_ms = ?
		WHERE session_id = ?`,
		string(next.State()), boolToInt(next.TeardownStarted), string(data), s2ms(next.UpdatedAtUnix), id,
	)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *SqliteStore) Delete(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, "DELETE FROM bridge_sessions WHERE session_id = ?", id)
	return err
}

func (s *SqliteStore) List(ctx context.Context) ([]*model.Session, error) {
	rows, err := s.DB.QueryContext(ctx, "SELECT data_json FROM bridge_sessions ORDER BY session_id")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Ping checks connectivity for readiness probes.
func (s *SqliteStore) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}
