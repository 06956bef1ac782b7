// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

import (
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver
)

// Config defines standard SQLite operational parameters.
type Config struct {
	BusyTimeout  time.Duration
	MaxOpenConns int // 1 serializes every transaction through a single writer
	// ReadOnly opens the file with mode=ro. The journal is left as it is.
	ReadOnly bool
}

// DefaultConfig returns a pooled configuration suitable for read-mostly data.
func DefaultConfig() Config {
	return Config{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 25,
	}
}

// WriterConfig returns a single-connection configuration. Read-modify-write
// transactions opened through it never interleave.
func WriterConfig() Config {
	return Config{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
	}
}

// InspectConfig opens a store file read-only, for example while the bridge
// that owns it is still running.
func InspectConfig() Config {
	return Config{
		BusyTimeout:  2 * time.Second,
		MaxOpenConns: 1,
		ReadOnly:     true,
	}
}

func dsn(dbPath string, cfg Config) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()))
	if cfg.ReadOnly {
		q.Set("mode", "ro")
	} else {
		q.Add("_pragma", "journal_mode(WAL)")
		q.Add("_pragma", "synchronous(NORMAL)")
		q.Add("_pragma", "foreign_keys(ON)")
	}
	return "file:" + dbPath + "?" + q.Encode()
}

// Open initializes a SQLite connection pool. Writable pools run in WAL mode;
// busy_timeout applies to every connection.
func Open(dbPath string, cfg Config) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn(dbPath, cfg))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}

	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 1
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping %s: %w", dbPath, err)
	}

	return db, nil
}
