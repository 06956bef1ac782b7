// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
)

// VerifyIntegrity checks the SQLite database for structural corruption.
// Mode can be "quick" (PRAGMA quick_check) or "full" (PRAGMA integrity_check).
// Every name in tables must exist; a missing one is reported as a problem.
// It returns nil when the file is healthy.
func VerifyIntegrity(path string, mode string, tables ...string) ([]string, error) {
	db, err := Open(path, InspectConfig())
	if err != nil {
		return nil, fmt.Errorf("open %s for verification: %w", path, err)
	}
	defer func() { _ = db.Close() }()

	pragma := "PRAGMA quick_check;"
	if mode == "full" {
		pragma = "PRAGMA integrity_check;"
	}

	results, err := column(db, pragma)
	if err != nil {
		return nil, fmt.Errorf("integrity pragma: %w", err)
	}

	var problems []string
	switch {
	case len(results) == 0:
		problems = append(problems, "no results returned from integrity check")
	case len(results) == 1 && strings.EqualFold(results[0], "ok"):
	default:
		problems = append(problems, results...)
	}

	if len(tables) > 0 {
		present, err := column(db, "SELECT name FROM sqlite_master WHERE type = 'table'")
		if err != nil {
			return nil, fmt.Errorf("list tables: %w", err)
		}
		have := make(map[string]bool, len(present))
		for _, name := range present {
			have[name] = true
		}
		for _, name := range tables {
			if !have[name] {
				problems = append(problems, fmt.Sprintf("missing table %q", name))
			}
		}
	}
	return problems, nil
}

func column(db *sql.DB, query string) ([]string, error) {
	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
