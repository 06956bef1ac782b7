// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store persists bridge sessions keyed by session id.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/pstnbridge/internal/domain/bridge/model"
)

var (
	// ErrNotFound is returned for absent sessions. Callers treat it as a no-op:
	// late callbacks after eviction are expected.
	ErrNotFound = errors.New("session not found")
	// ErrDuplicateSession signals a second Create for the same id.
	ErrDuplicateSession = errors.New("duplicate session")
)

// StateStore is the session persistence contract shared by every backend.
type StateStore interface {
	// Create inserts a new session. It fails with ErrDuplicateSession if the id exists.
	Create(ctx context.Context, s *model.Session) error
	// Get returns a copy of the session or ErrNotFound.
	Get(ctx context.Context, id string) (*model.Session, error)
	// Update runs fn on a copy of the session and persists the result
	// atomically. No write happens when fn returns an error.
	Update(ctx context.Context, id string, fn func(*model.Session) error) (*model.Session, error)
	// Delete removes the session. Removing an absent id is not an error.
	Delete(ctx context.Context, id string) error
	// List returns copies of every stored session.
	List(ctx context.Context) ([]*model.Session, error)
	Close() error
}

// applyMutation runs fn against a working copy and checks the result.
func applyMutation(cur *model.Session, fn func(*model.Session) error) (*model.Session, error) {
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if next.SessionID != cur.SessionID {
		return nil, fmt.Errorf("mutation changed session id %q to %q", cur.SessionID, next.SessionID)
	}
	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("mutation broke session invariants: %w", err)
	}
	next.UpdatedAtUnix = time.Now().Unix()
	return next, nil
}

func validateNew(s *model.Session) error {
	if s == nil {
		return errors.New("nil session")
	}
	return s.Validate()
}
