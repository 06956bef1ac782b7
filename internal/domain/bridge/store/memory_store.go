// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"sort"
	"sync"

	"github.com/ManuGH/pstnbridge/internal/domain/bridge/model"
)

// MemoryStore keeps sessions in process memory. Each session has its own
// lock so updates of one session never wait on another.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	sess *model.Session
	gone bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*entry)}
}

func (m *MemoryStore) Create(_ context.Context, s *model.Session) error {
	if err := validateNew(s); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.SessionID]; ok {
		return ErrDuplicateSession
	}
	m.sessions[s.SessionID] = &entry{sess: s.Clone()}
	return nil
}

func (m *MemoryStore) lookup(id string) *entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

func (m *MemoryStore) Get(_ context.Context, id string) (*model.Session, error) {
	e := m.lookup(id)
	if e == nil {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone {
		return nil, ErrNotFound
	}
	return e.sess.Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, id string, fn func(*model.Session) error) (*model.Session, error) {
	e := m.lookup(id)
	if e == nil {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone {
		return nil, ErrNotFound
	}
	next, err := applyMutation(e.sess, fn)
	if err != nil {
		return nil, err
	}
	e.sess = next
	return next.Clone(), nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	e := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if e != nil {
		// an Update holding the entry lock finishes first; later ones see gone
		e.mu.Lock()
		e.gone = true
		e.mu.Unlock()
	}
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]*model.Session, error) {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]*model.Session, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.gone {
			out = append(out, e.sess.Clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
