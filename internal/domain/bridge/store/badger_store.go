// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/ManuGH/pstnbridge/internal/domain/bridge/model"
)

const (
	badgerPrefix         = "sess:"
	badgerUpdateAttempts = 16
)

// BadgerStore keeps sessions under key "sess:<id>" as JSON.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens a store at path. An empty path opens an in-memory store.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func badgerKey(id string) []byte { return []byte(badgerPrefix + id) }

func (s *BadgerStore) Create(_ context.Context, sess *model.Session) error {
	if err := validateNew(sess); err != nil {
		return err
	}
	buf, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	key := badgerKey(sess.SessionID)
	return s.retry(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return ErrDuplicateSession
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, buf)
	})
}

func readSession(item *badger.Item) (*model.Session, error) {
	var out model.Session
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &out)
	}); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &out, nil
}

func (s *BadgerStore) Get(_ context.Context, id string) (*model.Session, error) {
	var out *model.Session
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		out, err = readSession(item)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) Update(_ context.Context, id string, fn func(*model.Session) error) (*model.Session, error) {
	key := badgerKey(id)
	var out *model.Session
	err := s.retry(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		cur, err := readSession(item)
		if err != nil {
			return err
		}
		next, err := applyMutation(cur, fn)
		if err != nil {
			return err
		}
		buf, err := json.Marshal(next)
		if err != nil {
			return err
		}
		if err := txn.Set(key, buf); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) Delete(_ context.Context, id string) error {
	return s.retry(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(id))
	})
}

func (s *BadgerStore) List(_ context.Context) ([]*model.Session, error) {
	var out []*model.Session
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(badgerPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			sess, err := readSession(it.Item())
			if err != nil {
				return err
			}
			out = append(out, sess)
		}
		return nil
	})
	return out, err
}

// retry runs fn in a read-write transaction, retrying when a concurrent
// transaction committed a conflicting write first.
func (s *BadgerStore) retry(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < badgerUpdateAttempts; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}
