// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"fmt"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendBadger = "badger"
	BackendSqlite = "sqlite"
)

// Options selects and configures a StateStore backend.
type Options struct {
	Backend string
	// Path is the badger directory or sqlite file.
	Path  string
	Redis RedisConfig
}

// OpenStateStore creates an instrumented StateStore based on the backend configuration.
func OpenStateStore(opts Options) (StateStore, error) {
	backend := opts.Backend
	if backend == "" {
		backend = BackendMemory
	}

	var (
		inner StateStore
		err   error
	)
	switch backend {
	case BackendMemory:
		inner = NewMemoryStore()
	case BackendRedis:
		if opts.Redis.Addr == "" {
			return nil, fmt.Errorf("redis backend requires an address")
		}
		inner, err = NewRedisStore(opts.Redis)
	case BackendBadger:
		inner, err = OpenBadgerStore(opts.Path)
	case BackendSqlite:
		if opts.Path == "" {
			return nil, fmt.Errorf("sqlite backend requires a path")
		}
		inner, err = NewSqliteStore(opts.Path)
	default:
		return nil, fmt.Errorf("unknown store backend: %s", backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", backend, err)
	}
	return NewInstrumentedStore(inner, backend), nil
}
