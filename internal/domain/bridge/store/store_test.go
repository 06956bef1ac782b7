// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/pstnbridge/internal/domain/bridge/model"
)

type backendCase struct {
	name string
	open func(t *testing.T) StateStore
}

func backends() []backendCase {
	return []backendCase{
		{name: "memory", open: func(t *testing.T) StateStore { return NewMemoryStore() }},
		{name: "redis", open: func(t *testing.T) StateStore {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			return NewRedisStoreFromClient(client, "test:sess:", time.Minute)
		}},
		{name: "badger", open: func(t *testing.T) StateStore {
			s, err := OpenBadgerStore("")
			require.NoError(t, err)
			return s
		}},
		{name: "sqlite", open: func(t *testing.T) StateStore {
			s, err := NewSqliteStore(filepath.Join(t.TempDir(), "sessions.sqlite"))
			require.NoError(t, err)
			return s
		}},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s StateStore)) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			t.Cleanup(func() { _ = s.Close() })
			fn(t, s)
		})
	}
}

func sess(id string) *model.Session {
	return model.NewSession(id, model.CallContext{Callee1: "111", Attribute1: "a"}, time.Now().Unix())
}

func TestCreateGet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s StateStore) {
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, sess("ws1")))
		require.ErrorIs(t, s.Create(ctx, sess("ws1")), ErrDuplicateSession)

		got, err := s.Get(ctx, "ws1")
		require.NoError(t, err)
		assert.Equal(t, "ws1", got.SessionID)
		assert.Equal(t, "111", got.Context.Callee1)

		_, err = s.Get(ctx, "missing")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCreateRejectsInvalid(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s StateStore) {
		bad := sess("ws1")
		bad.Legs.PhoneA = "pstn1"
		require.Error(t, s.Create(context.Background(), bad))
		require.Error(t, s.Create(context.Background(), nil))
	})
}

func TestDeleteIsIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s StateStore) {
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, sess("ws1")))
		require.NoError(t, s.Delete(ctx, "ws1"))
		require.NoError(t, s.Delete(ctx, "ws1"))
		require.NoError(t, s.Delete(ctx, "never"))

		_, err := s.Get(ctx, "ws1")
		require.ErrorIs(t, err, ErrNotFound)
		_, err = s.Update(ctx, "ws1", func(*model.Session) error { return nil })
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestUpdatePersistsAndRejects(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s StateStore) {
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, sess("ws1")))

		out, err := s.Update(ctx, "ws1", func(x *model.Session) error {
			x.Requested.Set(model.LegPhoneA)
			return x.SetLegID(model.LegPhoneA, "pstn1")
		})
		require.NoError(t, err)
		assert.Equal(t, "pstn1", out.Legs.PhoneA)

		boom := errors.New("boom")
		_, err = s.Update(ctx, "ws1", func(x *model.Session) error {
			x.TeardownStarted = true
			return boom
		})
		require.ErrorIs(t, err, boom)

		_, err = s.Update(ctx, "ws1", func(x *model.Session) error {
			x.Legs.PhoneB = "pstn2" // not requested
			return nil
		})
		require.ErrorIs(t, err, model.ErrLegNotRequested)

		_, err = s.Update(ctx, "ws1", func(x *model.Session) error {
			x.SessionID = "other"
			return nil
		})
		require.Error(t, err)

		got, err := s.Get(ctx, "ws1")
		require.NoError(t, err)
		assert.Equal(t, "pstn1", got.Legs.PhoneA)
		assert.False(t, got.TeardownStarted, "failed mutation must not be written")
		assert.Empty(t, got.Legs.PhoneB)
	})
}

func TestUpdateGuardIsAtomic(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s StateStore) {
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, sess("ws1")))

		errAlready := errors.New("already requested")
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Update(ctx, "ws1", func(x *model.Session) error {
					if !x.Requested.Set(model.LegPhoneA) {
						return errAlready
					}
					return nil
				})
				if err == nil {
					wins.Add(1)
					return
				}
				assert.ErrorIs(t, err, errAlready)
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load(), "exactly one caller passes the guard")
	})
}

func TestListSorted(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s StateStore) {
		ctx := context.Background()
		for _, id := range []string{"c", "a", "b"} {
			require.NoError(t, s.Create(ctx, sess(id)))
		}
		list, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, "a", list[0].SessionID)
		assert.Equal(t, "b", list[1].SessionID)
		assert.Equal(t, "c", list[2].SessionID)
	})
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, sess("ws1")))

	got, err := s.Get(ctx, "ws1")
	require.NoError(t, err)
	got.TeardownStarted = true

	again, err := s.Get(ctx, "ws1")
	require.NoError(t, err)
	assert.False(t, again.TeardownStarted)
}

func TestOpenStateStore(t *testing.T) {
	s, err := OpenStateStore(Options{})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenStateStore(Options{Backend: BackendSqlite, Path: filepath.Join(t.TempDir(), "x.sqlite")})
	require.NoError(t, err)
	require.NoError(t, s.(Pinger).Ping(context.Background()))
	require.NoError(t, s.Close())

	mr := miniredis.RunT(t)
	s, err = OpenStateStore(Options{Backend: BackendRedis, Redis: RedisConfig{Addr: mr.Addr()}})
	require.NoError(t, err)
	require.NoError(t, s.(Pinger).Ping(context.Background()))
	require.NoError(t, s.Close())

	_, err = OpenStateStore(Options{Backend: BackendSqlite})
	require.Error(t, err)
	_, err = OpenStateStore(Options{Backend: BackendRedis})
	require.Error(t, err)
	_, err = OpenStateStore(Options{Backend: "bolt"})
	require.Error(t, err)
}

func TestInstrumentedStoreCountsResults(t *testing.T) {
	s := NewInstrumentedStore(NewMemoryStore(), "memtest")
	ctx := context.Background()

	before := testutil.ToFloat64(storeOps.WithLabelValues("memtest", "get", "not_found"))
	_, err := s.Get(ctx, "nope")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, before+1, testutil.ToFloat64(storeOps.WithLabelValues("memtest", "get", "not_found")))

	require.NoError(t, s.Create(ctx, sess("ws1")))
	require.ErrorIs(t, s.Create(ctx, sess("ws1")), ErrDuplicateSession)
	assert.Equal(t, float64(1), testutil.ToFloat64(storeOps.WithLabelValues("memtest", "create", "duplicate")))
	assert.Equal(t, float64(1), testutil.ToFloat64(storeOps.WithLabelValues("memtest", "create", "success")))
}
