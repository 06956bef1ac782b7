// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ManuGH/pstnbridge/internal/domain/bridge/model"
)

var (
	storeOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pstnbridge_store_ops_total",
			Help: "Total session store operations",
		},
		[]string{"backend", "op", "result"}, // result=success/not_found/duplicate/error
	)
	storeLat = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pstnbridge_store_op_seconds",
			Help:    "Session store operation latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "op"},
	)
)

// Pinger is implemented by backends reachable over a connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// instrumentedStore wraps any StateStore to capture metrics.
type instrumentedStore struct {
	inner   StateStore
	backend string
}

func NewInstrumentedStore(inner StateStore, backend string) StateStore {
	return &instrumentedStore{inner: inner, backend: backend}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicateSession):
		return "duplicate"
	default:
		return "error"
	}
}

func (i *instrumentedStore) observe(op string, start time.Time, err error) {
	storeOps.WithLabelValues(i.backend, op, resultLabel(err)).Inc()
	storeLat.WithLabelValues(i.backend, op).Observe(time.Since(start).Seconds())
}

func (i *instrumentedStore) Create(ctx context.Context, s *model.Session) (err error) {
	start := time.Now()
	defer func() { i.observe("create", start, err) }()
	return i.inner.Create(ctx, s)
}

func (i *instrumentedStore) Get(ctx context.Context, id string) (s *model.Session, err error) {
	start := time.Now()
	defer func() { i.observe("get", start, err) }()
	return i.inner.Get(ctx, id)
}

func (i *instrumentedStore) Update(ctx context.Context, id string, fn func(*model.Session) error) (s *model.Session, err error) {
	start := time.Now()
	defer func() { i.observe("update", start, err) }()
	return i.inner.Update(ctx, id, fn)
}

func (i *instrumentedStore) Delete(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { i.observe("delete", start, err) }()
	return i.inner.Delete(ctx, id)
}

func (i *instrumentedStore) List(ctx context.Context) (list []*model.Session, err error) {
	start := time.Now()
	defer func() { i.observe("list", start, err) }()
	return i.inner.List(ctx)
}

// Ping forwards to the backend when it supports it.
func (i *instrumentedStore) Ping(ctx context.Context) error {
	if p, ok := i.inner.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (i *instrumentedStore) Close() error { return i.inner.Close() }
