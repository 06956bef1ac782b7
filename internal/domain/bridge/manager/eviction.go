// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package manager

import (
	"sync"
	"time"
)

// DefaultEvictionGrace is how long a torn-down session stays readable for
// late callbacks before it is removed.
const DefaultEvictionGrace = 30 * time.Second

// EvictionScheduler removes sessions a grace period after teardown started.
// Each session has at most one pending timer; the first schedule wins.
type EvictionScheduler struct {
	grace time.Duration
	evict func(sessionID string)

	mu      sync.Mutex
	timers  map[string]*pendingEviction
	stopped bool
	running sync.WaitGroup
}

type pendingEviction struct {
	timer *time.Timer
}

func NewEvictionScheduler(grace time.Duration, evict func(sessionID string)) *EvictionScheduler {
	if grace <= 0 {
		grace = DefaultEvictionGrace
	}
	return &EvictionScheduler{
		grace:  grace,
		evict:  evict,
		timers: make(map[string]*pendingEviction),
	}
}

// Grace returns the configured delay.
func (e *EvictionScheduler) Grace() time.Duration { return e.grace }

// Schedule arms the eviction timer for id. It reports false when a timer is
// already pending or the scheduler was stopped.
func (e *EvictionScheduler) Schedule(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return false
	}
	if _, ok := e.timers[id]; ok {
		return false
	}
	p := &pendingEviction{}
	p.timer = time.AfterFunc(e.grace, func() { e.fire(id, p) })
	e.timers[id] = p
	return true
}

func (e *EvictionScheduler) fire(id string, p *pendingEviction) {
	e.mu.Lock()
	if e.stopped || e.timers[id] != p {
		e.mu.Unlock()
		return
	}
	delete(e.timers, id)
	e.running.Add(1)
	e.mu.Unlock()

	defer e.running.Done()
	e.evict(id)
}

// Cancel disarms a pending timer.
func (e *EvictionScheduler) Cancel(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.timers[id]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(e.timers, id)
	return true
}

// Pending returns the number of armed timers.
func (e *EvictionScheduler) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.timers)
}

// Stop disarms every timer and waits for evictions already running.
// Sessions whose timers were disarmed stay in the store.
func (e *EvictionScheduler) Stop() {
	e.mu.Lock()
	e.stopped = true
	for id, p := range e.timers {
		p.timer.Stop()
		delete(e.timers, id)
	}
	e.mu.Unlock()
	e.running.Wait()
}
