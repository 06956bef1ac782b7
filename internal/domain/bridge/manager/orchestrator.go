// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/pstnbridge/internal/domain/bridge/legs"
	"github.com/ManuGH/pstnbridge/internal/domain/bridge/lifecycle"
	"github.com/ManuGH/pstnbridge/internal/domain/bridge/model"
	"github.com/ManuGH/pstnbridge/internal/domain/bridge/store"
	"github.com/ManuGH/pstnbridge/internal/log"
	"github.com/ManuGH/pstnbridge/internal/metrics"
)

const defaultEffectTimeout = 30 * time.Second

var (
	// ErrShuttingDown is returned for work offered after Shutdown began.
	ErrShuttingDown = errors.New("orchestrator is shutting down")
	// ErrMissingSession is returned for callbacks that carry no session id.
	ErrMissingSession = errors.New("callback carries no session id")

	errNoChange = errors.New("no change")
)

// LegController is the leg-level collaborator the orchestrator drives.
// *legs.Controller implements it.
type LegController interface {
	CreateLeg(ctx context.Context, role model.LegRole, s *model.Session) (string, error)
	ApplyDirective(ctx context.Context, legID string, d model.Directive) error
	Terminate(ctx context.Context, legID string) (alreadyGone bool, err error)
	Status(ctx context.Context, legID string) (model.CallStatus, error)
}

var _ LegController = (*legs.Controller)(nil)

// Config tunes the orchestrator.
type Config struct {
	// EvictionGrace delays removal of torn-down sessions.
	EvictionGrace time.Duration
	// EffectTimeout bounds the background work started by one callback.
	EffectTimeout time.Duration
}

// Orchestrator sequences the four legs of every bridge session and tears
// them down. Callbacks for one session may arrive concurrently; the state
// machine step for each runs inside an atomic store update and the resulting
// platform requests run afterwards.
type Orchestrator struct {
	Store     store.StateStore
	Legs      LegController
	Evictions *EvictionScheduler

	EffectTimeout time.Duration
	Now           func() time.Time

	mu       sync.Mutex
	closing  bool
	inflight sync.WaitGroup
}

// New wires an orchestrator with its eviction scheduler.
func New(st store.StateStore, lc LegController, cfg Config) *Orchestrator {
	o := &Orchestrator{
		Store:         st,
		Legs:          lc,
		EffectTimeout: cfg.EffectTimeout,
		Now:           time.Now,
	}
	if o.EffectTimeout <= 0 {
		o.EffectTimeout = defaultEffectTimeout
	}
	o.Evictions = NewEvictionScheduler(cfg.EvictionGrace, o.evict)
	return o
}

// Go runs fn in the background on a context detached from the caller's
// cancellation, bounded by EffectTimeout. Shutdown waits for it.
func (o *Orchestrator) Go(ctx context.Context, name string, fn func(ctx context.Context)) error {
	o.mu.Lock()
	if o.closing {
		o.mu.Unlock()
		return ErrShuttingDown
	}
	o.inflight.Add(1)
	o.mu.Unlock()

	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.EffectTimeout)
	go func() {
		defer o.inflight.Done()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				logger := log.WithComponentFromContext(detached, "orchestrator")
				logger.Error().
					Str(log.FieldEvent, "orchestrator.panic").
					Str(log.FieldOperation, name).
					Interface("panic", r).
					Msg("background task panicked")
			}
		}()
		fn(detached)
	}()
	return nil
}

// Start places the first media leg and records the new session under its id.
func (o *Orchestrator) Start(ctx context.Context, cc model.CallContext) (string, error) {
	logger := log.WithComponentFromContext(ctx, "orchestrator")

	id, err := o.Legs.CreateLeg(ctx, model.LegMediaA, &model.Session{Context: cc})
	if err != nil {
		metrics.RecordBridgeStart("create_failed")
		logger.Error().Err(err).
			Str(log.FieldEvent, "bridge.start.failed").
			Str(log.FieldLegRole, string(model.LegMediaA)).
			Msg("first media leg could not be created")
		return "", err
	}

	created, err := o.recordSession(ctx, id, cc)
	if err != nil {
		metrics.RecordBridgeStart("store_failed")
		logger.Error().Err(err).
			Str(log.FieldEvent, "bridge.start.failed").
			Str(log.FieldSessionID, id).
			Msg("session could not be recorded")
		return id, fmt.Errorf("record session %s: %w", id, err)
	}
	metrics.RecordBridgeStart("success")
	if !created {
		logger.Debug().
			Str(log.FieldEvent, "bridge.start.already_recorded").
			Str(log.FieldSessionID, id).
			Msg("first media leg called back before the create response")
	}

	logger.Info().
		Str(log.FieldEvent, "bridge.started").
		Str(log.FieldSessionID, id).
		Str(log.FieldConference, model.ConferenceName(id)).
		Msg("bridge session started")
	return id, nil
}

// recordSession stores a new session for the first media leg id. A session
// that already exists is kept as it is.
func (o *Orchestrator) recordSession(ctx context.Context, id string, cc model.CallContext) (created bool, err error) {
	err = o.Store.Create(ctx, model.NewSession(id, cc, o.Now().Unix()))
	switch {
	case err == nil:
		metrics.IncActiveSessions()
		return true, nil
	case errors.Is(err, store.ErrDuplicateSession):
		return false, nil
	default:
		return false, err
	}
}

// update runs fn on the session. The first media leg may call back before
// Start has recorded the session; its ready and proceed callbacks then record
// it from the values carried in the callback URL.
func (o *Orchestrator) update(ctx context.Context, ev lifecycle.Event, sessionID string, p legs.Params, fn func(*model.Session) error) (*model.Session, error) {
	snap, err := o.Store.Update(ctx, sessionID, fn)
	if !errors.Is(err, store.ErrNotFound) || ev.Role != model.LegMediaA ||
		(ev.Kind != lifecycle.EvReady && ev.Kind != lifecycle.EvProceed) {
		return snap, err
	}
	created, cerr := o.recordSession(ctx, sessionID, p.Context)
	if cerr != nil {
		return nil, fmt.Errorf("record session %s: %w", sessionID, cerr)
	}
	if created {
		logger := log.WithComponentFromContext(ctx, "orchestrator")
		logger.Info().
			Str(log.FieldEvent, "session.recorded_early").
			Str(log.FieldOperation, string(ev.Kind)).
			Msg("session recorded from callback ahead of the create response")
	}
	return o.Store.Update(ctx, sessionID, fn)
}

// Answer handles the ready callback of a leg and returns the directive to
// serve it. When the session is not available the routing is derived from
// the ids round-tripped in the callback URL.
func (o *Orchestrator) Answer(ctx context.Context, role model.LegRole, legID string, p legs.Params) (model.Directive, error) {
	if role.Ordinal() == 0 {
		return nil, fmt.Errorf("answer %q: %w", role, model.ErrUnknownRole)
	}
	sessionID := sessionIDFor(role, legID, p)
	if sessionID == "" {
		return nil, fmt.Errorf("answer %s: %w", role, ErrMissingSession)
	}
	ctx = log.ContextWithLegRole(log.ContextWithSessionID(ctx, sessionID), string(role))
	logger := log.WithComponentFromContext(ctx, "orchestrator")
	metrics.RecordCallback("answer", string(role))

	ev := lifecycle.Ready(role, legID)
	var out lifecycle.Outcome
	_, err := o.update(ctx, ev, sessionID, p, func(s *model.Session) error {
		var derr error
		out, derr = lifecycle.Decide(s, ev)
		return derr
	})

	var route lifecycle.Route
	switch {
	case err == nil && out.Answer != nil:
		route = *out.Answer
		metrics.RecordTransition(string(role), string(lifecycle.EvReady), "applied")
		logger.Info().
			Str(log.FieldEvent, "leg.joined").
			Str(log.FieldLegID, legID).
			Int(log.FieldStep, out.Transition.Step).
			Str(log.FieldNewState, string(out.To)).
			Msg("leg joined conference")
	default:
		result := "not_found"
		if !errors.Is(err, store.ErrNotFound) {
			result = "error"
			logger.Warn().Err(err).
				Str(log.FieldEvent, "leg.answer.fallback").
				Str(log.FieldLegID, legID).
				Msg("session unavailable, routing from callback parameters")
		}
		metrics.RecordTransition(string(role), string(lifecycle.EvReady), result)
		known := model.LegIDs{MediaA: sessionID, PhoneA: p.PhoneAID, MediaB: p.MediaBID}
		if role == model.LegPhoneB {
			known.PhoneB = legID
		}
		r, rerr := lifecycle.AnswerRouting(role, known)
		if rerr != nil {
			return nil, rerr
		}
		route = r
	}
	return legs.BuildJoinDirective(model.ConferenceName(sessionID), route.SpeakTo, route.HearFrom, route.EndOnExit), nil
}

// Callback is a parsed lifecycle webhook.
type Callback struct {
	LegID  string
	Type   string
	Status string
	Params legs.Params
}

// HandleEvent processes one lifecycle callback to completion.
func (o *Orchestrator) HandleEvent(ctx context.Context, role model.LegRole, cb Callback) error {
	if role.Ordinal() == 0 {
		return fmt.Errorf("event %q: %w", role, model.ErrUnknownRole)
	}
	ev := lifecycle.Classify(role, cb.LegID, cb.Type, cb.Status)
	metrics.RecordCallback("event", string(role))
	if ev.Kind == lifecycle.EvOther {
		metrics.RecordTransition(string(role), string(ev.Kind), "ignored")
		return nil
	}

	sessionID := sessionIDFor(role, cb.LegID, cb.Params)
	if sessionID == "" {
		metrics.RecordTransition(string(role), string(ev.Kind), "error")
		return fmt.Errorf("event %s: %w", role, ErrMissingSession)
	}
	ctx = log.ContextWithLegRole(log.ContextWithSessionID(ctx, sessionID), string(role))
	logger := log.WithComponentFromContext(ctx, "orchestrator")

	var out lifecycle.Outcome
	snap, err := o.update(ctx, ev, sessionID, cb.Params, func(s *model.Session) error {
		var derr error
		out, derr = lifecycle.Decide(s, ev)
		if derr != nil {
			return derr
		}
		if !out.Applied && out.AdoptedID == "" {
			return errNoChange
		}
		return nil
	})
	switch {
	case errors.Is(err, errNoChange):
		metrics.RecordTransition(string(role), string(ev.Kind), out.Skipped)
		logger.Debug().
			Str(log.FieldEvent, "transition.skipped").
			Str(log.FieldEventType, cb.Type).
			Str(log.FieldLegStatus, cb.Status).
			Str("reason", out.Skipped).
			Msg("callback had no effect")
		return nil
	case errors.Is(err, store.ErrNotFound):
		metrics.RecordTransition(string(role), string(ev.Kind), "not_found")
		// another process sharing the store may have evicted it
		disarmed := o.Evictions.Cancel(sessionID)
		logger.Debug().
			Str(log.FieldEvent, "callback.late").
			Str(log.FieldLegID, cb.LegID).
			Bool("eviction_disarmed", disarmed).
			Msg("callback for unknown session ignored")
		return nil
	case err != nil:
		metrics.RecordTransition(string(role), string(ev.Kind), "error")
		logger.Warn().Err(err).
			Str(log.FieldEvent, "transition.rejected").
			Str(log.FieldLegID, cb.LegID).
			Msg("callback rejected")
		return err
	}

	result := "applied"
	if !out.Applied {
		result = out.Skipped
	}
	metrics.RecordTransition(string(role), string(ev.Kind), result)
	logger.Info().
		Str(log.FieldEvent, "transition.applied").
		Str(log.FieldOperation, out.Transition.Name).
		Int(log.FieldStep, out.Transition.Step).
		Str(log.FieldOldState, string(out.From)).
		Str(log.FieldNewState, string(out.To)).
		Str(log.FieldLegStatus, cb.Status).
		Bool("retry", out.Retry).
		Int("effects", len(out.Effects)).
		Msg("bridge transition")

	return o.runEffects(ctx, snap, out.Effects)
}

func sessionIDFor(role model.LegRole, legID string, p legs.Params) string {
	if role == model.LegMediaA {
		if legID != "" {
			return legID
		}
	}
	return p.SessionID
}

// Recover re-arms eviction for sessions left tearing down by a previous process.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	sessions, err := o.Store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("recover: %w", err)
	}
	metrics.SetActiveSessions(len(sessions))
	n := 0
	for _, s := range sessions {
		if s.TeardownStarted && o.Evictions.Schedule(s.SessionID) {
			n++
		}
	}
	if n > 0 {
		logger := log.WithComponentFromContext(ctx, "orchestrator")
		logger.Info().
			Str(log.FieldEvent, "bridge.recovered").
			Int("sessions", len(sessions)).
			Int("evictions", n).
			Msg("rescheduled eviction of torn-down sessions")
	}
	return n, nil
}

func (o *Orchestrator) evict(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), o.EffectTimeout)
	defer cancel()
	ctx = log.ContextWithSessionID(ctx, sessionID)
	logger := log.WithComponentFromContext(ctx, "orchestrator")

	if err := o.Store.Delete(ctx, sessionID); err != nil {
		logger.Error().Err(err).
			Str(log.FieldEvent, "session.evict.failed").
			Msg("session eviction failed")
		return
	}
	metrics.IncSessionEviction()
	metrics.DecActiveSessions()
	logger.Info().
		Str(log.FieldEvent, "session.evicted").
		Msg("session evicted")
}

// Shutdown refuses new background work, waits for in-flight work until ctx
// is done and disarms pending evictions.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closing = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("drain orchestrator: %w", ctx.Err())
	}
	o.Evictions.Stop()
	return err
}
