// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/pstnbridge/internal/domain/bridge/legs"
	"github.com/ManuGH/pstnbridge/internal/domain/bridge/lifecycle"
	"github.com/ManuGH/pstnbridge/internal/domain/bridge/model"
	"github.com/ManuGH/pstnbridge/internal/domain/bridge/store"
	"github.com/ManuGH/pstnbridge/internal/log"
	"github.com/ManuGH/pstnbridge/internal/metrics"
)

// runEffects executes the effects of one transition concurrently. Every
// effect runs to completion; the first failure is returned.
func (o *Orchestrator) runEffects(ctx context.Context, s *model.Session, effects []lifecycle.Effect) error {
	if len(effects) == 0 {
		return nil
	}
	var g errgroup.Group
	for _, eff := range effects {
		g.Go(func() error {
			switch eff.Kind {
			case lifecycle.EffCreateLeg:
				return o.createLeg(ctx, s, eff)
			case lifecycle.EffApplyRouting:
				return o.applyRouting(ctx, s, eff)
			case lifecycle.EffTeardown:
				return o.teardown(ctx, eff)
			case lifecycle.EffScheduleEviction:
				o.scheduleEviction(ctx, s.SessionID)
				return nil
			}
			return fmt.Errorf("unknown effect %q", eff.Kind)
		})
	}
	return g.Wait()
}

func (o *Orchestrator) createLeg(ctx context.Context, s *model.Session, eff lifecycle.Effect) error {
	role := eff.Create
	ctx = log.ContextWithLegRole(ctx, string(role))
	logger := log.WithComponentFromContext(ctx, "orchestrator")

	id, err := o.Legs.CreateLeg(ctx, role, s)
	if err != nil {
		logger.Error().Err(err).
			Str(log.FieldEvent, "leg.create.failed").
			Int(log.FieldStep, eff.Step).
			Msg("leg creation failed; a repeated trigger will retry")
		if _, uerr := o.Store.Update(ctx, s.SessionID, func(cur *model.Session) error {
			if cur.LegID(role) != "" {
				return errNoChange
			}
			cur.CreateFailed.Set(role)
			return nil
		}); uerr != nil && !errors.Is(uerr, errNoChange) && !errors.Is(uerr, store.ErrNotFound) {
			logger.Error().Err(uerr).Str(log.FieldEvent, "leg.create.mark_failed").Msg("could not record failed creation")
		}
		return err
	}

	updated, err := o.Store.Update(ctx, s.SessionID, func(cur *model.Session) error {
		return cur.SetLegID(role, id)
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		// session is gone; the new leg has nobody to bridge with
		logger.Warn().
			Str(log.FieldEvent, "leg.orphaned").
			Str(log.FieldLegID, id).
			Msg("session evicted while leg was created; hanging up")
		_ = o.terminateLeg(ctx, lifecycle.Target{Role: role, LegID: id}, false)
		return nil
	case err != nil:
		logger.Error().Err(err).
			Str(log.FieldEvent, "leg.record.failed").
			Str(log.FieldLegID, id).
			Msg("created leg could not be recorded")
		return err
	}

	logger.Info().
		Str(log.FieldEvent, "leg.requested").
		Str(log.FieldLegID, id).
		Int(log.FieldStep, eff.Step).
		Msg("leg requested")

	if updated.TeardownStarted {
		_ = o.terminateLeg(ctx, lifecycle.Target{Role: role, LegID: id}, false)
	}
	return nil
}

func (o *Orchestrator) applyRouting(ctx context.Context, s *model.Session, eff lifecycle.Effect) error {
	r := eff.Route
	ctx = log.ContextWithLegRole(ctx, string(r.Target.Role))
	logger := log.WithComponentFromContext(ctx, "orchestrator")

	if eff.SkipIfEnded {
		st, err := o.Legs.Status(ctx, r.Target.LegID)
		switch {
		case err != nil:
			logger.Warn().Err(err).
				Str(log.FieldEvent, "routing.status.failed").
				Str(log.FieldLegID, r.Target.LegID).
				Msg("status query failed; applying routing anyway")
		case st.IsTerminal():
			metrics.RecordRoutingUpdate("skipped")
			logger.Info().
				Str(log.FieldEvent, "routing.skipped").
				Str(log.FieldLegID, r.Target.LegID).
				Str(log.FieldLegStatus, string(st)).
				Msg("leg already ended")
			return nil
		}
	}

	d := legs.BuildJoinDirective(s.ConferenceName(), r.SpeakTo, r.HearFrom, r.EndOnExit)
	if err := o.Legs.ApplyDirective(ctx, r.Target.LegID, d); err != nil {
		metrics.RecordRoutingUpdate("error")
		logger.Error().Err(err).
			Str(log.FieldEvent, "routing.failed").
			Str(log.FieldLegID, r.Target.LegID).
			Int(log.FieldStep, eff.Step).
			Msg("routing update failed")
		return err
	}
	metrics.RecordRoutingUpdate("success")
	logger.Info().
		Str(log.FieldEvent, "routing.applied").
		Str(log.FieldLegID, r.Target.LegID).
		Int(log.FieldStep, eff.Step).
		Strs("can_speak", r.SpeakTo).
		Strs("can_hear", r.HearFrom).
		Msg("routing applied")
	return nil
}

func (o *Orchestrator) teardown(ctx context.Context, eff lifecycle.Effect) error {
	logger := log.WithComponentFromContext(ctx, "orchestrator")

	if eff.Peer.LegID != "" {
		st, err := o.Legs.Status(ctx, eff.Peer.LegID)
		switch {
		case err != nil:
			logger.Warn().Err(err).
				Str(log.FieldEvent, "teardown.peer.unknown").
				Str(log.FieldLegID, eff.Peer.LegID).
				Msg("peer status query failed; tearing down")
		case !st.IsTerminal():
			logger.Info().
				Str(log.FieldEvent, "teardown.deferred").
				Str(log.FieldLegRole, string(eff.Peer.Role)).
				Str(log.FieldLegStatus, string(st)).
				Msg("peer leg still up; its own hangup ends the bridge")
			return nil
		}
	}

	logger = log.Derive(ctx, "orchestrator", func(c zerolog.Context) zerolog.Context {
		for _, target := range eff.Targets {
			c = c.Str("target_"+string(target.Role), target.LegID)
		}
		return c
	})
	logger.Info().
		Str(log.FieldEvent, "teardown.started").
		Int("targets", len(eff.Targets)).
		Msg("hanging up remaining legs")

	var g errgroup.Group
	for _, target := range eff.Targets {
		g.Go(func() error {
			return o.terminateLeg(ctx, target, true)
		})
	}
	return g.Wait()
}

// terminateLeg hangs up one leg. With checkFirst a status query runs first
// and ended legs are left alone; a failed query still attempts the hangup.
func (o *Orchestrator) terminateLeg(ctx context.Context, t lifecycle.Target, checkFirst bool) error {
	ctx = log.ContextWithLegRole(ctx, string(t.Role))
	logger := log.WithComponentFromContext(ctx, "orchestrator")

	if checkFirst {
		st, err := o.Legs.Status(ctx, t.LegID)
		if err == nil && st.IsTerminal() {
			metrics.RecordLegTermination("skipped")
			return nil
		}
	}
	gone, err := o.Legs.Terminate(ctx, t.LegID)
	switch {
	case err != nil:
		metrics.RecordLegTermination("error")
		logger.Error().Err(err).
			Str(log.FieldEvent, "teardown.hangup.failed").
			Str(log.FieldLegID, t.LegID).
			Msg("hangup failed")
		return err
	case gone:
		metrics.RecordLegTermination("already_ended")
	default:
		metrics.RecordLegTermination("success")
	}
	logger.Info().
		Str(log.FieldEvent, "teardown.hangup").
		Str(log.FieldLegID, t.LegID).
		Bool("already_ended", gone).
		Msg("leg hung up")
	return nil
}

func (o *Orchestrator) scheduleEviction(ctx context.Context, sessionID string) {
	if o.Evictions.Schedule(sessionID) {
		logger := log.WithComponentFromContext(ctx, "orchestrator")
		logger.Info().
			Str(log.FieldEvent, "session.evict.scheduled").
			Dur("grace", o.Evictions.Grace()).
			Msg("session eviction scheduled")
	}
}
