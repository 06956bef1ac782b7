// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package lifecycle

import (
	"errors"
	"fmt"

	"github.com/ManuGH/pstnbridge/internal/domain/bridge/model"
)

var (
	ErrUnknownRole   = errors.New("unknown leg role")
	ErrLegIDMismatch = errors.New("callback leg id does not match session")
)

// EffectKind enumerates the side effects a transition asks the orchestrator to run.
type EffectKind string

const (
	EffCreateLeg        EffectKind = "create_leg"
	EffApplyRouting     EffectKind = "apply_routing"
	EffTeardown         EffectKind = "teardown"
	EffScheduleEviction EffectKind = "schedule_eviction"
)

// Target is a leg resolved against the session.
type Target struct {
	Role  model.LegRole
	LegID string
}

// Route is a Routing resolved to leg ids. Unknown peers are dropped.
type Route struct {
	Target    Target
	SpeakTo   []string
	HearFrom  []string
	EndOnExit bool
}

// Effect is one side effect produced by Decide.
type Effect struct {
	Kind EffectKind
	Step int

	// EffCreateLeg
	Create model.LegRole

	// EffApplyRouting
	Route       Route
	SkipIfEnded bool

	// EffTeardown. When Peer.LegID is set the targets are terminated only
	// once the peer reports a final status.
	Targets []Target
	Peer    Target
}

// Outcome describes what Decide did with an event.
type Outcome struct {
	Transition Transition
	Matched    bool
	Applied    bool
	From       model.BridgeState
	To         model.BridgeState

	// Skipped explains a matched transition that had no effect.
	Skipped string

	// AdoptedID is set when the callback revealed a leg id not yet recorded.
	AdoptedID string

	// Retry is set when a previously failed leg creation is requested again.
	Retry bool

	Answer  *Route
	Effects []Effect
}

const (
	SkipDuplicate     = "duplicate"
	SkipTearingDown   = "tearing_down"
	SkipLegEnded      = "leg_ended"
	SkipAlreadyEnded  = "already_ended"
	SkipNoTransition  = "no_transition"
	SkipLegIDConflict = "leg_id_conflict"
)

// Decide applies ev to s in place and returns the effects to execute. It is
// pure: callers run it inside an atomic store update and execute the effects
// after the update committed.
func Decide(s *model.Session, ev Event) (out Outcome, err error) {
	if ev.Role.Ordinal() == 0 {
		return Outcome{}, fmt.Errorf("decide %q: %w", ev.Role, ErrUnknownRole)
	}
	out.From = s.State()
	// every return below reports the state the session ended in
	defer func() { out.To = s.State() }()

	adopted, err := adoptLegID(s, ev)
	if err != nil {
		out.Skipped = SkipLegIDConflict
		return out, err
	}
	out.AdoptedID = adopted

	tr, ok := TransitionFor(ev.Role, ev.Kind)
	if !ok {
		out.Skipped = SkipNoTransition
		return out, nil
	}
	out.Transition = tr
	out.Matched = true

	switch ev.Kind {
	case EvReady:
		s.Joined.Set(ev.Role)
		r := resolve(s, ev.Role, *tr.Answer)
		out.Answer = &r
		out.Applied = true
	case EvProceed:
		decideProceed(s, tr, &out)
	case EvTerminal:
		decideTerminal(s, tr, &out)
	case EvActive:
		decideTeardown(s, tr, &out)
		out.Applied = len(out.Effects) > 0
		if !out.Applied {
			out.Skipped = SkipNoTransition
		}
	}
	return out, nil
}

func decideProceed(s *model.Session, tr Transition, out *Outcome) {
	if s.TeardownStarted {
		out.Skipped = SkipTearingDown
		return
	}
	if s.Terminated.Get(tr.Role) {
		out.Skipped = SkipLegEnded
		return
	}
	if tr.Creates != "" {
		switch {
		case s.Requested.Set(tr.Creates):
		case s.CreateFailed.Get(tr.Creates) && s.LegID(tr.Creates) == "":
			s.CreateFailed.Clear(tr.Creates)
			out.Retry = true
		default:
			out.Skipped = SkipDuplicate
			return
		}
		out.Effects = append(out.Effects, Effect{Kind: EffCreateLeg, Step: tr.Step, Create: tr.Creates})
	}
	for _, ru := range tr.Routes {
		r := resolve(s, ru.Target, ru.Routing)
		if r.Target.LegID == "" {
			continue
		}
		out.Effects = append(out.Effects, Effect{
			Kind:        EffApplyRouting,
			Step:        tr.Step,
			Route:       r,
			SkipIfEnded: ru.SkipIfEnded,
		})
	}
	out.Applied = true
}

func decideTerminal(s *model.Session, tr Transition, out *Outcome) {
	if !s.Terminated.Set(tr.Role) {
		out.Skipped = SkipAlreadyEnded
		return
	}
	out.Applied = true
	decideTeardown(s, tr, out)
	if tr.StartsTeardown && !s.TeardownStarted {
		s.TeardownStarted = true
		out.Effects = append(out.Effects, Effect{Kind: EffScheduleEviction, Step: tr.Step})
	}
}

func decideTeardown(s *model.Session, tr Transition, out *Outcome) {
	if tr.Teardown == TeardownNone {
		return
	}
	var targets []Target
	for _, role := range tr.Targets {
		if id := s.LegID(role); id != "" && !s.Terminated.Get(role) {
			targets = append(targets, Target{Role: role, LegID: id})
		}
	}
	if len(targets) == 0 {
		return
	}
	eff := Effect{Kind: EffTeardown, Step: tr.Step, Targets: targets}
	if tr.Teardown == TeardownIfPeerEnded && !s.Terminated.Get(tr.Peer) {
		peerID := s.LegID(tr.Peer)
		if peerID == "" {
			return
		}
		eff.Peer = Target{Role: tr.Peer, LegID: peerID}
	}
	out.Effects = append(out.Effects, eff)
}

// adoptLegID records the id carried by a lifecycle callback when the create
// response has not been stored yet.
func adoptLegID(s *model.Session, ev Event) (string, error) {
	if ev.LegID == "" || ev.Role == model.LegMediaA {
		return "", nil
	}
	have := s.LegID(ev.Role)
	switch {
	case have == ev.LegID:
		return "", nil
	case have != "":
		return "", fmt.Errorf("%s: got %q, have %q: %w", ev.Role, ev.LegID, have, ErrLegIDMismatch)
	case !s.Requested.Get(ev.Role):
		return "", nil
	}
	if err := s.SetLegID(ev.Role, ev.LegID); err != nil {
		return "", err
	}
	return ev.LegID, nil
}

func resolve(s *model.Session, target model.LegRole, r Routing) Route {
	return Route{
		Target:    Target{Role: target, LegID: s.LegID(target)},
		SpeakTo:   ids(s, r.SpeakTo),
		HearFrom:  ids(s, r.HearFrom),
		EndOnExit: r.EndOnExit,
	}
}

func ids(s *model.Session, roles []model.LegRole) []string {
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		if id := s.LegID(role); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// AnswerRouting resolves the ready routing of role against known leg ids
// without touching any session. It serves answer callbacks whose session is
// no longer stored.
func AnswerRouting(role model.LegRole, legs model.LegIDs) (Route, error) {
	tr, ok := TransitionFor(role, EvReady)
	if !ok || tr.Answer == nil {
		return Route{}, fmt.Errorf("answer %q: %w", role, ErrUnknownRole)
	}
	s := &model.Session{Legs: legs}
	return resolve(s, role, *tr.Answer), nil
}
