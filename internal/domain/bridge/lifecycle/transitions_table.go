// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package lifecycle

import "github.com/ManuGH/pstnbridge/internal/domain/bridge/model"

// Routing is an audio routing expressed in roles; it is resolved to leg ids
// against the session at the moment it is applied.
type Routing struct {
	SpeakTo   []model.LegRole
	HearFrom  []model.LegRole
	EndOnExit bool
}

// RouteUpdate re-routes an already connected leg.
type RouteUpdate struct {
	Target      model.LegRole
	Routing     Routing
	SkipIfEnded bool
}

// TeardownPolicy selects how a terminal event cascades.
type TeardownPolicy int

const (
	TeardownNone TeardownPolicy = iota
	// TeardownCascade terminates every target still up.
	TeardownCascade
	// TeardownIfPeerEnded terminates the targets only once the peer leg has ended.
	TeardownIfPeerEnded
)

// Transition is a single row of the bridge state machine.
type Transition struct {
	Role  model.LegRole
	Event EventKind
	Step  int
	Name  string

	// Answer is the routing served to the leg on its ready callback.
	Answer *Routing
	// Creates is the leg requested by this transition, guarded by its Requested flag.
	Creates model.LegRole
	Routes  []RouteUpdate

	Teardown TeardownPolicy
	Peer     model.LegRole
	Targets  []model.LegRole
	// StartsTeardown marks the session as tearing down and schedules eviction.
	StartsTeardown bool
}

var (
	routingReady1 = Routing{}
	routingReady2 = Routing{SpeakTo: []model.LegRole{model.LegMediaA}}
	routingReady3 = Routing{SpeakTo: []model.LegRole{model.LegPhoneA}}
	routingReady4 = Routing{
		SpeakTo:   []model.LegRole{model.LegMediaB},
		HearFrom:  []model.LegRole{model.LegMediaA},
		EndOnExit: true,
	}
)

var transitionsTable = []Transition{
	// Join path
	{Role: model.LegMediaA, Event: EvReady, Step: 1, Name: "join_media_a", Answer: &routingReady1},
	{Role: model.LegMediaA, Event: EvProceed, Step: 2, Name: "create_phone_a", Creates: model.LegPhoneA},
	{Role: model.LegPhoneA, Event: EvReady, Step: 3, Name: "join_phone_a", Answer: &routingReady2},
	{
		Role: model.LegPhoneA, Event: EvProceed, Step: 4, Name: "create_media_b",
		Creates: model.LegMediaB,
		Routes: []RouteUpdate{{
			Target:  model.LegMediaA,
			Routing: Routing{HearFrom: []model.LegRole{model.LegPhoneA}},
		}},
	},
	{Role: model.LegMediaB, Event: EvReady, Step: 5, Name: "join_media_b", Answer: &routingReady3},
	{
		Role: model.LegMediaB, Event: EvProceed, Step: 6, Name: "create_phone_b",
		Creates: model.LegPhoneB,
		Routes: []RouteUpdate{{
			Target: model.LegPhoneA,
			Routing: Routing{
				SpeakTo:   []model.LegRole{model.LegMediaA},
				HearFrom:  []model.LegRole{model.LegMediaB},
				EndOnExit: true,
			},
		}},
	},
	{Role: model.LegPhoneB, Event: EvReady, Step: 7, Name: "join_phone_b", Answer: &routingReady4},
	{
		Role: model.LegPhoneB, Event: EvProceed, Step: 8, Name: "finalize_routing",
		Routes: []RouteUpdate{
			{
				Target: model.LegMediaA,
				Routing: Routing{
					SpeakTo:  []model.LegRole{model.LegPhoneB},
					HearFrom: []model.LegRole{model.LegPhoneA},
				},
				SkipIfEnded: true,
			},
			{
				Target: model.LegMediaB,
				Routing: Routing{
					SpeakTo:  []model.LegRole{model.LegPhoneA},
					HearFrom: []model.LegRole{model.LegPhoneB},
				},
				SkipIfEnded: true,
			},
		},
	},

	// Teardown path
	{Role: model.LegMediaA, Event: EvTerminal, Step: 9, Name: "media_a_ended"},
	{Role: model.LegMediaB, Event: EvTerminal, Step: 9, Name: "media_b_ended"},
	{
		Role: model.LegPhoneA, Event: EvTerminal, Step: 9, Name: "phone_a_ended",
		Teardown:       TeardownCascade,
		Targets:        []model.LegRole{model.LegMediaA, model.LegMediaB, model.LegPhoneB},
		StartsTeardown: true,
	},
	{
		Role: model.LegPhoneB, Event: EvTerminal, Step: 9, Name: "phone_b_ended",
		Teardown:       TeardownIfPeerEnded,
		Peer:           model.LegPhoneA,
		Targets:        []model.LegRole{model.LegMediaA, model.LegMediaB},
		StartsTeardown: true,
	},
	// A late answer on the second phone leg after the first one hung up.
	{
		Role: model.LegPhoneB, Event: EvActive, Step: 9, Name: "phone_b_orphaned",
		Teardown: TeardownIfPeerEnded,
		Peer:     model.LegPhoneA,
		Targets:  []model.LegRole{model.LegPhoneB, model.LegMediaB},
	},
}

// TransitionFor returns the row for a given role+event.
func TransitionFor(role model.LegRole, ev EventKind) (Transition, bool) {
	for _, tr := range transitionsTable {
		if tr.Role == role && tr.Event == ev {
			return tr, true
		}
	}
	return Transition{}, false
}

// Transitions returns a copy of the table.
func Transitions() []Transition {
	out := make([]Transition, len(transitionsTable))
	copy(out, transitionsTable)
	return out
}
