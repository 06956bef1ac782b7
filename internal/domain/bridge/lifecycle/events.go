// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lifecycle

import (
	"strings"

	"github.com/ManuGH/pstnbridge/internal/domain/bridge/model"
)

// EventKind is the classified meaning of a platform callback.
type EventKind string

const (
	// EvReady is the answer webhook: the leg is connected and waits for instructions.
	EvReady EventKind = "ready"
	// EvProceed is the lifecycle event emitted when a leg starts bridging its media.
	EvProceed EventKind = "proceed"
	// EvTerminal is a lifecycle event carrying a final status.
	EvTerminal EventKind = "terminal"
	// EvActive is a lifecycle event reporting ringing or answered.
	EvActive EventKind = "active"
	// EvOther covers every lifecycle event with no orchestration meaning.
	EvOther EventKind = "other"
)

// ProceedType is the lifecycle event type that signals a leg has been
// transferred into its conversation and the next step may run.
const ProceedType = "transfer"

// Event is a classified callback addressed to one leg of a session.
type Event struct {
	Role   model.LegRole
	Kind   EventKind
	LegID  string
	Type   string
	Status model.CallStatus
}

// Ready builds the event for an answer webhook.
func Ready(role model.LegRole, legID string) Event {
	return Event{Role: role, Kind: EvReady, LegID: legID}
}

// Classify maps a lifecycle callback to an event. The proceed type wins over
// any status carried alongside it.
func Classify(role model.LegRole, legID, eventType, status string) Event {
	ev := Event{
		Role:   role,
		LegID:  legID,
		Type:   eventType,
		Status: model.CallStatus(strings.ToLower(strings.TrimSpace(status))),
	}
	switch {
	case strings.EqualFold(strings.TrimSpace(eventType), ProceedType):
		ev.Kind = EvProceed
	case ev.Status.IsTerminal():
		ev.Kind = EvTerminal
	case ev.Status.IsActive():
		ev.Kind = EvActive
	default:
		ev.Kind = EvOther
	}
	return ev
}
