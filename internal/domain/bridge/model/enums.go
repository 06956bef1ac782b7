// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import "fmt"

// LegRole identifies one of the four participants of a bridge session.
type LegRole string

const (
	// LegMediaA is the media endpoint of call-leg A (leg 1). Its platform id is the session id.
	LegMediaA LegRole = "media_a"
	// LegPhoneA is the telephone party of call-leg A (leg 2).
	LegPhoneA LegRole = "phone_a"
	// LegMediaB is the media endpoint of call-leg B (leg 3).
	LegMediaB LegRole = "media_b"
	// LegPhoneB is the telephone party of call-leg B (leg 4).
	LegPhoneB LegRole = "phone_b"
)

// AllRoles lists the roles in creation order.
var AllRoles = []LegRole{LegMediaA, LegPhoneA, LegMediaB, LegPhoneB}

// Ordinal returns the leg number (1..4), or 0 for an unknown role.
func (r LegRole) Ordinal() int {
	switch r {
	case LegMediaA:
		return 1
	case LegPhoneA:
		return 2
	case LegMediaB:
		return 3
	case LegPhoneB:
		return 4
	default:
		return 0
	}
}

// IsMedia reports whether the role is a streaming media endpoint.
func (r LegRole) IsMedia() bool { return r == LegMediaA || r == LegMediaB }

// IsPhone reports whether the role is a telephone party.
func (r LegRole) IsPhone() bool { return r == LegPhoneA || r == LegPhoneB }

// Next returns the role created after r, if any.
func (r LegRole) Next() (LegRole, bool) {
	switch r {
	case LegMediaA:
		return LegPhoneA, true
	case LegPhoneA:
		return LegMediaB, true
	case LegMediaB:
		return LegPhoneB, true
	default:
		return "", false
	}
}

// RoleForOrdinal maps a leg number (1..4) to its role.
func RoleForOrdinal(n int) (LegRole, error) {
	if n < 1 || n > len(AllRoles) {
		return "", fmt.Errorf("unknown leg ordinal %d", n)
	}
	return AllRoles[n-1], nil
}

func (r LegRole) String() string { return string(r) }

// BridgeState names the furthest step a session has reached.
type BridgeState string

const (
	StateAwaitingLeg1Ready BridgeState = "AWAITING_LEG1_READY"
	StateLeg1Joined        BridgeState = "LEG1_JOINED"
	StateLeg2Requested     BridgeState = "LEG2_REQUESTED"
	StateLeg2Joined        BridgeState = "LEG2_JOINED"
	StateLeg3Requested     BridgeState = "LEG3_REQUESTED"
	StateLeg3Joined        BridgeState = "LEG3_JOINED"
	StateLeg4Requested     BridgeState = "LEG4_REQUESTED"
	StateLeg4Joined        BridgeState = "LEG4_JOINED"
	StateTearingDown       BridgeState = "TEARING_DOWN"
	StateClosed            BridgeState = "CLOSED"
)

// IsTerminal returns true if no further legs can be created in this state.
func (s BridgeState) IsTerminal() bool {
	return s == StateTearingDown || s == StateClosed
}

// CallStatus is a platform-reported leg status.
type CallStatus string

const (
	StatusStarted    CallStatus = "started"
	StatusRinging    CallStatus = "ringing"
	StatusAnswered   CallStatus = "answered"
	StatusMachine    CallStatus = "machine"
	StatusCompleted  CallStatus = "completed"
	StatusBusy       CallStatus = "busy"
	StatusCancelled  CallStatus = "cancelled"
	StatusFailed     CallStatus = "failed"
	StatusRejected   CallStatus = "rejected"
	StatusTimeout    CallStatus = "timeout"
	StatusUnanswered CallStatus = "unanswered"
)

// IsTerminal reports whether the leg has ended.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusBusy, StatusCancelled, StatusFailed,
		StatusRejected, StatusTimeout, StatusUnanswered:
		return true
	}
	return false
}

// IsActive reports whether the leg is reaching or holding a connection.
func (s CallStatus) IsActive() bool {
	return s == StatusRinging || s == StatusAnswered
}
