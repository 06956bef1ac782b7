// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"errors"
	"fmt"
)

var (
	// ErrLegAlreadySet is returned when a different id is offered for an already recorded leg.
	ErrLegAlreadySet = errors.New("leg id already set")
	// ErrLegNotRequested is returned when an id is offered for a leg whose creation was never requested.
	ErrLegNotRequested = errors.New("leg not requested")
	// ErrUnknownRole is returned for roles outside the four bridge legs.
	ErrUnknownRole = errors.New("unknown leg role")
)

// RoleFlags holds one boolean per bridge leg.
type RoleFlags struct {
	MediaA bool `json:"media_a,omitempty"`
	PhoneA bool `json:"phone_a,omitempty"`
	MediaB bool `json:"media_b,omitempty"`
	PhoneB bool `json:"phone_b,omitempty"`
}

func (f *RoleFlags) slot(r LegRole) *bool {
	switch r {
	case LegMediaA:
		return &f.MediaA
	case LegPhoneA:
		return &f.PhoneA
	case LegMediaB:
		return &f.MediaB
	case LegPhoneB:
		return &f.PhoneB
	}
	return nil
}

// Get reports the flag for role r.
func (f RoleFlags) Get(r LegRole) bool {
	p := f.slot(r)
	return p != nil && *p
}

// Set raises the flag for role r and reports whether it was previously false.
func (f *RoleFlags) Set(r LegRole) bool {
	p := f.slot(r)
	if p == nil || *p {
		return false
	}
	*p = true
	return true
}

// Clear lowers the flag for role r. Only retry markers are ever cleared.
func (f *RoleFlags) Clear(r LegRole) {
	if p := f.slot(r); p != nil {
		*p = false
	}
}

// LegIDs holds the platform ids of the four legs. Empty means unknown.
type LegIDs struct {
	MediaA string `json:"media_a,omitempty"`
	PhoneA string `json:"phone_a,omitempty"`
	MediaB string `json:"media_b,omitempty"`
	PhoneB string `json:"phone_b,omitempty"`
}

// Get returns the id recorded for role r.
func (l LegIDs) Get(r LegRole) string {
	switch r {
	case LegMediaA:
		return l.MediaA
	case LegPhoneA:
		return l.PhoneA
	case LegMediaB:
		return l.MediaB
	case LegPhoneB:
		return l.PhoneB
	}
	return ""
}

// RoleOf returns the role whose recorded id equals id.
func (l LegIDs) RoleOf(id string) (LegRole, bool) {
	if id == "" {
		return "", false
	}
	for _, r := range AllRoles {
		if l.Get(r) == id {
			return r, true
		}
	}
	return "", false
}

// CallContext is the caller-supplied context carried through every callback.
type CallContext struct {
	Callee1    string `json:"callee1,omitempty"`
	Callee2    string `json:"callee2,omitempty"`
	Attribute1 string `json:"attribute1,omitempty"`
	Attribute2 string `json:"attribute2,omitempty"`
}

// Session is the persisted state of one bridge. The session id equals the
// platform id of the first media leg.
type Session struct {
	SessionID       string      `json:"session_id"`
	Legs            LegIDs      `json:"legs"`
	Requested       RoleFlags   `json:"requested"`
	Joined          RoleFlags   `json:"joined"`
	Terminated      RoleFlags   `json:"terminated"`
	CreateFailed    RoleFlags   `json:"create_failed"`
	TeardownStarted bool        `json:"teardown_started,omitempty"`
	Context         CallContext `json:"context"`
	CreatedAtUnix   int64       `json:"created_at_unix"`
	UpdatedAtUnix   int64       `json:"updated_at_unix"`
}

// NewSession returns a session whose first media leg is already recorded.
func NewSession(sessionID string, cc CallContext, nowUnix int64) *Session {
	s := &Session{
		SessionID:     sessionID,
		Context:       cc,
		CreatedAtUnix: nowUnix,
		UpdatedAtUnix: nowUnix,
	}
	s.Requested.MediaA = true
	s.Legs.MediaA = sessionID
	return s
}

// Clone returns a deep copy. Session has no reference fields, so a value copy suffices.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// ConferenceName is the name of the conversation all four legs join.
func (s *Session) ConferenceName() string {
	return ConferenceName(s.SessionID)
}

// ConferenceName derives the conference name from a session id.
func ConferenceName(sessionID string) string {
	return "conf_" + sessionID
}

// LegID returns the recorded id for role r.
func (s *Session) LegID(r LegRole) string { return s.Legs.Get(r) }

// SetLegID records the id of role r. It is write-once: offering the same id
// again is a no-op, a different id returns ErrLegAlreadySet.
func (s *Session) SetLegID(r LegRole, id string) error {
	if id == "" {
		return fmt.Errorf("set %s: empty leg id", r)
	}
	if r.Ordinal() == 0 {
		return fmt.Errorf("set %s: %w", r, ErrUnknownRole)
	}
	if !s.Requested.Get(r) {
		return fmt.Errorf("set %s: %w", r, ErrLegNotRequested)
	}
	var slot *string
	switch r {
	case LegMediaA:
		slot = &s.Legs.MediaA
	case LegPhoneA:
		slot = &s.Legs.PhoneA
	case LegMediaB:
		slot = &s.Legs.MediaB
	case LegPhoneB:
		slot = &s.Legs.PhoneB
	}
	switch *slot {
	case "":
		*slot = id
		return nil
	case id:
		return nil
	default:
		return fmt.Errorf("set %s to %q (have %q): %w", r, id, *slot, ErrLegAlreadySet)
	}
}

// State derives the furthest step reached from the recorded flags.
func (s *Session) State() BridgeState {
	if s.TeardownStarted {
		if s.allRecordedTerminated() {
			return StateClosed
		}
		return StateTearingDown
	}
	switch {
	case s.Joined.PhoneB:
		return StateLeg4Joined
	case s.Requested.PhoneB:
		return StateLeg4Requested
	case s.Joined.MediaB:
		return StateLeg3Joined
	case s.Requested.MediaB:
		return StateLeg3Requested
	case s.Joined.PhoneA:
		return StateLeg2Joined
	case s.Requested.PhoneA:
		return StateLeg2Requested
	case s.Joined.MediaA:
		return StateLeg1Joined
	default:
		return StateAwaitingLeg1Ready
	}
}

func (s *Session) allRecordedTerminated() bool {
	for _, r := range AllRoles {
		if s.LegID(r) != "" && !s.Terminated.Get(r) {
			return false
		}
	}
	return true
}

// Validate asserts the structural invariants of a session.
func (s *Session) Validate() error {
	if s.SessionID == "" {
		return errors.New("session id is empty")
	}
	if s.Legs.MediaA != s.SessionID {
		return fmt.Errorf("media_a leg %q does not match session id %q", s.Legs.MediaA, s.SessionID)
	}
	for _, r := range AllRoles[1:] {
		if s.LegID(r) != "" && !s.Requested.Get(r) {
			return fmt.Errorf("%s recorded without request: %w", r, ErrLegNotRequested)
		}
	}
	// creation is strictly sequential
	for i := 2; i < len(AllRoles); i++ {
		if s.Requested.Get(AllRoles[i]) && !s.Requested.Get(AllRoles[i-1]) {
			return fmt.Errorf("%s requested before %s", AllRoles[i], AllRoles[i-1])
		}
	}
	return nil
}
