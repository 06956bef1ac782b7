// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

// Action is one NCCO instruction.
type Action interface {
	ActionName() string
}

// Directive is an ordered NCCO document served to, or transferred onto, a leg.
type Directive []Action

// ConversationAction joins a leg into a named conference with explicit audio routing.
type ConversationAction struct {
	Action       string   `json:"action"`
	Name         string   `json:"name"`
	CanSpeak     []string `json:"canSpeak"`
	CanHear      []string `json:"canHear"`
	StartOnEnter bool     `json:"startOnEnter"`
	EndOnExit    bool     `json:"endOnExit,omitempty"`
}

func (ConversationAction) ActionName() string { return "conversation" }

// TalkAction speaks a text message to the leg.
type TalkAction struct {
	Action   string `json:"action"`
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
	Style    int    `json:"style,omitempty"`
}

func (TalkAction) ActionName() string { return "talk" }

const (
	RejectionText     = "This number does not accept incoming calls."
	RejectionLanguage = "en-US"
	RejectionStyle    = 11
)

// RejectionDirective answers unsolicited inbound calls.
func RejectionDirective() Directive {
	return Directive{TalkAction{
		Action:   "talk",
		Text:     RejectionText,
		Language: RejectionLanguage,
		Style:    RejectionStyle,
	}}
}

// Conversation returns the conversation action of d, if present.
func (d Directive) Conversation() (ConversationAction, bool) {
	for _, a := range d {
		if c, ok := a.(ConversationAction); ok {
			return c, true
		}
	}
	return ConversationAction{}, false
}

// References returns every leg id named in the routing sets of d.
func (d Directive) References() []string {
	var out []string
	for _, a := range d {
		if c, ok := a.(ConversationAction); ok {
			out = append(out, c.CanSpeak...)
			out = append(out, c.CanHear...)
		}
	}
	return out
}
