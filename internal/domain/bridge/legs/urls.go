// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package legs

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ManuGH/pstnbridge/internal/domain/bridge/model"
)

// Query parameter names carried through every callback URL.
const (
	ParamUUID         = "uuid"
	ParamOriginalUUID = "original_uuid"
	ParamPhoneAUUID   = "pstn1_uuid"
	ParamMediaBUUID   = "ws2_uuid"
	ParamCallee1      = "callee1"
	ParamCallee2      = "callee2"
	ParamAttribute1   = "attribute1"
	ParamAttribute2   = "attribute2"
)

// Params are the values round-tripped through a leg's callback URLs.
type Params struct {
	SessionID string
	PhoneAID  string
	MediaBID  string
	Context   model.CallContext
}

// ParamsFor collects the round-trip values known in s.
func ParamsFor(s *model.Session) Params {
	return Params{
		SessionID: s.SessionID,
		PhoneAID:  s.Legs.PhoneA,
		MediaBID:  s.Legs.MediaB,
		Context:   s.Context,
	}
}

// AnswerPath is the route the platform requests when role connects.
func AnswerPath(role model.LegRole) string {
	return fmt.Sprintf("/leg%d/answer", role.Ordinal())
}

// EventPath is the route the platform posts role's lifecycle events to.
func EventPath(role model.LegRole) string {
	return fmt.Sprintf("/leg%d/event", role.Ordinal())
}

// URLBuilder renders callback URLs against the public base of this service.
type URLBuilder struct {
	base string
}

// NewURLBuilder accepts either a bare host ("bridge.example.com") or a full
// base URL; bare hosts are served over https.
func NewURLBuilder(base string) URLBuilder {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base != "" && !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return URLBuilder{base: base}
}

// Base returns the normalized base URL.
func (b URLBuilder) Base() string { return b.base }

// AnswerURL returns the answer callback for role.
func (b URLBuilder) AnswerURL(role model.LegRole, p Params) string {
	return b.render(AnswerPath(role), role, p)
}

// EventURL returns the lifecycle callback for role.
func (b URLBuilder) EventURL(role model.LegRole, p Params) string {
	return b.render(EventPath(role), role, p)
}

func (b URLBuilder) render(path string, role model.LegRole, p Params) string {
	q := url.Values{}
	// leg 1's own id is appended by the platform as "uuid"
	if role.Ordinal() >= 2 {
		q.Set(ParamOriginalUUID, p.SessionID)
	}
	if role.Ordinal() >= 3 && p.PhoneAID != "" {
		q.Set(ParamPhoneAUUID, p.PhoneAID)
	}
	if role == model.LegPhoneB && p.MediaBID != "" {
		q.Set(ParamMediaBUUID, p.MediaBID)
	}
	setIf(q, ParamCallee1, p.Context.Callee1)
	setIf(q, ParamCallee2, p.Context.Callee2)
	setIf(q, ParamAttribute1, p.Context.Attribute1)
	setIf(q, ParamAttribute2, p.Context.Attribute2)

	u := b.base + path
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}

func setIf(q url.Values, k, v string) {
	if v != "" {
		q.Set(k, v)
	}
}

// ParseParams reads the round-trip values back from a callback query.
func ParseParams(q url.Values) Params {
	return Params{
		SessionID: q.Get(ParamOriginalUUID),
		PhoneAID:  q.Get(ParamPhoneAUUID),
		MediaBID:  q.Get(ParamMediaBUUID),
		Context: model.CallContext{
			Callee1:    q.Get(ParamCallee1),
			Callee2:    q.Get(ParamCallee2),
			Attribute1: q.Get(ParamAttribute1),
			Attribute2: q.Get(ParamAttribute2),
		},
	}
}

// MediaTargetURI returns the websocket address of the media processor for a media leg.
func MediaTargetURI(processorHost string, role model.LegRole, cc model.CallContext) string {
	participant := "participant1"
	if role == model.LegMediaB {
		participant = "participant2"
	}
	q := url.Values{}
	q.Set("participant", participant)
	q.Set(ParamAttribute1, cc.Attribute1)
	q.Set(ParamAttribute2, cc.Attribute2)
	host := strings.TrimRight(strings.TrimPrefix(strings.TrimPrefix(processorHost, "wss://"), "https://"), "/")
	return "wss://" + host + "/socket?" + q.Encode()
}
