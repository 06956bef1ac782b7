// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package http exposes the bridge to the call platform and to operators.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ManuGH/pstnbridge/internal/config"
	"github.com/ManuGH/pstnbridge/internal/domain/bridge/legs"
	"github.com/ManuGH/pstnbridge/internal/domain/bridge/manager"
	"github.com/ManuGH/pstnbridge/internal/domain/bridge/model"
	"github.com/ManuGH/pstnbridge/internal/log"
	"github.com/ManuGH/pstnbridge/internal/vonage"
)

const maxEventBody = 64 << 10

// Bridge is the orchestration surface the handlers drive.
// *manager.Orchestrator implements it.
type Bridge interface {
	Go(ctx context.Context, name string, fn func(ctx context.Context)) error
	Start(ctx context.Context, cc model.CallContext) (string, error)
	Answer(ctx context.Context, role model.LegRole, legID string, p legs.Params) (model.Directive, error)
	HandleEvent(ctx context.Context, role model.LegRole, cb manager.Callback) error
}

var _ Bridge = (*manager.Orchestrator)(nil)

// DefaultsSource supplies the call defaults for start requests.
// *config.Watcher implements it.
type DefaultsSource interface {
	CallDefaults() config.CallDefaults
}

// StaticDefaults serves fixed call defaults.
type StaticDefaults config.CallDefaults

func (s StaticDefaults) CallDefaults() config.CallDefaults { return config.CallDefaults(s) }

// SessionLister lists live sessions for the debug endpoint.
type SessionLister interface {
	List(ctx context.Context) ([]*model.Session, error)
}

// Handler serves the platform webhooks.
type Handler struct {
	bridge   Bridge
	defaults DefaultsSource
	sessions SessionLister
}

func NewHandler(b Bridge, defaults DefaultsSource, sessions SessionLister) *Handler {
	if defaults == nil {
		defaults = StaticDefaults{}
	}
	return &Handler{bridge: b, defaults: defaults, sessions: sessions}
}

func writeOk(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "Ok")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// callContext applies the call defaults to the parameters left out of q.
func callContext(q map[string][]string, d config.CallDefaults) model.CallContext {
	pick := func(key, def string) string {
		if v := q[key]; len(v) > 0 && v[0] != "" {
			return v[0]
		}
		return def
	}
	return model.CallContext{
		Callee1:    pick("pstn1", d.PSTN1),
		Callee2:    pick("pstn2", d.PSTN2),
		Attribute1: pick("param1", d.Param1),
		Attribute2: pick("param2", d.Param2),
	}
}

// StartCall acknowledges first and places the first media leg in the background.
func (h *Handler) StartCall(w http.ResponseWriter, r *http.Request) {
	cc := callContext(r.URL.Query(), h.defaults.CallDefaults())
	logger := log.WithComponentFromContext(r.Context(), "api")

	err := h.bridge.Go(r.Context(), "start", func(ctx context.Context) {
		_, _ = h.bridge.Start(ctx, cc)
	})
	if err != nil {
		logger.Warn().Err(err).Str(log.FieldEvent, "bridge.start.refused").Msg("start request refused")
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}
	logger.Info().
		Str(log.FieldEvent, "bridge.start.accepted").
		Bool("callee1_set", cc.Callee1 != "").
		Bool("callee2_set", cc.Callee2 != "").
		Msg("start request accepted")
	writeOk(w)
}

// Answer serves the ready callback of role with its routing directive.
func (h *Handler) Answer(role model.LegRole) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		legID := q.Get(legs.ParamUUID)
		d, err := h.bridge.Answer(r.Context(), role, legID, legs.ParseParams(q))
		if err != nil {
			logger := log.WithComponentFromContext(r.Context(), "api")
			logger.Warn().Err(err).
				Str(log.FieldEvent, "answer.rejected").
				Str(log.FieldLegRole, string(role)).
				Str(log.FieldLegID, legID).
				Msg("answer callback could not be routed")
			status := http.StatusInternalServerError
			if errors.Is(err, manager.ErrMissingSession) || errors.Is(err, model.ErrUnknownRole) {
				status = http.StatusBadRequest
			}
			http.Error(w, http.StatusText(status), status)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

// Event acknowledges a lifecycle callback of role and processes it in the
// background. Malformed bodies are acknowledged and dropped.
func (h *Handler) Event(role model.LegRole) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.WithComponentFromContext(r.Context(), "api")
		var ev vonage.CallEvent
		if err := json.NewDecoder(io.LimitReader(r.Body, maxEventBody)).Decode(&ev); err != nil {
			logger.Warn().Err(err).
				Str(log.FieldEvent, "event.malformed").
				Str(log.FieldLegRole, string(role)).
				Msg("lifecycle callback body ignored")
			writeOk(w)
			return
		}
		cb := manager.Callback{
			LegID:  ev.UUID,
			Type:   ev.Type,
			Status: ev.Status,
			Params: legs.ParseParams(r.URL.Query()),
		}
		err := h.bridge.Go(r.Context(), "event", func(ctx context.Context) {
			if err := h.bridge.HandleEvent(ctx, role, cb); err != nil {
				l := log.WithComponentFromContext(ctx, "api")
				l.Warn().Err(err).
					Str(log.FieldEvent, "event.failed").
					Str(log.FieldLegRole, string(role)).
					Str(log.FieldLegID, cb.LegID).
					Msg("lifecycle callback failed")
			}
		})
		if err != nil {
			logger.Warn().Err(err).Str(log.FieldEvent, "event.dropped").Msg("lifecycle callback dropped during shutdown")
		}
		writeOk(w)
	}
}

// FallbackAnswer rejects inbound calls to the service number.
func (h *Handler) FallbackAnswer(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, model.RejectionDirective())
}

// Ack answers 200 Ok without looking at the request.
func (h *Handler) Ack(w http.ResponseWriter, _ *http.Request) { writeOk(w) }

// sessionView is the debug rendering of a session.
type sessionView struct {
	SessionID string            `json:"session_id"`
	State     model.BridgeState `json:"state"`
	Legs      model.LegIDs      `json:"legs"`
	Teardown  bool              `json:"teardown_started"`
	Updated   int64             `json:"updated_at_unix"`
}

// Sessions lists live sessions without their call context.
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		http.NotFound(w, r)
		return
	}
	list, err := h.sessions.List(r.Context())
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	out := make([]sessionView, 0, len(list))
	for _, s := range list {
		out = append(out, sessionView{
			SessionID: s.SessionID,
			State:     s.State(),
			Legs:      s.Legs,
			Teardown:  s.TeardownStarted,
			Updated:   s.UpdatedAtUnix,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
