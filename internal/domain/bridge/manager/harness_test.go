// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package manager

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ManuGH/pstnbridge/internal/domain/bridge/legs"
	"github.com/ManuGH/pstnbridge/internal/domain/bridge/lifecycle"
	"github.com/ManuGH/pstnbridge/internal/domain/bridge/model"
	"github.com/ManuGH/pstnbridge/internal/domain/bridge/store"
	"github.com/ManuGH/pstnbridge/internal/domain/bridge/testkit"
)

var testContext = model.CallContext{
	Callee1:    "12995551212",
	Callee2:    "12995551313",
	Attribute1: "en-US",
	Attribute2: "es-MX",
}

type harness struct {
	t  *testing.T
	fp *testkit.FakePlatform
	st *store.MemoryStore
	o  *Orchestrator
}

func newHarness(t *testing.T, grace time.Duration) *harness {
	t.Helper()
	fp := testkit.NewFakePlatform()
	st := store.NewMemoryStore()
	lc := legs.NewController(fp, legs.Config{
		PublicBaseURL: "bridge.test",
		ProcessorHost: "proc.test",
		ServiceNumber: "12015550100",
	})
	o := New(st, lc, Config{EvictionGrace: grace, EffectTimeout: 5 * time.Second})
	t.Cleanup(func() { _ = o.Shutdown(context.Background()) })
	return &harness{t: t, fp: fp, st: st, o: o}
}

func (h *harness) start() string {
	h.t.Helper()
	id, err := h.o.Start(context.Background(), testContext)
	require.NoError(h.t, err)
	return id
}

func (h *harness) session(id string) *model.Session {
	h.t.Helper()
	s, err := h.st.Get(context.Background(), id)
	require.NoError(h.t, err)
	return s
}

// params returns the round-trip values the platform would send back for role.
func (h *harness) params(role model.LegRole) legs.Params {
	h.t.Helper()
	c, ok := h.fp.CallByAnswerPath(legs.AnswerPath(role))
	require.True(h.t, ok, "no call placed for %s", role)
	u, err := url.Parse(c.Request.AnswerURL[0])
	require.NoError(h.t, err)
	return legs.ParseParams(u.Query())
}

func (h *harness) answer(role model.LegRole, legID string) model.ConversationAction {
	h.t.Helper()
	d, err := h.o.Answer(context.Background(), role, legID, h.params(role))
	require.NoError(h.t, err)
	require.Len(h.t, d, 1)
	conv, ok := d.Conversation()
	require.True(h.t, ok)
	return conv
}

func (h *harness) event(role model.LegRole, legID, typ, status string) {
	h.t.Helper()
	cb := Callback{LegID: legID, Type: typ, Status: status, Params: h.params(role)}
	require.NoError(h.t, h.o.HandleEvent(context.Background(), role, cb))
}

func (h *harness) proceed(role model.LegRole, legID string) {
	h.t.Helper()
	h.event(role, legID, lifecycle.ProceedType, "")
}

// bridged runs the join path up to and including step 8 and returns the leg ids.
func (h *harness) bridged() model.LegIDs {
	h.t.Helper()
	id := h.start()
	h.answer(model.LegMediaA, id)
	h.proceed(model.LegMediaA, id)
	p1 := h.session(id).Legs.PhoneA
	h.answer(model.LegPhoneA, p1)
	h.proceed(model.LegPhoneA, p1)
	ws2 := h.session(id).Legs.MediaB
	h.answer(model.LegMediaB, ws2)
	h.proceed(model.LegMediaB, ws2)
	p2 := h.session(id).Legs.PhoneB
	h.answer(model.LegPhoneB, p2)
	h.proceed(model.LegPhoneB, p2)
	return h.session(id).Legs
}

func lastDirective(t *testing.T, transfers []testkit.Transfer) model.ConversationAction {
	t.Helper()
	require.NotEmpty(t, transfers)
	d, ok := transfers[len(transfers)-1].Directive()
	require.True(t, ok)
	conv, ok := d.Conversation()
	require.True(t, ok)
	return conv
}
