// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package legs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/pstnbridge/internal/domain/bridge/model"
	"github.com/ManuGH/pstnbridge/internal/domain/bridge/testkit"
	"github.com/ManuGH/pstnbridge/internal/vonage"
)

var testCfg = Config{
	PublicBaseURL: "bridge.example.com",
	ProcessorHost: "proc.example.com",
	ServiceNumber: "12015550100",
}

func testSession() *model.Session {
	s := model.NewSession("ws1", model.CallContext{
		Callee1: "12995551212", Callee2: "12995551313",
		Attribute1: "en-US", Attribute2: "es-MX",
	}, 1)
	s.Requested.PhoneA = true
	s.Legs.PhoneA = "p1"
	s.Requested.MediaB = true
	s.Legs.MediaB = "ws2"
	return s
}

func TestCreateLegPlacesEachRole(t *testing.T) {
	fp := testkit.NewFakePlatform()
	c := NewController(fp, testCfg)
	s := testSession()

	for _, role := range model.AllRoles {
		id, err := c.CreateLeg(context.Background(), role, s)
		require.NoError(t, err)
		require.NotEmpty(t, id)
	}
	calls := fp.Calls()
	require.Len(t, calls, 4)

	mediaA := calls[0].Request
	assert.Equal(t, vonage.EndpointWebsocket, mediaA.To[0].Type)
	assert.Equal(t, vonage.AudioL16, mediaA.To[0].ContentType)
	assert.Equal(t, "wss://proc.example.com/socket?attribute1=en-US&attribute2=es-MX&participant=participant1", mediaA.To[0].URI)
	assert.Equal(t, "12995551212", mediaA.From.Number)
	assert.Equal(t, "GET", mediaA.AnswerMethod)
	assert.Equal(t, "POST", mediaA.EventMethod)

	phoneA := calls[1].Request
	assert.Equal(t, vonage.EndpointPhone, phoneA.To[0].Type)
	assert.Equal(t, "12995551212", phoneA.To[0].Number)
	assert.Equal(t, testCfg.ServiceNumber, phoneA.From.Number)
	assert.Equal(t, "/leg2/answer", calls[1].AnswerPath())
	assert.Equal(t, "ws1", calls[1].QueryParam(ParamOriginalUUID))

	mediaB := calls[2].Request
	assert.Contains(t, mediaB.To[0].URI, "participant=participant2")
	assert.Equal(t, "12995551313", mediaB.From.Number)
	assert.Equal(t, "p1", calls[2].QueryParam(ParamPhoneAUUID))

	phoneB := calls[3].Request
	assert.Equal(t, "12995551313", phoneB.To[0].Number)
	assert.Equal(t, "ws2", calls[3].QueryParam(ParamMediaBUUID))
	assert.Equal(t, "/leg4/event", mustPath(t, phoneB.EventURL[0]))
}

func TestCreateLegFailureWrapsRequestFailed(t *testing.T) {
	fp := testkit.NewFakePlatform()
	fp.FailCreates(1, nil)
	c := NewController(fp, testCfg)

	_, err := c.CreateLeg(context.Background(), model.LegPhoneA, testSession())
	require.ErrorIs(t, err, ErrRequestFailed)
	require.ErrorIs(t, err, vonage.ErrUpstreamError)
}

func TestCreateLegUnknownRole(t *testing.T) {
	c := NewController(testkit.NewFakePlatform(), testCfg)
	_, err := c.CreateLeg(context.Background(), model.LegRole("x"), testSession())
	require.ErrorIs(t, err, model.ErrUnknownRole)
}

func TestBuildJoinDirective(t *testing.T) {
	d := BuildJoinDirective("conf_ws1", nil, []string{"p1", ""}, true)
	want := model.Directive{model.ConversationAction{
		Action:       "conversation",
		Name:         "conf_ws1",
		CanSpeak:     []string{},
		CanHear:      []string{"p1"},
		StartOnEnter: true,
		EndOnExit:    true,
	}}
	if diff := cmp.Diff(want, d); diff != "" {
		t.Fatalf("directive mismatch (-want +got):\n%s", diff)
	}

	raw, err := json.Marshal(BuildJoinDirective("conf_ws1", nil, nil, false))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"action":"conversation","name":"conf_ws1","canSpeak":[],"canHear":[],"startOnEnter":true}]`, string(raw))
}

func TestApplyDirectiveTreatsGoneLegAsSatisfied(t *testing.T) {
	fp := testkit.NewFakePlatform()
	c := NewController(fp, testCfg)
	d := BuildJoinDirective("conf_ws1", nil, nil, false)

	require.NoError(t, c.ApplyDirective(context.Background(), "missing", d))

	fp.SetStatus("done", string(model.StatusCompleted))
	require.NoError(t, c.ApplyDirective(context.Background(), "done", d))

	fp.SetStatus("up", string(model.StatusAnswered))
	require.NoError(t, c.ApplyDirective(context.Background(), "up", d))
	require.Len(t, fp.TransfersTo("up"), 1)

	fp.FailTransfer("up", &vonage.APIError{Sentinel: vonage.ErrRejected, Status: 400})
	require.ErrorIs(t, c.ApplyDirective(context.Background(), "up", d), ErrRequestFailed)
}

func TestTerminate(t *testing.T) {
	fp := testkit.NewFakePlatform()
	c := NewController(fp, testCfg)
	fp.SetStatus("up", string(model.StatusAnswered))

	gone, err := c.Terminate(context.Background(), "up")
	require.NoError(t, err)
	assert.False(t, gone)

	gone, err = c.Terminate(context.Background(), "up")
	require.NoError(t, err)
	assert.True(t, gone)

	fp.SetStatus("stuck", string(model.StatusAnswered))
	fp.FailHangup("stuck", &vonage.APIError{Sentinel: vonage.ErrUpstreamUnavailable})
	_, err = c.Terminate(context.Background(), "stuck")
	require.ErrorIs(t, err, ErrRequestFailed)
}

func TestStatus(t *testing.T) {
	fp := testkit.NewFakePlatform()
	c := NewController(fp, testCfg)
	fp.SetStatus("up", string(model.StatusRinging))

	st, err := c.Status(context.Background(), "up")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRinging, st)

	st, err = c.Status(context.Background(), "unknown")
	require.NoError(t, err)
	assert.True(t, st.IsTerminal())

	fp.FailGet("up", errors.New("boom"))
	_, err = c.Status(context.Background(), "up")
	require.ErrorIs(t, err, ErrQueryFailed)
}
