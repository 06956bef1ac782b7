// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package manager

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/pstnbridge/internal/domain/bridge/legs"
	"github.com/ManuGH/pstnbridge/internal/domain/bridge/lifecycle"
	"github.com/ManuGH/pstnbridge/internal/domain/bridge/model"
	"github.com/ManuGH/pstnbridge/internal/domain/bridge/store"
	"github.com/ManuGH/pstnbridge/internal/log"
	"github.com/ManuGH/pstnbridge/internal/vonage"
)

func TestFullBridgeSequence(t *testing.T) {
	h := newHarness(t, time.Hour)

	id := h.start()
	require.Len(t, h.fp.Calls(), 1)
	assert.Equal(t, model.StateAwaitingLeg1Ready, h.session(id).State())

	// step 1
	conv := h.answer(model.LegMediaA, id)
	assert.Equal(t, "conf_"+id, conv.Name)
	assert.Empty(t, conv.CanSpeak)
	assert.Empty(t, conv.CanHear)
	assert.True(t, conv.StartOnEnter)

	// step 2
	h.proceed(model.LegMediaA, id)
	p1 := h.session(id).Legs.PhoneA
	require.NotEmpty(t, p1)
	assert.Equal(t, 1, h.fp.CountByAnswerPath("/leg2/answer"))

	// step 3
	conv = h.answer(model.LegPhoneA, p1)
	assert.Equal(t, []string{id}, conv.CanSpeak)
	assert.Empty(t, conv.CanHear)

	// step 4
	h.proceed(model.LegPhoneA, p1)
	ws2 := h.session(id).Legs.MediaB
	require.NotEmpty(t, ws2)
	conv = lastDirective(t, h.fp.TransfersTo(id))
	assert.Empty(t, conv.CanSpeak)
	assert.Equal(t, []string{p1}, conv.CanHear)

	// step 5
	conv = h.answer(model.LegMediaB, ws2)
	assert.Equal(t, []string{p1}, conv.CanSpeak)

	// step 6
	h.proceed(model.LegMediaB, ws2)
	p2 := h.session(id).Legs.PhoneB
	require.NotEmpty(t, p2)
	conv = lastDirective(t, h.fp.TransfersTo(p1))
	assert.Equal(t, []string{id}, conv.CanSpeak)
	assert.Equal(t, []string{ws2}, conv.CanHear)
	assert.True(t, conv.EndOnExit)

	// step 7
	conv = h.answer(model.LegPhoneB, p2)
	assert.Equal(t, []string{ws2}, conv.CanSpeak)
	assert.Equal(t, []string{id}, conv.CanHear)
	assert.True(t, conv.EndOnExit)

	// step 8
	h.proceed(model.LegPhoneB, p2)
	conv = lastDirective(t, h.fp.TransfersTo(id))
	assert.Equal(t, []string{p2}, conv.CanSpeak)
	assert.Equal(t, []string{p1}, conv.CanHear)
	conv = lastDirective(t, h.fp.TransfersTo(ws2))
	assert.Equal(t, []string{p1}, conv.CanSpeak)
	assert.Equal(t, []string{p2}, conv.CanHear)
	assert.False(t, conv.EndOnExit)

	assert.Equal(t, model.StateLeg4Joined, h.session(id).State())
	assert.Len(t, h.fp.Calls(), 4)
	assert.Empty(t, h.fp.Hangups())
}

func TestDuplicateProceedCreatesOnce(t *testing.T) {
	h := newHarness(t, time.Hour)
	id := h.start()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cb := Callback{LegID: id, Type: lifecycle.ProceedType}
			assert.NoError(t, h.o.HandleEvent(context.Background(), model.LegMediaA, cb))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.fp.CountByAnswerPath("/leg2/answer"))
	h.proceed(model.LegMediaA, id)
	assert.Equal(t, 1, h.fp.CountByAnswerPath("/leg2/answer"))
}

func TestFailedCreateIsRetriedByRepeatedTrigger(t *testing.T) {
	h := newHarness(t, time.Hour)
	id := h.start()

	h.fp.FailCreates(1, nil)
	err := h.o.HandleEvent(context.Background(), model.LegMediaA, Callback{LegID: id, Type: lifecycle.ProceedType})
	require.ErrorIs(t, err, legs.ErrRequestFailed)

	s := h.session(id)
	assert.True(t, s.Requested.PhoneA)
	assert.True(t, s.CreateFailed.PhoneA)
	assert.Empty(t, s.Legs.PhoneA)

	h.proceed(model.LegMediaA, id)
	s = h.session(id)
	assert.NotEmpty(t, s.Legs.PhoneA)
	assert.False(t, s.CreateFailed.PhoneA)
	assert.Equal(t, 1, h.fp.CountByAnswerPath("/leg2/answer"))
}

func TestFinalRoutingSkipsEndedMediaLeg(t *testing.T) {
	h := newHarness(t, time.Hour)
	id := h.start()
	h.proceed(model.LegMediaA, id)
	p1 := h.session(id).Legs.PhoneA
	h.proceed(model.LegPhoneA, p1)
	ws2 := h.session(id).Legs.MediaB
	h.proceed(model.LegMediaB, ws2)
	p2 := h.session(id).Legs.PhoneB

	h.fp.SetStatus(ws2, string(model.StatusCompleted))
	before := len(h.fp.TransfersTo(id))
	h.proceed(model.LegPhoneB, p2)

	assert.Empty(t, h.fp.TransfersTo(ws2))
	assert.Len(t, h.fp.TransfersTo(id), before+1)
}

func TestFinalRoutingAppliesWhenStatusQueryFails(t *testing.T) {
	h := newHarness(t, time.Hour)
	id := h.start()
	h.proceed(model.LegMediaA, id)
	p1 := h.session(id).Legs.PhoneA
	h.proceed(model.LegPhoneA, p1)
	ws2 := h.session(id).Legs.MediaB
	h.proceed(model.LegMediaB, ws2)
	p2 := h.session(id).Legs.PhoneB

	h.fp.FailGet(ws2, &vonage.APIError{Sentinel: vonage.ErrUpstreamUnavailable})
	h.proceed(model.LegPhoneB, p2)
	assert.Len(t, h.fp.TransfersTo(ws2), 1)
}

func TestPhoneATerminalCascades(t *testing.T) {
	h := newHarness(t, time.Hour)
	legIDs := h.bridged()

	h.fp.SetStatus(legIDs.PhoneA, string(model.StatusCompleted))
	h.event(model.LegPhoneA, legIDs.PhoneA, "", "completed")

	for _, id := range []string{legIDs.MediaA, legIDs.MediaB, legIDs.PhoneB} {
		assert.True(t, h.fp.HungUp(id), "leg %s must be hung up", id)
	}
	assert.False(t, h.fp.HungUp(legIDs.PhoneA))

	s := h.session(legIDs.MediaA)
	assert.True(t, s.TeardownStarted)
	assert.True(t, s.Terminated.PhoneA)
	assert.Equal(t, 1, h.o.Evictions.Pending())

	// repeated terminal is a no-op
	n := len(h.fp.Hangups())
	h.event(model.LegPhoneA, legIDs.PhoneA, "", "completed")
	assert.Len(t, h.fp.Hangups(), n)
}

func TestTeardownLogsTargets(t *testing.T) {
	var buf bytes.Buffer
	log.Configure(log.Config{Output: zerolog.SyncWriter(&buf), Level: "info"})
	t.Cleanup(func() { log.Configure(log.Config{}) })

	h := newHarness(t, time.Hour)
	legIDs := h.bridged()
	h.event(model.LegPhoneA, legIDs.PhoneA, "", "completed")

	var entry map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var e map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		if e[log.FieldEvent] == "teardown.started" {
			entry = e
		}
	}
	require.NotNil(t, entry, "teardown must be logged")
	assert.Equal(t, legIDs.MediaA, entry[log.FieldSessionID])
	assert.Equal(t, legIDs.MediaA, entry["target_"+string(model.LegMediaA)])
	assert.Equal(t, legIDs.MediaB, entry["target_"+string(model.LegMediaB)])
	assert.Equal(t, legIDs.PhoneB, entry["target_"+string(model.LegPhoneB)])
}

func TestCascadeSkipsLegsAlreadyEnded(t *testing.T) {
	h := newHarness(t, time.Hour)
	legIDs := h.bridged()

	h.fp.SetStatus(legIDs.MediaB, string(model.StatusCompleted))
	h.event(model.LegPhoneA, legIDs.PhoneA, "", "completed")

	assert.False(t, h.fp.HungUp(legIDs.MediaB))
	assert.True(t, h.fp.HungUp(legIDs.MediaA))
}

func TestPhoneBTerminalWaitsForPhoneA(t *testing.T) {
	h := newHarness(t, time.Hour)
	legIDs := h.bridged()

	h.event(model.LegPhoneB, legIDs.PhoneB, "", "completed")
	assert.Empty(t, h.fp.Hangups(), "phone A still up, nothing to tear down yet")
	assert.True(t, h.session(legIDs.MediaA).TeardownStarted)

	// phone A's own hangup now finishes the job
	h.event(model.LegPhoneA, legIDs.PhoneA, "", "completed")
	assert.True(t, h.fp.HungUp(legIDs.MediaA))
	assert.True(t, h.fp.HungUp(legIDs.MediaB))
	assert.False(t, h.fp.HungUp(legIDs.PhoneB), "phone B already ended")
}

func TestPhoneBTerminalAfterPhoneAEnded(t *testing.T) {
	h := newHarness(t, time.Hour)
	legIDs := h.bridged()

	h.fp.SetStatus(legIDs.PhoneA, string(model.StatusCompleted))
	h.event(model.LegPhoneB, legIDs.PhoneB, "", "completed")

	assert.True(t, h.fp.HungUp(legIDs.MediaA))
	assert.True(t, h.fp.HungUp(legIDs.MediaB))
}

func TestOrphanedPhoneBIsHungUp(t *testing.T) {
	h := newHarness(t, time.Hour)
	id := h.start()
	h.proceed(model.LegMediaA, id)
	p1 := h.session(id).Legs.PhoneA
	h.proceed(model.LegPhoneA, p1)
	ws2 := h.session(id).Legs.MediaB
	h.proceed(model.LegMediaB, ws2)
	p2 := h.session(id).Legs.PhoneB

	h.fp.SetStatus(p1, string(model.StatusCompleted))
	h.event(model.LegPhoneB, p2, "", "answered")

	assert.True(t, h.fp.HungUp(p2))
	assert.True(t, h.fp.HungUp(ws2))
	assert.False(t, h.fp.HungUp(id))
}

func TestAnsweredPhoneBWithLivePhoneAIsLeftAlone(t *testing.T) {
	h := newHarness(t, time.Hour)
	legIDs := h.bridged()

	h.event(model.LegPhoneB, legIDs.PhoneB, "", "answered")
	assert.Empty(t, h.fp.Hangups())
}

func TestMediaTerminalOnlyRecords(t *testing.T) {
	h := newHarness(t, time.Hour)
	legIDs := h.bridged()

	h.event(model.LegMediaA, legIDs.MediaA, "", "completed")
	assert.Empty(t, h.fp.Hangups())
	s := h.session(legIDs.MediaA)
	assert.True(t, s.Terminated.MediaA)
	assert.False(t, s.TeardownStarted)
}

func TestNoCreationAfterTeardown(t *testing.T) {
	h := newHarness(t, time.Hour)
	id := h.start()
	h.proceed(model.LegMediaA, id)
	p1 := h.session(id).Legs.PhoneA

	h.event(model.LegPhoneA, p1, "", "completed")
	h.proceed(model.LegPhoneA, p1)
	assert.Equal(t, 0, h.fp.CountByAnswerPath("/leg3/answer"))
}

func TestLegCreatedDuringTeardownIsHungUp(t *testing.T) {
	h := newHarness(t, time.Hour)
	id := h.start()
	h.proceed(model.LegMediaA, id)
	p1 := h.session(id).Legs.PhoneA
	h.proceed(model.LegPhoneA, p1)
	ws2 := h.session(id).Legs.MediaB

	h.fp.BeforeCreate = func(req vonage.CreateCallRequest) error {
		if strings.Contains(req.AnswerURL[0], "/leg4/") {
			// phone A hangs up while phone B is being dialled
			cb := Callback{LegID: p1, Status: "completed", Params: legs.Params{SessionID: id}}
			assert.NoError(t, h.o.HandleEvent(context.Background(), model.LegPhoneA, cb))
		}
		return nil
	}
	h.proceed(model.LegMediaB, ws2)

	p2 := h.session(id).Legs.PhoneB
	require.NotEmpty(t, p2)
	assert.True(t, h.fp.HungUp(p2))
}

func TestCallbackAdoptsLegIDBeforeCreateResponse(t *testing.T) {
	h := newHarness(t, time.Hour)
	id := h.start()
	_, err := h.st.Update(context.Background(), id, func(s *model.Session) error {
		s.Requested.Set(model.LegPhoneA)
		return nil
	})
	require.NoError(t, err)

	cb := Callback{LegID: "early-p1", Status: "ringing", Params: legs.Params{SessionID: id}}
	require.NoError(t, h.o.HandleEvent(context.Background(), model.LegPhoneA, cb))
	assert.Equal(t, "early-p1", h.session(id).Legs.PhoneA)

	cb.LegID = "other"
	err = h.o.HandleEvent(context.Background(), model.LegPhoneA, cb)
	require.ErrorIs(t, err, lifecycle.ErrLegIDMismatch)
	assert.Equal(t, "early-p1", h.session(id).Legs.PhoneA)
}

func TestLateCallbackIsIgnored(t *testing.T) {
	h := newHarness(t, time.Hour)
	cb := Callback{LegID: "x", Type: lifecycle.ProceedType, Params: legs.Params{SessionID: "gone"}}
	require.NoError(t, h.o.HandleEvent(context.Background(), model.LegPhoneA, cb))
	assert.Empty(t, h.fp.Calls())

	// only ready and proceed may record a first media leg session
	cb = Callback{LegID: "gone", Status: "completed", Params: legs.Params{Context: testContext}}
	require.NoError(t, h.o.HandleEvent(context.Background(), model.LegMediaA, cb))
	_, err := h.st.Get(context.Background(), "gone")
	require.ErrorIs(t, err, store.ErrNotFound)
}

// earlyCallbacks delivers the first media leg's answer and transfer callbacks
// before its create response reaches the orchestrator.
type earlyCallbacks struct {
	LegController
	h *harness
}

func (e *earlyCallbacks) CreateLeg(ctx context.Context, role model.LegRole, s *model.Session) (string, error) {
	id, err := e.LegController.CreateLeg(ctx, role, s)
	if err != nil || role != model.LegMediaA {
		return id, err
	}
	p := e.h.params(model.LegMediaA)
	if _, err := e.h.o.Answer(ctx, model.LegMediaA, id, p); err != nil {
		return "", err
	}
	cb := Callback{LegID: id, Type: lifecycle.ProceedType, Params: p}
	if err := e.h.o.HandleEvent(ctx, model.LegMediaA, cb); err != nil {
		return "", err
	}
	return id, nil
}

func TestFirstLegCallbacksBeforeCreateResponse(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.o.Legs = &earlyCallbacks{LegController: h.o.Legs, h: h}

	id, err := h.o.Start(context.Background(), testContext)
	require.NoError(t, err)

	s := h.session(id)
	assert.Equal(t, testContext, s.Context)
	assert.True(t, s.Joined.MediaA)
	assert.True(t, s.Requested.PhoneA)
	assert.NotEmpty(t, s.Legs.PhoneA)
	assert.Equal(t, 1, h.fp.CountByAnswerPath(legs.AnswerPath(model.LegPhoneA)))
	assert.Equal(t, 1, h.fp.CountByAnswerPath(legs.AnswerPath(model.LegMediaA)))
}

func TestSessionDeletedElsewhereDisarmsEviction(t *testing.T) {
	h := newHarness(t, time.Hour)
	legIDs := h.bridged()
	h.event(model.LegPhoneA, legIDs.PhoneA, "", "completed")
	require.Equal(t, 1, h.o.Evictions.Pending())

	// another process sharing the store evicted the session
	require.NoError(t, h.st.Delete(context.Background(), legIDs.MediaA))
	h.event(model.LegPhoneB, legIDs.PhoneB, "", "completed")
	assert.Zero(t, h.o.Evictions.Pending())
}

func TestEventWithoutSessionID(t *testing.T) {
	h := newHarness(t, time.Hour)
	err := h.o.HandleEvent(context.Background(), model.LegPhoneB, Callback{LegID: "p2", Status: "completed"})
	require.ErrorIs(t, err, ErrMissingSession)

	// unclassified events are dropped before the session is looked up
	require.NoError(t, h.o.HandleEvent(context.Background(), model.LegPhoneB, Callback{Status: "started"}))
}

func TestAnswerFallsBackToCallbackParams(t *testing.T) {
	h := newHarness(t, time.Hour)
	d, err := h.o.Answer(context.Background(), model.LegPhoneB, "p2", legs.Params{
		SessionID: "ws1", PhoneAID: "p1", MediaBID: "ws2",
	})
	require.NoError(t, err)
	conv, ok := d.Conversation()
	require.True(t, ok)
	assert.Equal(t, "conf_ws1", conv.Name)
	assert.Equal(t, []string{"ws2"}, conv.CanSpeak)
	assert.Equal(t, []string{"ws1"}, conv.CanHear)
	assert.True(t, conv.EndOnExit)

	_, err = h.o.Answer(context.Background(), model.LegPhoneA, "p1", legs.Params{})
	require.ErrorIs(t, err, ErrMissingSession)
	_, err = h.o.Answer(context.Background(), model.LegRole("bogus"), "x", legs.Params{SessionID: "ws1"})
	require.ErrorIs(t, err, model.ErrUnknownRole)
}

func TestStartFailure(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.fp.FailCreates(1, nil)
	_, err := h.o.Start(context.Background(), testContext)
	require.ErrorIs(t, err, legs.ErrRequestFailed)

	list, err := h.st.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestEvictionRemovesSessionAfterGrace(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newHarness(t, 20*time.Millisecond)
	legIDs := h.bridged()
	h.event(model.LegPhoneA, legIDs.PhoneA, "", "completed")

	require.Eventually(t, func() bool {
		_, err := h.st.Get(context.Background(), legIDs.MediaA)
		return errors.Is(err, store.ErrNotFound)
	}, 2*time.Second, 10*time.Millisecond)

	// callbacks after eviction are harmless
	h.event(model.LegPhoneB, legIDs.PhoneB, "", "completed")
	require.NoError(t, h.o.Shutdown(context.Background()))
}

func TestShutdownDrainsAndRefuses(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newHarness(t, time.Hour)
	release := make(chan struct{})
	finished := make(chan struct{})
	require.NoError(t, h.o.Go(context.Background(), "blocker", func(ctx context.Context) {
		<-release
		close(finished)
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, h.o.Shutdown(ctx), "in-flight work must hold up the drain")
	require.ErrorIs(t, h.o.Go(context.Background(), "late", func(context.Context) {}), ErrShuttingDown)

	close(release)
	<-finished
	require.NoError(t, h.o.Shutdown(context.Background()))
}

func TestGoDetachesFromCallerCancellation(t *testing.T) {
	h := newHarness(t, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	require.NoError(t, h.o.Go(ctx, "detached", func(ctx context.Context) {
		done <- ctx.Err()
	}))
	assert.NoError(t, <-done)
}

func TestRecoverReschedulesTornDownSessions(t *testing.T) {
	h := newHarness(t, time.Hour)
	live := model.NewSession("live", testContext, 1)
	dying := model.NewSession("dying", testContext, 1)
	dying.TeardownStarted = true
	require.NoError(t, h.st.Create(context.Background(), live))
	require.NoError(t, h.st.Create(context.Background(), dying))

	n, err := h.o.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, h.o.Evictions.Pending())
}
