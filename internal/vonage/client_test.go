// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package vonage

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts Options) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts.HTTPClient = srv.Client()
	return New(srv.URL, StaticToken("tok"), opts), srv
}

func TestCreateCall(t *testing.T) {
	var got map[string]any
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/calls", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"uuid":"leg-1","status":"started","direction":"outbound","conversation_uuid":"CON-1"}`)
	}, Options{})

	resp, err := c.CreateCall(context.Background(), CreateCallRequest{
		To:           []Endpoint{WebsocketEndpoint("wss://proc.example/socket?participant=participant1")},
		From:         PhoneEndpoint("12015550100"),
		AnswerURL:    []string{"https://bridge.example/leg1/answer"},
		AnswerMethod: http.MethodGet,
		EventURL:     []string{"https://bridge.example/leg1/event"},
		EventMethod:  http.MethodPost,
	})
	require.NoError(t, err)
	assert.Equal(t, "leg-1", resp.UUID)
	assert.Equal(t, "CON-1", resp.ConversationUUID)

	to := got["to"].([]any)[0].(map[string]any)
	assert.Equal(t, "websocket", to["type"])
	assert.Equal(t, AudioL16, to["content-type"])
	assert.Equal(t, "GET", got["answer_method"])
	assert.Equal(t, "POST", got["event_method"])
	from := got["from"].(map[string]any)
	assert.Equal(t, "phone", from["type"])
	assert.Equal(t, "12015550100", from["number"])
}

func TestCreateCallWithoutUUIDIsBadResponse(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"status":"started"}`)
	}, Options{})

	_, err := c.CreateCall(context.Background(), CreateCallRequest{})
	require.ErrorIs(t, err, ErrUpstreamBadResponse)
}

func TestMalformedJSONIsBadResponse(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{not json`)
	}, Options{})

	_, err := c.GetCall(context.Background(), "leg-1")
	require.ErrorIs(t, err, ErrUpstreamBadResponse)
}

func TestGetCall(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/calls/leg-2", r.URL.Path)
		_, _ = io.WriteString(w, `{"uuid":"leg-2","status":"answered","to":{"type":"phone","number":"1555"}}`)
	}, Options{})

	info, err := c.GetCall(context.Background(), "leg-2")
	require.NoError(t, err)
	assert.Equal(t, "answered", info.Status)
	assert.Equal(t, "1555", info.To.Number)
}

func TestHangupAndTransferBodies(t *testing.T) {
	var bodies []map[string]any
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/v1/calls/leg-3", r.URL.Path)
		var b map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&b))
		bodies = append(bodies, b)
		w.WriteHeader(http.StatusNoContent)
	}, Options{})

	ncco := []map[string]any{{"action": "conversation", "name": "conf_x", "canSpeak": []string{"a"}}}
	require.NoError(t, c.Transfer(context.Background(), "leg-3", ncco))
	require.NoError(t, c.Hangup(context.Background(), "leg-3"))
	require.Len(t, bodies, 2)

	assert.Equal(t, "transfer", bodies[0]["action"])
	dest := bodies[0]["destination"].(map[string]any)
	assert.Equal(t, "ncco", dest["type"])
	step := dest["ncco"].([]any)[0].(map[string]any)
	assert.Equal(t, "conf_x", step["name"])

	assert.Equal(t, map[string]any{"action": "hangup"}, bodies[1])
}

func TestStatusClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, "", ErrUnauthorized},
		{"forbidden", http.StatusForbidden, "", ErrUnauthorized},
		{"not found", http.StatusNotFound, `{"title":"Not Found"}`, ErrNotFound},
		{"conflict", http.StatusConflict, "", ErrCallInactive},
		{"gone", http.StatusGone, "", ErrCallInactive},
		{"bad request inactive", http.StatusBadRequest, `{"title":"Bad Request","detail":"Call is not active"}`, ErrCallInactive},
		{"bad request other", http.StatusBadRequest, `{"title":"Bad Request","detail":"invalid ncco"}`, ErrRejected},
		{"unprocessable", http.StatusUnprocessableEntity, "", ErrRejected},
		{"rate limited", http.StatusTooManyRequests, "", ErrRateLimited},
		{"internal", http.StatusInternalServerError, "", ErrUpstreamError},
		{"unavailable", http.StatusServiceUnavailable, "", ErrUpstreamUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}, Options{})

			err := c.Hangup(context.Background(), "leg-1")
			require.ErrorIs(t, err, tc.want)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tc.status, apiErr.Status)
			assert.Equal(t, OpHangup, apiErr.Operation)
		})
	}
}

func TestIsGone(t *testing.T) {
	assert.True(t, IsGone(&APIError{Sentinel: ErrNotFound}))
	assert.True(t, IsGone(&APIError{Sentinel: ErrCallInactive}))
	assert.False(t, IsGone(&APIError{Sentinel: ErrRejected}))
	assert.False(t, IsGone(nil))
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c := New(base, StaticToken("tok"), Options{Timeout: time.Second})
	err := c.Hangup(context.Background(), "leg-1")
	require.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}, Options{BreakerThreshold: 2, BreakerReset: time.Hour})

	for i := 0; i < 2; i++ {
		require.ErrorIs(t, c.Hangup(context.Background(), "leg-1"), ErrUpstreamError)
	}
	assert.Equal(t, StateOpen, c.Breaker().State())

	err := c.Hangup(context.Background(), "leg-1")
	require.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Equal(t, int32(2), hits.Load(), "open circuit must not reach the server")
}

func TestRejectionsDoNotTripBreaker(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, Options{BreakerThreshold: 1, BreakerReset: time.Hour})

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, c.Hangup(context.Background(), "leg-1"), ErrNotFound)
	}
	assert.Equal(t, StateClosed, c.Breaker().State())
}

func TestRateLimitHonoursContext(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}, Options{RequestsPerSecond: 0.001, Burst: 1})

	require.NoError(t, c.Hangup(context.Background(), "leg-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.Hangup(ctx, "leg-1")
	require.ErrorIs(t, err, ErrTimeout)
}

func TestPathEscapesUUID(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/calls/a%2Fb", r.URL.EscapedPath())
		_, _ = io.WriteString(w, `{"uuid":"a/b","status":"completed"}`)
	}, Options{})

	_, err := c.GetCall(context.Background(), "a/b")
	require.NoError(t, err)
}
