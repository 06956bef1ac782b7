// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/ManuGH/pstnbridge/internal/domain/bridge/legs"
	"github.com/ManuGH/pstnbridge/internal/domain/bridge/model"
	"github.com/ManuGH/pstnbridge/internal/log"
)

// HeaderRequestID carries the request correlation id in both directions.
const HeaderRequestID = "X-Request-ID"

const maxRequestIDLen = 128

// RequestID adds a unique ID to every request. Platform callbacks are also
// tagged with the bridge session they belong to.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(HeaderRequestID)
		if !validID(reqID) {
			reqID = uuid.New().String()
		}
		w.Header().Set(HeaderRequestID, reqID)
		ctx := log.ContextWithRequestID(r.Context(), reqID)
		if sid := callbackSession(r); validID(sid) {
			ctx = log.ContextWithSessionID(ctx, sid)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// callbackSession returns the session id round-tripped in a callback URL.
// The first media leg's answer carries it as the platform-appended uuid.
func callbackSession(r *http.Request) string {
	q := r.URL.Query()
	if id := q.Get(legs.ParamOriginalUUID); id != "" {
		return id
	}
	if r.URL.Path == legs.AnswerPath(model.LegMediaA) {
		return q.Get(legs.ParamUUID)
	}
	return ""
}

// validID accepts printable ASCII without spaces, so ids stay safe to log.
func validID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] <= ' ' || id[i] > '~' {
			return false
		}
	}
	return true
}
