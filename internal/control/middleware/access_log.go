// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ManuGH/pstnbridge/internal/log"
)

// AccessLog writes one entry per request. Query strings are left out
// because they carry phone numbers.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		logger := log.WithTraceContext(r.Context()).With().Str(log.FieldComponent, "http").Logger()
		ev := logger.Info()
		if status >= http.StatusInternalServerError {
			ev = logger.Warn()
		}
		ev.Str(log.FieldEvent, "http.request").
			Str("method", r.Method).
			Str(log.FieldPath, r.URL.Path).
			Str("route", routeLabel(r)).
			Int(log.FieldStatus, status).
			Int("bytes", ww.BytesWritten()).
			Int64(log.FieldDurationMS, time.Since(start).Milliseconds()).
			Str("remote_addr", r.RemoteAddr).
			Msg("request served")
	})
}
