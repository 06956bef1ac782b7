// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/pstnbridge/internal/control/middleware"
	"github.com/ManuGH/pstnbridge/internal/domain/bridge/legs"
	"github.com/ManuGH/pstnbridge/internal/domain/bridge/model"
	"github.com/ManuGH/pstnbridge/internal/health"
)

// RouterOptions selects the optional surfaces of the router.
type RouterOptions struct {
	Stack middleware.StackConfig
	// StartRateLimit caps /startcall per client and minute. 0 disables it.
	StartRateLimit int
	Health         *health.Manager
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// Debug mounts /debug/sessions.
	Debug bool
}

// NewRouter mounts every bridge route on a chi router.
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	r := middleware.NewRouter(opts.Stack)

	r.With(middleware.RateLimit(middleware.RateLimitConfig{
		RequestLimit: opts.StartRateLimit,
		WindowSize:   time.Minute,
	})).Get("/startcall", h.StartCall)

	for _, role := range model.AllRoles {
		r.Get(legs.AnswerPath(role), h.Answer(role))
		r.Post(legs.EventPath(role), h.Event(role))
	}

	r.Get("/answer", h.FallbackAnswer)
	r.Post("/event", h.Ack)
	r.Post("/analytics", h.Ack)
	r.Get("/_/health", h.Ack)

	if opts.Health != nil {
		r.Get("/healthz", opts.Health.ServeHealth)
		r.Get("/readyz", opts.Health.ServeReady)
	}
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	if opts.Debug {
		r.Route("/debug", func(dr chi.Router) {
			dr.Get("/sessions", h.Sessions)
		})
	}
	return r
}
