// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bridgeStartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pstnbridge_bridge_starts_total",
		Help: "Bridge start requests by result (success|create_failed|store_failed)",
	}, []string{"result"})

	bridgeActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pstnbridge_bridge_active_sessions",
		Help: "Number of bridge sessions currently held in the state store",
	})

	bridgeTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pstnbridge_bridge_transitions_total",
		Help: "Lifecycle callbacks by leg role, event kind and result (applied|skipped reason|error)",
	}, []string{"role", "event", "result"})

	legCreatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pstnbridge_leg_creates_total",
		Help: "Outbound leg creation attempts by role and result",
	}, []string{"role", "result"})

	routingUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pstnbridge_routing_updates_total",
		Help: "Conference routing updates pushed to connected legs by result (success|skipped|error)",
	}, []string{"result"})

	legTerminationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pstnbridge_leg_terminations_total",
		Help: "Leg hangups issued during teardown by result (success|already_ended|skipped|error)",
	}, []string{"result"})

	sessionEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pstnbridge_session_evictions_total",
		Help: "Bridge sessions removed from the state store after teardown",
	})

	callbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pstnbridge_callbacks_total",
		Help: "Platform callbacks received by route kind (answer|event) and leg role",
	}, []string{"kind", "role"})

	upstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pstnbridge_upstream_request_duration_seconds",
		Help:    "Voice API request latency by operation and result",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"operation", "result"})
)

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

// RecordBridgeStart counts a bridge start attempt.
func RecordBridgeStart(result string) { bridgeStartsTotal.WithLabelValues(label(result)).Inc() }

// SetActiveSessions records the number of stored bridge sessions.
func SetActiveSessions(n int) { bridgeActiveSessions.Set(float64(n)) }

func IncActiveSessions() { bridgeActiveSessions.Inc() }
func DecActiveSessions() { bridgeActiveSessions.Dec() }

// RecordTransition counts one lifecycle callback after the state machine handled it.
func RecordTransition(role, event, result string) {
	bridgeTransitionsTotal.WithLabelValues(label(role), label(event), label(result)).Inc()
}

func RecordLegCreate(role, result string) {
	legCreatesTotal.WithLabelValues(label(role), label(result)).Inc()
}

func RecordRoutingUpdate(result string) { routingUpdatesTotal.WithLabelValues(label(result)).Inc() }

func RecordLegTermination(result string) { legTerminationsTotal.WithLabelValues(label(result)).Inc() }

func IncSessionEviction() { sessionEvictionsTotal.Inc() }

// RecordCallback counts an inbound platform callback.
func RecordCallback(kind, role string) { callbacksTotal.WithLabelValues(label(kind), label(role)).Inc() }

// ObserveUpstreamRequest records the latency of one Voice API request.
func ObserveUpstreamRequest(operation, result string, seconds float64) {
	upstreamRequestDuration.WithLabelValues(label(operation), label(result)).Observe(seconds)
}
