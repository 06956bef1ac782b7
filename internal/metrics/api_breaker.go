// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	apiBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pstnbridge_vonage_breaker_state",
		Help: "Voice API circuit breaker state, 1 for the active state and 0 otherwise",
	}, []string{"state"})

	apiBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pstnbridge_vonage_breaker_trips_total",
		Help: "Voice API circuit breaker transitions to open",
	}, []string{"reason"})
)

var breakerStates = [...]string{"closed", "half-open", "open"}

// SetAPIBreakerState marks state as the active breaker state.
func SetAPIBreakerState(state string) {
	for _, s := range breakerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		apiBreakerState.WithLabelValues(s).Set(v)
	}
}

// RecordAPIBreakerTrip counts one opening of the breaker.
func RecordAPIBreakerTrip(reason string) {
	apiBreakerTrips.WithLabelValues(reason).Inc()
}
