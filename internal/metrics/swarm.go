// SPDX-License-Identifier: MIT

// Package metrics exposes Prometheus collectors for the swarm harness.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridswarm_actions_total",
		Help: "Actions dispatched per game by action name",
	}, []string{"game", "action"})

	dispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gridswarm_dispatch_duration_seconds",
		Help:    "Round-trip latency of command dispatches",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	transportRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridswarm_transport_retries_total",
		Help: "Transient transport failures that triggered a retry",
	}, []string{"operation"})

	transportErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridswarm_transport_errors_total",
		Help: "Transport calls that failed after all retries, by class",
	}, []string{"operation", "class"})

	playsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridswarm_plays_total",
		Help: "Completed plays by outcome",
	}, []string{"game", "outcome"})

	unitsInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gridswarm_units_inflight",
		Help: "Session units currently active in the orchestrator",
	})

	recordLines = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gridswarm_recording_lines_total",
		Help: "Lines appended across all session recordings",
	})
)

// RecordAction counts one dispatched action.
func RecordAction(game, action string) {
	actionsTotal.WithLabelValues(game, action).Inc()
}

// ObserveDispatch records the latency of one transport round-trip.
func ObserveDispatch(operation string, seconds float64) {
	dispatchDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordRetry counts one transient failure that will be retried.
func RecordRetry(operation string) {
	transportRetries.WithLabelValues(operation).Inc()
}

// RecordTransportError counts one terminally failed transport call.
func RecordTransportError(operation, class string) {
	transportErrors.WithLabelValues(operation, class).Inc()
}

// RecordPlay counts one finished play with its outcome.
func RecordPlay(game, outcome string) {
	playsTotal.WithLabelValues(game, outcome).Inc()
}

// UnitStarted marks one more unit as active.
func UnitStarted() { unitsInflight.Inc() }

// UnitFinished marks one unit as settled.
func UnitFinished() { unitsInflight.Dec() }

// RecordRecordingLine counts one appended recording line.
func RecordRecordingLine() { recordLines.Inc() }
