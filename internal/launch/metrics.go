// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package launch

import "github.com/prometheus/client_golang/prometheus"

var launches = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ember_launch_total",
		Help: "Total number of launch attempts by result",
	},
	[]string{"result"},
)

var exits = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ember_launch_exits_total",
		Help: "Total number of game process exits by outcome",
	},
	[]string{"outcome"},
)

var running = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "ember_launch_running",
		Help: "Number of game processes currently running",
	},
)

var sessionDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "ember_launch_session_duration_seconds",
		Help:    "How long game processes ran",
		Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 14400},
	},
)

// RegisterMetrics registers launch metrics with the given Prometheus registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(launches)
	reg.MustRegister(exits)
	reg.MustRegister(running)
	reg.MustRegister(sessionDuration)
}
