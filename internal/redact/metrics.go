// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package redact

import "github.com/prometheus/client_golang/prometheus"

var replacements = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ember_redaction_replacements_total",
		Help: "Total number of exact secret occurrences replaced",
	},
	[]string{"source"},
)

var droppedBytes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ember_redaction_dropped_bytes_total",
		Help: "Total number of output bytes withheld because redaction could not be confirmed",
	},
	[]string{"source"},
)

// RegisterMetrics registers redaction metrics with the given Prometheus registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(replacements)
	reg.MustRegister(droppedBytes)
}
