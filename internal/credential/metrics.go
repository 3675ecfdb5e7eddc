// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package credential

import "github.com/prometheus/client_golang/prometheus"

var refreshTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ember_credential_refresh_total",
		Help: "Total number of session refresh exchanges by result",
	},
	[]string{"result"},
)

var refreshDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Name:    "ember_credential_refresh_duration_seconds",
	Help:    "Time taken by session refresh exchanges, including retries",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
})

var authTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ember_credential_auth_total",
		Help: "Total number of interactive sign-ins by result",
	},
	[]string{"result"},
)

// RegisterMetrics registers credential metrics with the given Prometheus registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(refreshTotal)
	reg.MustRegister(refreshDuration)
	reg.MustRegister(authTotal)
}
