// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/authcore/authcore/internal/auth"
)

// Metrics records auth events as Prometheus metrics.
type Metrics struct {
	AuthAttemptsTotal    *prometheus.CounterVec
	SessionsRevokedTotal *prometheus.CounterVec
	SessionsSweptTotal   prometheus.Counter
}

var _ auth.Recorder = (*Metrics)(nil)

// NewMetrics creates and registers the auth metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AuthAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_auth_attempts_total",
				Help: "Total number of auth flow attempts by flow and outcome",
			},
			[]string{"flow", "outcome"},
		),
		SessionsRevokedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_sessions_revoked_total",
				Help: "Total number of refresh sessions revoked by reason",
			},
			[]string{"reason"},
		),
		SessionsSweptTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authcore_sessions_swept_total",
				Help: "Total number of expired refresh sessions deleted",
			},
		),
	}

	reg.MustRegister(m.AuthAttemptsTotal)
	reg.MustRegister(m.SessionsRevokedTotal)
	reg.MustRegister(m.SessionsSweptTotal)

	return m
}

// AuthAttempt implements auth.Recorder.
func (m *Metrics) AuthAttempt(flow, outcome string) {
	m.AuthAttemptsTotal.WithLabelValues(flow, outcome).Inc()
}

// SessionsRevoked implements auth.Recorder. Zero counts are still recorded
// so the label series exists.
func (m *Metrics) SessionsRevoked(reason string, n int64) {
	if n < 0 {
		return
	}
	m.SessionsRevokedTotal.WithLabelValues(reason).Add(float64(n))
}

// SessionsSwept implements auth.Recorder.
func (m *Metrics) SessionsSwept(n int64) {
	if n <= 0 {
		return
	}
	m.SessionsSweptTotal.Add(float64(n))
}
