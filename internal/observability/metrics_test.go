// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/authcore/authcore/internal/auth"
)

func TestMetrics_SessionsRevokedIgnoresNegativeCounts(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SessionsRevoked(auth.RevokeReasonLogout, 0)
	m.SessionsRevoked(auth.RevokeReasonLogout, -1)
	m.SessionsRevoked(auth.RevokeReasonLogout, 2)

	assert.InDelta(t, 2, testutil.ToFloat64(m.SessionsRevokedTotal.WithLabelValues(auth.RevokeReasonLogout)), 0)
}

func TestMetrics_SessionsSwept(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SessionsSwept(0)
	m.SessionsSwept(4)

	assert.InDelta(t, 4, testutil.ToFloat64(m.SessionsSweptTotal), 0)
}

func TestNewMetrics_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)

	assert.Panics(t, func() { NewMetrics(reg) })
}
