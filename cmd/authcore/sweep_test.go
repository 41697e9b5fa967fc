// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authcore/authcore/internal/auth"
	"github.com/authcore/authcore/internal/auth/memory"
	"github.com/authcore/authcore/pkg/errutil"
)

func useBackend(t *testing.T, opener func(context.Context, string) (*Backend, error)) {
	t.Helper()
	orig := backendOpener
	backendOpener = opener
	t.Cleanup(func() { backendOpener = orig })
}

func TestSweep_DeletesExpiredSessions(t *testing.T) {
	sessions := memory.NewSessionRepository()
	ctx := context.Background()
	now := time.Now()
	userID := ulid.Make()

	expired, err := auth.NewRefreshSession(userID, "expired-hash", auth.SessionMeta{}, now.Add(-2*time.Hour), now.Add(-time.Hour))
	require.NoError(t, err)
	live, err := auth.NewRefreshSession(userID, "live-hash", auth.SessionMeta{}, now, now.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, sessions.Create(ctx, expired))
	require.NoError(t, sessions.Create(ctx, live))

	closed := false
	useBackend(t, func(context.Context, string) (*Backend, error) {
		return &Backend{
			Users:    memory.NewUserRepository(),
			Sessions: sessions,
			Ping:     func(context.Context) error { return nil },
			Close:    func() { closed = true },
		}, nil
	})

	output, err := execute(t, "sweep", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, output, "Deleted 1 expired session(s)")
	assert.True(t, closed)

	_, err = sessions.GetByTokenHash(ctx, "live-hash")
	assert.NoError(t, err)
}

func TestSweep_BackendError(t *testing.T) {
	useBackend(t, func(context.Context, string) (*Backend, error) {
		return nil, errors.New("connection refused")
	})

	_, err := execute(t, "sweep")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "SWEEP_FAILED")
}
