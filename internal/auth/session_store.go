// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// SessionStore exposes refresh-session lifecycle operations keyed by raw
// refresh token values. Tokens are hashed before they reach the repository.
type SessionStore struct {
	repo  SessionRepository
	clock Clock
}

// NewSessionStore creates a SessionStore over repo.
func NewSessionStore(repo SessionRepository, clock Clock) (*SessionStore, error) {
	if repo == nil {
		return nil, oops.Code("SESSION_STORE_INVALID").Errorf("session repository is required")
	}
	return &SessionStore{repo: repo, clock: clockOrSystem(clock)}, nil
}

// Save persists a new session for refreshToken.
// A duplicate token is an internal consistency error.
func (s *SessionStore) Save(ctx context.Context, userID ulid.ULID, refreshToken string, expiresAt time.Time, meta SessionMeta) (*RefreshSession, error) {
	if refreshToken == "" {
		return nil, oops.Code("SESSION_TOKEN_EMPTY").Errorf("refresh token cannot be empty")
	}
	session, err := NewRefreshSession(userID, HashToken(refreshToken), meta, s.clock.Now(), expiresAt)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, session); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, oops.Code("SESSION_DUPLICATE").
				With("user_id", userID.String()).
				Wrap(err)
		}
		return nil, oops.Code("SESSION_SAVE_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return session, nil
}

// Consume atomically revokes the session for refreshToken and returns it.
// Only one caller can consume a given token; the rest get an error wrapping
// ErrNotFound, as do callers presenting unknown, revoked or expired tokens.
func (s *SessionStore) Consume(ctx context.Context, refreshToken string) (*RefreshSession, error) {
	if refreshToken == "" {
		return nil, oops.Code("SESSION_NOT_ACTIVE").Wrap(ErrNotFound)
	}
	session, err := s.repo.RevokeActive(ctx, HashToken(refreshToken), s.clock.Now())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("SESSION_NOT_ACTIVE").Wrap(err)
		}
		return nil, oops.Code("SESSION_CONSUME_FAILED").Wrap(err)
	}
	return session, nil
}

// InvalidateOne revokes the session matching refreshToken.
// Unknown, already revoked and expired tokens are a no-op.
func (s *SessionStore) InvalidateOne(ctx context.Context, refreshToken string) (bool, error) {
	if refreshToken == "" {
		return false, nil
	}
	_, err := s.repo.RevokeActive(ctx, HashToken(refreshToken), s.clock.Now())
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, oops.Code("SESSION_INVALIDATE_FAILED").Wrap(err)
	}
	return true, nil
}

// InvalidateAllForUser revokes every session of userID and returns the count.
func (s *SessionStore) InvalidateAllForUser(ctx context.Context, userID ulid.ULID) (int64, error) {
	n, err := s.repo.RevokeAllByUser(ctx, userID, s.clock.Now())
	if err != nil {
		return 0, oops.Code("SESSION_INVALIDATE_ALL_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return n, nil
}

// IsValid reports whether refreshToken has a session that exists, is not
// revoked and has not expired.
func (s *SessionStore) IsValid(ctx context.Context, refreshToken string) (bool, error) {
	if refreshToken == "" {
		return false, nil
	}
	session, err := s.repo.GetByTokenHash(ctx, HashToken(refreshToken))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, oops.Code("SESSION_LOOKUP_FAILED").Wrap(err)
	}
	return session.IsActiveAt(s.clock.Now()), nil
}

// Link records that replacement superseded a consumed session.
func (s *SessionStore) Link(ctx context.Context, consumed, replacement ulid.ULID) error {
	if err := s.repo.SetReplacedBy(ctx, consumed, replacement); err != nil {
		return oops.Code("SESSION_LINK_FAILED").
			With("session_id", consumed.String()).
			With("replacement_id", replacement.String()).
			Wrap(err)
	}
	return nil
}

// ListActive returns the user's active sessions, newest first.
func (s *SessionStore) ListActive(ctx context.Context, userID ulid.ULID) ([]*RefreshSession, error) {
	sessions, err := s.repo.ListActiveByUser(ctx, userID, s.clock.Now())
	if err != nil {
		return nil, oops.Code("SESSION_LIST_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return sessions, nil
}

// RevokeByID revokes one of the user's active sessions.
func (s *SessionStore) RevokeByID(ctx context.Context, userID, sessionID ulid.ULID) error {
	if err := s.repo.RevokeByID(ctx, userID, sessionID, s.clock.Now()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("SESSION_NOT_ACTIVE").
				With("session_id", sessionID.String()).
				Wrap(err)
		}
		return oops.Code("SESSION_REVOKE_FAILED").
			With("session_id", sessionID.String()).
			Wrap(err)
	}
	return nil
}

// Sweep deletes sessions that are already past expiry.
func (s *SessionStore) Sweep(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteExpired(ctx, s.clock.Now())
	if err != nil {
		return 0, oops.Code("SESSION_SWEEP_FAILED").Wrap(err)
	}
	return n, nil
}
