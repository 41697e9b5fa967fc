// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// RefreshSession binds one refresh token to a user for one device.
// ExpiresAt is fixed at creation; use never extends it.
type RefreshSession struct {
	ID         ulid.ULID
	UserID     ulid.ULID
	TokenHash  string
	UserAgent  string
	IPAddress  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	ReplacedBy *ulid.ULID
}

// SessionMeta describes the device a session was created from.
// Both fields are optional.
type SessionMeta struct {
	UserAgent string
	IPAddress string
}

// SessionView is the client-facing projection of a RefreshSession.
type SessionView struct {
	ID        string    `json:"id"`
	UserAgent string    `json:"user_agent,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewRefreshSession creates a validated RefreshSession.
func NewRefreshSession(userID ulid.ULID, tokenHash string, meta SessionMeta, createdAt, expiresAt time.Time) (*RefreshSession, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("SESSION_INVALID_USER").Errorf("user ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("SESSION_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if expiresAt.IsZero() || !expiresAt.After(createdAt) {
		return nil, oops.Code("SESSION_INVALID_EXPIRY").
			With("created_at", createdAt).
			With("expires_at", expiresAt).
			Errorf("expiry must be after creation")
	}
	return &RefreshSession{
		ID:        ulid.Make(),
		UserID:    userID,
		TokenHash: tokenHash,
		UserAgent: meta.UserAgent,
		IPAddress: meta.IPAddress,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}, nil
}

// IsExpiredAt returns true if the session is expired at t.
func (s *RefreshSession) IsExpiredAt(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// IsRevoked returns true if the session has been revoked.
func (s *RefreshSession) IsRevoked() bool {
	return s.RevokedAt != nil
}

// IsActiveAt returns true if the session is neither revoked nor expired at t.
func (s *RefreshSession) IsActiveAt(t time.Time) bool {
	return !s.IsRevoked() && !s.IsExpiredAt(t)
}

// View returns the client-facing projection of the session.
func (s *RefreshSession) View() SessionView {
	return SessionView{
		ID:        s.ID.String(),
		UserAgent: s.UserAgent,
		IPAddress: s.IPAddress,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
	}
}

// HashToken computes the SHA256 hash under which a refresh token is stored.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// SessionRepository manages refresh session persistence.
//
// Implementations must make RevokeActive atomic: of several concurrent calls
// for the same hash, exactly one may succeed.
type SessionRepository interface {
	// Create stores a new session. Returns an error wrapping ErrDuplicate if
	// the token hash already exists.
	Create(ctx context.Context, session *RefreshSession) error

	// GetByTokenHash retrieves a session by token hash regardless of state.
	GetByTokenHash(ctx context.Context, tokenHash string) (*RefreshSession, error)

	// ListActiveByUser returns the user's sessions active at now, newest first.
	ListActiveByUser(ctx context.Context, userID ulid.ULID, now time.Time) ([]*RefreshSession, error)

	// RevokeActive revokes the session with tokenHash if it is active at now
	// and returns it. Returns ErrNotFound if no active session matched.
	RevokeActive(ctx context.Context, tokenHash string, now time.Time) (*RefreshSession, error)

	// RevokeByID revokes one active session owned by userID.
	// Returns ErrNotFound if no such active session exists.
	RevokeByID(ctx context.Context, userID, id ulid.ULID, now time.Time) error

	// RevokeAllByUser revokes every unrevoked session of the user and
	// returns how many were revoked.
	RevokeAllByUser(ctx context.Context, userID ulid.ULID, now time.Time) (int64, error)

	// SetReplacedBy records which session superseded a rotated one.
	SetReplacedBy(ctx context.Context, id, replacement ulid.ULID) error

	// DeleteExpired removes sessions that expired before the given time and
	// returns the count of deleted records.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
