// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/authcore/authcore/internal/auth"
)

// Compile-time interface check.
var _ auth.SessionRepository = (*SessionRepository)(nil)

// SessionRepository is an in-memory auth.SessionRepository. A single mutex
// serializes writes, which makes RevokeActive atomic.
type SessionRepository struct {
	mu     sync.RWMutex
	byID   map[ulid.ULID]*auth.RefreshSession
	byHash map[string]ulid.ULID
}

// NewSessionRepository creates an empty SessionRepository.
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{
		byID:   make(map[ulid.ULID]*auth.RefreshSession),
		byHash: make(map[string]ulid.ULID),
	}
}

// Create stores a new session.
func (r *SessionRepository) Create(_ context.Context, session *auth.RefreshSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byHash[session.TokenHash]; ok {
		return oops.Code("SESSION_CREATE_FAILED").With("session_id", session.ID.String()).Wrap(auth.ErrDuplicate)
	}
	if _, ok := r.byID[session.ID]; ok {
		return oops.Code("SESSION_CREATE_FAILED").With("session_id", session.ID.String()).Wrap(auth.ErrDuplicate)
	}
	r.byID[session.ID] = cloneSession(session)
	r.byHash[session.TokenHash] = session.ID
	return nil
}

// GetByTokenHash retrieves a session by token hash regardless of state.
func (r *SessionRepository) GetByTokenHash(_ context.Context, tokenHash string) (*auth.RefreshSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byHash[tokenHash]
	if !ok {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return cloneSession(r.byID[id]), nil
}

// ListActiveByUser returns the user's sessions active at now, newest first.
func (r *SessionRepository) ListActiveByUser(_ context.Context, userID ulid.ULID, now time.Time) ([]*auth.RefreshSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*auth.RefreshSession
	for _, s := range r.byID {
		if s.UserID == userID && s.IsActiveAt(now) {
			out = append(out, cloneSession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.Compare(out[j].ID) > 0
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// RevokeActive revokes the session with tokenHash if it is active at now.
func (r *SessionRepository) RevokeActive(_ context.Context, tokenHash string, now time.Time) (*auth.RefreshSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byHash[tokenHash]
	if !ok {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	s := r.byID[id]
	if !s.IsActiveAt(now) {
		return nil, oops.Code("SESSION_NOT_FOUND").With("session_id", id.String()).Wrap(auth.ErrNotFound)
	}
	revokedAt := now
	s.RevokedAt = &revokedAt
	return cloneSession(s), nil
}

// RevokeByID revokes one active session owned by userID.
func (r *SessionRepository) RevokeByID(_ context.Context, userID, id ulid.ULID, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok || s.UserID != userID || !s.IsActiveAt(now) {
		return oops.Code("SESSION_NOT_FOUND").With("session_id", id.String()).Wrap(auth.ErrNotFound)
	}
	revokedAt := now
	s.RevokedAt = &revokedAt
	return nil
}

// RevokeAllByUser revokes every unrevoked session of the user.
func (r *SessionRepository) RevokeAllByUser(_ context.Context, userID ulid.ULID, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, s := range r.byID {
		if s.UserID == userID && !s.IsRevoked() {
			revokedAt := now
			s.RevokedAt = &revokedAt
			n++
		}
	}
	return n, nil
}

// SetReplacedBy records which session superseded a rotated one.
func (r *SessionRepository) SetReplacedBy(_ context.Context, id, replacement ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok {
		return oops.Code("SESSION_NOT_FOUND").With("session_id", id.String()).Wrap(auth.ErrNotFound)
	}
	replacedBy := replacement
	s.ReplacedBy = &replacedBy
	return nil
}

// DeleteExpired removes sessions that expired before the given time.
func (r *SessionRepository) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, s := range r.byID {
		if s.ExpiresAt.Before(before) {
			delete(r.byHash, s.TokenHash)
			delete(r.byID, id)
			n++
		}
	}
	return n, nil
}

func cloneSession(s *auth.RefreshSession) *auth.RefreshSession {
	c := *s
	if s.RevokedAt != nil {
		t := *s.RevokedAt
		c.RevokedAt = &t
	}
	if s.ReplacedBy != nil {
		id := *s.ReplacedBy
		c.ReplacedBy = &id
	}
	return &c
}
