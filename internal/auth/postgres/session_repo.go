// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/authcore/authcore/internal/auth"
)

// Compile-time interface check.
var _ auth.SessionRepository = (*SessionRepository)(nil)

const sessionColumns = `id, user_id, token_hash, user_agent, ip_address,
	created_at, expires_at, revoked_at, replaced_by`

// SessionRepository implements auth.SessionRepository using PostgreSQL.
type SessionRepository struct {
	pool Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Create stores a new refresh session.
func (r *SessionRepository) Create(ctx context.Context, session *auth.RefreshSession) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO refresh_sessions (id, user_id, token_hash, user_agent, ip_address, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		session.ID.String(),
		session.UserID.String(),
		session.TokenHash,
		session.UserAgent,
		session.IPAddress,
		session.CreatedAt,
		session.ExpiresAt,
	)
	if isUniqueViolation(err) {
		return oops.Code("SESSION_CREATE_FAILED").
			With("session_id", session.ID.String()).
			Wrap(auth.ErrDuplicate)
	}
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert refresh_session").
			With("user_id", session.UserID.String()).
			Wrap(err)
	}
	return nil
}

// GetByTokenHash retrieves a session by its token hash regardless of state.
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.RefreshSession, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM refresh_sessions WHERE token_hash = $1
	`, tokenHash)

	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_BY_TOKEN_FAILED").
			With("operation", "get session by token hash").
			Wrap(err)
	}
	return session, nil
}

// ListActiveByUser returns the user's sessions active at now, newest first.
func (r *SessionRepository) ListActiveByUser(ctx context.Context, userID ulid.ULID, now time.Time) ([]*auth.RefreshSession, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM refresh_sessions
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY created_at DESC, id DESC
	`, userID.String(), now)
	if err != nil {
		return nil, oops.Code("SESSION_LIST_FAILED").
			With("operation", "list active sessions").
			With("user_id", userID.String()).
			Wrap(err)
	}
	defer rows.Close()

	var sessions []*auth.RefreshSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, oops.Code("SESSION_LIST_FAILED").
				With("operation", "scan session row").
				Wrap(err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("SESSION_LIST_FAILED").
			With("operation", "iterate session rows").
			Wrap(err)
	}
	return sessions, nil
}

// RevokeActive revokes the active session with tokenHash in a single
// conditional UPDATE, so only one concurrent caller sees the row returned.
func (r *SessionRepository) RevokeActive(ctx context.Context, tokenHash string, now time.Time) (*auth.RefreshSession, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE refresh_sessions SET revoked_at = $2
		WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > $2
		RETURNING `+sessionColumns, tokenHash, now)

	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_REVOKE_FAILED").
			With("operation", "revoke active session").
			Wrap(err)
	}
	return session, nil
}

// RevokeByID revokes one active session owned by userID.
func (r *SessionRepository) RevokeByID(ctx context.Context, userID, id ulid.ULID, now time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE refresh_sessions SET revoked_at = $3
		WHERE id = $1 AND user_id = $2 AND revoked_at IS NULL AND expires_at > $3
	`, id.String(), userID.String(), now)
	if err != nil {
		return oops.Code("SESSION_REVOKE_FAILED").
			With("operation", "revoke session by id").
			With("session_id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").
			With("session_id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// RevokeAllByUser revokes every unrevoked session of the user.
func (r *SessionRepository) RevokeAllByUser(ctx context.Context, userID ulid.ULID, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE refresh_sessions SET revoked_at = $2
		WHERE user_id = $1 AND revoked_at IS NULL
	`, userID.String(), now)
	if err != nil {
		return 0, oops.Code("SESSION_REVOKE_ALL_FAILED").
			With("operation", "revoke all sessions").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// SetReplacedBy records which session superseded a rotated one.
func (r *SessionRepository) SetReplacedBy(ctx context.Context, id, replacement ulid.ULID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE refresh_sessions SET replaced_by = $2 WHERE id = $1
	`, id.String(), replacement.String())
	if err != nil {
		return oops.Code("SESSION_LINK_FAILED").
			With("operation", "set replaced_by").
			With("session_id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").
			With("session_id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteExpired removes sessions that expired before the given time.
func (r *SessionRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM refresh_sessions WHERE expires_at < $1`, before)
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired sessions").
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

func scanSession(row pgx.Row) (*auth.RefreshSession, error) {
	var (
		session          auth.RefreshSession
		idStr, userIDStr string
		revokedAt        *time.Time
		replacedBy       *string
	)
	err := row.Scan(
		&idStr,
		&userIDStr,
		&session.TokenHash,
		&session.UserAgent,
		&session.IPAddress,
		&session.CreatedAt,
		&session.ExpiresAt,
		&revokedAt,
		&replacedBy,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers map pgx.ErrNoRows
	}

	if session.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.Code("SESSION_INVALID_ID").With("id", idStr).Wrap(err)
	}
	if session.UserID, err = ulid.Parse(userIDStr); err != nil {
		return nil, oops.Code("SESSION_INVALID_USER_ID").With("user_id", userIDStr).Wrap(err)
	}
	session.RevokedAt = revokedAt
	if replacedBy != nil {
		next, err := ulid.Parse(*replacedBy)
		if err != nil {
			return nil, oops.Code("SESSION_INVALID_REPLACED_BY").With("replaced_by", *replacedBy).Wrap(err)
		}
		session.ReplacedBy = &next
	}
	return &session, nil
}
