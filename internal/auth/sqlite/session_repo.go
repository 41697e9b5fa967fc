// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/authcore/authcore/internal/auth"
)

// Compile-time interface check.
var _ auth.SessionRepository = (*SessionRepository)(nil)

const sessionColumns = `id, user_id, token_hash, user_agent, ip_address,
	created_at, expires_at, revoked_at, replaced_by`

// SessionRepository implements auth.SessionRepository using SQLite.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create stores a new refresh session.
func (r *SessionRepository) Create(ctx context.Context, session *auth.RefreshSession) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (id, user_id, token_hash, user_agent, ip_address, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		session.ID.String(),
		session.UserID.String(),
		session.TokenHash,
		session.UserAgent,
		session.IPAddress,
		toMicros(session.CreatedAt),
		toMicros(session.ExpiresAt),
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
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM refresh_sessions WHERE token_hash = ?
	`, tokenHash)

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
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
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM refresh_sessions
		WHERE user_id = ? AND revoked_at IS NULL AND expires_at > ?
		ORDER BY created_at DESC, id DESC
	`, userID.String(), toMicros(now))
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
			return nil, oops.Code("SESSION_LIST_FAILED").With("operation", "scan session row").Wrap(err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("SESSION_LIST_FAILED").With("operation", "iterate session rows").Wrap(err)
	}
	return sessions, nil
}

// RevokeActive revokes the active session with tokenHash. SQLite serializes
// writers, so the conditional UPDATE hands the row to one caller only.
func (r *SessionRepository) RevokeActive(ctx context.Context, tokenHash string, now time.Time) (*auth.RefreshSession, error) {
	at := toMicros(now)
	row := r.db.QueryRowContext(ctx, `
		UPDATE refresh_sessions SET revoked_at = ?
		WHERE token_hash = ? AND revoked_at IS NULL AND expires_at > ?
		RETURNING `+sessionColumns, at, tokenHash, at)

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
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
	at := toMicros(now)
	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_sessions SET revoked_at = ?
		WHERE id = ? AND user_id = ? AND revoked_at IS NULL AND expires_at > ?
	`, at, id.String(), userID.String(), at)
	if err != nil {
		return oops.Code("SESSION_REVOKE_FAILED").
			With("operation", "revoke session by id").
			With("session_id", id.String()).
			Wrap(err)
	}
	return requireRow(res, "SESSION_NOT_FOUND", "session_id", id.String())
}

// RevokeAllByUser revokes every unrevoked session of the user.
func (r *SessionRepository) RevokeAllByUser(ctx context.Context, userID ulid.ULID, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_sessions SET revoked_at = ?
		WHERE user_id = ? AND revoked_at IS NULL
	`, toMicros(now), userID.String())
	if err != nil {
		return 0, oops.Code("SESSION_REVOKE_ALL_FAILED").
			With("operation", "revoke all sessions").
			With("user_id", userID.String()).
			Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, oops.Code("SESSION_REVOKE_ALL_FAILED").With("operation", "rows affected").Wrap(err)
	}
	return n, nil
}

// SetReplacedBy records which session superseded a rotated one.
func (r *SessionRepository) SetReplacedBy(ctx context.Context, id, replacement ulid.ULID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_sessions SET replaced_by = ? WHERE id = ?
	`, replacement.String(), id.String())
	if err != nil {
		return oops.Code("SESSION_LINK_FAILED").
			With("operation", "set replaced_by").
			With("session_id", id.String()).
			Wrap(err)
	}
	return requireRow(res, "SESSION_NOT_FOUND", "session_id", id.String())
}

// DeleteExpired removes sessions that expired before the given time.
func (r *SessionRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM refresh_sessions WHERE expires_at < ?`, toMicros(before))
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired sessions").
			Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_EXPIRED_FAILED").With("operation", "rows affected").Wrap(err)
	}
	return n, nil
}

func scanSession(row scanner) (*auth.RefreshSession, error) {
	var (
		session              auth.RefreshSession
		idStr, userIDStr     string
		createdAt, expiresAt int64
		revokedAt            sql.NullInt64
		replacedBy           sql.NullString
	)
	err := row.Scan(
		&idStr,
		&userIDStr,
		&session.TokenHash,
		&session.UserAgent,
		&session.IPAddress,
		&createdAt,
		&expiresAt,
		&revokedAt,
		&replacedBy,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers map sql.ErrNoRows
	}

	if session.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.Code("SESSION_INVALID_ID").With("id", idStr).Wrap(err)
	}
	if session.UserID, err = ulid.Parse(userIDStr); err != nil {
		return nil, oops.Code("SESSION_INVALID_USER_ID").With("user_id", userIDStr).Wrap(err)
	}
	session.CreatedAt = fromMicros(createdAt)
	session.ExpiresAt = fromMicros(expiresAt)
	session.RevokedAt = timePtr(revokedAt)
	if replacedBy.Valid {
		next, err := ulid.Parse(replacedBy.String)
		if err != nil {
			return nil, oops.Code("SESSION_INVALID_REPLACED_BY").With("replaced_by", replacedBy.String).Wrap(err)
		}
		session.ReplacedBy = &next
	}
	return &session, nil
}
