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
var _ auth.UserRepository = (*UserRepository)(nil)

const userColumns = `id, email, password_hash, role, active, last_login_at,
	failed_attempts, locked_until, password_changed_at, created_at, updated_at`

// UserRepository implements auth.UserRepository using SQLite.
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create stores a new user.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		user.ID.String(),
		user.Email,
		user.PasswordHash,
		string(user.Role),
		user.Active,
		nullMicros(user.LastLoginAt),
		user.FailedAttempts,
		nullMicros(user.LockedUntil),
		nullMicros(user.PasswordChangedAt),
		toMicros(user.CreatedAt),
		toMicros(user.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return oops.Code("USER_CREATE_FAILED").With("email", user.Email).Wrap(auth.ErrDuplicate)
	}
	if err != nil {
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id.String())

	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").
			With("operation", "get user by id").
			With("id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// GetByEmail retrieves a user by email. The email column collates NOCASE.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	email = auth.NormalizeEmail(email)
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)

	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").With("email", email).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").With("operation", "get user by email").Wrap(err)
	}
	return user, nil
}

// Update writes the profile fields of an existing user.
func (r *UserRepository) Update(ctx context.Context, user *auth.User) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET email = ?, role = ?, active = ?, updated_at = ?
		WHERE id = ?
	`,
		user.Email,
		string(user.Role),
		user.Active,
		toMicros(user.UpdatedAt),
		user.ID.String(),
	)
	if isUniqueViolation(err) {
		return oops.Code("USER_UPDATE_FAILED").With("email", user.Email).Wrap(auth.ErrDuplicate)
	}
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "update user").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	return requireRow(res, "USER_NOT_FOUND", "id", user.ID.String())
}

// UpdatePassword replaces the password hash and clears lockout state.
func (r *UserRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string, changedAt time.Time) error {
	changed := toMicros(changedAt)
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET
			password_hash = ?, password_changed_at = ?,
			failed_attempts = 0, locked_until = NULL, updated_at = ?
		WHERE id = ?
	`, passwordHash, changed, changed, id.String())
	if err != nil {
		return oops.Code("USER_UPDATE_PASSWORD_FAILED").
			With("operation", "update password").
			With("user_id", id.String()).
			Wrap(err)
	}
	return requireRow(res, "USER_NOT_FOUND", "id", id.String())
}

// UpgradePasswordHash swaps oldHash for newHash if oldHash is still stored.
func (r *UserRepository) UpgradePasswordHash(ctx context.Context, id ulid.ULID, oldHash, newHash string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET password_hash = ? WHERE id = ? AND password_hash = ?
	`, newHash, id.String(), oldHash)
	if err != nil {
		return false, oops.Code("USER_UPGRADE_HASH_FAILED").
			With("operation", "upgrade password hash").
			With("user_id", id.String()).
			Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, oops.Code("ROWS_AFFECTED_FAILED").Wrap(err)
	}
	return n == 1, nil
}

// RecordLoginFailure increments the failure counter and decides the lockout
// in a single statement, so concurrent failures are all counted.
func (r *UserRepository) RecordLoginFailure(ctx context.Context, id ulid.ULID, now time.Time, policy auth.LockoutPolicy) (auth.LoginFailure, error) {
	threshold, until := policy.Bounds(now)
	var (
		failure auth.LoginFailure
		locked  sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `
		UPDATE users SET
			failed_attempts = failed_attempts + 1,
			locked_until = CASE
				WHEN ? > 0 AND failed_attempts + 1 >= ? THEN ?
				ELSE NULL
			END,
			updated_at = ?
		WHERE id = ?
		RETURNING failed_attempts, locked_until
	`, threshold, threshold, toMicros(until), toMicros(now), id.String()).Scan(&failure.FailedAttempts, &locked)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.LoginFailure{}, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return auth.LoginFailure{}, oops.Code("USER_RECORD_FAILURE_FAILED").
			With("operation", "record login failure").
			With("user_id", id.String()).
			Wrap(err)
	}
	failure.LockedUntil = timePtr(locked)
	return failure, nil
}

// RecordLoginSuccess stamps the last login time and clears lockout state.
func (r *UserRepository) RecordLoginSuccess(ctx context.Context, id ulid.ULID, now time.Time) error {
	at := toMicros(now)
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET
			last_login_at = ?, failed_attempts = 0, locked_until = NULL, updated_at = ?
		WHERE id = ?
	`, at, at, id.String())
	if err != nil {
		return oops.Code("USER_RECORD_LOGIN_FAILED").
			With("operation", "record login").
			With("user_id", id.String()).
			Wrap(err)
	}
	return requireRow(res, "USER_NOT_FOUND", "id", id.String())
}

// requireRow maps a zero-row write to auth.ErrNotFound.
func requireRow(res sql.Result, code, key, value string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return oops.Code("ROWS_AFFECTED_FAILED").Wrap(err)
	}
	if n == 0 {
		return oops.Code(code).With(key, value).Wrap(auth.ErrNotFound)
	}
	return nil
}

func scanUser(row scanner) (*auth.User, error) {
	var (
		user                 auth.User
		idStr, role          string
		lastLogin, locked    sql.NullInt64
		changedAt            sql.NullInt64
		createdAt, updatedAt int64
	)
	err := row.Scan(
		&idStr,
		&user.Email,
		&user.PasswordHash,
		&role,
		&user.Active,
		&lastLogin,
		&user.FailedAttempts,
		&locked,
		&changedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers map sql.ErrNoRows
	}
	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").With("id", idStr).Wrap(err)
	}
	user.ID = id
	user.Role = auth.Role(role)
	user.LastLoginAt = timePtr(lastLogin)
	user.LockedUntil = timePtr(locked)
	user.PasswordChangedAt = timePtr(changedAt)
	user.CreatedAt = fromMicros(createdAt)
	user.UpdatedAt = fromMicros(updatedAt)
	return &user, nil
}
