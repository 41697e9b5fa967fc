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
var _ auth.UserRepository = (*UserRepository)(nil)

const userColumns = `id, email, password_hash, role, active, last_login_at,
	failed_attempts, locked_until, password_changed_at, created_at, updated_at`

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	pool Pool
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create stores a new user.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		user.ID.String(),
		user.Email,
		user.PasswordHash,
		string(user.Role),
		user.Active,
		user.LastLoginAt,
		user.FailedAttempts,
		user.LockedUntil,
		user.PasswordChangedAt,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return oops.Code("USER_CREATE_FAILED").
			With("email", user.Email).
			Wrap(auth.ErrDuplicate)
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
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id.String())

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
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

// GetByEmail retrieves a user by email, case-insensitively.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	email = auth.NormalizeEmail(email)
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = $1`, email)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").With("email", email).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}
	return user, nil
}

// Update writes the profile fields of an existing user.
func (r *UserRepository) Update(ctx context.Context, user *auth.User) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET email = $2, role = $3, active = $4, updated_at = $5
		WHERE id = $1
	`,
		user.ID.String(),
		user.Email,
		string(user.Role),
		user.Active,
		user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return oops.Code("USER_UPDATE_FAILED").
			With("email", user.Email).
			Wrap(auth.ErrDuplicate)
	}
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "update user").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", user.ID.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// UpdatePassword replaces the password hash and clears lockout state.
func (r *UserRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string, changedAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET
			password_hash = $2, password_changed_at = $3,
			failed_attempts = 0, locked_until = NULL, updated_at = $3
		WHERE id = $1
	`, id.String(), passwordHash, changedAt)
	if err != nil {
		return oops.Code("USER_UPDATE_PASSWORD_FAILED").
			With("operation", "update password").
			With("user_id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// UpgradePasswordHash swaps oldHash for newHash if oldHash is still stored.
func (r *UserRepository) UpgradePasswordHash(ctx context.Context, id ulid.ULID, oldHash, newHash string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET password_hash = $3 WHERE id = $1 AND password_hash = $2
	`, id.String(), oldHash, newHash)
	if err != nil {
		return false, oops.Code("USER_UPGRADE_HASH_FAILED").
			With("operation", "upgrade password hash").
			With("user_id", id.String()).
			Wrap(err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordLoginFailure increments the failure counter and decides the lockout
// in a single statement, so concurrent failures are all counted.
func (r *UserRepository) RecordLoginFailure(ctx context.Context, id ulid.ULID, now time.Time, policy auth.LockoutPolicy) (auth.LoginFailure, error) {
	threshold, until := policy.Bounds(now)
	var failure auth.LoginFailure
	err := r.pool.QueryRow(ctx, `
		UPDATE users SET
			failed_attempts = failed_attempts + 1,
			locked_until = CASE
				WHEN $3::int > 0 AND failed_attempts + 1 >= $3::int THEN $4::timestamptz
				ELSE NULL
			END,
			updated_at = $2
		WHERE id = $1
		RETURNING failed_attempts, locked_until
	`, id.String(), now, threshold, until).Scan(&failure.FailedAttempts, &failure.LockedUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return auth.LoginFailure{}, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return auth.LoginFailure{}, oops.Code("USER_RECORD_FAILURE_FAILED").
			With("operation", "record login failure").
			With("user_id", id.String()).
			Wrap(err)
	}
	return failure, nil
}

// RecordLoginSuccess stamps the last login time and clears lockout state.
func (r *UserRepository) RecordLoginSuccess(ctx context.Context, id ulid.ULID, now time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET
			last_login_at = $2, failed_attempts = 0, locked_until = NULL, updated_at = $2
		WHERE id = $1
	`, id.String(), now)
	if err != nil {
		return oops.Code("USER_RECORD_LOGIN_FAILED").
			With("operation", "record login").
			With("user_id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		user        auth.User
		idStr, role string
		lastLogin   *time.Time
		lockedUntil *time.Time
		changedAt   *time.Time
	)
	err := row.Scan(
		&idStr,
		&user.Email,
		&user.PasswordHash,
		&role,
		&user.Active,
		&lastLogin,
		&user.FailedAttempts,
		&lockedUntil,
		&changedAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers map pgx.ErrNoRows
	}
	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").With("id", idStr).Wrap(err)
	}
	user.ID = id
	user.Role = auth.Role(role)
	user.LastLoginAt = lastLogin
	user.LockedUntil = lockedUntil
	user.PasswordChangedAt = changedAt
	return &user, nil
}
