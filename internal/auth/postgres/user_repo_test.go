// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authcore/authcore/internal/auth"
	"github.com/authcore/authcore/pkg/errutil"
)

var userRowColumns = []string{
	"id", "email", "password_hash", "role", "active", "last_login_at",
	"failed_attempts", "locked_until", "password_changed_at", "created_at", "updated_at",
}

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		mock.Close()
	})
	return mock
}

func sampleUser() *auth.User {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &auth.User{
		ID:           ulid.Make(),
		Email:        "alice@example.test",
		PasswordHash: "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA",
		Role:         auth.RoleClient,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func userRow(u *auth.User) *pgxmock.Rows {
	return pgxmock.NewRows(userRowColumns).AddRow(
		u.ID.String(), u.Email, u.PasswordHash, string(u.Role), u.Active,
		u.LastLoginAt, u.FailedAttempts, u.LockedUntil, u.PasswordChangedAt, u.CreatedAt, u.UpdatedAt,
	)
}

func TestUserRepository_Create(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface, u *auth.User)
		wantErr   error
		wantCode  string
	}{
		{
			name: "inserts user",
			setupMock: func(mock pgxmock.PgxPoolIface, u *auth.User) {
				mock.ExpectExec(`INSERT INTO users`).
					WithArgs(u.ID.String(), u.Email, u.PasswordHash, "CLIENT", true,
						pgxmock.AnyArg(), 0, pgxmock.AnyArg(), pgxmock.AnyArg(), u.CreatedAt, u.UpdatedAt).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
			},
		},
		{
			name: "unique violation maps to duplicate",
			setupMock: func(mock pgxmock.PgxPoolIface, _ *auth.User) {
				mock.ExpectExec(`INSERT INTO users`).
					WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
						pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
					WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})
			},
			wantErr:  auth.ErrDuplicate,
			wantCode: "USER_CREATE_FAILED",
		},
		{
			name: "database error",
			setupMock: func(mock pgxmock.PgxPoolIface, _ *auth.User) {
				mock.ExpectExec(`INSERT INTO users`).
					WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
						pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
					WillReturnError(errors.New("connection refused"))
			},
			wantCode: "USER_CREATE_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMockPool(t)
			u := sampleUser()
			tt.setupMock(mock, u)

			err := NewUserRepository(mock).Create(context.Background(), u)
			if tt.wantCode == "" {
				require.NoError(t, err)
				return
			}
			errutil.AssertErrorCode(t, err, tt.wantCode)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestUserRepository_GetByID(t *testing.T) {
	t.Run("returns user", func(t *testing.T) {
		mock := newMockPool(t)
		u := sampleUser()
		locked := u.CreatedAt.Add(15 * time.Minute)
		u.LockedUntil = &locked
		u.FailedAttempts = 7
		u.PasswordChangedAt = &u.CreatedAt
		mock.ExpectQuery(`SELECT .+ FROM users WHERE id = \$1`).
			WithArgs(u.ID.String()).
			WillReturnRows(userRow(u))

		got, err := NewUserRepository(mock).GetByID(context.Background(), u.ID)
		require.NoError(t, err)
		assert.Equal(t, u, got)
	})

	t.Run("no rows maps to not found", func(t *testing.T) {
		mock := newMockPool(t)
		id := ulid.Make()
		mock.ExpectQuery(`SELECT .+ FROM users WHERE id = \$1`).
			WithArgs(id.String()).
			WillReturnError(pgx.ErrNoRows)

		_, err := NewUserRepository(mock).GetByID(context.Background(), id)
		require.ErrorIs(t, err, auth.ErrNotFound)
		errutil.AssertErrorCode(t, err, "USER_NOT_FOUND")
	})

	t.Run("malformed stored id", func(t *testing.T) {
		mock := newMockPool(t)
		u := sampleUser()
		rows := pgxmock.NewRows(userRowColumns).AddRow(
			"not-a-ulid", u.Email, u.PasswordHash, "CLIENT", true,
			(*time.Time)(nil), 0, (*time.Time)(nil), (*time.Time)(nil), u.CreatedAt, u.UpdatedAt,
		)
		mock.ExpectQuery(`SELECT .+ FROM users`).WithArgs(u.ID.String()).WillReturnRows(rows)

		_, err := NewUserRepository(mock).GetByID(context.Background(), u.ID)
		errutil.AssertErrorCode(t, err, "USER_INVALID_ID")
	})
}

func TestUserRepository_GetByEmail_Normalizes(t *testing.T) {
	mock := newMockPool(t)
	u := sampleUser()
	mock.ExpectQuery(`SELECT .+ FROM users WHERE lower\(email\) = \$1`).
		WithArgs("alice@example.test").
		WillReturnRows(userRow(u))

	got, err := NewUserRepository(mock).GetByEmail(context.Background(), "  Alice@Example.TEST ")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
}

func TestUserRepository_GetByEmail_NotFound(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectQuery(`SELECT .+ FROM users`).
		WithArgs("ghost@example.test").
		WillReturnError(pgx.ErrNoRows)

	_, err := NewUserRepository(mock).GetByEmail(context.Background(), "ghost@example.test")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestUserRepository_Update(t *testing.T) {
	t.Run("writes profile fields only", func(t *testing.T) {
		mock := newMockPool(t)
		u := sampleUser()
		mock.ExpectExec(`UPDATE users SET email = \$2, role = \$3, active = \$4, updated_at = \$5`).
			WithArgs(u.ID.String(), u.Email, "CLIENT", true, u.UpdatedAt).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, NewUserRepository(mock).Update(context.Background(), u))
	})

	t.Run("missing row maps to not found", func(t *testing.T) {
		mock := newMockPool(t)
		u := sampleUser()
		mock.ExpectExec(`UPDATE users SET`).
			WithArgs(u.ID.String(), u.Email, "CLIENT", true, u.UpdatedAt).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := NewUserRepository(mock).Update(context.Background(), u)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("email collision maps to duplicate", func(t *testing.T) {
		mock := newMockPool(t)
		u := sampleUser()
		mock.ExpectExec(`UPDATE users SET`).
			WithArgs(u.ID.String(), u.Email, "CLIENT", true, u.UpdatedAt).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})

		err := NewUserRepository(mock).Update(context.Background(), u)
		assert.ErrorIs(t, err, auth.ErrDuplicate)
	})
}

func TestUserRepository_UpdatePassword(t *testing.T) {
	changedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("updates hash and clears lockout", func(t *testing.T) {
		mock := newMockPool(t)
		id := ulid.Make()
		mock.ExpectExec(`UPDATE users SET\s+password_hash = \$2, password_changed_at = \$3,\s+failed_attempts = 0, locked_until = NULL`).
			WithArgs(id.String(), "new-hash", changedAt).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, NewUserRepository(mock).UpdatePassword(context.Background(), id, "new-hash", changedAt))
	})

	t.Run("missing row", func(t *testing.T) {
		mock := newMockPool(t)
		id := ulid.Make()
		mock.ExpectExec(`UPDATE users SET`).
			WithArgs(id.String(), "new-hash", changedAt).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := NewUserRepository(mock).UpdatePassword(context.Background(), id, "new-hash", changedAt)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("database error", func(t *testing.T) {
		mock := newMockPool(t)
		id := ulid.Make()
		mock.ExpectExec(`UPDATE users SET`).
			WithArgs(id.String(), "new-hash", changedAt).
			WillReturnError(errors.New("timeout"))

		err := NewUserRepository(mock).UpdatePassword(context.Background(), id, "new-hash", changedAt)
		errutil.AssertErrorCode(t, err, "USER_UPDATE_PASSWORD_FAILED")
	})
}

func TestUserRepository_UpgradePasswordHash(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "stored hash matches", affected: 1, want: true},
		{name: "hash changed meanwhile", affected: 0, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMockPool(t)
			id := ulid.Make()
			mock.ExpectExec(`UPDATE users SET password_hash = \$3 WHERE id = \$1 AND password_hash = \$2`).
				WithArgs(id.String(), "old-hash", "new-hash").
				WillReturnResult(pgxmock.NewResult("UPDATE", tt.affected))

			swapped, err := NewUserRepository(mock).UpgradePasswordHash(context.Background(), id, "old-hash", "new-hash")
			require.NoError(t, err)
			assert.Equal(t, tt.want, swapped)
		})
	}
}

func TestUserRepository_RecordLoginFailure(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	policy := auth.LockoutPolicy{Threshold: 5, Duration: 15 * time.Minute}
	until := now.Add(15 * time.Minute)

	t.Run("increments in the database", func(t *testing.T) {
		mock := newMockPool(t)
		id := ulid.Make()
		mock.ExpectQuery(`failed_attempts = failed_attempts \+ 1`).
			WithArgs(id.String(), now, 5, until).
			WillReturnRows(pgxmock.NewRows([]string{"failed_attempts", "locked_until"}).AddRow(5, &until))

		failure, err := NewUserRepository(mock).RecordLoginFailure(context.Background(), id, now, policy)
		require.NoError(t, err)
		assert.Equal(t, 5, failure.FailedAttempts)
		require.NotNil(t, failure.LockedUntil)
		assert.True(t, failure.LockedUntil.Equal(until))
	})

	t.Run("disabled policy passes a zero threshold", func(t *testing.T) {
		mock := newMockPool(t)
		id := ulid.Make()
		mock.ExpectQuery(`UPDATE users SET`).
			WithArgs(id.String(), now, 0, now).
			WillReturnRows(pgxmock.NewRows([]string{"failed_attempts", "locked_until"}).AddRow(1, (*time.Time)(nil)))

		failure, err := NewUserRepository(mock).RecordLoginFailure(context.Background(), id, now, auth.LockoutPolicy{})
		require.NoError(t, err)
		assert.Equal(t, 1, failure.FailedAttempts)
		assert.Nil(t, failure.LockedUntil)
	})

	t.Run("missing row", func(t *testing.T) {
		mock := newMockPool(t)
		id := ulid.Make()
		mock.ExpectQuery(`UPDATE users SET`).
			WithArgs(id.String(), now, 5, until).
			WillReturnError(pgx.ErrNoRows)

		_, err := NewUserRepository(mock).RecordLoginFailure(context.Background(), id, now, policy)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("database error", func(t *testing.T) {
		mock := newMockPool(t)
		id := ulid.Make()
		mock.ExpectQuery(`UPDATE users SET`).
			WithArgs(id.String(), now, 5, until).
			WillReturnError(errors.New("timeout"))

		_, err := NewUserRepository(mock).RecordLoginFailure(context.Background(), id, now, policy)
		errutil.AssertErrorCode(t, err, "USER_RECORD_FAILURE_FAILED")
	})
}

func TestUserRepository_RecordLoginSuccess(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("clears lockout", func(t *testing.T) {
		mock := newMockPool(t)
		id := ulid.Make()
		mock.ExpectExec(`last_login_at = \$2, failed_attempts = 0, locked_until = NULL`).
			WithArgs(id.String(), now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, NewUserRepository(mock).RecordLoginSuccess(context.Background(), id, now))
	})

	t.Run("missing row", func(t *testing.T) {
		mock := newMockPool(t)
		id := ulid.Make()
		mock.ExpectExec(`UPDATE users SET`).
			WithArgs(id.String(), now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := NewUserRepository(mock).RecordLoginSuccess(context.Background(), id, now)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}
