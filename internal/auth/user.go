// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package auth

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Role is the authorization role carried in access tokens.
type Role string

// Known roles.
const (
	RoleClient Role = "CLIENT"
	RoleAdmin  Role = "ADMIN"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleClient || r == RoleAdmin
}

// Password constraints.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 128
	MaxEmailLength    = 254
)

// emailRegex is deliberately loose: one @, no spaces, a dot in the domain.
var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// User is an identity record. The core only writes the password hash,
// the active flag, login bookkeeping and lockout state.
type User struct {
	ID                ulid.ULID
	Email             string
	PasswordHash      string
	Role              Role
	Active            bool
	LastLoginAt       *time.Time
	FailedAttempts    int
	LockedUntil       *time.Time
	PasswordChangedAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// LoginFailure is the lockout state after a failed login was recorded.
type LoginFailure struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

// UserView is the password-free projection of a User returned to clients.
type UserView struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Role        Role       `json:"role"`
	Active      bool       `json:"active"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// NewUser creates an active User. The email is normalized.
func NewUser(email, passwordHash string, role Role, now time.Time) (*User, error) {
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("USER_INVALID_HASH").Errorf("password hash cannot be empty")
	}
	if !role.Valid() {
		return nil, oops.Code("USER_INVALID_ROLE").With("role", string(role)).Errorf("unknown role")
	}
	return &User{
		ID:           ulid.Make(),
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// View returns the client-facing projection of the user.
func (u *User) View() UserView {
	return UserView{
		ID:          u.ID.String(),
		Email:       u.Email,
		Role:        u.Role,
		Active:      u.Active,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
	}
}

// IsLockedAt returns true if the user is locked out at t.
func (u *User) IsLockedAt(t time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(t)
}

// PasswordChangedAfter reports whether the password was replaced after t.
func (u *User) PasswordChangedAfter(t time.Time) bool {
	return u.PasswordChangedAt != nil && u.PasswordChangedAt.After(t)
}

// RecordFailure increments the failure counter and applies the lockout policy.
func (u *User) RecordFailure(policy LockoutPolicy, now time.Time) {
	u.FailedAttempts++
	u.LockedUntil = policy.LockedUntil(u.FailedAttempts, now)
	u.UpdatedAt = now
}

// RecordLogin resets lockout state and stamps the last login time.
func (u *User) RecordLogin(now time.Time) {
	u.FailedAttempts = 0
	u.LockedUntil = nil
	u.LastLoginAt = &now
	u.UpdatedAt = now
}

// NormalizeEmail trims and lower-cases an email so comparisons are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks the shape of an already normalized email.
func ValidateEmail(email string) error {
	if email == "" {
		return errValidation("email is required")
	}
	if len(email) > MaxEmailLength {
		return errValidation("email must be at most %d characters", MaxEmailLength)
	}
	if !emailRegex.MatchString(email) {
		return errValidation("email is malformed")
	}
	return nil
}

// ValidatePassword checks password length constraints.
func ValidatePassword(password string) error {
	if password == "" {
		return errValidation("password is required")
	}
	if len(password) < MinPasswordLength {
		return errValidation("password must be at least %d characters", MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return errValidation("password must be at most %d characters", MaxPasswordLength)
	}
	return nil
}

// UserRepository manages user persistence.
type UserRepository interface {
	// Create stores a new user. Returns an error wrapping ErrDuplicate if the
	// email is already registered.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByEmail retrieves a user by email (case-insensitive).
	GetByEmail(ctx context.Context, email string) (*User, error)

	// Update writes the profile fields of an existing user: email, role and
	// the active flag. Credentials and login bookkeeping have their own
	// methods so that concurrent flows never overwrite each other.
	Update(ctx context.Context, user *User) error

	// UpdatePassword replaces the password hash, stamps changedAt as the
	// password change time and clears any lockout.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string, changedAt time.Time) error

	// UpgradePasswordHash swaps oldHash for newHash only if oldHash is still
	// the stored hash. It reports whether the swap happened.
	UpgradePasswordHash(ctx context.Context, id ulid.ULID, oldHash, newHash string) (bool, error)

	// RecordLoginFailure atomically increments the failure counter and
	// applies policy to it, returning the resulting lockout state.
	RecordLoginFailure(ctx context.Context, id ulid.ULID, now time.Time, policy LockoutPolicy) (LoginFailure, error)

	// RecordLoginSuccess stamps the last login time and clears lockout state.
	RecordLoginSuccess(ctx context.Context, id ulid.ULID, now time.Time) error
}
