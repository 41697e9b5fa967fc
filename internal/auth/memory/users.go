// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/authcore/authcore/internal/auth"
)

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)

// UserRepository is an in-memory auth.UserRepository.
// Returned users are copies; mutating them does not change stored state.
type UserRepository struct {
	mu      sync.RWMutex
	byID    map[ulid.ULID]*auth.User
	byEmail map[string]ulid.ULID
}

// NewUserRepository creates an empty UserRepository.
func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:    make(map[ulid.ULID]*auth.User),
		byEmail: make(map[string]ulid.ULID),
	}
}

// Create stores a new user.
func (r *UserRepository) Create(_ context.Context, user *auth.User) error {
	email := auth.NormalizeEmail(user.Email)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byEmail[email]; ok {
		return oops.Code("USER_CREATE_FAILED").With("email", email).Wrap(auth.ErrDuplicate)
	}
	if _, ok := r.byID[user.ID]; ok {
		return oops.Code("USER_CREATE_FAILED").With("id", user.ID.String()).Wrap(auth.ErrDuplicate)
	}
	stored := cloneUser(user)
	stored.Email = email
	r.byID[user.ID] = stored
	r.byEmail[email] = user.ID
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byID[id]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return cloneUser(user), nil
}

// GetByEmail retrieves a user by email, case-insensitively.
func (r *UserRepository) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	email = auth.NormalizeEmail(email)

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("email", email).Wrap(auth.ErrNotFound)
	}
	return cloneUser(r.byID[id]), nil
}

// Update writes the profile fields of an existing user.
func (r *UserRepository) Update(_ context.Context, user *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[user.ID]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("id", user.ID.String()).Wrap(auth.ErrNotFound)
	}
	email := auth.NormalizeEmail(user.Email)
	if email != stored.Email {
		if _, taken := r.byEmail[email]; taken {
			return oops.Code("USER_UPDATE_FAILED").With("email", email).Wrap(auth.ErrDuplicate)
		}
		delete(r.byEmail, stored.Email)
		r.byEmail[email] = user.ID
	}
	stored.Email = email
	stored.Role = user.Role
	stored.Active = user.Active
	stored.UpdatedAt = user.UpdatedAt
	return nil
}

// UpdatePassword replaces the password hash and clears lockout state.
func (r *UserRepository) UpdatePassword(_ context.Context, id ulid.ULID, passwordHash string, changedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[id]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	stored.PasswordHash = passwordHash
	stored.PasswordChangedAt = &changedAt
	stored.FailedAttempts = 0
	stored.LockedUntil = nil
	stored.UpdatedAt = changedAt
	return nil
}

// UpgradePasswordHash swaps oldHash for newHash if oldHash is still stored.
func (r *UserRepository) UpgradePasswordHash(_ context.Context, id ulid.ULID, oldHash, newHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[id]
	if !ok {
		return false, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	if stored.PasswordHash != oldHash {
		return false, nil
	}
	stored.PasswordHash = newHash
	return true, nil
}

// RecordLoginFailure increments the failure counter under the write lock.
func (r *UserRepository) RecordLoginFailure(_ context.Context, id ulid.ULID, now time.Time, policy auth.LockoutPolicy) (auth.LoginFailure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[id]
	if !ok {
		return auth.LoginFailure{}, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	stored.RecordFailure(policy, now)
	return auth.LoginFailure{
		FailedAttempts: stored.FailedAttempts,
		LockedUntil:    cloneTime(stored.LockedUntil),
	}, nil
}

// RecordLoginSuccess stamps the last login time and clears lockout state.
func (r *UserRepository) RecordLoginSuccess(_ context.Context, id ulid.ULID, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[id]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	stored.RecordLogin(now)
	return nil
}

func cloneUser(u *auth.User) *auth.User {
	c := *u
	c.LastLoginAt = cloneTime(u.LastLoginAt)
	c.LockedUntil = cloneTime(u.LockedUntil)
	c.PasswordChangedAt = cloneTime(u.PasswordChangedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
