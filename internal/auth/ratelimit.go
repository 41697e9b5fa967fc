// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package auth

import (
	"time"
)

// Default lockout configuration.
const (
	// DefaultLockoutDuration is the time a user is locked out after too many failures.
	DefaultLockoutDuration = 15 * time.Minute

	// DefaultLockoutThreshold is the number of failures that triggers a lockout.
	DefaultLockoutThreshold = 7
)

// LockoutPolicy locks an account after repeated password failures.
// A zero Threshold disables lockout.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// DefaultLockoutPolicy returns the default lockout policy.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{Threshold: DefaultLockoutThreshold, Duration: DefaultLockoutDuration}
}

// Enabled reports whether the policy ever locks accounts.
func (p LockoutPolicy) Enabled() bool {
	return p.Threshold > 0 && p.Duration > 0
}

// LockedUntil returns the lockout timestamp for the given failure count,
// or nil if failures is below the threshold.
func (p LockoutPolicy) LockedUntil(failures int, now time.Time) *time.Time {
	if !p.Enabled() || failures < p.Threshold {
		return nil
	}
	until := now.Add(p.Duration)
	return &until
}

// Bounds returns the threshold and lockout expiry for a failure recorded at
// now, in the form storage backends apply atomically. A disabled policy
// yields a zero threshold, which never locks.
func (p LockoutPolicy) Bounds(now time.Time) (threshold int, until time.Time) {
	if !p.Enabled() {
		return 0, now
	}
	return p.Threshold, now.Add(p.Duration)
}
