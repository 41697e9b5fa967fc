// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package auth

import (
	"errors"
	"time"

	"github.com/samber/oops"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned by repositories when a unique constraint is violated.
var ErrDuplicate = errors.New("duplicate")

// Error codes surfaced to transport adapters. Any other code is internal.
const (
	CodeValidation             = "AUTH_VALIDATION"
	CodeInvalidCredentials     = "AUTH_INVALID_CREDENTIALS"
	CodeAccountDisabled        = "AUTH_ACCOUNT_DISABLED"
	CodeAccountLocked          = "AUTH_ACCOUNT_LOCKED"
	CodeConflict               = "AUTH_CONFLICT"
	CodeNotAuthenticated       = "AUTH_NOT_AUTHENTICATED"
	CodeNotFound               = "AUTH_NOT_FOUND"
	CodeTokenInvalid           = "TOKEN_INVALID"
	CodeTokenExpired           = "TOKEN_EXPIRED"
	CodeCurrentPasswordInvalid = "AUTH_CURRENT_PASSWORD_INVALID"
	CodeRefreshFailed          = "AUTH_REFRESH_FAILED"
)

var publicCodes = map[string]bool{
	CodeValidation:             true,
	CodeInvalidCredentials:     true,
	CodeAccountDisabled:        true,
	CodeAccountLocked:          true,
	CodeConflict:               true,
	CodeNotAuthenticated:       true,
	CodeNotFound:               true,
	CodeTokenInvalid:           true,
	CodeTokenExpired:           true,
	CodeCurrentPasswordInvalid: true,
	CodeRefreshFailed:          true,
}

// IsPublicCode reports whether code may be shown to clients verbatim.
func IsPublicCode(code string) bool {
	return publicCodes[code]
}

func errValidation(format string, args ...any) error {
	return oops.Code(CodeValidation).Errorf(format, args...)
}

func errInvalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Errorf("invalid email or password")
}

func errNotAuthenticated() error {
	return oops.Code(CodeNotAuthenticated).Errorf("authentication required")
}

func errRefreshFailed(reason string) error {
	return oops.Code(CodeRefreshFailed).
		Hint("re-authenticate with email and password").
		Errorf("refresh failed: %s", reason)
}

func errTokenInvalid(reason string) error {
	return oops.Code(CodeTokenInvalid).Errorf("invalid token: %s", reason)
}

func errTokenExpired() error {
	return oops.Code(CodeTokenExpired).Errorf("token has expired")
}

func errAccountDisabled() error {
	return oops.Code(CodeAccountDisabled).Errorf("account is disabled")
}

func errAccountLocked(until *time.Time) error {
	b := oops.Code(CodeAccountLocked)
	if until != nil {
		b = b.With("locked_until", *until)
	}
	return b.Errorf("account is temporarily locked")
}

func errConflict() error {
	return oops.Code(CodeConflict).Errorf("email is already registered")
}

func errNotFound(what string) error {
	return oops.Code(CodeNotFound).Errorf("%s not found", what)
}

func errCurrentPasswordInvalid() error {
	return oops.Code(CodeCurrentPasswordInvalid).Errorf("current password is incorrect")
}
