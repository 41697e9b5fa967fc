// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Reset token configuration.
const (
	ResetTokenExpiry    = time.Hour
	DefaultResetPurpose = "password-reset"
)

// ResetConfig configures ResetTokens.
type ResetConfig struct {
	Issuer  string
	Secret  []byte
	Purpose string // defaults to DefaultResetPurpose
	Clock   Clock
}

// ResetClaims are the claims of a password reset token.
type ResetClaims struct {
	UserID  string `json:"uid"`
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// ResetTokens issues and verifies stateless password reset tokens.
//
// Tokens are not persisted, so a valid token can be redeemed more than once
// until it expires.
type ResetTokens struct {
	issuer  string
	secret  []byte
	purpose string
	clock   Clock
}

// NewResetTokens validates cfg and creates ResetTokens.
func NewResetTokens(cfg ResetConfig) (*ResetTokens, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").
			With("min_length", MinSecretLength).
			Errorf("reset secret too short")
	}
	purpose := cfg.Purpose
	if purpose == "" {
		purpose = DefaultResetPurpose
	}
	return &ResetTokens{
		issuer:  cfg.Issuer,
		secret:  cfg.Secret,
		purpose: purpose,
		clock:   clockOrSystem(cfg.Clock),
	}, nil
}

// Issue mints a reset token for userID valid for ResetTokenExpiry.
func (r *ResetTokens) Issue(userID ulid.ULID) (string, time.Time, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return "", time.Time{}, oops.Code("RESET_INVALID_USER").Errorf("user ID cannot be zero")
	}
	now := r.clock.Now().Truncate(time.Second)
	exp := now.Add(ResetTokenExpiry)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &ResetClaims{
		UserID:  userID.String(),
		Purpose: r.purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    r.issuer,
			Subject:   userID.String(),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	signed, err := token.SignedString(r.secret)
	if err != nil {
		return "", time.Time{}, oops.Code("TOKEN_SIGN_FAILED").With("type", r.purpose).Wrap(err)
	}
	return signed, exp, nil
}

// Verify checks signature, purpose and expiry and returns the embedded user ID.
// Callers must still confirm the user exists and is active.
func (r *ResetTokens) Verify(token string) (ulid.ULID, error) {
	claims := &ResetClaims{}
	if err := parseSigned(token, claims, r.secret, r.issuer, r.clock); err != nil {
		return ulid.ULID{}, err
	}
	if claims.Purpose != r.purpose {
		return ulid.ULID{}, errTokenInvalid("wrong purpose")
	}
	id, err := ulid.Parse(claims.UserID)
	if err != nil {
		return ulid.ULID{}, errTokenInvalid("malformed subject")
	}
	return id, nil
}
