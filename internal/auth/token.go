// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Default token lifetimes.
const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// MinSecretLength is the minimum accepted HMAC secret length in bytes.
const MinSecretLength = 32

// Token type discriminators carried in the typ claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// TokenConfig configures a TokenIssuer.
type TokenConfig struct {
	Issuer        string
	AccessSecret  []byte
	RefreshSecret []byte // falls back to AccessSecret when empty
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Clock         Clock
}

// AccessClaims are the claims of an access token.
type AccessClaims struct {
	UserID string `json:"uid"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
	Type   string `json:"typ"`
	jwt.RegisteredClaims
}

// RefreshClaims are the claims of a refresh token.
type RefreshClaims struct {
	UserID string `json:"uid"`
	Type   string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenPair is an access token and its companion refresh token.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Principal is an identity proven by a verified access token.
type Principal struct {
	UserID ulid.ULID
	Email  string
	Role   Role
}

// TokenIssuer mints and verifies access and refresh tokens.
type TokenIssuer struct {
	issuer        string
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	clock         Clock
}

// NewTokenIssuer validates cfg and creates a TokenIssuer.
func NewTokenIssuer(cfg TokenConfig) (*TokenIssuer, error) {
	if len(cfg.AccessSecret) < MinSecretLength {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").
			With("min_length", MinSecretLength).
			Errorf("access secret too short")
	}
	refreshSecret := cfg.RefreshSecret
	if len(refreshSecret) == 0 {
		refreshSecret = cfg.AccessSecret
	}
	if len(refreshSecret) < MinSecretLength {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").
			With("min_length", MinSecretLength).
			Errorf("refresh secret too short")
	}
	accessTTL := cfg.AccessTTL
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTokenTTL
	}
	refreshTTL := cfg.RefreshTTL
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTokenTTL
	}
	if refreshTTL <= accessTTL {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").
			With("access_ttl", accessTTL.String()).
			With("refresh_ttl", refreshTTL.String()).
			Errorf("refresh token TTL must exceed access token TTL")
	}
	return &TokenIssuer{
		issuer:        cfg.Issuer,
		accessSecret:  cfg.AccessSecret,
		refreshSecret: refreshSecret,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		clock:         clockOrSystem(cfg.Clock),
	}, nil
}

// IssuePair mints a fresh access/refresh token pair for user.
// The refresh token is not yet bound to a session.
func (i *TokenIssuer) IssuePair(user *User) (TokenPair, error) {
	// JWT numeric dates have second precision
	now := i.clock.Now().Truncate(time.Second)
	accessExp := now.Add(i.accessTTL)
	refreshExp := now.Add(i.refreshTTL)

	access := jwt.NewWithClaims(jwt.SigningMethodHS256, &AccessClaims{
		UserID:           user.ID.String(),
		Email:            user.Email,
		Role:             user.Role,
		Type:             TokenTypeAccess,
		RegisteredClaims: i.registered(user.ID, now, accessExp),
	})
	accessStr, err := access.SignedString(i.accessSecret)
	if err != nil {
		return TokenPair{}, oops.Code("TOKEN_SIGN_FAILED").With("type", TokenTypeAccess).Wrap(err)
	}

	refresh := jwt.NewWithClaims(jwt.SigningMethodHS256, &RefreshClaims{
		UserID:           user.ID.String(),
		Type:             TokenTypeRefresh,
		RegisteredClaims: i.registered(user.ID, now, refreshExp),
	})
	refreshStr, err := refresh.SignedString(i.refreshSecret)
	if err != nil {
		return TokenPair{}, oops.Code("TOKEN_SIGN_FAILED").With("type", TokenTypeRefresh).Wrap(err)
	}

	return TokenPair{
		AccessToken:      accessStr,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refreshStr,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// VerifyAccess verifies an access token and returns its principal.
func (i *TokenIssuer) VerifyAccess(token string) (*Principal, error) {
	claims := &AccessClaims{}
	if err := i.parse(token, claims, i.accessSecret); err != nil {
		return nil, err
	}
	if claims.Type != TokenTypeAccess {
		return nil, errTokenInvalid("not an access token")
	}
	id, err := ulid.Parse(claims.UserID)
	if err != nil {
		return nil, errTokenInvalid("malformed subject")
	}
	return &Principal{UserID: id, Email: claims.Email, Role: claims.Role}, nil
}

// VerifyRefresh verifies a refresh token's signature, type and expiry.
// Whether the token's session is still active is a SessionStore concern.
func (i *TokenIssuer) VerifyRefresh(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := i.parse(token, claims, i.refreshSecret); err != nil {
		return nil, err
	}
	if claims.Type != TokenTypeRefresh {
		return nil, errTokenInvalid("not a refresh token")
	}
	if _, err := ulid.Parse(claims.UserID); err != nil {
		return nil, errTokenInvalid("malformed subject")
	}
	return claims, nil
}

func (i *TokenIssuer) registered(userID ulid.ULID, now, exp time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    i.issuer,
		Subject:   userID.String(),
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
}

func (i *TokenIssuer) parse(token string, claims jwt.Claims, secret []byte) error {
	return parseSigned(token, claims, secret, i.issuer, i.clock)
}

// parseSigned verifies an HS256 token into claims, mapping failures to
// TOKEN_EXPIRED or TOKEN_INVALID.
func parseSigned(token string, claims jwt.Claims, secret []byte, issuer string, clock Clock) error {
	if token == "" {
		return errTokenInvalid("empty token")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(clock.Now),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	_, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return errTokenExpired()
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return errTokenInvalid("bad signature")
	default:
		return oops.Code(CodeTokenInvalid).With("reason", err.Error()).Errorf("invalid token")
	}
}
