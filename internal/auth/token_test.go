// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package auth_test

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authcore/authcore/internal/auth"
	"github.com/authcore/authcore/pkg/errutil"
)

func newTestIssuer(t *testing.T, clock auth.Clock) *auth.TokenIssuer {
	t.Helper()
	issuer, err := auth.NewTokenIssuer(auth.TokenConfig{
		Issuer:        "authcore-test",
		AccessSecret:  accessSecret,
		RefreshSecret: refreshSecret,
		Clock:         clock,
	})
	require.NoError(t, err)
	return issuer
}

func testUser(t *testing.T) *auth.User {
	t.Helper()
	user, err := auth.NewUser("User@X.test", "$argon2id$placeholder", auth.RoleClient, time.Now())
	require.NoError(t, err)
	return user
}

func TestNewTokenIssuer_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  auth.TokenConfig
		msg  string
	}{
		{"short access secret", auth.TokenConfig{AccessSecret: []byte("short")}, "access secret too short"},
		{"short refresh secret", auth.TokenConfig{AccessSecret: accessSecret, RefreshSecret: []byte("short")}, "refresh secret too short"},
		{
			"refresh ttl not above access ttl",
			auth.TokenConfig{AccessSecret: accessSecret, AccessTTL: time.Hour, RefreshTTL: time.Hour},
			"must exceed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issuer, err := auth.NewTokenIssuer(tt.cfg)
			require.Error(t, err)
			assert.Nil(t, issuer)
			errutil.AssertErrorCode(t, err, "TOKEN_CONFIG_INVALID")
			assert.Contains(t, err.Error(), tt.msg)
		})
	}

	t.Run("refresh secret falls back to access secret", func(t *testing.T) {
		issuer, err := auth.NewTokenIssuer(auth.TokenConfig{AccessSecret: accessSecret})
		require.NoError(t, err)

		pair, err := issuer.IssuePair(testUser(t))
		require.NoError(t, err)
		_, err = issuer.VerifyRefresh(pair.RefreshToken)
		assert.NoError(t, err)
	})
}

func TestTokenIssuer_IssuePair(t *testing.T) {
	clock := newFakeClock()
	issuer := newTestIssuer(t, clock)
	user := testUser(t)

	pair, err := issuer.IssuePair(user)
	require.NoError(t, err)

	assert.Equal(t, clock.Now().Add(auth.DefaultAccessTokenTTL), pair.AccessExpiresAt)
	assert.Equal(t, clock.Now().Add(auth.DefaultRefreshTokenTTL), pair.RefreshExpiresAt)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	t.Run("access token carries identity", func(t *testing.T) {
		principal, err := issuer.VerifyAccess(pair.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, user.ID, principal.UserID)
		assert.Equal(t, "user@x.test", principal.Email)
		assert.Equal(t, auth.RoleClient, principal.Role)
	})

	t.Run("refresh token carries user id", func(t *testing.T) {
		claims, err := issuer.VerifyRefresh(pair.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, user.ID.String(), claims.UserID)
		assert.Equal(t, auth.TokenTypeRefresh, claims.Type)
		assert.NotEmpty(t, claims.ID)
	})

	t.Run("two pairs never share a refresh token", func(t *testing.T) {
		other, err := issuer.IssuePair(user)
		require.NoError(t, err)
		assert.NotEqual(t, pair.RefreshToken, other.RefreshToken)
	})
}

func TestTokenIssuer_VerifyFailures(t *testing.T) {
	clock := newFakeClock()
	issuer := newTestIssuer(t, clock)
	user := testUser(t)
	pair, err := issuer.IssuePair(user)
	require.NoError(t, err)

	t.Run("refresh token is not an access token", func(t *testing.T) {
		_, err := issuer.VerifyAccess(pair.RefreshToken)
		errutil.AssertErrorCode(t, err, auth.CodeTokenInvalid)
	})

	t.Run("access token is not a refresh token", func(t *testing.T) {
		_, err := issuer.VerifyRefresh(pair.AccessToken)
		errutil.AssertErrorCode(t, err, auth.CodeTokenInvalid)
	})

	t.Run("tampered signature", func(t *testing.T) {
		tampered := pair.AccessToken[:strings.LastIndex(pair.AccessToken, ".")+1] + "AAAA"
		_, err := issuer.VerifyAccess(tampered)
		errutil.AssertErrorCode(t, err, auth.CodeTokenInvalid)
	})

	t.Run("empty and garbage tokens", func(t *testing.T) {
		_, err := issuer.VerifyAccess("")
		errutil.AssertErrorCode(t, err, auth.CodeTokenInvalid)
		_, err = issuer.VerifyAccess("not.a.jwt")
		errutil.AssertErrorCode(t, err, auth.CodeTokenInvalid)
	})

	t.Run("foreign issuer", func(t *testing.T) {
		other, err := auth.NewTokenIssuer(auth.TokenConfig{Issuer: "someone-else", AccessSecret: accessSecret, Clock: clock})
		require.NoError(t, err)
		foreign, err := other.IssuePair(user)
		require.NoError(t, err)
		_, err = issuer.VerifyAccess(foreign.AccessToken)
		errutil.AssertErrorCode(t, err, auth.CodeTokenInvalid)
	})

	t.Run("none algorithm is rejected", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, &auth.AccessClaims{
			UserID: user.ID.String(),
			Type:   auth.TokenTypeAccess,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "authcore-test",
				ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
			},
		})
		unsigned, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = issuer.VerifyAccess(unsigned)
		errutil.AssertErrorCode(t, err, auth.CodeTokenInvalid)
	})

	t.Run("malformed subject", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.AccessClaims{
			UserID: "not-a-ulid",
			Type:   auth.TokenTypeAccess,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "authcore-test",
				ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
			},
		})
		signed, err := token.SignedString(accessSecret)
		require.NoError(t, err)
		_, err = issuer.VerifyAccess(signed)
		errutil.AssertErrorCode(t, err, auth.CodeTokenInvalid)
	})

	t.Run("expired access token", func(t *testing.T) {
		expiring := newFakeClock()
		short := newTestIssuer(t, expiring)
		fresh, err := short.IssuePair(&auth.User{ID: ulid.Make(), Email: "a@x.test", Role: auth.RoleAdmin})
		require.NoError(t, err)

		expiring.Advance(auth.DefaultAccessTokenTTL + time.Second)
		_, err = short.VerifyAccess(fresh.AccessToken)
		errutil.AssertErrorCode(t, err, auth.CodeTokenExpired)

		// refresh token outlives the access token
		_, err = short.VerifyRefresh(fresh.RefreshToken)
		assert.NoError(t, err)

		expiring.Advance(auth.DefaultRefreshTokenTTL)
		_, err = short.VerifyRefresh(fresh.RefreshToken)
		errutil.AssertErrorCode(t, err, auth.CodeTokenExpired)
	})
}
