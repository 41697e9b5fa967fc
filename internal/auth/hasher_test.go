// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package auth_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/authcore/authcore/internal/auth"
	"github.com/authcore/authcore/pkg/errutil"
)

var cheapParams = auth.Argon2Params{Time: 1, Memory: 1024, Threads: 1, SaltLen: 16, KeyLen: 32}

func TestHashPassword(t *testing.T) {
	hasher := auth.NewArgon2idHasherWithParams(cheapParams)

	t.Run("produces PHC encoded argon2id hash", func(t *testing.T) {
		hash, err := hasher.Hash("password123")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=1024,t=1,p=1$"))
	})

	t.Run("same password produces different hashes (salt)", func(t *testing.T) {
		hash1, err := hasher.Hash("samepassword")
		require.NoError(t, err)
		hash2, err := hasher.Hash("samepassword")
		require.NoError(t, err)
		assert.NotEqual(t, hash1, hash2)
	})

	t.Run("rejects empty password", func(t *testing.T) {
		_, err := hasher.Hash("")
		assert.ErrorIs(t, err, auth.ErrEmptyPassword)
	})
}

func TestVerifyPassword(t *testing.T) {
	hasher := auth.NewArgon2idHasherWithParams(cheapParams)

	t.Run("correct password verifies", func(t *testing.T) {
		hash, err := hasher.Hash("correctpassword")
		require.NoError(t, err)

		ok, err := hasher.Verify("correctpassword", hash)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("incorrect password fails", func(t *testing.T) {
		hash, err := hasher.Hash("correctpassword")
		require.NoError(t, err)

		ok, err := hasher.Verify("wrongpassword", hash)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("hash from other params still verifies", func(t *testing.T) {
		other := auth.NewArgon2idHasherWithParams(auth.Argon2Params{Time: 2, Memory: 2048, Threads: 2, SaltLen: 8, KeyLen: 16})
		hash, err := other.Hash("correctpassword")
		require.NoError(t, err)

		ok, err := hasher.Verify("correctpassword", hash)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	malformed := []struct {
		name   string
		digest string
		msg    string
	}{
		{"not a hash", "not-a-valid-hash", "invalid hash format"},
		{"wrong algorithm", "$argon2i$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA", "unsupported hash algorithm"},
		{"invalid version format", "$argon2id$vXX$m=65536,t=1,p=4$c2FsdA$aGFzaA", ""},
		{"unsupported version", "$argon2id$v=16$m=65536,t=1,p=4$c2FsdA$aGFzaA", "unsupported argon2 version"},
		{"invalid parameters format", "$argon2id$v=19$invalid$c2FsdA$aGFzaA", ""},
		{"invalid salt base64", "$argon2id$v=19$m=65536,t=1,p=4$!!!invalid!!!$aGFzaA", ""},
		{"invalid hash base64", "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$!!!invalid!!!", ""},
		{"threads overflow", "$argon2id$v=19$m=65536,t=1,p=256$c2FsdA$aGFzaA", "threads value"},
		{"memory above cap", "$argon2id$v=19$m=4294967295,t=1,p=4$c2FsdA$aGFzaA", "out of range"},
		{"time above cap", "$argon2id$v=19$m=1024,t=1000,p=4$c2FsdA$aGFzaA", "out of range"},
		{"empty key", "$argon2id$v=19$m=1024,t=1,p=1$c2FsdA$", "key length"},
	}
	for _, tt := range malformed {
		t.Run(tt.name+" returns error", func(t *testing.T) {
			ok, err := hasher.Verify("password", tt.digest)
			require.Error(t, err)
			assert.False(t, ok)
			errutil.AssertErrorCode(t, err, "AUTH_INVALID_HASH")
			if tt.msg != "" {
				assert.Contains(t, err.Error(), tt.msg)
			}
		})
	}
}

func TestVerifyBcrypt(t *testing.T) {
	hasher := auth.NewArgon2idHasherWithParams(cheapParams)
	legacy, err := bcrypt.GenerateFromPassword([]byte("legacy-password"), bcrypt.MinCost)
	require.NoError(t, err)

	t.Run("verifies legacy digest", func(t *testing.T) {
		ok, err := hasher.Verify("legacy-password", string(legacy))
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("rejects wrong password without error", func(t *testing.T) {
		ok, err := hasher.Verify("other-password", string(legacy))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("truncated bcrypt digest is an error", func(t *testing.T) {
		ok, err := hasher.Verify("legacy-password", "$2a$10$short")
		require.Error(t, err)
		assert.False(t, ok)
	})
}

func TestNeedsUpgrade(t *testing.T) {
	hasher := auth.NewArgon2idHasherWithParams(cheapParams)

	t.Run("bcrypt digest needs upgrade", func(t *testing.T) {
		assert.True(t, hasher.NeedsUpgrade("$2a$10$N9qo8uLOickgx2ZMRZoMyeIvNq.Uf3hE9tQALNP1Qn9sNp5x5x5x5"))
	})

	t.Run("current argon2id hash does not need upgrade", func(t *testing.T) {
		hash, err := hasher.Hash("password")
		require.NoError(t, err)
		assert.False(t, hasher.NeedsUpgrade(hash))
	})

	t.Run("argon2id hash with old params needs upgrade", func(t *testing.T) {
		old := auth.NewArgon2idHasherWithParams(auth.Argon2Params{Time: 2, Memory: 1024, Threads: 1, SaltLen: 16, KeyLen: 32})
		hash, err := old.Hash("password")
		require.NoError(t, err)
		assert.True(t, hasher.NeedsUpgrade(hash))
	})

	t.Run("garbage needs upgrade", func(t *testing.T) {
		assert.True(t, hasher.NeedsUpgrade("$argon2id$garbage"))
	})
}
