// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package auth_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/authcore/authcore/internal/auth"
	"github.com/authcore/authcore/internal/auth/memory"
	"github.com/authcore/authcore/internal/auth/mocks"
	"github.com/authcore/authcore/pkg/errutil"
)

// gatedHasher blocks Verify calls for one password until released.
type gatedHasher struct {
	auth.PasswordHasher
	password string
	once     sync.Once
	entered  chan struct{}
	release  chan struct{}
}

func newGatedHasher(password string) *gatedHasher {
	return &gatedHasher{
		PasswordHasher: auth.NewArgon2idHasherWithParams(cheapParams),
		password:       password,
		entered:        make(chan struct{}),
		release:        make(chan struct{}),
	}
}

func (h *gatedHasher) Verify(password, digest string) (bool, error) {
	ok, err := h.PasswordHasher.Verify(password, digest)
	if password == h.password {
		h.once.Do(func() { close(h.entered) })
		<-h.release
	}
	return ok, err
}

// gatedSessions blocks the first Create after arm until released.
type gatedSessions struct {
	*memory.SessionRepository
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newGatedSessions() *gatedSessions {
	return &gatedSessions{
		SessionRepository: memory.NewSessionRepository(),
		entered:           make(chan struct{}),
		release:           make(chan struct{}),
	}
}

func (g *gatedSessions) arm() { g.armed.Store(true) }

func (g *gatedSessions) Create(ctx context.Context, session *auth.RefreshSession) error {
	if g.armed.CompareAndSwap(true, false) {
		close(g.entered)
		<-g.release
	}
	return g.SessionRepository.Create(ctx, session)
}

func withHasher(h auth.PasswordHasher) envOption {
	return func(_ *testEnv, deps *auth.Deps) { deps.Hasher = h }
}

func withSessions(g *gatedSessions) envOption {
	return func(env *testEnv, deps *auth.Deps) {
		env.sessions = g.SessionRepository
		deps.Sessions = g
	}
}

func TestService_FailedLoginKeepsConcurrentPasswordChange(t *testing.T) {
	ctx := context.Background()
	hasher := newGatedHasher("wrong-password")
	env := newTestEnv(t, withHasher(hasher))
	registered := env.register(t, "user@x.test", "old-password")
	principal := principalOf(t, env.svc, registered)

	done := make(chan error, 1)
	go func() {
		_, err := env.svc.Login(ctx, "user@x.test", "wrong-password", auth.SessionMeta{})
		done <- err
	}()

	// the login has already read the old digest
	<-hasher.entered
	require.NoError(t, env.svc.ChangePassword(ctx, principal, "old-password", "new-password"))
	close(hasher.release)
	errutil.AssertErrorCode(t, <-done, auth.CodeInvalidCredentials)

	_, err := env.svc.Login(ctx, "user@x.test", "new-password", auth.SessionMeta{})
	require.NoError(t, err)
	_, err = env.svc.Login(ctx, "user@x.test", "old-password", auth.SessionMeta{})
	errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)
}

func TestService_ConcurrentLoginFailuresAreAllCounted(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	registered := env.register(t, "user@x.test", "password123")

	const attempts = 8
	var wg sync.WaitGroup
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Login(ctx, "user@x.test", "wrong-password", auth.SessionMeta{})
			errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)
		}()
	}
	wg.Wait()

	user, err := env.users.GetByID(ctx, principalOf(t, env.svc, registered).UserID)
	require.NoError(t, err)
	assert.Equal(t, attempts, user.FailedAttempts)
	require.NotNil(t, user.LockedUntil)
	assert.True(t, user.LockedUntil.Equal(env.clock.Now().Add(15*time.Minute)))

	_, err = env.svc.Login(ctx, "user@x.test", "password123", auth.SessionMeta{})
	errutil.AssertErrorCode(t, err, auth.CodeAccountLocked)
}

func TestService_RefreshOvertakenByPasswordChange(t *testing.T) {
	ctx := context.Background()
	sessions := newGatedSessions()
	env := newTestEnv(t, withSessions(sessions))
	registered := env.register(t, "user@x.test", "old-password")
	principal := principalOf(t, env.svc, registered)

	type outcome struct {
		result *auth.AuthResult
		err    error
	}
	sessions.arm()
	done := make(chan outcome, 1)
	go func() {
		result, err := env.refresh(ctx, registered.RefreshToken)
		done <- outcome{result, err}
	}()

	// the old session is consumed; the new one is not stored yet
	<-sessions.entered
	env.clock.Advance(time.Second)
	require.NoError(t, env.svc.ChangePassword(ctx, principal, "old-password", "new-password"))
	close(sessions.release)

	got := <-done
	errutil.AssertErrorCode(t, got.err, auth.CodeRefreshFailed)
	assert.Nil(t, got.result)

	active, err := env.svc.Sessions(ctx, principal)
	require.NoError(t, err)
	assert.Empty(t, active, "no session outlives the password change")
}

func TestService_RefreshAfterPasswordChangeStillWorks(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	registered := env.register(t, "user@x.test", "old-password")

	env.clock.Advance(time.Minute)
	require.NoError(t, env.svc.ChangePassword(ctx, principalOf(t, env.svc, registered), "old-password", "new-password"))

	env.clock.Advance(time.Minute)
	login, err := env.svc.Login(ctx, "user@x.test", "new-password", auth.SessionMeta{})
	require.NoError(t, err)
	_, err = env.refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
}

func TestService_LegacyHashUpgradeYieldsToNewerPassword(t *testing.T) {
	ctx := context.Background()
	users := mocks.NewMockUserRepository(t)
	svc, err := auth.NewService(testConfig(nil), auth.Deps{
		Users:    users,
		Sessions: memory.NewSessionRepository(),
		Hasher:   auth.NewArgon2idHasherWithParams(cheapParams),
		Notifier: &captureNotifier{},
		Logger:   quietLogger(),
	})
	require.NoError(t, err)

	digest, err := bcrypt.GenerateFromPassword([]byte("legacy-password"), bcrypt.MinCost)
	require.NoError(t, err)
	hash := string(digest)
	user, err := auth.NewUser("legacy@x.test", hash, auth.RoleClient, time.Now())
	require.NoError(t, err)

	users.On("GetByEmail", ctx, "legacy@x.test").Return(user, nil)
	users.On("GetByID", ctx, user.ID).Return(user, nil)
	users.On("RecordLoginSuccess", ctx, user.ID, mock.AnythingOfType("time.Time")).Return(nil)
	users.On("UpgradePasswordHash", ctx, user.ID, hash, mock.AnythingOfType("string")).Return(false, nil)

	result, err := svc.Login(ctx, "legacy@x.test", "legacy-password", auth.SessionMeta{})
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), result.User.ID)
	users.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestNewService_DummyHashUsesConfiguredHasher(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown emails verify against the hasher's own digest", func(t *testing.T) {
		hasher := mocks.NewMockPasswordHasher(t)
		hasher.On("Hash", mock.AnythingOfType("string")).Return("$custom$dummy", nil).Once()
		hasher.On("Verify", "password123", "$custom$dummy").Return(false, nil).Once()

		svc, err := auth.NewService(testConfig(nil), auth.Deps{
			Users:    memory.NewUserRepository(),
			Sessions: memory.NewSessionRepository(),
			Hasher:   hasher,
			Notifier: &captureNotifier{},
			Logger:   quietLogger(),
		})
		require.NoError(t, err)

		_, err = svc.Login(ctx, "nobody@x.test", "password123", auth.SessionMeta{})
		errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)
	})

	t.Run("hasher failure rejects the service", func(t *testing.T) {
		hasher := mocks.NewMockPasswordHasher(t)
		hasher.On("Hash", mock.AnythingOfType("string")).Return("", errors.New("out of memory"))

		_, err := auth.NewService(testConfig(nil), auth.Deps{
			Users:    memory.NewUserRepository(),
			Sessions: memory.NewSessionRepository(),
			Hasher:   hasher,
			Notifier: &captureNotifier{},
			Logger:   quietLogger(),
		})
		errutil.AssertErrorCode(t, err, "AUTH_SERVICE_INVALID")
	})
}
