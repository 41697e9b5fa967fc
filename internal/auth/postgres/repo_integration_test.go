// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/authcore/authcore/internal/auth"
	"github.com/authcore/authcore/internal/auth/postgres"
)

// Postgres keeps microseconds; truncate so round trips compare equal.
func pgNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func createUser(ctx context.Context, users *postgres.UserRepository, email string) *auth.User {
	user, err := auth.NewUser(email, "hash", auth.RoleClient, pgNow())
	Expect(err).NotTo(HaveOccurred())
	Expect(users.Create(ctx, user)).To(Succeed())
	DeferCleanup(func() {
		_, _ = testPool.Exec(context.Background(), `DELETE FROM users WHERE id = $1`, user.ID.String())
	})
	return user
}

func createSession(ctx context.Context, sessions *postgres.SessionRepository, userID ulid.ULID, token string, now time.Time) *auth.RefreshSession {
	s, err := auth.NewRefreshSession(userID, auth.HashToken(token), auth.SessionMeta{UserAgent: "ginkgo"}, now, now.Add(time.Hour))
	Expect(err).NotTo(HaveOccurred())
	Expect(sessions.Create(ctx, s)).To(Succeed())
	return s
}

var _ = Describe("UserRepository", func() {
	var (
		ctx   context.Context
		users *postgres.UserRepository
	)

	BeforeEach(func() {
		ctx = context.Background()
		users = postgres.NewUserRepository(testPool)
	})

	It("round-trips a user", func() {
		user := createUser(ctx, users, "roundtrip@example.test")

		got, err := users.GetByID(ctx, user.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Email).To(Equal(user.Email))
		Expect(got.Role).To(Equal(auth.RoleClient))
		Expect(got.Active).To(BeTrue())
		Expect(got.CreatedAt).To(BeTemporally("==", user.CreatedAt))
	})

	It("rejects a second account with the same email in another case", func() {
		createUser(ctx, users, "dup@example.test")

		other, err := auth.NewUser("dup@example.test", "hash", auth.RoleClient, pgNow())
		Expect(err).NotTo(HaveOccurred())
		other.Email = "DUP@example.test"
		Expect(users.Create(ctx, other)).To(MatchError(auth.ErrDuplicate))
	})

	It("looks up email case-insensitively", func() {
		user := createUser(ctx, users, "mixed@example.test")

		got, err := users.GetByEmail(ctx, "Mixed@Example.Test")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ID).To(Equal(user.ID))
	})

	It("counts concurrent login failures atomically", func() {
		user := createUser(ctx, users, "lockout@example.test")
		now := pgNow()
		policy := auth.LockoutPolicy{Threshold: 3, Duration: time.Minute}

		const attempts = 10
		var wg sync.WaitGroup
		for range attempts {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_, err := users.RecordLoginFailure(ctx, user.ID, now, policy)
				Expect(err).NotTo(HaveOccurred())
			}()
		}
		wg.Wait()

		got, err := users.GetByID(ctx, user.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.FailedAttempts).To(Equal(attempts))
		Expect(got.IsLockedAt(now)).To(BeTrue())
		Expect(got.LockedUntil).To(HaveValue(BeTemporally("==", now.Add(time.Minute))))

		Expect(users.RecordLoginSuccess(ctx, user.ID, now)).To(Succeed())
		got, err = users.GetByID(ctx, user.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.FailedAttempts).To(BeZero())
		Expect(got.LockedUntil).To(BeNil())
		Expect(got.LastLoginAt).To(HaveValue(BeTemporally("==", now)))
	})

	It("updates the password hash and stamps the change", func() {
		user := createUser(ctx, users, "pw@example.test")
		now := pgNow()
		_, err := users.RecordLoginFailure(ctx, user.ID, now, auth.LockoutPolicy{Threshold: 1, Duration: time.Minute})
		Expect(err).NotTo(HaveOccurred())

		Expect(users.UpdatePassword(ctx, user.ID, "new-hash", now)).To(Succeed())

		got, err := users.GetByID(ctx, user.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.PasswordHash).To(Equal("new-hash"))
		Expect(got.Email).To(Equal(user.Email))
		Expect(got.PasswordChangedAt).To(HaveValue(BeTemporally("==", now)))
		Expect(got.FailedAttempts).To(BeZero())
		Expect(got.LockedUntil).To(BeNil())
	})

	It("upgrades a hash only while it is still stored", func() {
		user := createUser(ctx, users, "upgrade@example.test")
		Expect(users.UpdatePassword(ctx, user.ID, "changed-hash", pgNow())).To(Succeed())

		swapped, err := users.UpgradePasswordHash(ctx, user.ID, "hash", "rehashed")
		Expect(err).NotTo(HaveOccurred())
		Expect(swapped).To(BeFalse())

		swapped, err = users.UpgradePasswordHash(ctx, user.ID, "changed-hash", "rehashed")
		Expect(err).NotTo(HaveOccurred())
		Expect(swapped).To(BeTrue())
	})

	It("leaves credentials alone on profile updates", func() {
		user := createUser(ctx, users, "profile@example.test")
		Expect(users.UpdatePassword(ctx, user.ID, "newer-hash", pgNow())).To(Succeed())

		user.Active = false
		Expect(users.Update(ctx, user)).To(Succeed())

		got, err := users.GetByID(ctx, user.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Active).To(BeFalse())
		Expect(got.PasswordHash).To(Equal("newer-hash"))
	})

	It("reports unknown users as not found", func() {
		_, err := users.GetByID(ctx, ulid.Make())
		Expect(err).To(MatchError(auth.ErrNotFound))
		Expect(users.UpdatePassword(ctx, ulid.Make(), "x", pgNow())).To(MatchError(auth.ErrNotFound))
		_, err = users.RecordLoginFailure(ctx, ulid.Make(), pgNow(), auth.DefaultLockoutPolicy())
		Expect(err).To(MatchError(auth.ErrNotFound))
		Expect(users.RecordLoginSuccess(ctx, ulid.Make(), pgNow())).To(MatchError(auth.ErrNotFound))
	})
})

var _ = Describe("SessionRepository", func() {
	var (
		ctx      context.Context
		sessions *postgres.SessionRepository
		user     *auth.User
		now      time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		sessions = postgres.NewSessionRepository(testPool)
		user = createUser(ctx, postgres.NewUserRepository(testPool), ulid.Make().String()+"@example.test")
		now = pgNow()
	})

	It("revokes an active session exactly once", func() {
		s := createSession(ctx, sessions, user.ID, "once", now)

		got, err := sessions.RevokeActive(ctx, s.TokenHash, now)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ID).To(Equal(s.ID))
		Expect(got.RevokedAt).NotTo(BeNil())

		_, err = sessions.RevokeActive(ctx, s.TokenHash, now)
		Expect(err).To(MatchError(auth.ErrNotFound))
	})

	It("lets only one concurrent caller consume a token", func() {
		s := createSession(ctx, sessions, user.ID, "race", now)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer GinkgoRecover()
				if _, err := sessions.RevokeActive(ctx, s.TokenHash, now); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		Expect(wins.Load()).To(Equal(int32(1)))
	})

	It("does not revoke expired sessions", func() {
		s := createSession(ctx, sessions, user.ID, "stale", now)

		_, err := sessions.RevokeActive(ctx, s.TokenHash, now.Add(2*time.Hour))
		Expect(err).To(MatchError(auth.ErrNotFound))
	})

	It("lists active sessions newest first and links rotations", func() {
		first := createSession(ctx, sessions, user.ID, "first", now.Add(-time.Minute))
		second := createSession(ctx, sessions, user.ID, "second", now)

		active, err := sessions.ListActiveByUser(ctx, user.ID, now)
		Expect(err).NotTo(HaveOccurred())
		Expect(active).To(HaveLen(2))
		Expect(active[0].ID).To(Equal(second.ID))

		Expect(sessions.SetReplacedBy(ctx, first.ID, second.ID)).To(Succeed())
		got, err := sessions.GetByTokenHash(ctx, first.TokenHash)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ReplacedBy).To(HaveValue(Equal(second.ID)))
	})

	It("revokes by id only for the owner", func() {
		s := createSession(ctx, sessions, user.ID, "device", now)

		Expect(sessions.RevokeByID(ctx, ulid.Make(), s.ID, now)).To(MatchError(auth.ErrNotFound))
		Expect(sessions.RevokeByID(ctx, user.ID, s.ID, now)).To(Succeed())
		Expect(sessions.RevokeByID(ctx, user.ID, s.ID, now)).To(MatchError(auth.ErrNotFound))
	})

	It("revokes all sessions of a user and deletes expired ones", func() {
		createSession(ctx, sessions, user.ID, "a", now)
		createSession(ctx, sessions, user.ID, "b", now)

		n, err := sessions.RevokeAllByUser(ctx, user.ID, now)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(int64(2)))

		deleted, err := sessions.DeleteExpired(ctx, now.Add(2*time.Hour))
		Expect(err).NotTo(HaveOccurred())
		Expect(deleted).To(BeNumerically(">=", 2))
	})
})
