// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/authcore/authcore/pkg/errutil"
)

var tracer = otel.Tracer("authcore/auth")

// ForgotPasswordMessage is returned by ForgotPassword for every input.
const ForgotPasswordMessage = "If an account exists for that email, a password reset link has been sent."

// ResetNotifier delivers password reset links.
type ResetNotifier interface {
	SendPasswordReset(ctx context.Context, user *User, token string, expiresAt time.Time) error
}

// Config is the immutable configuration of a Service.
type Config struct {
	Issuer        string
	AccessSecret  []byte
	RefreshSecret []byte
	ResetSecret   []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	ResetPurpose  string
	Lockout       LockoutPolicy
	DefaultRole   Role // defaults to RoleClient
	Clock         Clock
}

// Deps are the collaborators of a Service.
type Deps struct {
	Users    UserRepository
	Sessions SessionRepository
	Hasher   PasswordHasher
	Notifier ResetNotifier
	Recorder Recorder     // optional
	Logger   *slog.Logger // optional
}

// AuthResult is the outcome of a flow that starts a session.
// RefreshToken is meant to travel out of band, typically as a cookie.
type AuthResult struct {
	User      UserView
	SessionID ulid.ULID
	TokenPair
}

// RefreshGrant is a refresh token that has already passed signature and
// expiry checks, together with the user it belongs to.
type RefreshGrant struct {
	Token string
	User  *User
}

// LogoutRequest carries whatever credentials a client presented at logout.
// Both fields are optional.
type LogoutRequest struct {
	RefreshToken string
	Principal    *Principal
}

// LogoutOutcome reports what a logout cleaned up.
type LogoutOutcome struct {
	SessionRevoked bool
	RevokedAll     int64
}

// Service orchestrates the authentication flows.
type Service struct {
	users       UserRepository
	sessions    *SessionStore
	hasher      PasswordHasher
	notifier    ResetNotifier
	tokens      *TokenIssuer
	reset       *ResetTokens
	lockout     LockoutPolicy
	defaultRole Role
	clock       Clock
	recorder    Recorder
	logger      *slog.Logger

	// dummyHash is verified when a login names an unknown email, so the
	// response costs the same as a real verification.
	dummyHash string
}

// NewService validates cfg and deps and creates a Service.
func NewService(cfg Config, deps Deps) (*Service, error) {
	switch {
	case deps.Users == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("user repository is required")
	case deps.Sessions == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("session repository is required")
	case deps.Hasher == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("password hasher is required")
	case deps.Notifier == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("reset notifier is required")
	}

	clock := clockOrSystem(cfg.Clock)
	tokens, err := NewTokenIssuer(TokenConfig{
		Issuer:        cfg.Issuer,
		AccessSecret:  cfg.AccessSecret,
		RefreshSecret: cfg.RefreshSecret,
		AccessTTL:     cfg.AccessTTL,
		RefreshTTL:    cfg.RefreshTTL,
		Clock:         clock,
	})
	if err != nil {
		return nil, err
	}
	reset, err := NewResetTokens(ResetConfig{
		Issuer:  cfg.Issuer,
		Secret:  cfg.ResetSecret,
		Purpose: cfg.ResetPurpose,
		Clock:   clock,
	})
	if err != nil {
		return nil, err
	}
	sessions, err := NewSessionStore(deps.Sessions, clock)
	if err != nil {
		return nil, err
	}

	role := cfg.DefaultRole
	if role == "" {
		role = RoleClient
	}
	if !role.Valid() {
		return nil, oops.Code("AUTH_SERVICE_INVALID").With("role", string(role)).Errorf("unknown default role")
	}

	dummyHash, err := newDummyHash(deps.Hasher)
	if err != nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").With("operation", "build dummy hash").Wrap(err)
	}

	recorder := deps.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		users:       deps.Users,
		sessions:    sessions,
		hasher:      deps.Hasher,
		notifier:    deps.Notifier,
		tokens:      tokens,
		reset:       reset,
		lockout:     cfg.Lockout,
		defaultRole: role,
		clock:       clock,
		recorder:    recorder,
		logger:      logger,
		dummyHash:   dummyHash,
	}, nil
}

// newDummyHash hashes a random secret nobody knows with the configured
// hasher, so it carries the same parameters as real digests.
func newDummyHash(hasher PasswordHasher) (string, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", oops.Code("AUTH_RANDOM_FAILED").Wrap(err)
	}
	return hasher.Hash(hex.EncodeToString(secret))
}

// Tokens returns the issuer used for access and refresh tokens.
func (s *Service) Tokens() *TokenIssuer {
	return s.tokens
}

// SessionStore returns the session store backing the service.
func (s *Service) SessionStore() *SessionStore {
	return s.sessions
}

// Register creates an account and starts its first session.
func (s *Service) Register(ctx context.Context, email, password string, meta SessionMeta) (result *AuthResult, err error) {
	ctx, span := tracer.Start(ctx, "auth.register")
	defer func() { s.finish(span, FlowRegister, err) }()

	email = NormalizeEmail(email)
	if err = ValidateEmail(email); err != nil {
		return nil, err
	}
	if err = ValidatePassword(password); err != nil {
		return nil, err
	}

	_, lookupErr := s.users.GetByEmail(ctx, email)
	switch {
	case lookupErr == nil:
		return nil, errConflict()
	case !errors.Is(lookupErr, ErrNotFound):
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "get user by email").
			Wrap(lookupErr)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "hash password").Wrap(err)
	}
	user, err := NewUser(email, hash, s.defaultRole, s.clock.Now())
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "build user").Wrap(err)
	}
	if createErr := s.users.Create(ctx, user); createErr != nil {
		if errors.Is(createErr, ErrDuplicate) {
			// lost a race with a concurrent registration
			return nil, errConflict()
		}
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "create user").Wrap(createErr)
	}
	span.SetAttributes(attribute.String("user.id", user.ID.String()))

	return s.startSession(ctx, user, meta)
}

// Login authenticates with email and password and starts a session.
// An unknown email and a wrong password produce the same error, and the
// password is verified either way so response time stays consistent.
func (s *Service) Login(ctx context.Context, email, password string, meta SessionMeta) (result *AuthResult, err error) {
	ctx, span := tracer.Start(ctx, "auth.login")
	defer func() { s.finish(span, FlowLogin, err) }()

	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, errValidation("email and password are required")
	}

	user, lookupErr := s.users.GetByEmail(ctx, email)
	targetHash := s.dummyHash
	switch {
	case lookupErr == nil:
		targetHash = user.PasswordHash
	case errors.Is(lookupErr, ErrNotFound):
		user = nil
	default:
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "get user by email").
			Wrap(lookupErr)
	}

	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil && user != nil {
		// a stored digest we cannot parse never authenticates
		errutil.LogWarn(s.logger, "stored password hash unreadable", verifyErr, "user_id", user.ID.String())
	}

	now := s.clock.Now()
	if user == nil || !valid {
		if user != nil {
			s.recordLoginFailure(ctx, user.ID, now)
		}
		return nil, errInvalidCredentials()
	}

	// lockout is checked after verification to keep timing uniform
	if user.IsLockedAt(now) {
		return nil, errAccountLocked(user.LockedUntil)
	}
	if !user.Active {
		return nil, errAccountDisabled()
	}

	// login succeeds even if the bookkeeping write fails
	if recordErr := s.users.RecordLoginSuccess(ctx, user.ID, now); recordErr != nil {
		errutil.LogWarn(s.logger, "failed to record login", recordErr, "user_id", user.ID.String())
	}
	user.RecordLogin(now)
	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		s.upgradePasswordHash(ctx, user, password)
	}
	span.SetAttributes(attribute.String("user.id", user.ID.String()))

	result, err = s.startSession(ctx, user, meta)
	if err != nil {
		return nil, err
	}
	confirmed, confirmErr := s.confirmSession(ctx, user, now, result)
	if confirmErr != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "confirm session").
			With("user_id", user.ID.String()).
			Wrap(confirmErr)
	}
	if !confirmed {
		return nil, errInvalidCredentials()
	}
	return result, nil
}

// Refresh rotates a refresh token: the presented session is consumed, then a
// new pair is issued and persisted. A token can be rotated at most once.
// Any failure after the grant is accepted returns AUTH_REFRESH_FAILED, and
// the client must log in again.
func (s *Service) Refresh(ctx context.Context, grant RefreshGrant, meta SessionMeta) (result *AuthResult, err error) {
	ctx, span := tracer.Start(ctx, "auth.refresh")
	defer func() { s.finish(span, FlowRefresh, err) }()

	if grant.Token == "" || grant.User == nil {
		return nil, errRefreshFailed("no refresh grant")
	}
	user := grant.User
	span.SetAttributes(attribute.String("user.id", user.ID.String()))
	if !user.Active {
		return nil, errAccountDisabled()
	}

	old, consumeErr := s.sessions.Consume(ctx, grant.Token)
	if consumeErr != nil {
		if errors.Is(consumeErr, ErrNotFound) {
			return nil, errRefreshFailed("session is not active")
		}
		errutil.LogError(s.logger, "failed to revoke rotated session", consumeErr)
		return nil, errRefreshFailed("could not revoke previous session")
	}
	s.recorder.SessionsRevoked(RevokeReasonRotated, 1)
	if old.UserID != user.ID {
		s.logger.WarnContext(ctx, "refresh token presented for another user",
			"session_id", old.ID.String(),
			"session_user_id", old.UserID.String(),
			"user_id", user.ID.String())
		return nil, errRefreshFailed("session does not belong to user")
	}

	if meta.UserAgent == "" {
		meta.UserAgent = old.UserAgent
	}
	if meta.IPAddress == "" {
		meta.IPAddress = old.IPAddress
	}
	result, issueErr := s.startSession(ctx, user, meta)
	if issueErr != nil {
		errutil.LogError(s.logger, "failed to issue rotated session", issueErr)
		return nil, errRefreshFailed("could not issue new session")
	}
	if linkErr := s.sessions.Link(ctx, old.ID, result.SessionID); linkErr != nil {
		errutil.LogWarn(s.logger, "failed to link rotated session", linkErr)
	}
	// a password change may have revoked everything between Consume and Save
	confirmed, confirmErr := s.confirmSession(ctx, user, old.CreatedAt, result)
	if confirmErr != nil {
		errutil.LogError(s.logger, "failed to confirm rotated session", confirmErr)
		return nil, errRefreshFailed("could not confirm new session")
	}
	if !confirmed {
		return nil, errRefreshFailed("credentials changed during refresh")
	}
	return result, nil
}

// Logout revokes whatever the request identifies: the presented refresh
// token and, when the caller is authenticated, every session of that user.
// Both are attempted; failures are logged and never returned.
func (s *Service) Logout(ctx context.Context, req LogoutRequest) LogoutOutcome {
	ctx, span := tracer.Start(ctx, "auth.logout")
	defer func() { s.finish(span, FlowLogout, nil) }()

	var result LogoutOutcome
	if req.RefreshToken != "" {
		revoked, err := s.sessions.InvalidateOne(ctx, req.RefreshToken)
		if err != nil {
			errutil.LogWarn(s.logger, "logout failed to revoke session", err)
		}
		if revoked {
			result.SessionRevoked = true
			s.recorder.SessionsRevoked(RevokeReasonLogout, 1)
		}
	}
	if req.Principal != nil {
		n, err := s.sessions.InvalidateAllForUser(ctx, req.Principal.UserID)
		if err != nil {
			errutil.LogWarn(s.logger, "logout failed to revoke user sessions", err,
				"user_id", req.Principal.UserID.String())
		}
		result.RevokedAll = n
		s.recorder.SessionsRevoked(RevokeReasonLogout, n)
	}
	span.SetAttributes(
		attribute.Bool("logout.session_revoked", result.SessionRevoked),
		attribute.Int64("logout.revoked_all", result.RevokedAll),
	)
	return result
}

// LogoutAllDevices revokes every session of the authenticated user.
func (s *Service) LogoutAllDevices(ctx context.Context, principal *Principal) (revoked int64, err error) {
	ctx, span := tracer.Start(ctx, "auth.logout_all")
	defer func() { s.finish(span, FlowLogoutAll, err) }()

	if principal == nil {
		return 0, errNotAuthenticated()
	}
	revoked, err = s.sessions.InvalidateAllForUser(ctx, principal.UserID)
	if err != nil {
		return 0, err
	}
	s.recorder.SessionsRevoked(RevokeReasonLogoutAll, revoked)
	return revoked, nil
}

// ChangePassword replaces the password of the authenticated user after
// verifying the current one, then revokes all of the user's sessions.
func (s *Service) ChangePassword(ctx context.Context, principal *Principal, currentPassword, newPassword string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.change_password")
	defer func() { s.finish(span, FlowChangePassword, err) }()

	if principal == nil {
		return errNotAuthenticated()
	}
	if currentPassword == "" {
		return errValidation("current password is required")
	}
	if err = ValidatePassword(newPassword); err != nil {
		return err
	}
	if currentPassword == newPassword {
		return errValidation("new password must differ from the current password")
	}

	user, err := s.lookupUser(ctx, principal.UserID)
	if err != nil {
		return err
	}
	valid, verifyErr := s.hasher.Verify(currentPassword, user.PasswordHash)
	if verifyErr != nil {
		errutil.LogWarn(s.logger, "stored password hash unreadable", verifyErr, "user_id", user.ID.String())
	}
	if !valid {
		return errCurrentPasswordInvalid()
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").With("operation", "hash password").Wrap(err)
	}
	if err = s.users.UpdatePassword(ctx, user.ID, hash, s.clock.Now()); err != nil {
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "update password").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	return s.revokeAfterPasswordChange(ctx, user.ID, RevokeReasonPasswordChange)
}

// ForgotPassword sends a reset link when email belongs to an active user.
// The returned message is ForgotPasswordMessage whether or not it does;
// only a malformed email is reported as an error.
func (s *Service) ForgotPassword(ctx context.Context, email string) (message string, err error) {
	ctx, span := tracer.Start(ctx, "auth.forgot_password")
	defer func() { s.finish(span, FlowForgotPassword, err) }()

	email = NormalizeEmail(email)
	if err = ValidateEmail(email); err != nil {
		return "", err
	}

	user, lookupErr := s.users.GetByEmail(ctx, email)
	switch {
	case errors.Is(lookupErr, ErrNotFound):
		return ForgotPasswordMessage, nil
	case lookupErr != nil:
		errutil.LogError(s.logger, "forgot password lookup failed", lookupErr)
		return ForgotPasswordMessage, nil
	case !user.Active:
		return ForgotPasswordMessage, nil
	}

	token, expiresAt, issueErr := s.reset.Issue(user.ID)
	if issueErr != nil {
		errutil.LogError(s.logger, "failed to issue reset token", issueErr)
		return ForgotPasswordMessage, nil
	}
	if sendErr := s.notifier.SendPasswordReset(ctx, user, token, expiresAt); sendErr != nil {
		errutil.LogError(s.logger, "failed to send reset link", sendErr)
	}
	return ForgotPasswordMessage, nil
}

// ResetPassword sets a new password using a reset token, then revokes all
// of the user's sessions and clears any lockout.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.reset_password")
	defer func() { s.finish(span, FlowResetPassword, err) }()

	if err = ValidatePassword(newPassword); err != nil {
		return err
	}
	userID, err := s.reset.Verify(token)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("user.id", userID.String()))

	user, lookupErr := s.users.GetByID(ctx, userID)
	switch {
	case errors.Is(lookupErr, ErrNotFound):
		return errTokenInvalid("unknown user")
	case lookupErr != nil:
		return oops.Code("AUTH_RESET_PASSWORD_FAILED").
			With("operation", "get user by id").
			Wrap(lookupErr)
	case !user.Active:
		return errAccountDisabled()
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("AUTH_RESET_PASSWORD_FAILED").With("operation", "hash password").Wrap(err)
	}
	if err = s.users.UpdatePassword(ctx, user.ID, hash, s.clock.Now()); err != nil {
		return oops.Code("AUTH_RESET_PASSWORD_FAILED").
			With("operation", "update password").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	return s.revokeAfterPasswordChange(ctx, user.ID, RevokeReasonPasswordReset)
}

// Me returns the authenticated user's current record.
func (s *Service) Me(ctx context.Context, principal *Principal) (*UserView, error) {
	if principal == nil {
		return nil, errNotAuthenticated()
	}
	user, err := s.lookupUser(ctx, principal.UserID)
	if err != nil {
		return nil, err
	}
	view := user.View()
	return &view, nil
}

// Sessions lists the authenticated user's active sessions, newest first.
func (s *Service) Sessions(ctx context.Context, principal *Principal) ([]SessionView, error) {
	if principal == nil {
		return nil, errNotAuthenticated()
	}
	sessions, err := s.sessions.ListActive(ctx, principal.UserID)
	if err != nil {
		return nil, err
	}
	views := make([]SessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, session.View())
	}
	return views, nil
}

// RevokeSession revokes one of the authenticated user's sessions.
// Sessions of other users are reported as not found.
func (s *Service) RevokeSession(ctx context.Context, principal *Principal, sessionID ulid.ULID) error {
	if principal == nil {
		return errNotAuthenticated()
	}
	if err := s.sessions.RevokeByID(ctx, principal.UserID, sessionID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return errNotFound("session")
		}
		return err
	}
	s.recorder.SessionsRevoked(RevokeReasonDevice, 1)
	return nil
}

// startSession issues a token pair and persists its refresh session.
func (s *Service) startSession(ctx context.Context, user *User, meta SessionMeta) (*AuthResult, error) {
	pair, err := s.tokens.IssuePair(user)
	if err != nil {
		return nil, err
	}
	session, err := s.sessions.Save(ctx, user.ID, pair.RefreshToken, pair.RefreshExpiresAt, meta)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user.View(), SessionID: session.ID, TokenPair: pair}, nil
}

// confirmSession re-reads the user once a new session is persisted. If the
// password changed after since or after snapshot was read, or the account
// was disabled meanwhile, the session is revoked and confirmSession reports
// false. InvalidateAllForUser may have run before the session existed.
func (s *Service) confirmSession(ctx context.Context, snapshot *User, since time.Time, result *AuthResult) (bool, error) {
	current, err := s.users.GetByID(ctx, snapshot.ID)
	if err == nil && current.Active &&
		!current.PasswordChangedAfter(since) &&
		sameInstant(snapshot.PasswordChangedAt, current.PasswordChangedAt) {
		return true, nil
	}
	if _, revokeErr := s.sessions.InvalidateOne(ctx, result.RefreshToken); revokeErr != nil {
		errutil.LogWarn(s.logger, "failed to revoke overtaken session", revokeErr,
			"user_id", snapshot.ID.String(),
			"session_id", result.SessionID.String())
	}
	if err != nil {
		return false, err
	}
	s.logger.WarnContext(ctx, "session overtaken by credential change",
		"user_id", snapshot.ID.String(),
		"session_id", result.SessionID.String())
	return false, nil
}

// recordLoginFailure counts a wrong password against the lockout policy.
func (s *Service) recordLoginFailure(ctx context.Context, userID ulid.ULID, now time.Time) {
	failure, err := s.users.RecordLoginFailure(ctx, userID, now, s.lockout)
	if err != nil {
		errutil.LogWarn(s.logger, "failed to record login failure", err, "user_id", userID.String())
		return
	}
	if failure.LockedUntil != nil {
		s.logger.InfoContext(ctx, "account locked",
			"user_id", userID.String(),
			"failed_attempts", failure.FailedAttempts,
			"locked_until", failure.LockedUntil.UTC().Format(time.RFC3339))
	}
}

// upgradePasswordHash rehashes password with the current parameters. The
// swap only applies if the stored digest is still the one just verified.
func (s *Service) upgradePasswordHash(ctx context.Context, user *User, password string) {
	newHash, err := s.hasher.Hash(password)
	if err != nil {
		errutil.LogWarn(s.logger, "failed to upgrade password hash", err, "user_id", user.ID.String())
		return
	}
	swapped, err := s.users.UpgradePasswordHash(ctx, user.ID, user.PasswordHash, newHash)
	if err != nil {
		errutil.LogWarn(s.logger, "failed to upgrade password hash", err, "user_id", user.ID.String())
		return
	}
	if swapped {
		user.PasswordHash = newHash
	}
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func (s *Service) lookupUser(ctx context.Context, id ulid.ULID) (*User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, errNotFound("user")
		}
		return nil, oops.Code("AUTH_USER_LOOKUP_FAILED").
			With("user_id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// revokeAfterPasswordChange revokes every session of the user. A password
// change that leaves sessions alive is reported as a failure.
func (s *Service) revokeAfterPasswordChange(ctx context.Context, userID ulid.ULID, reason string) error {
	n, err := s.sessions.InvalidateAllForUser(ctx, userID)
	if err != nil {
		return oops.Code("AUTH_SESSION_REVOKE_FAILED").
			With("user_id", userID.String()).
			With("reason", reason).
			Wrap(err)
	}
	s.recorder.SessionsRevoked(reason, n)
	return nil
}

func (s *Service) finish(span trace.Span, flow string, err error) {
	result := outcome(err)
	s.recorder.AuthAttempt(flow, result)
	span.SetAttributes(attribute.String("auth.outcome", result))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
