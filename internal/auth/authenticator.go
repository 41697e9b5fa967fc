// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package auth

import (
	"context"
	"errors"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Authenticator turns raw tokens presented by a transport into the verified
// values the Service flows accept.
type Authenticator struct {
	tokens *TokenIssuer
	users  UserRepository
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(tokens *TokenIssuer, users UserRepository) *Authenticator {
	return &Authenticator{tokens: tokens, users: users}
}

// Authenticator returns an Authenticator sharing the service's token issuer
// and user repository.
func (s *Service) Authenticator() *Authenticator {
	return NewAuthenticator(s.tokens, s.users)
}

// Access verifies an access token.
func (a *Authenticator) Access(token string) (*Principal, error) {
	return a.tokens.VerifyAccess(token)
}

// Refresh verifies a refresh token and resolves its user into a grant.
// It does not check or consume the token's session.
func (a *Authenticator) Refresh(ctx context.Context, token string) (*RefreshGrant, error) {
	claims, err := a.tokens.VerifyRefresh(token)
	if err != nil {
		return nil, err
	}
	id, err := ulid.Parse(claims.UserID)
	if err != nil {
		return nil, errTokenInvalid("malformed subject")
	}
	user, err := a.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, errTokenInvalid("unknown user")
		}
		return nil, oops.Code("AUTH_USER_LOOKUP_FAILED").
			With("user_id", id.String()).
			Wrap(err)
	}
	if !user.Active {
		return nil, errAccountDisabled()
	}
	return &RefreshGrant{Token: token, User: user}, nil
}
