// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

// Package auth implements the authentication and session lifecycle core.
//
// # Domain Types
//
// Domain types (User, RefreshSession) should be created using their
// constructors:
//   - NewUser - creates an active User with a validated email and hash
//   - NewRefreshSession - creates a RefreshSession with validated owner and expiry
//
// Direct struct initialization bypasses validation and may create invalid state.
// Repository implementations receive pre-validated types from these constructors.
//
// # Tokens
//
// Access and refresh tokens are HS256 JWTs minted by TokenIssuer. Refresh
// tokens are additionally bound to a RefreshSession keyed by the SHA256 of the
// token, and are rotated on every use. Password reset tokens are JWTs with a
// purpose claim minted by ResetTokens; they are not persisted.
//
// # Services
//
//   - Service - register, login, refresh, logout, password change and reset
//   - Authenticator - turns raw bearer/refresh tokens into verified principals
//   - Sweeper - periodic removal of expired sessions
package auth
