// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

// Package postgres implements the auth repositories on PostgreSQL through pgx.
package postgres
