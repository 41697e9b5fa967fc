// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package main

import (
	"context"
	"strings"

	"github.com/authcore/authcore/internal/auth/postgres"
	"github.com/authcore/authcore/internal/auth/sqlite"
	"github.com/authcore/authcore/internal/store"
)

// openBackend connects the repositories for a postgres:// or sqlite:// URL.
func openBackend(ctx context.Context, url string) (*Backend, error) {
	dialect, err := store.DialectOf(url)
	if err != nil {
		return nil, err //nolint:wrapcheck // already coded
	}

	switch dialect {
	case store.DialectPostgres:
		// pgx understands postgres:// but not the migrate-only pgx5:// scheme
		if rest, ok := strings.CutPrefix(url, "pgx5://"); ok {
			url = "postgres://" + rest
		}
		pool, err := store.OpenPostgres(ctx, url)
		if err != nil {
			return nil, err //nolint:wrapcheck // already coded
		}
		return &Backend{
			Users:    postgres.NewUserRepository(pool),
			Sessions: postgres.NewSessionRepository(pool),
			Ping:     pool.Ping,
			Close:    pool.Close,
		}, nil
	default:
		db, err := store.OpenSQLite(ctx, url)
		if err != nil {
			return nil, err //nolint:wrapcheck // already coded
		}
		return &Backend{
			Users:    sqlite.NewUserRepository(db),
			Sessions: sqlite.NewSessionRepository(db),
			Ping:     db.PingContext,
			Close:    func() { _ = db.Close() },
		}, nil
	}
}
