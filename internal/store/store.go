// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

// Package store opens the auth databases and manages their schema.
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	// Register the pure-Go "sqlite" database/sql driver.
	_ "modernc.org/sqlite"
)

// Dialect identifies a supported database engine.
type Dialect string

// Supported dialects.
const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// sqlitePragmas enable foreign keys, WAL journaling and a busy timeout on
// every pooled connection.
const sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

// DialectOf returns the dialect of a database URL.
func DialectOf(databaseURL string) (Dialect, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"),
		strings.HasPrefix(databaseURL, "postgresql://"),
		strings.HasPrefix(databaseURL, "pgx5://"):
		return DialectPostgres, nil
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return DialectSQLite, nil
	default:
		return "", oops.Code("DATABASE_URL_UNSUPPORTED").
			Errorf("database URL must start with postgres://, postgresql:// or sqlite://")
	}
}

// OpenPostgres connects a pgx pool and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("DATABASE_CONNECT_FAILED").With("dialect", string(DialectPostgres)).Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oops.Code("DATABASE_CONNECT_FAILED").With("dialect", string(DialectPostgres)).Wrap(err)
	}
	return pool, nil
}

// OpenSQLite opens the database file named by a sqlite:// URL, creating its
// directory if needed.
func OpenSQLite(ctx context.Context, databaseURL string) (*sql.DB, error) {
	path := SQLitePath(databaseURL)
	if path == "" {
		return nil, oops.Code("DATABASE_URL_UNSUPPORTED").Errorf("sqlite URL has no file path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, oops.Code("DATABASE_CONNECT_FAILED").
				With("operation", "create database directory").
				With("path", path).
				Wrap(err)
		}
	}

	db, err := sql.Open("sqlite", path+"?"+sqlitePragmas)
	if err != nil {
		return nil, oops.Code("DATABASE_CONNECT_FAILED").With("dialect", string(DialectSQLite)).Wrap(err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, oops.Code("DATABASE_CONNECT_FAILED").With("dialect", string(DialectSQLite)).Wrap(err)
	}
	return db, nil
}

// SQLitePath extracts the file path of a sqlite:// URL, dropping any query.
func SQLitePath(databaseURL string) string {
	path := strings.TrimPrefix(databaseURL, "sqlite://")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}
