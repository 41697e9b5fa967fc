// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authcore/authcore/pkg/errutil"
)

func TestDialectOf(t *testing.T) {
	tests := []struct {
		url  string
		want Dialect
	}{
		{"postgres://u:p@localhost/db", DialectPostgres},
		{"postgresql://localhost/db", DialectPostgres},
		{"pgx5://localhost/db", DialectPostgres},
		{"sqlite://data/auth.db", DialectSQLite},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := DialectOf(tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := DialectOf("redis://localhost")
	errutil.AssertErrorCode(t, err, "DATABASE_URL_UNSUPPORTED")
}

func TestSQLitePath(t *testing.T) {
	assert.Equal(t, "data/auth.db", SQLitePath("sqlite://data/auth.db"))
	assert.Equal(t, "/var/lib/auth.db", SQLitePath("sqlite:///var/lib/auth.db?x-no-tx-wrap=true"))
	assert.Equal(t, "", SQLitePath("sqlite://"))
}

func TestOpenSQLite(t *testing.T) {
	ctx := context.Background()
	url := "sqlite://" + filepath.Join(t.TempDir(), "nested", "auth.db")

	db, err := OpenSQLite(ctx, url)
	require.NoError(t, err)
	defer db.Close()

	var fk int
	require.NoError(t, db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	_, err := OpenSQLite(context.Background(), "sqlite://")
	errutil.AssertErrorCode(t, err, "DATABASE_URL_UNSUPPORTED")
}
