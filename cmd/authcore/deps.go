// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/authcore/authcore/internal/auth"
	"github.com/authcore/authcore/internal/config"
	"github.com/authcore/authcore/internal/logging"
	"github.com/authcore/authcore/internal/observability"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// BackendOpener connects the user and session repositories.
	// Default: openBackend
	BackendOpener func(ctx context.Context, url string) (*Backend, error)

	// MigratorFactory creates a migrator for auto-migration.
	// Default: store.NewMigrator
	MigratorFactory func(url string) (AutoMigrator, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(cfg observability.ServerConfig) ObservabilityServer

	// ListenerFactory creates the API listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)

	// Logger overrides the logger built from the log config.
	Logger *slog.Logger

	// OnReady is called with the API address once requests are served.
	OnReady func(addr string)
}

// AutoMigrator is the subset of store.Migrator used at startup.
type AutoMigrator interface {
	Up() error
	Close() error
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// Backend is an opened storage backend.
type Backend struct {
	Users    auth.UserRepository
	Sessions auth.SessionRepository
	Ping     func(ctx context.Context) error
	Close    func()
}

// newLogger builds the process logger from cfg.
func newLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.Setup("authcore", version, cfg.Log.Format, level, nil), nil
}
