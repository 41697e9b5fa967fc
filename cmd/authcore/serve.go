// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/authcore/authcore/internal/auth"
	"github.com/authcore/authcore/internal/config"
	"github.com/authcore/authcore/internal/notify"
	"github.com/authcore/authcore/internal/observability"
	"github.com/authcore/authcore/internal/store"
	"github.com/authcore/authcore/internal/web"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the auth API server",
		Long: `Start the HTTP server exposing the /auth routes, the metrics and
health endpoints, and the background sweeper of expired sessions.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServeWithDeps(ctx, cfg, cmd, nil)
		},
	}
}

// runServeWithDeps runs the server until ctx is cancelled.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.BackendOpener == nil {
		deps.BackendOpener = openBackend
	}
	if deps.MigratorFactory == nil {
		deps.MigratorFactory = func(url string) (AutoMigrator, error) {
			return store.NewMigrator(url)
		}
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(cfg observability.ServerConfig) ObservabilityServer {
			return observability.NewServer(cfg)
		}
	}
	if deps.ListenerFactory == nil {
		deps.ListenerFactory = net.Listen
	}

	if err := cfg.ValidateSecrets(); err != nil {
		return err //nolint:wrapcheck // already coded
	}

	logger := deps.Logger
	if logger == nil {
		var err error
		if logger, err = newLogger(cfg); err != nil {
			return err
		}
	}
	slog.SetDefault(logger)

	if cfg.Database.AutoMigrate {
		if err := autoMigrate(deps.MigratorFactory, cfg.Database.URL, logger); err != nil {
			return err
		}
	}

	backend, err := deps.BackendOpener(ctx, cfg.Database.URL)
	if err != nil {
		return oops.Code("SERVE_FAILED").With("operation", "open database").Wrap(err)
	}
	defer backend.Close()
	logger.Info("connected to database", "dialect", dialectName(cfg.Database.URL))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var recorder auth.Recorder
	var obsServer ObservabilityServer
	if cfg.Server.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(observability.ServerConfig{
			Addr:   cfg.Server.MetricsAddr,
			Checks: map[string]observability.HealthCheck{"database": backend.Ping},
			Logger: logger,
		})
		obsErrCh, startErr := obsServer.Start()
		if startErr != nil {
			return oops.Code("SERVE_FAILED").With("operation", "start observability server").Wrap(startErr)
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability", logger)
		if m := obsServer.Metrics(); m != nil {
			recorder = m
		}
	}

	mailer, err := newResetMailer(cfg, logger)
	if err != nil {
		return err
	}

	svc, err := auth.NewService(cfg.AuthServiceConfig(), auth.Deps{
		Users:    backend.Users,
		Sessions: backend.Sessions,
		Hasher:   auth.NewArgon2idHasherWithParams(cfg.Argon2Params()),
		Notifier: mailer,
		Recorder: recorder,
		Logger:   logger,
	})
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}

	handler, err := web.NewHandler(svc, cfg.WebConfig(), logger)
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}

	listener, err := deps.ListenerFactory("tcp", cfg.Server.Addr)
	if err != nil {
		return oops.Code("SERVE_FAILED").With("addr", cfg.Server.Addr).Wrap(err)
	}
	httpSrv := &http.Server{
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	apiErrCh := make(chan error, 1)
	go func() {
		defer close(apiErrCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			apiErrCh <- serveErr
		}
	}()
	go monitorServerErrors(ctx, cancel, apiErrCh, "api", logger)

	sweeper := auth.NewSweeper(cfg.SweeperConfig(), svc.SessionStore(), recorder, logger)
	sweeper.Start(ctx)

	addr := listener.Addr().String()
	cmd.Println("authcore listening on " + addr)
	logger.Info("auth API ready", "addr", addr, "metrics_addr", cfg.Server.MetricsAddr)
	if deps.OnReady != nil {
		deps.OnReady(addr)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping API server", "error", err)
	}
	sweeper.Stop()
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

func autoMigrate(factory func(string) (AutoMigrator, error), url string, logger *slog.Logger) error {
	migrator, err := factory(url)
	if err != nil {
		return oops.Code("AUTO_MIGRATE_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("failed to close migrator", "error", closeErr)
		}
	}()
	if err := migrator.Up(); err != nil {
		return oops.Code("AUTO_MIGRATE_FAILED").With("operation", "run migrations").Wrap(err)
	}
	logger.Info("database migrations applied")
	return nil
}

// newResetMailer builds the password reset notifier from the email config.
func newResetMailer(cfg *config.Config, logger *slog.Logger) (*notify.ResetMailer, error) {
	var sender notify.Sender
	switch cfg.Email.Provider {
	case "resend":
		sender = notify.NewResendSender(cfg.Secrets.ResendAPIKey, notify.FormatFrom(cfg.Email.FromName, cfg.Email.From))
	default:
		sender = notify.NewLogSender(logger)
	}
	//nolint:wrapcheck // already coded
	return notify.NewResetMailer(sender, cfg.Email.AppURL, cfg.Email.Product)
}

func dialectName(url string) string {
	d, err := store.DialectOf(url)
	if err != nil {
		return "unknown"
	}
	return string(d)
}

// monitorServerErrors cancels ctx when a server reports an error.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
