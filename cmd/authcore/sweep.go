// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/authcore/authcore/internal/auth"
)

// backendOpener opens the storage backend for one-shot commands. Tests replace it.
var backendOpener = openBackend

// NewSweepCmd creates the sweep subcommand.
func NewSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired refresh sessions once",
		Long: `Delete refresh sessions whose expiry has passed. The server runs the
same sweep periodically; this command is meant for cron jobs when the
server's sweeper is not wanted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}

			backend, err := backendOpener(cmd.Context(), cfg.Database.URL)
			if err != nil {
				return oops.Code("SWEEP_FAILED").With("operation", "open database").Wrap(err)
			}
			defer backend.Close()

			sessions, err := auth.NewSessionStore(backend.Sessions, nil)
			if err != nil {
				return err //nolint:wrapcheck // already coded
			}
			n, err := auth.NewSweeper(cfg.SweeperConfig(), sessions, nil, logger).RunOnce(cmd.Context())
			if err != nil {
				return oops.Code("SWEEP_FAILED").Wrap(err)
			}
			cmd.Printf("Deleted %d expired session(s)\n", n)
			return nil
		},
	}
}
