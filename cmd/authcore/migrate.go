// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/authcore/authcore/internal/store"
)

// Migrator is the subset of store.Migrator used by the migrate commands.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	Close() error
	Dialect() store.Dialect
	PendingMigrations() ([]uint, error)
	AppliedMigrations() ([]uint, error)
}

// migratorFactory opens a Migrator. Tests replace it.
var migratorFactory = func(url string) (Migrator, error) {
	return store.NewMigrator(url)
}

// NewMigrateCmd creates the migrate command group.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long: `Apply or roll back schema migrations against the configured
PostgreSQL or SQLite database. Without a subcommand, all pending
migrations are applied.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, runMigrateUp)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, runMigrateUp)
		},
	})

	var all bool
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the last migration, or all of them with --all",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(cmd *cobra.Command, m Migrator) error {
				return runMigrateDown(cmd, m, all)
			})
		},
	}
	down.Flags().BoolVar(&all, "all", false, "roll back every migration, dropping all auth tables")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, runMigrateStatus)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations",
		Long: `Set the recorded schema version without running migrations. Use it
only to clear a dirty state after repairing the database by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			return withMigrator(cmd, func(cmd *cobra.Command, m Migrator) error {
				if err := m.Force(version); err != nil {
					return err //nolint:wrapcheck // already coded
				}
				cmd.Printf("Forced schema version to %d\n", version)
				return nil
			})
		},
	})

	return cmd
}

func withMigrator(cmd *cobra.Command, fn func(*cobra.Command, Migrator) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	m, err := migratorFactory(cfg.Database.URL)
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			cmd.PrintErrf("warning: closing migrator: %v\n", closeErr)
		}
	}()
	return fn(cmd, m)
}

func runMigrateUp(cmd *cobra.Command, m Migrator) error {
	pending, err := m.PendingMigrations()
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	if len(pending) == 0 {
		cmd.Println("No pending migrations")
		return nil
	}
	cmd.Printf("Applying %d migration(s) to %s...\n", len(pending), m.Dialect())
	if err := m.Up(); err != nil {
		return err //nolint:wrapcheck // already coded
	}
	version, _, err := m.Version()
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	cmd.Printf("Migrations completed, schema version %d\n", version)
	return nil
}

func runMigrateDown(cmd *cobra.Command, m Migrator, all bool) error {
	var err error
	if all {
		err = m.Down()
	} else {
		err = m.Steps(-1)
	}
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	version, _, err := m.Version()
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	cmd.Printf("Rolled back, schema version %d\n", version)
	return nil
}

func runMigrateStatus(cmd *cobra.Command, m Migrator) error {
	version, dirty, err := m.Version()
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	applied, err := m.AppliedMigrations()
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	pending, err := m.PendingMigrations()
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}

	state := "clean"
	if dirty {
		state = "dirty"
	}
	cmd.Printf("Dialect: %s\n", m.Dialect())
	cmd.Printf("Version: %d (%s)\n", version, state)
	printMigrations(cmd, m.Dialect(), "Applied", applied)
	printMigrations(cmd, m.Dialect(), "Pending", pending)
	return nil
}

func printMigrations(cmd *cobra.Command, dialect store.Dialect, title string, versions []uint) {
	cmd.Printf("%s: %d\n", title, len(versions))
	for _, v := range versions {
		name, err := store.MigrationName(dialect, v)
		if err != nil || name == "" {
			name = fmt.Sprintf("%06d", v)
		}
		cmd.Printf("  %s\n", name)
	}
}

// parseForceVersion parses a non-negative schema version.
func parseForceVersion(s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Errorf("version must be an integer: %q", s)
	}
	if v < 0 {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Errorf("version must be non-negative, got %d", v)
	}
	return v, nil
}
