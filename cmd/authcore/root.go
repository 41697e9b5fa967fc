// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/authcore/authcore/internal/config"
)

// Global flags available to all subcommands.
var (
	configFile string
	envFile    string
)

// NewRootCmd creates the root command for the authcore CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authcore",
		Short: "authcore - email and password authentication service",
		Long: `authcore issues short-lived JWT access tokens and rotating refresh
tokens, tracks refresh sessions per device, and handles password changes
and email based password resets. Users and sessions are stored in
PostgreSQL or SQLite.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/authcore/config.yaml)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewSweepCmd())
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// loadConfig reads the configuration for cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	//nolint:wrapcheck // config errors carry their own codes
	return config.Load(config.Options{
		File:    configFile,
		Flags:   cmd.Flags(),
		EnvFile: envFile,
	})
}
