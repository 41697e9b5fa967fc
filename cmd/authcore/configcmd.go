// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/authcore/authcore/internal/config"
)

// NewConfigCmd creates the config command group.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Print the configuration after merging defaults, the config file,
flags and the environment. Secret values are never printed; only
whether each one is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out, err := cfg.DumpYAML()
			if err != nil {
				return err //nolint:wrapcheck // already coded
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err //nolint:wrapcheck // stdout write
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema, err := config.GenerateSchema()
			if err != nil {
				return err //nolint:wrapcheck // already coded
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
			return err //nolint:wrapcheck // stdout write
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and required secrets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.ValidateSecrets(); err != nil {
				return err //nolint:wrapcheck // already coded
			}
			cmd.Println("configuration is valid")
			return nil
		},
	})

	return cmd
}
