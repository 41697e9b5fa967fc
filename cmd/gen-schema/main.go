// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

// Command gen-schema writes the JSON Schema of config.yaml so editors can
// validate and complete config files.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/authcore/authcore/internal/config"
)

func main() {
	out := pflag.StringP("out", "o", filepath.Join("schemas", "config.schema.json"), "output file")
	pflag.Parse()

	if err := run(*out); err != nil {
		fmt.Fprintf(os.Stderr, "gen-schema: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Generated %s\n", *out)
}

func run(outPath string) error {
	schema, err := config.GenerateSchema()
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
		return oops.With("path", outPath).Wrapf(err, "creating directory")
	}
	if err := os.WriteFile(outPath, append(schema, '\n'), 0o600); err != nil {
		return oops.With("path", outPath).Wrapf(err, "writing schema")
	}
	return nil
}
