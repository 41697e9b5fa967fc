// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/authcore/authcore/internal/xdg"
)

// Environment variables read by Load.
const (
	EnvAccessSecret  = "AUTHCORE_ACCESS_SECRET"
	EnvRefreshSecret = "AUTHCORE_REFRESH_SECRET"
	EnvResetSecret   = "AUTHCORE_RESET_SECRET"
	EnvResendAPIKey  = "RESEND_API_KEY"
	EnvDatabaseURL   = "DATABASE_URL"
)

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"addr":         "server.addr",
	"metrics-addr": "server.metrics_addr",
	"database-url": "database.url",
	"log-level":    "log.level",
	"log-format":   "log.format",
}

// Options controls where Load reads from.
type Options struct {
	// File is an explicit config file. It must exist when set. When empty
	// the XDG default is read if present.
	File string
	// Flags are layered over the file. Only flags the user set apply.
	Flags *pflag.FlagSet
	// EnvFile is loaded into the process environment first when present.
	EnvFile string
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// RegisterFlags adds the flags that Load understands.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("addr", d.Server.Addr, "listen address of the auth API")
	fs.String("metrics-addr", d.Server.MetricsAddr, "listen address of metrics and health checks (empty disables)")
	fs.String("database-url", d.Database.URL, "postgres:// or sqlite:// database URL")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("log-format", d.Log.Format, "log format (json, text)")
}

// Load builds a Config from defaults, the config file, flags and the
// environment, in increasing precedence.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, oops.Code("CONFIG_ENV_FILE_INVALID").With("path", opts.EnvFile).Wrap(err)
		}
	}
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	k := koanf.New(".")

	path, err := configPath(opts.File)
	if err != nil {
		return nil, err
	}
	if path != "" {
		data, readErr := os.ReadFile(path) //nolint:gosec // operator supplied path
		if readErr != nil {
			return nil, oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(readErr)
		}
		if schemaErr := ValidateSchema(data); schemaErr != nil {
			return nil, oops.Code("CONFIG_SCHEMA_INVALID").
				With("path", path).
				Wrapf(schemaErr, "%s", FormatSchemaError(schemaErr))
		}
		if loadErr := k.Load(file.Provider(path), yaml.Parser()); loadErr != nil {
			return nil, oops.Code("CONFIG_PARSE_FAILED").With("path", path).Wrap(loadErr)
		}
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if loadErr := k.Load(provider, nil); loadErr != nil {
			return nil, oops.Code("CONFIG_FLAGS_INVALID").Wrap(loadErr)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}

	if v := getenv(EnvDatabaseURL); v != "" {
		cfg.Database.URL = v
	}
	cfg.Secrets = Secrets{
		AccessSecret:  getenv(EnvAccessSecret),
		RefreshSecret: getenv(EnvRefreshSecret),
		ResetSecret:   getenv(EnvResetSecret),
		ResendAPIKey:  getenv(EnvResendAPIKey),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// configPath returns the file to read, or "" when there is none.
func configPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", oops.Code("CONFIG_READ_FAILED").With("path", explicit).Wrap(err)
		}
		return explicit, nil
	}
	path, err := xdg.ConfigFile()
	if err != nil {
		// no home directory means no default file
		return "", nil //nolint:nilerr // defaults still apply
	}
	if _, err := os.Stat(path); err != nil {
		return "", nil //nolint:nilerr // the default file is optional
	}
	return path, nil
}
