// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

// Package config loads authcore configuration from a YAML file, command
// line flags and the environment.
package config

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/authcore/authcore/internal/auth"
	"github.com/authcore/authcore/internal/store"
	"github.com/authcore/authcore/internal/web"
)

// MinSecretLength is the minimum length of each signing secret in bytes.
const MinSecretLength = 32

// Config is the complete authcore configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server" json:"server" yaml:"server"`
	Log       LogConfig       `koanf:"log" json:"log" yaml:"log"`
	Database  DatabaseConfig  `koanf:"database" json:"database" yaml:"database"`
	Auth      AuthConfig      `koanf:"auth" json:"auth" yaml:"auth"`
	Cookie    CookieConfig    `koanf:"cookie" json:"cookie" yaml:"cookie"`
	RateLimit RateLimitConfig `koanf:"rate_limit" json:"rate_limit" yaml:"rate_limit"`
	Sweeper   SweeperConfig   `koanf:"sweeper" json:"sweeper" yaml:"sweeper"`
	Email     EmailConfig     `koanf:"email" json:"email" yaml:"email"`

	// Secrets come from the environment only.
	Secrets Secrets `koanf:"-" json:"-" yaml:"-"`
}

// ServerConfig configures the HTTP listeners.
type ServerConfig struct {
	Addr               string        `koanf:"addr" json:"addr" yaml:"addr" jsonschema:"description=Listen address of the auth API"`
	MetricsAddr        string        `koanf:"metrics_addr" json:"metrics_addr" yaml:"metrics_addr" jsonschema:"description=Listen address of /metrics and health checks; empty disables"`
	ShutdownTimeout    time.Duration `koanf:"shutdown_timeout" json:"shutdown_timeout" yaml:"shutdown_timeout" jsonschema:"type=string,description=Graceful shutdown timeout such as 10s"`
	TrustProxy         bool          `koanf:"trust_proxy" json:"trust_proxy" yaml:"trust_proxy"`
	AllowedOrigins     []string      `koanf:"allowed_origins" json:"allowed_origins" yaml:"allowed_origins" jsonschema:"description=CORS origin glob patterns"`
	ExposeRefreshToken bool          `koanf:"expose_refresh_token" json:"expose_refresh_token" yaml:"expose_refresh_token"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `koanf:"level" json:"level" yaml:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Format string `koanf:"format" json:"format" yaml:"format" jsonschema:"enum=json,enum=text"`
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	URL         string `koanf:"url" json:"url" yaml:"url" jsonschema:"description=postgres:// or sqlite:// URL; DATABASE_URL overrides"`
	AutoMigrate bool   `koanf:"auto_migrate" json:"auto_migrate" yaml:"auto_migrate"`
}

// AuthConfig configures token lifetimes, lockout and hashing.
type AuthConfig struct {
	Issuer       string        `koanf:"issuer" json:"issuer" yaml:"issuer"`
	AccessTTL    time.Duration `koanf:"access_ttl" json:"access_ttl" yaml:"access_ttl" jsonschema:"type=string"`
	RefreshTTL   time.Duration `koanf:"refresh_ttl" json:"refresh_ttl" yaml:"refresh_ttl" jsonschema:"type=string"`
	DefaultRole  string        `koanf:"default_role" json:"default_role" yaml:"default_role" jsonschema:"enum=CLIENT,enum=ADMIN"`
	Lockout      LockoutConfig `koanf:"lockout" json:"lockout" yaml:"lockout"`
	Argon2       Argon2Config  `koanf:"argon2" json:"argon2" yaml:"argon2"`
	ResetPurpose string        `koanf:"reset_purpose" json:"reset_purpose" yaml:"reset_purpose"`
}

// LockoutConfig configures account lockout after failed logins.
type LockoutConfig struct {
	Threshold int           `koanf:"threshold" json:"threshold" yaml:"threshold" jsonschema:"minimum=0"`
	Duration  time.Duration `koanf:"duration" json:"duration" yaml:"duration" jsonschema:"type=string"`
}

// Argon2Config holds argon2id cost parameters.
type Argon2Config struct {
	Time    uint32 `koanf:"time" json:"time" yaml:"time" jsonschema:"minimum=1"`
	Memory  uint32 `koanf:"memory" json:"memory" yaml:"memory" jsonschema:"minimum=8,description=Memory in KiB"`
	Threads uint8  `koanf:"threads" json:"threads" yaml:"threads" jsonschema:"minimum=1"`
}

// CookieConfig configures the refresh token cookie.
type CookieConfig struct {
	Name     string `koanf:"name" json:"name" yaml:"name"`
	Domain   string `koanf:"domain" json:"domain" yaml:"domain"`
	Secure   bool   `koanf:"secure" json:"secure" yaml:"secure"`
	SameSite string `koanf:"same_site" json:"same_site" yaml:"same_site" jsonschema:"enum=lax,enum=strict,enum=none"`
}

// RateLimitConfig configures the per-client limiter of credential routes.
type RateLimitConfig struct {
	Attempts int           `koanf:"attempts" json:"attempts" yaml:"attempts" jsonschema:"minimum=0,description=Attempts per window; 0 disables"`
	Window   time.Duration `koanf:"window" json:"window" yaml:"window" jsonschema:"type=string"`
}

// SweeperConfig configures expired session cleanup.
type SweeperConfig struct {
	Interval time.Duration `koanf:"interval" json:"interval" yaml:"interval" jsonschema:"type=string"`
}

// EmailConfig configures password reset delivery.
type EmailConfig struct {
	Provider string `koanf:"provider" json:"provider" yaml:"provider" jsonschema:"enum=log,enum=resend"`
	From     string `koanf:"from" json:"from" yaml:"from"`
	FromName string `koanf:"from_name" json:"from_name" yaml:"from_name"`
	AppURL   string `koanf:"app_url" json:"app_url" yaml:"app_url" jsonschema:"description=Base URL of the reset password page"`
	Product  string `koanf:"product" json:"product" yaml:"product"`
}

// Secrets are read from the environment.
type Secrets struct {
	AccessSecret  string
	RefreshSecret string
	ResetSecret   string
	ResendAPIKey  string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			MetricsAddr:     "127.0.0.1:9100",
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Database: DatabaseConfig{
			URL:         "sqlite://authcore.db",
			AutoMigrate: true,
		},
		Auth: AuthConfig{
			Issuer:      "authcore",
			AccessTTL:   auth.DefaultAccessTokenTTL,
			RefreshTTL:  auth.DefaultRefreshTokenTTL,
			DefaultRole: string(auth.RoleClient),
			Lockout: LockoutConfig{
				Threshold: auth.DefaultLockoutThreshold,
				Duration:  auth.DefaultLockoutDuration,
			},
			Argon2: Argon2Config{
				Time:    auth.DefaultArgon2Params.Time,
				Memory:  auth.DefaultArgon2Params.Memory,
				Threads: auth.DefaultArgon2Params.Threads,
			},
			ResetPurpose: auth.DefaultResetPurpose,
		},
		Cookie: CookieConfig{
			Name:     web.DefaultCookieName,
			Secure:   true,
			SameSite: "lax",
		},
		RateLimit: RateLimitConfig{Attempts: 20, Window: time.Minute},
		Sweeper:   SweeperConfig{Interval: time.Hour},
		Email: EmailConfig{
			Provider: "log",
			AppURL:   "http://localhost:3000",
			Product:  "authcore",
		},
	}
}

// Validate checks cross-field rules the schema cannot express.
func (c *Config) Validate() error {
	if c.Auth.RefreshTTL <= c.Auth.AccessTTL {
		return invalid("auth.refresh_ttl", "must exceed auth.access_ttl")
	}
	if c.Auth.AccessTTL <= 0 {
		return invalid("auth.access_ttl", "must be positive")
	}
	if _, err := store.DialectOf(c.Database.URL); err != nil {
		return oops.Code("CONFIG_INVALID").With("key", "database.url").Wrap(err)
	}
	if _, err := sameSite(c.Cookie.SameSite); err != nil {
		return err
	}
	if c.Cookie.SameSite == "none" && !c.Cookie.Secure {
		return invalid("cookie.same_site", "none requires cookie.secure")
	}
	if c.RateLimit.Attempts > 0 && c.RateLimit.Window <= 0 {
		return invalid("rate_limit.window", "must be positive when attempts is set")
	}
	if u, err := url.Parse(c.Email.AppURL); err != nil || u.Scheme == "" || u.Host == "" {
		return invalid("email.app_url", "must be an absolute URL")
	}
	if c.Email.Provider == "resend" {
		if c.Secrets.ResendAPIKey == "" {
			return invalid(EnvResendAPIKey, "is required for the resend provider")
		}
		if c.Email.From == "" {
			return invalid("email.from", "is required for the resend provider")
		}
	}
	return nil
}

// ValidateSecrets checks the signing secrets needed to serve requests.
func (c *Config) ValidateSecrets() error {
	secrets := []struct {
		env   string
		value string
	}{
		{EnvAccessSecret, c.Secrets.AccessSecret},
		{EnvRefreshSecret, c.Secrets.RefreshSecret},
		{EnvResetSecret, c.Secrets.ResetSecret},
	}
	seen := make(map[string]string, len(secrets))
	for _, s := range secrets {
		if len(s.value) < MinSecretLength {
			return oops.Code("CONFIG_SECRET_INVALID").
				With("env", s.env).
				Errorf("%s must be at least %d bytes", s.env, MinSecretLength)
		}
		if other, dup := seen[s.value]; dup {
			return oops.Code("CONFIG_SECRET_INVALID").
				With("env", s.env).
				Errorf("%s must differ from %s", s.env, other)
		}
		seen[s.value] = s.env
	}
	return nil
}

// AuthServiceConfig returns the auth.Config described by c.
func (c *Config) AuthServiceConfig() auth.Config {
	return auth.Config{
		Issuer:        c.Auth.Issuer,
		AccessSecret:  []byte(c.Secrets.AccessSecret),
		RefreshSecret: []byte(c.Secrets.RefreshSecret),
		ResetSecret:   []byte(c.Secrets.ResetSecret),
		AccessTTL:     c.Auth.AccessTTL,
		RefreshTTL:    c.Auth.RefreshTTL,
		ResetPurpose:  c.Auth.ResetPurpose,
		Lockout: auth.LockoutPolicy{
			Threshold: c.Auth.Lockout.Threshold,
			Duration:  c.Auth.Lockout.Duration,
		},
		DefaultRole: auth.Role(c.Auth.DefaultRole),
	}
}

// Argon2Params returns the hasher parameters described by c.
func (c *Config) Argon2Params() auth.Argon2Params {
	p := auth.DefaultArgon2Params
	p.Time = c.Auth.Argon2.Time
	p.Memory = c.Auth.Argon2.Memory
	p.Threads = c.Auth.Argon2.Threads
	return p
}

// WebConfig returns the HTTP adapter configuration described by c.
func (c *Config) WebConfig() web.Config {
	mode, _ := sameSite(c.Cookie.SameSite) //nolint:errcheck // checked by Validate
	return web.Config{
		CookieName:         c.Cookie.Name,
		CookieDomain:       c.Cookie.Domain,
		CookieSecure:       c.Cookie.Secure,
		CookieSameSite:     mode,
		ExposeRefreshToken: c.Server.ExposeRefreshToken,
		AllowedOrigins:     c.Server.AllowedOrigins,
		TrustProxy:         c.Server.TrustProxy,
		LoginLimit: web.LimitConfig{
			Attempts: c.RateLimit.Attempts,
			Window:   c.RateLimit.Window,
		},
	}
}

// SweeperConfig returns the session sweeper configuration described by c.
func (c *Config) SweeperConfig() auth.SweeperConfig {
	cfg := auth.DefaultSweeperConfig()
	if c.Sweeper.Interval > 0 {
		cfg.Interval = c.Sweeper.Interval
	}
	return cfg
}

func sameSite(mode string) (http.SameSite, error) {
	switch strings.ToLower(mode) {
	case "", "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, invalid("cookie.same_site", "must be lax, strict or none")
	}
}

func invalid(key, reason string) error {
	return oops.Code("CONFIG_INVALID").With("key", key).Errorf("%s %s", key, reason)
}
