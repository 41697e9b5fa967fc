// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package web

import (
	"net/http"
	"time"
)

// Defaults applied by NewHandler.
const (
	DefaultCookieName    = "refresh_token"
	DefaultRefreshHeader = "X-Refresh-Token"
	DefaultMaxBodyBytes  = 1 << 16
)

// Config configures the HTTP adapter.
type Config struct {
	CookieName     string
	CookieDomain   string
	CookieSecure   bool // set in production so the cookie only travels over TLS
	CookieSameSite http.SameSite
	RefreshHeader  string
	// ExposeRefreshToken also returns the refresh token in response bodies
	// for clients that cannot hold cookies.
	ExposeRefreshToken bool
	// AllowedOrigins are glob patterns matched against the CORS Origin header.
	AllowedOrigins []string
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	TrustProxy   bool
	LoginLimit   LimitConfig
	MaxBodyBytes int64
}

// LimitConfig is a per-client sliding window. A zero Attempts disables it.
type LimitConfig struct {
	Attempts int
	Window   time.Duration
}

func (c Config) withDefaults() Config {
	if c.CookieName == "" {
		c.CookieName = DefaultCookieName
	}
	if c.CookieSameSite == 0 {
		c.CookieSameSite = http.SameSiteLaxMode
	}
	if c.RefreshHeader == "" {
		c.RefreshHeader = DefaultRefreshHeader
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return c
}
