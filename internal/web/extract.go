// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package web

import (
	"net/http"
	"strings"
)

// refreshBody is the optional JSON body of refresh and logout requests.
type refreshBody struct {
	RefreshToken string `json:"refresh_token"`
}

// TokenExtractor finds a refresh token in one place of a request.
type TokenExtractor interface {
	Source() string
	Extract(r *http.Request, body refreshBody) string
}

// CookieExtractor reads the refresh token cookie.
type CookieExtractor struct{ Name string }

// Source implements TokenExtractor.
func (e CookieExtractor) Source() string { return "cookie" }

// Extract implements TokenExtractor.
func (e CookieExtractor) Extract(r *http.Request, _ refreshBody) string {
	c, err := r.Cookie(e.Name)
	if err != nil {
		return ""
	}
	return c.Value
}

// BodyExtractor reads the refresh_token field of the JSON body.
type BodyExtractor struct{}

// Source implements TokenExtractor.
func (BodyExtractor) Source() string { return "body" }

// Extract implements TokenExtractor.
func (BodyExtractor) Extract(_ *http.Request, body refreshBody) string {
	return strings.TrimSpace(body.RefreshToken)
}

// HeaderExtractor reads a dedicated request header.
type HeaderExtractor struct{ Header string }

// Source implements TokenExtractor.
func (e HeaderExtractor) Source() string { return "header" }

// Extract implements TokenExtractor.
func (e HeaderExtractor) Extract(r *http.Request, _ refreshBody) string {
	return strings.TrimSpace(r.Header.Get(e.Header))
}

// Extractors are tried in order; the first non-empty token wins.
type Extractors []TokenExtractor

// DefaultExtractors returns cookie, then body, then header.
func DefaultExtractors(cfg Config) Extractors {
	return Extractors{
		CookieExtractor{Name: cfg.CookieName},
		BodyExtractor{},
		HeaderExtractor{Header: cfg.RefreshHeader},
	}
}

// Extract returns the first token found and the source it came from.
func (e Extractors) Extract(r *http.Request, body refreshBody) (token, source string) {
	for _, x := range e {
		if t := x.Extract(r, body); t != "" {
			return t, x.Source()
		}
	}
	return "", ""
}
