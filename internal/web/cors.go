// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package web

import (
	"net/http"

	"github.com/gobwas/glob"
	"github.com/rs/cors"
	"github.com/samber/oops"
)

// newCORS builds a CORS policy admitting origins that match any pattern,
// for example "https://*.example.com". No patterns admits no origin.
func newCORS(patterns []string, refreshHeader string) (*cors.Cors, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, oops.Code("WEB_CONFIG_INVALID").With("origin_pattern", p).Wrap(err)
		}
		globs = append(globs, g)
	}
	return cors.New(cors.Options{
		AllowOriginFunc: func(origin string) bool {
			for _, g := range globs {
				if g.Match(origin) {
					return true
				}
			}
			return false
		},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", refreshHeader},
		AllowCredentials: true,
		MaxAge:           600,
	}), nil
}
