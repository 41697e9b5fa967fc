// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package web

import (
	"sync"
	"time"
)

// Limiter is a sliding-window log limiter keyed by client address.
// Idle keys are pruned lazily, at most once per window.
type Limiter struct {
	mu        sync.Mutex
	cfg       LimitConfig
	hits      map[string][]time.Time
	lastPrune time.Time
	now       func() time.Time
}

// NewLimiter creates a Limiter. It returns nil when cfg disables limiting.
func NewLimiter(cfg LimitConfig) *Limiter {
	if cfg.Attempts <= 0 || cfg.Window <= 0 {
		return nil
	}
	return &Limiter{cfg: cfg, hits: make(map[string][]time.Time), now: time.Now}
}

// Allow records an attempt for key. When the window is full it returns
// false and how long until the oldest attempt leaves the window.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(now)

	hits := recent(l.hits[key], now.Add(-l.cfg.Window))
	if len(hits) >= l.cfg.Attempts {
		l.hits[key] = hits
		return false, hits[0].Add(l.cfg.Window).Sub(now)
	}
	l.hits[key] = append(hits, now)
	return true, 0
}

func (l *Limiter) pruneLocked(now time.Time) {
	if now.Sub(l.lastPrune) < l.cfg.Window {
		return
	}
	l.lastPrune = now
	cutoff := now.Add(-l.cfg.Window)
	for key, hits := range l.hits {
		if hits = recent(hits, cutoff); len(hits) == 0 {
			delete(l.hits, key)
		} else {
			l.hits[key] = hits
		}
	}
}

// recent drops hits at or before cutoff. hits is sorted ascending.
func recent(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}
