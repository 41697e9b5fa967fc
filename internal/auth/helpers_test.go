// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package auth_test

import (
	"sync"
	"time"
)

var (
	accessSecret  = []byte("access-secret-0123456789abcdef-0123456789")
	refreshSecret = []byte("refresh-secret-0123456789abcdef-012345678")
	resetSecret   = []byte("reset-secret-0123456789abcdef-0123456789a")
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
