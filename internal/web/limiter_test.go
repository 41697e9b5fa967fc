// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package web

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(attempts int, window time.Duration) (*Limiter, *time.Time) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewLimiter(LimitConfig{Attempts: attempts, Window: window})
	l.now = func() time.Time { return now }
	return l, &now
}

func TestNewLimiter_Disabled(t *testing.T) {
	assert.Nil(t, NewLimiter(LimitConfig{}))
	assert.Nil(t, NewLimiter(LimitConfig{Attempts: 5}))

	var l *Limiter
	ok, wait := l.Allow("10.0.0.1")
	assert.True(t, ok)
	assert.Zero(t, wait)
}

func TestLimiter_SlidingWindow(t *testing.T) {
	l, now := newTestLimiter(2, time.Minute)

	ok, _ := l.Allow("10.0.0.1")
	require.True(t, ok)
	*now = now.Add(20 * time.Second)
	ok, _ = l.Allow("10.0.0.1")
	require.True(t, ok)

	ok, wait := l.Allow("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, 40*time.Second, wait)

	ok, _ = l.Allow("10.0.0.2")
	assert.True(t, ok, "keys are limited independently")

	// the first attempt leaves the window after exactly one minute
	*now = now.Add(40 * time.Second)
	ok, _ = l.Allow("10.0.0.1")
	assert.True(t, ok)
	ok, wait = l.Allow("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, 20*time.Second, wait)
}

func TestLimiter_PrunesIdleKeys(t *testing.T) {
	l, now := newTestLimiter(1, time.Minute)

	l.Allow("10.0.0.1")
	l.Allow("10.0.0.2")
	require.Len(t, l.hits, 2)

	*now = now.Add(2 * time.Minute)
	l.Allow("10.0.0.3")

	assert.Len(t, l.hits, 1)
	assert.Contains(t, l.hits, "10.0.0.3")
}

func TestLimiter_Concurrent(t *testing.T) {
	l := NewLimiter(LimitConfig{Attempts: 10, Window: time.Hour})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Allow("10.0.0.1"); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, allowed)
}
