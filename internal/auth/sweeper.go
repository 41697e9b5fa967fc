// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// SweeperConfig defines how often expired sessions are purged.
type SweeperConfig struct {
	Interval   time.Duration // How often to run a sweep
	MaxRetries uint64        // Retries per sweep after a failure
	Backoff    time.Duration // Base delay of the exponential retry backoff
}

// DefaultSweeperConfig returns the default sweeper configuration.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:   time.Hour,
		MaxRetries: 3,
		Backoff:    time.Second,
	}
}

// Sweeper periodically deletes expired refresh sessions.
// Expiry is enforced at lookup, so sweeping only reclaims storage.
type Sweeper struct {
	cfg      SweeperConfig
	store    *SessionStore
	recorder Recorder
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a new sweeper over store.
func NewSweeper(cfg SweeperConfig, store *SessionStore, recorder Recorder, logger *slog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweeperConfig().Interval
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultSweeperConfig().Backoff
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{cfg: cfg, store: store, recorder: recorder, logger: logger}
}

// RunOnce executes a single sweep, retrying failures with exponential backoff.
func (w *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	var deleted int64
	backoff := retry.WithMaxRetries(w.cfg.MaxRetries, retry.NewExponential(w.cfg.Backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		n, err := w.store.Sweep(ctx)
		if err != nil {
			w.logger.Warn("session sweep attempt failed", "error", err)
			return retry.RetryableError(err)
		}
		deleted = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		w.logger.Info("swept expired sessions", "count", deleted)
	}
	w.recorder.SessionsSwept(deleted)
	return deleted, nil
}

// Start begins periodic sweeping.
func (w *Sweeper) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop stops the sweeper and waits for the running sweep to finish.
func (w *Sweeper) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *Sweeper) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Sweeper) sweep(ctx context.Context) {
	if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
		w.logger.Error("session sweep failed", "error", err)
	}
}
