// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically evicts stale connections from a Registry.
//
// # Description
//
// Runs SweepStale on a fixed interval until its context is cancelled.
// Started once from service main; losing the goroutine on shutdown is fine
// because the registry state dies with the process.
type Sweeper struct {
	registry *Registry
	interval time.Duration
	maxAge   time.Duration
}

// NewSweeper creates a sweeper. Non-positive interval or maxAge fall back to
// the package defaults, with a logged warning.
func NewSweeper(r *Registry, interval, maxAge time.Duration) *Sweeper {
	if interval <= 0 {
		slog.Warn("invalid sweep interval, using default",
			"provided", interval, "default", DefaultSweepInterval)
		interval = DefaultSweepInterval
	}
	if maxAge <= 0 {
		slog.Warn("invalid connection max age, using default",
			"provided", maxAge, "default", DefaultMaxAge)
		maxAge = DefaultMaxAge
	}
	return &Sweeper{registry: r, interval: interval, maxAge: maxAge}
}

// Run blocks, sweeping on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("connection sweeper started", "interval", s.interval, "maxAge", s.maxAge)
	for {
		select {
		case <-ctx.Done():
			slog.Info("connection sweeper stopped")
			return
		case <-ticker.C:
			s.registry.SweepStale(s.maxAge)
		}
	}
}
