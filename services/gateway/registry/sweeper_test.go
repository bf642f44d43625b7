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
	"testing"
	"time"
)

func TestNewSweeperDefaults(t *testing.T) {
	s := NewSweeper(New(), 0, -time.Hour)

	if s.interval != DefaultSweepInterval {
		t.Errorf("interval = %v, want %v", s.interval, DefaultSweepInterval)
	}
	if s.maxAge != DefaultMaxAge {
		t.Errorf("maxAge = %v, want %v", s.maxAge, DefaultMaxAge)
	}
}

func TestSweeperRunEvictsOnTick(t *testing.T) {
	reg := New()
	base := time.Now()
	clock := base
	reg.SetClock(func() time.Time { return clock })

	reg.Register("stale-conn", "user-a")
	clock = base.Add(48 * time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		NewSweeper(reg, 5*time.Millisecond, DefaultMaxAge).Run(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for reg.Len() != 0 {
		select {
		case <-deadline:
			t.Fatal("sweeper never evicted the stale connection")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not stop on context cancellation")
	}
}
