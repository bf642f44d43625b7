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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// departure records one notification delivered to the fake notifier.
type departure struct {
	connID string
	userID string
	roomID string
}

type fakeNotifier struct {
	departures []departure
}

func (f *fakeNotifier) ConnectionDeparted(connID, userID, roomID string) {
	f.departures = append(f.departures, departure{connID, userID, roomID})
}

func TestRegistry_RegisterAndRooms(t *testing.T) {
	reg := New()
	reg.Register("conn-1", "user-a")
	reg.AddRoom("conn-1", "chat:1")
	reg.AddRoom("conn-1", "chat:2")

	userID, ok := reg.UserID("conn-1")
	require.True(t, ok)
	assert.Equal(t, "user-a", userID)
	assert.Equal(t, []string{"chat:1", "chat:2"}, reg.Rooms("conn-1"))
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_RemoveRoom(t *testing.T) {
	reg := New()
	reg.Register("conn-1", "user-a")
	reg.AddRoom("conn-1", "chat:1")
	reg.RemoveRoom("conn-1", "chat:1")

	assert.Empty(t, reg.Rooms("conn-1"))
}

func TestRegistry_UnknownConnectionIsNoOp(t *testing.T) {
	reg := New()

	// Disconnect ordering is racy; none of these may panic or error.
	reg.AddRoom("ghost", "chat:1")
	reg.RemoveRoom("ghost", "chat:1")
	assert.Nil(t, reg.Rooms("ghost"))
	assert.Nil(t, reg.Unregister("ghost"))

	_, ok := reg.UserID("ghost")
	assert.False(t, ok)
}

func TestRegistry_UnregisterReturnsRoomsAndNotifies(t *testing.T) {
	notifier := &fakeNotifier{}
	reg := New()
	reg.SetNotifier(notifier)
	reg.Register("conn-1", "user-a")
	reg.AddRoom("conn-1", "chat:1")
	reg.AddRoom("conn-1", "chat:2")

	rooms := reg.Unregister("conn-1")

	assert.Equal(t, []string{"chat:1", "chat:2"}, rooms)
	assert.Equal(t, 0, reg.Len())

	// Exactly one departure notification per room the connection was in.
	require.Len(t, notifier.departures, 2)
	assert.Equal(t, departure{"conn-1", "user-a", "chat:1"}, notifier.departures[0])
	assert.Equal(t, departure{"conn-1", "user-a", "chat:2"}, notifier.departures[1])
}

func TestRegistry_UnregisterTwiceNotifiesOnce(t *testing.T) {
	notifier := &fakeNotifier{}
	reg := New()
	reg.SetNotifier(notifier)
	reg.Register("conn-1", "user-a")
	reg.AddRoom("conn-1", "chat:1")

	reg.Unregister("conn-1")
	reg.Unregister("conn-1")

	assert.Len(t, notifier.departures, 1)
}

func TestRegistry_SweepStaleEvictsOldConnections(t *testing.T) {
	now := time.Now()
	clock := now
	notifier := &fakeNotifier{}

	reg := New()
	reg.SetNotifier(notifier)
	reg.SetClock(func() time.Time { return clock })

	reg.Register("old-conn", "user-a")
	reg.AddRoom("old-conn", "chat:1")
	reg.AddRoom("old-conn", "chat:2")

	// A connection created 12h later survives the same sweep.
	clock = now.Add(12 * time.Hour)
	reg.Register("young-conn", "user-b")

	// 24h+ after the first registration, the sweep evicts only the old one.
	clock = now.Add(24*time.Hour + time.Minute)
	evicted := reg.SweepStale(DefaultMaxAge)

	assert.Equal(t, []string{"old-conn"}, evicted)
	assert.Equal(t, 1, reg.Len())

	// One departure notification per room the stale connection had joined.
	require.Len(t, notifier.departures, 2)
	for _, d := range notifier.departures {
		assert.Equal(t, "old-conn", d.connID)
		assert.Equal(t, "user-a", d.userID)
	}
}

func TestRegistry_SweepStaleNoStaleConnections(t *testing.T) {
	reg := New()
	reg.Register("conn-1", "user-a")

	assert.Empty(t, reg.SweepStale(DefaultMaxAge))
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_ReRegisterResetsRooms(t *testing.T) {
	reg := New()
	reg.Register("conn-1", "user-a")
	reg.AddRoom("conn-1", "chat:1")

	reg.Register("conn-1", "user-a")

	assert.Empty(t, reg.Rooms("conn-1"))
}
