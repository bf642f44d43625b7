// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry tracks authenticated real-time connections, their room
// memberships, and staleness.
//
// # Description
//
// The Registry is the single owner of connection state. Other components
// reach connection data only through its methods; nothing else holds a
// reference to a Connection. Departure side effects (room notifications) are
// delegated to a DepartureNotifier so the registry stays free of transport
// and room concerns.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
package registry

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultMaxAge is the age past which a connection is considered stale and
// eligible for eviction.
const DefaultMaxAge = 24 * time.Hour

// DefaultSweepInterval is how often the background sweeper runs.
const DefaultSweepInterval = time.Hour

// Connection is the registry's record for one authenticated connection.
//
// # Fields
//
//   - ID: Opaque connection identifier (UUID v4, assigned at upgrade).
//   - UserID: Verified identity of the owning user.
//   - CreatedAt: Registration time, used for staleness eviction.
//
// Room membership is held in an unexported set; callers read it via
// Registry.Rooms.
type Connection struct {
	ID        string
	UserID    string
	CreatedAt time.Time

	rooms map[string]struct{}
}

// DepartureNotifier receives room-departure side effects for connections
// removed by Unregister or SweepStale. The pub/sub router implements it.
//
// Implementations must not call back into the Registry for the departed
// connection; its record is already gone.
type DepartureNotifier interface {
	ConnectionDeparted(connID, userID, roomID string)
}

// Registry owns all connection state for the gateway.
type Registry struct {
	mu       sync.Mutex
	conns    map[string]*Connection
	notifier DepartureNotifier

	// now is injectable for staleness tests.
	now func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		conns: make(map[string]*Connection),
		now:   time.Now,
	}
}

// SetNotifier wires the departure notifier. Must be called during service
// setup, before any traffic; the router and registry reference each other,
// so one side binds late.
func (r *Registry) SetNotifier(n DepartureNotifier) {
	r.mu.Lock()
	r.notifier = n
	r.mu.Unlock()
}

// SetClock overrides the time source. Tests use this to simulate staleness
// without waiting.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

// Register adds a connection. Re-registering an existing ID resets its
// record, dropping any previous room memberships.
func (r *Registry) Register(connID, userID string) {
	r.mu.Lock()
	r.conns[connID] = &Connection{
		ID:        connID,
		UserID:    userID,
		CreatedAt: r.now(),
		rooms:     make(map[string]struct{}),
	}
	r.mu.Unlock()
	slog.Info("connection registered", "connId", connID, "userId", userID)
}

// UserID returns the owning user of a connection, if known.
func (r *Registry) UserID(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[connID]
	if !ok {
		return "", false
	}
	return c.UserID, true
}

// AddRoom records a room membership. Unknown connection IDs are a no-op;
// disconnects race with joins and losing that race is not an error.
func (r *Registry) AddRoom(connID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[connID]
	if !ok {
		return
	}
	c.rooms[roomID] = struct{}{}
}

// RemoveRoom drops a room membership. Unknown connection or room IDs are a
// no-op.
func (r *Registry) RemoveRoom(connID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[connID]
	if !ok {
		return
	}
	delete(c.rooms, roomID)
}

// Rooms returns a sorted copy of a connection's room memberships.
func (r *Registry) Rooms(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[connID]
	if !ok {
		return nil
	}
	return sortedRooms(c)
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Unregister removes a connection and returns the rooms it belonged to.
// Each room departure is forwarded to the DepartureNotifier. Operating on an
// unknown connection ID is a no-op returning nil.
func (r *Registry) Unregister(connID string) []string {
	r.mu.Lock()
	c, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.conns, connID)
	rooms := sortedRooms(c)
	notifier := r.notifier
	r.mu.Unlock()

	// Notify outside the lock; the notifier broadcasts through the transport.
	if notifier != nil {
		for _, roomID := range rooms {
			notifier.ConnectionDeparted(connID, c.UserID, roomID)
		}
	}
	slog.Info("connection unregistered", "connId", connID, "userId", c.UserID, "rooms", len(rooms))
	return rooms
}

// SweepStale evicts every connection older than maxAge and returns the
// evicted IDs. Each eviction triggers the same departure notifications as
// Unregister.
func (r *Registry) SweepStale(maxAge time.Duration) []string {
	r.mu.Lock()
	cutoff := r.now().Add(-maxAge)
	var stale []*Connection
	for _, c := range r.conns {
		if c.CreatedAt.Before(cutoff) {
			stale = append(stale, c)
			delete(r.conns, c.ID)
		}
	}
	notifier := r.notifier
	r.mu.Unlock()

	evicted := make([]string, 0, len(stale))
	for _, c := range stale {
		evicted = append(evicted, c.ID)
		if notifier != nil {
			for _, roomID := range sortedRooms(c) {
				notifier.ConnectionDeparted(c.ID, c.UserID, roomID)
			}
		}
	}
	if len(evicted) > 0 {
		slog.Info("swept stale connections", "count", len(evicted), "maxAge", maxAge)
	}
	return evicted
}

func sortedRooms(c *Connection) []string {
	rooms := make([]string, 0, len(c.rooms))
	for roomID := range c.rooms {
		rooms = append(rooms, roomID)
	}
	sort.Strings(rooms)
	return rooms
}
