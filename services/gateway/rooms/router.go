// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rooms maps conversation identifiers to sets of subscribed
// connections and fans events out to them.
//
// # Description
//
// A room is created implicitly on first join and garbage-collected when its
// last member leaves; there is no persistent room state. Delivery is
// fire-and-forget: a failed write to one member is logged and never blocks
// or fails delivery to the rest.
//
// # Ordering
//
// Within one room, events produced by the same originating action are
// delivered to each member in issue order. Broadcasts run synchronously in
// the producer's goroutine and each recipient connection serializes its
// writes, so a single producer can never be reordered. No guarantee is made
// across rooms or across different producers.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
package rooms

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/streamgate/services/gateway/datatypes"
	"github.com/AleutianAI/streamgate/services/gateway/observability"
	"github.com/AleutianAI/streamgate/services/gateway/registry"
	"github.com/AleutianAI/streamgate/services/gateway/transport"
)

// RoomName derives the broadcast channel name for a conversation.
func RoomName(chatID string) string {
	return "chat:" + chatID
}

// EmptyHandler is told when a room loses its last member. The streaming
// session controller uses this to cancel a session nobody is watching.
type EmptyHandler interface {
	RoomEmptied(roomID string)
}

// Router is the room-based pub/sub fan-out.
type Router struct {
	mu      sync.Mutex
	members map[string]map[string]struct{} // roomID -> set of connIDs

	sender   transport.Sender
	registry *registry.Registry

	// onEmpty may be nil until the session controller is wired.
	onEmpty EmptyHandler

	// metrics may be nil (tests).
	metrics *observability.GatewayMetrics

	now func() time.Time
}

// NewRouter creates a router delivering through sender and resolving user
// identities through reg.
func NewRouter(sender transport.Sender, reg *registry.Registry) *Router {
	return &Router{
		members:  make(map[string]map[string]struct{}),
		sender:   sender,
		registry: reg,
		now:      time.Now,
	}
}

// SetEmptyHandler wires the room-empty callback. Called during service
// setup, before any traffic.
func (r *Router) SetEmptyHandler(h EmptyHandler) {
	r.mu.Lock()
	r.onEmpty = h
	r.mu.Unlock()
}

// SetMetrics wires the metrics sink. Called during service setup.
func (r *Router) SetMetrics(m *observability.GatewayMetrics) {
	r.mu.Lock()
	r.metrics = m
	r.mu.Unlock()
}

// SetClock overrides the timestamp source for tests.
func (r *Router) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

// Join adds a connection to a room, creating the room if needed.
//
// # Description
//
// Emits user-joined to every other current member and joined-chat to the
// joining connection only. Joining a room twice is idempotent but re-emits
// the confirmation, since clients use it as an ack.
func (r *Router) Join(connID, chatID string) {
	roomID := RoomName(chatID)
	userID, _ := r.registry.UserID(connID)

	r.mu.Lock()
	room, ok := r.members[roomID]
	if !ok {
		room = make(map[string]struct{})
		r.members[roomID] = room
	}
	room[connID] = struct{}{}
	others := memberList(room, connID)
	ts := r.now().UnixMilli()
	r.mu.Unlock()

	r.registry.AddRoom(connID, roomID)

	presence := datatypes.UserPresence{UserID: userID, ChatID: chatID, Timestamp: ts}
	for _, member := range others {
		r.deliver(member, datatypes.EventUserJoined, presence)
	}
	r.deliver(connID, datatypes.EventJoinedChat, datatypes.JoinedChat{
		ChatID:    chatID,
		RoomName:  roomID,
		Timestamp: ts,
	})
	slog.Debug("connection joined room", "connId", connID, "room", roomID, "members", len(others)+1)
}

// Leave removes a connection from a room and emits user-left to the
// remaining members. Leaving a room the connection is not in is a no-op.
func (r *Router) Leave(connID, chatID string) {
	roomID := RoomName(chatID)
	userID, _ := r.registry.UserID(connID)
	r.registry.RemoveRoom(connID, roomID)
	r.depart(connID, userID, chatID, roomID)
}

// ConnectionDeparted implements registry.DepartureNotifier. It runs the same
// room removal as Leave but skips the registry update: the registry has
// already dropped the connection.
func (r *Router) ConnectionDeparted(connID, userID, roomID string) {
	chatID := chatIDOf(roomID)
	r.depart(connID, userID, chatID, roomID)
}

// depart removes membership and notifies remaining members.
func (r *Router) depart(connID, userID, chatID, roomID string) {
	r.mu.Lock()
	room, ok := r.members[roomID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if _, member := room[connID]; !member {
		r.mu.Unlock()
		return
	}
	delete(room, connID)
	remaining := memberList(room, "")
	emptied := len(room) == 0
	if emptied {
		delete(r.members, roomID)
	}
	onEmpty := r.onEmpty
	ts := r.now().UnixMilli()
	r.mu.Unlock()

	presence := datatypes.UserPresence{UserID: userID, ChatID: chatID, Timestamp: ts}
	for _, member := range remaining {
		r.deliver(member, datatypes.EventUserLeft, presence)
	}
	if emptied && onEmpty != nil {
		onEmpty.RoomEmptied(roomID)
	}
	slog.Debug("connection left room", "connId", connID, "room", roomID, "remaining", len(remaining))
}

// Broadcast delivers payload to every member of the room except the
// optionally excluded connection. Delivery failures are isolated per
// recipient.
func (r *Router) Broadcast(roomID, event string, payload any, exclude ...string) {
	r.mu.Lock()
	room, ok := r.members[roomID]
	if !ok {
		r.mu.Unlock()
		return
	}
	recipients := memberList(room, exclude...)
	r.mu.Unlock()

	for _, member := range recipients {
		r.deliver(member, event, payload)
	}
}

// Typing broadcasts a transient typing-presence event to the other members
// of the room. Nothing is persisted.
func (r *Router) Typing(chatID, connID string, isTyping bool) {
	userID, _ := r.registry.UserID(connID)
	r.Broadcast(RoomName(chatID), datatypes.EventUserTyping, datatypes.UserTyping{
		UserID:    userID,
		ChatID:    chatID,
		Typing:    isTyping,
		Timestamp: r.timestamp(),
	}, connID)
}

// Members returns a sorted snapshot of a room's membership.
func (r *Router) Members(roomID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.members[roomID]
	if !ok {
		return nil
	}
	return memberList(room, "")
}

// MemberCount returns the current size of a room, 0 if it does not exist.
func (r *Router) MemberCount(roomID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members[roomID])
}

func (r *Router) timestamp() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.now().UnixMilli()
}

// deliver sends one event to one member, logging instead of propagating
// failures.
func (r *Router) deliver(connID, event string, payload any) {
	if err := r.sender.Send(connID, event, payload); err != nil {
		r.metrics.DeliveryFailed()
		slog.Warn("room delivery failed", "connId", connID, "event", event, "error", err)
		return
	}
	r.metrics.EventSent(event)
}

// memberList snapshots a membership set minus the excluded IDs, sorted for
// deterministic fan-out order.
func memberList(room map[string]struct{}, exclude ...string) []string {
	out := make([]string, 0, len(room))
	for connID := range room {
		skip := false
		for _, ex := range exclude {
			if connID == ex {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, connID)
		}
	}
	sort.Strings(out)
	return out
}

// chatIDOf inverts RoomName.
func chatIDOf(roomID string) string {
	const prefix = "chat:"
	if len(roomID) > len(prefix) && roomID[:len(prefix)] == prefix {
		return roomID[len(prefix):]
	}
	return roomID
}
