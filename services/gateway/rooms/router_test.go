// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rooms

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/streamgate/services/gateway/datatypes"
	"github.com/AleutianAI/streamgate/services/gateway/registry"
)

// sentEvent records one Send call observed by the fake transport.
type sentEvent struct {
	connID  string
	event   string
	payload any
}

type fakeSender struct {
	sent []sentEvent
	// failFor makes Send return an error for these connection IDs.
	failFor map[string]bool
}

func (f *fakeSender) Send(connID, event string, payload any) error {
	if f.failFor[connID] {
		return errors.New("write: broken pipe")
	}
	f.sent = append(f.sent, sentEvent{connID, event, payload})
	return nil
}

// eventsFor filters recorded sends by recipient.
func (f *fakeSender) eventsFor(connID string) []sentEvent {
	var out []sentEvent
	for _, e := range f.sent {
		if e.connID == connID {
			out = append(out, e)
		}
	}
	return out
}

type fakeEmptyHandler struct {
	emptied []string
}

func (f *fakeEmptyHandler) RoomEmptied(roomID string) {
	f.emptied = append(f.emptied, roomID)
}

func newTestRouter() (*Router, *fakeSender, *registry.Registry) {
	sender := &fakeSender{failFor: make(map[string]bool)}
	reg := registry.New()
	router := NewRouter(sender, reg)
	reg.SetNotifier(router)
	return router, sender, reg
}

func TestRoomName(t *testing.T) {
	assert.Equal(t, "chat:42", RoomName("42"))
}

func TestRouter_JoinEmitsPresenceAndConfirmation(t *testing.T) {
	router, sender, reg := newTestRouter()
	reg.Register("conn-a", "alice")
	reg.Register("conn-b", "bob")

	router.Join("conn-a", "42")
	router.Join("conn-b", "42")

	// Existing member sees user-joined for the newcomer.
	aEvents := sender.eventsFor("conn-a")
	require.Len(t, aEvents, 2)
	assert.Equal(t, datatypes.EventJoinedChat, aEvents[0].event)
	assert.Equal(t, datatypes.EventUserJoined, aEvents[1].event)
	presence := aEvents[1].payload.(datatypes.UserPresence)
	assert.Equal(t, "bob", presence.UserID)
	assert.Equal(t, "42", presence.ChatID)

	// The joiner gets only its own confirmation, never its own user-joined.
	bEvents := sender.eventsFor("conn-b")
	require.Len(t, bEvents, 1)
	assert.Equal(t, datatypes.EventJoinedChat, bEvents[0].event)
	joined := bEvents[0].payload.(datatypes.JoinedChat)
	assert.Equal(t, "42", joined.ChatID)
	assert.Equal(t, "chat:42", joined.RoomName)

	// Registry membership kept in sync.
	assert.Equal(t, []string{"chat:42"}, reg.Rooms("conn-a"))
	assert.Equal(t, []string{"chat:42"}, reg.Rooms("conn-b"))
	assert.Equal(t, 2, router.MemberCount("chat:42"))
}

func TestRouter_JoinIsIdempotent(t *testing.T) {
	router, _, reg := newTestRouter()
	reg.Register("conn-a", "alice")

	router.Join("conn-a", "42")
	router.Join("conn-a", "42")

	assert.Equal(t, []string{"conn-a"}, router.Members("chat:42"))
}

func TestRouter_LeaveNotifiesRemaining(t *testing.T) {
	router, sender, reg := newTestRouter()
	reg.Register("conn-a", "alice")
	reg.Register("conn-b", "bob")
	router.Join("conn-a", "42")
	router.Join("conn-b", "42")
	sender.sent = nil

	router.Leave("conn-a", "42")

	bEvents := sender.eventsFor("conn-b")
	require.Len(t, bEvents, 1)
	assert.Equal(t, datatypes.EventUserLeft, bEvents[0].event)
	assert.Equal(t, "alice", bEvents[0].payload.(datatypes.UserPresence).UserID)

	assert.Empty(t, reg.Rooms("conn-a"))
	assert.Equal(t, []string{"conn-b"}, router.Members("chat:42"))
}

func TestRouter_LeaveUnknownRoomIsNoOp(t *testing.T) {
	router, sender, reg := newTestRouter()
	reg.Register("conn-a", "alice")

	router.Leave("conn-a", "nope")

	assert.Empty(t, sender.sent)
}

func TestRouter_LastLeaveEmptiesRoom(t *testing.T) {
	router, _, reg := newTestRouter()
	handler := &fakeEmptyHandler{}
	router.SetEmptyHandler(handler)
	reg.Register("conn-a", "alice")
	router.Join("conn-a", "42")

	router.Leave("conn-a", "42")

	assert.Equal(t, []string{"chat:42"}, handler.emptied)
	assert.Equal(t, 0, router.MemberCount("chat:42"))
	assert.Nil(t, router.Members("chat:42"))
}

func TestRouter_UnregisterDepartsAllRooms(t *testing.T) {
	router, sender, reg := newTestRouter()
	reg.Register("conn-a", "alice")
	reg.Register("conn-b", "bob")
	router.Join("conn-a", "1")
	router.Join("conn-a", "2")
	router.Join("conn-b", "1")
	sender.sent = nil

	reg.Unregister("conn-a")

	// Only the shared room has a witness for the departure.
	bEvents := sender.eventsFor("conn-b")
	require.Len(t, bEvents, 1)
	assert.Equal(t, datatypes.EventUserLeft, bEvents[0].event)
	assert.Equal(t, "alice", bEvents[0].payload.(datatypes.UserPresence).UserID)

	assert.Equal(t, 0, router.MemberCount("chat:2"))
	assert.Equal(t, []string{"conn-b"}, router.Members("chat:1"))
}

func TestRouter_BroadcastExcludesAndIsolatesFailures(t *testing.T) {
	router, sender, reg := newTestRouter()
	for _, id := range []string{"conn-a", "conn-b", "conn-c"} {
		reg.Register(id, "user-"+id)
		router.Join(id, "42")
	}
	sender.sent = nil
	sender.failFor["conn-b"] = true

	router.Broadcast("chat:42", "stream:chunk", datatypes.StreamChunk{Chunk: "hi"}, "conn-a")

	// conn-a excluded, conn-b failed, conn-c still delivered.
	assert.Empty(t, sender.eventsFor("conn-a"))
	assert.Empty(t, sender.eventsFor("conn-b"))
	cEvents := sender.eventsFor("conn-c")
	require.Len(t, cEvents, 1)
	assert.Equal(t, "stream:chunk", cEvents[0].event)
}

func TestRouter_BroadcastUnknownRoomIsNoOp(t *testing.T) {
	router, sender, _ := newTestRouter()

	router.Broadcast("chat:missing", "stream:chunk", nil)

	assert.Empty(t, sender.sent)
}

func TestRouter_TypingExcludesOriginator(t *testing.T) {
	router, sender, reg := newTestRouter()
	reg.Register("conn-a", "alice")
	reg.Register("conn-b", "bob")
	router.Join("conn-a", "42")
	router.Join("conn-b", "42")
	sender.sent = nil

	router.Typing("42", "conn-a", true)

	assert.Empty(t, sender.eventsFor("conn-a"))
	bEvents := sender.eventsFor("conn-b")
	require.Len(t, bEvents, 1)
	assert.Equal(t, datatypes.EventUserTyping, bEvents[0].event)
	typing := bEvents[0].payload.(datatypes.UserTyping)
	assert.Equal(t, "alice", typing.UserID)
	assert.True(t, typing.Typing)
}
