// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the wire-level event names and payload shapes
// exchanged between the gateway and WebSocket clients.
//
// Outbound events are emitted by the router and the streaming session
// controller; inbound events are parsed and validated by the WebSocket
// handler before any component is touched.
package datatypes

import "encoding/json"

// =============================================================================
// Outbound Event Names
// =============================================================================

const (
	// EventConnectionConfirmed is sent once, immediately after a connection
	// authenticates and registers.
	EventConnectionConfirmed = "connection-confirmed"

	// EventJoinedChat confirms a join to the joining connection only.
	EventJoinedChat = "joined-chat"

	// EventUserJoined notifies existing room members of a new member.
	EventUserJoined = "user-joined"

	// EventUserLeft notifies remaining room members of a departure.
	EventUserLeft = "user-left"

	// EventUserTyping carries transient typing presence. Never persisted.
	EventUserTyping = "user-typing"

	// EventStreamStart marks the beginning of a streamed model response.
	EventStreamStart = "stream:start"

	// EventStreamChunk carries one incremental chunk of model output plus
	// the cumulative text so far.
	EventStreamChunk = "stream:chunk"

	// EventStreamEnd carries the full assembled text of a completed response.
	EventStreamEnd = "stream:end"

	// EventStreamCancelled is the terminal event for a cancelled session.
	EventStreamCancelled = "stream:cancelled"

	// EventChatError carries a sanitized error description.
	EventChatError = "chat-error"

	// EventPong answers an inbound ping.
	EventPong = "pong"
)

// =============================================================================
// Inbound Event Names
// =============================================================================

const (
	EventJoinChat         = "join-chat"
	EventLeaveChat        = "leave-chat"
	EventChatMessage      = "chat-message"
	EventTypingStart      = "typing-start"
	EventTypingStop       = "typing-stop"
	EventPing             = "ping"
	EventReconnectRequest = "reconnect-request"
)

// Frame is the envelope for every message on the WebSocket, in both
// directions. Data holds the event-specific payload.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// =============================================================================
// Outbound Payloads
// =============================================================================

// ConnectionConfirmed is the payload of EventConnectionConfirmed.
type ConnectionConfirmed struct {
	SocketID  string `json:"socketId"`
	UserID    string `json:"userId"`
	Timestamp int64  `json:"timestamp"`
}

// JoinedChat is the payload of EventJoinedChat.
type JoinedChat struct {
	ChatID    string `json:"chatId"`
	RoomName  string `json:"roomName"`
	Timestamp int64  `json:"timestamp"`
}

// UserPresence is the payload of EventUserJoined and EventUserLeft.
type UserPresence struct {
	UserID    string `json:"userId"`
	ChatID    string `json:"chatId"`
	Timestamp int64  `json:"timestamp"`
}

// UserTyping is the payload of EventUserTyping.
type UserTyping struct {
	UserID    string `json:"userId"`
	ChatID    string `json:"chatId"`
	Typing    bool   `json:"typing"`
	Timestamp int64  `json:"timestamp"`
}

// StreamStart is the payload of EventStreamStart.
type StreamStart struct {
	SessionID string `json:"sessionId"`
	ChatID    string `json:"chatId"`
	Timestamp int64  `json:"timestamp"`
}

// StreamChunk is the payload of EventStreamChunk. Cumulative always equals
// the concatenation of every chunk emitted so far for the session.
type StreamChunk struct {
	Chunk      string `json:"chunk"`
	Cumulative string `json:"cumulative"`
}

// StreamEnd is the payload of EventStreamEnd.
type StreamEnd struct {
	SessionID       string `json:"sessionId"`
	FullText        string `json:"fullText"`
	EstimatedTokens int    `json:"estimatedTokens"`
	Timestamp       int64  `json:"timestamp"`
}

// StreamCancelled is the payload of EventStreamCancelled.
type StreamCancelled struct {
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`
}

// ChatError is the payload of EventChatError. Error is always a generic,
// user-safe description; Details may add non-sensitive context.
type ChatError struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Pong is the payload of EventPong.
type Pong struct {
	Timestamp  int64 `json:"timestamp"`
	ServerTime int64 `json:"serverTime"`
}

// Message is one turn of a conversation, in provider wire order.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
