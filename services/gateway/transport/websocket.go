// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transport

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeTimeout bounds a single WebSocket write. A peer that stops reading
// fails its own deliveries without holding the connection's write lock
// forever.
const writeTimeout = 10 * time.Second

// wsFrame is the outbound wire envelope.
type wsFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// wsConn pairs a gorilla connection with a write mutex. gorilla connections
// support at most one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// WebSocketTransport implements Transport over gorilla/websocket
// connections.
//
// # Description
//
// The WebSocket handler attaches each upgraded connection under its
// connection ID. Sends marshal the event envelope to JSON and write it under
// the per-connection mutex, which preserves per-producer delivery order to
// each recipient.
//
// # Thread Safety
//
// Safe for concurrent use. The connection map is guarded by its own mutex;
// each connection's writes are serialized independently.
type WebSocketTransport struct {
	mu    sync.RWMutex
	conns map[string]*wsConn
}

// NewWebSocketTransport creates an empty transport.
func NewWebSocketTransport() *WebSocketTransport {
	return &WebSocketTransport{conns: make(map[string]*wsConn)}
}

// Attach registers an upgraded connection under connID. Replaces any
// previous connection with the same ID.
func (t *WebSocketTransport) Attach(connID string, conn *websocket.Conn) {
	t.mu.Lock()
	t.conns[connID] = &wsConn{conn: conn}
	t.mu.Unlock()
}

// Detach removes a connection without closing it. The read loop owns the
// close; Detach only stops future sends from reaching it.
func (t *WebSocketTransport) Detach(connID string) {
	t.mu.Lock()
	delete(t.conns, connID)
	t.mu.Unlock()
}

// Send implements Sender.
func (t *WebSocketTransport) Send(connID string, event string, payload any) error {
	t.mu.RLock()
	wc, ok := t.conns[connID]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}

	data, err := json.Marshal(wsFrame{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}

	wc.mu.Lock()
	defer wc.mu.Unlock()
	if err := wc.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline for %s: %w", connID, err)
	}
	if err := wc.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Warn("websocket write failed", "connId", connID, "event", event, "error", err)
		return fmt.Errorf("write %s event to %s: %w", event, connID, err)
	}
	return nil
}

// Ping writes a WebSocket ping control frame. The peer's pong keeps the
// read deadline alive in the handler's read loop.
func (t *WebSocketTransport) Ping(connID string) error {
	t.mu.RLock()
	wc, ok := t.conns[connID]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}
	wc.mu.Lock()
	defer wc.mu.Unlock()
	return wc.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// Close implements Closer. Closing an unknown connection is a no-op.
func (t *WebSocketTransport) Close(connID string) error {
	t.mu.Lock()
	wc, ok := t.conns[connID]
	delete(t.conns, connID)
	t.mu.Unlock()
	if !ok {
		return nil
	}
	return wc.conn.Close()
}
