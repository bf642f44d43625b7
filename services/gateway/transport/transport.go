// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transport abstracts message delivery to connected clients.
//
// # Description
//
// The registry, router, and session controller never touch a WebSocket
// directly; they deliver events through the Sender interface. This keeps the
// core components testable with synthetic transports and confines gorilla
// connection handling to one place.
//
// # Thread Safety
//
// All implementations in this package are safe for concurrent use.
package transport

import "errors"

// ErrUnknownConnection is returned when a send targets a connection ID that
// is not (or is no longer) attached to the transport. Disconnect ordering is
// racy; callers treat this as a per-recipient delivery failure, not a fault.
var ErrUnknownConnection = errors.New("transport: unknown connection")

// Sender delivers a single event to a single connection.
//
// # Description
//
// Send serializes the event name and payload into the wire envelope and
// writes it to the identified connection. Writes to the same connection are
// serialized; writes to different connections are independent, so one slow
// or broken recipient cannot block delivery to others.
//
// # Outputs
//
//   - error: Non-nil if serialization or the write failed. Callers performing
//     fan-out log and continue; they never propagate per-recipient failures.
type Sender interface {
	Send(connID string, event string, payload any) error
}

// Closer tears down a single connection.
type Closer interface {
	Close(connID string) error
}

// Transport is the full contract the WebSocket handler wires into the core
// components.
type Transport interface {
	Sender
	Closer
}
